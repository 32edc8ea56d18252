package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/magiconair/properties"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/mediachat/pkg/datastore"
)

// Config file keys. The file uses the Java properties format, normally one
// "key=value" per line.
const (
	keyServerName     = "server_name"
	keyServerPassword = "server_password"
	keyAdminPassword  = "admin_password"
	keyMultiLogin     = "multi_login"
	keyPort           = "port"
	keyDBPath         = "db_path"
	keyMaxConnections = "max_connections"
	keyMetricsAddr    = "metrics_addr"
)

// LoadConfigFile reads path into cfg. A missing file is created with the
// values already in cfg, so the first run leaves an editable template.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from CLI flag
	if errors.Is(err, os.ErrNotExist) {
		if err := WriteConfigFile(path, *cfg); err != nil {
			return err
		}
		slog.Info("wrote default config", "path", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data, cfg)
}

// ParseConfig applies the properties in data to cfg. Comments start with
// '#' or '!'; unknown keys are logged and skipped. ${...} is kept literally.
func ParseConfig(data []byte, cfg *Config) error {
	loader := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	props, err := loader.LoadBytes(data)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	for _, key := range props.Keys() {
		value, _ := props.Get(key)
		if err := applyConfigValue(cfg, key, strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

func applyConfigValue(cfg *Config, key, value string) error {
	switch key {
	case keyServerName:
		cfg.ServerName = value
	case keyServerPassword:
		cfg.ServerPassword = value
	case keyAdminPassword:
		cfg.AdminPassword = value
	case keyMultiLogin:
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		cfg.AllowMultiLogin = v
	case keyPort:
		port, err := strconv.Atoi(value)
		if err != nil || port < 0 || port > 65535 {
			return fmt.Errorf("%s: invalid port %q", key, value)
		}
		host, _, _ := net.SplitHostPort(cfg.ListenAddr)
		cfg.ListenAddr = net.JoinHostPort(host, strconv.Itoa(port))
	case keyDBPath:
		cfg.DBPath = value
	case keyMaxConnections:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%s: invalid count %q", key, value)
		}
		cfg.MaxConnections = n
	case keyMetricsAddr:
		cfg.MetricsAddr = value
	default:
		slog.Warn("unknown config key", "key", key)
	}
	return nil
}

// WriteConfigFile writes cfg in the format read by LoadConfigFile.
func WriteConfigFile(path string, cfg Config) error {
	_, port, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("write config: listen address %q: %w", cfg.ListenAddr, err)
	}

	props := properties.NewProperties()
	props.DisableExpansion = true
	for _, kv := range [][2]string{
		{keyServerName, cfg.ServerName},
		{keyServerPassword, cfg.ServerPassword},
		{keyAdminPassword, cfg.AdminPassword},
		{keyMultiLogin, strconv.FormatBool(cfg.AllowMultiLogin)},
		{keyPort, port},
		{keyDBPath, cfg.DBPath},
		{keyMaxConnections, strconv.Itoa(cfg.MaxConnections)},
		{keyMetricsAddr, cfg.MetricsAddr},
	} {
		if _, _, err := props.Set(kv[0], kv[1]); err != nil {
			return fmt.Errorf("write config: %s: %w", kv[0], err)
		}
	}
	props.SetComment(keyServerName, "mediachat server configuration")
	props.SetComment(keyAdminPassword, "leave empty to disable admin login")

	var b bytes.Buffer
	if _, err := props.WriteComment(&b, "# ", properties.UTF8); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.WriteFile(path, b.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// PunishmentYAML represents a punishment in YAML export.
type PunishmentYAML struct {
	Address   string `yaml:"address"`
	Username  string `yaml:"username"`
	Kind      string `yaml:"kind"`
	CreatedAt string `yaml:"created_at"`
}

// PunishmentsExport is the top-level YAML for punishment export.
type PunishmentsExport struct {
	Punishments []PunishmentYAML `yaml:"punishments"`
}

// ExportPunishmentsYAML exports all persisted punishments as YAML.
func ExportPunishmentsYAML(st datastore.PunishmentReadProvider) ([]byte, error) {
	records, err := st.ListPunishments()
	if err != nil {
		return nil, err
	}

	export := PunishmentsExport{Punishments: []PunishmentYAML{}}
	for _, p := range records {
		export.Punishments = append(export.Punishments, PunishmentYAML{
			Address:   p.Address,
			Username:  p.Username,
			Kind:      p.Kind.String(),
			CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return yaml.Marshal(&export)
}
