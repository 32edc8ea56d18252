package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/NicolasHaas/mediachat/pkg/datastore"
	"github.com/NicolasHaas/mediachat/pkg/logging"
	"github.com/NicolasHaas/mediachat/pkg/server"
	"github.com/NicolasHaas/mediachat/pkg/version"
)

func main() {
	cfg := server.DefaultConfig()

	configPath := flag.String("config", "mediachat.conf", "key=value config file (written with defaults if missing)")
	listen := flag.String("listen", cfg.ListenAddr, "TCP bind address")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database file path")
	metricsAddr := flag.String("metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	name := flag.String("name", cfg.ServerName, "Server name sent to clients")
	multiLogin := flag.Bool("multi-login", cfg.AllowMultiLogin, "Allow several sessions from one address")
	maxConns := flag.Int("max-conns", cfg.MaxConnections, "Maximum concurrent connections (0 = unlimited)")
	exportPunishments := flag.Bool("export-punishments", false, "Export stored mutes and bans as YAML and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")

	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	flag.Parse()

	if *showVersion {
		fmt.Println("mediachat-server", version.Full())
		return
	}

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	if err := server.LoadConfigFile(*configPath, &cfg); err != nil {
		slog.Error("load config", "path", *configPath, "err", err)
		os.Exit(1)
	}

	// Flags given on the command line win over the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.ListenAddr = *listen
		case "db":
			cfg.DBPath = *dbPath
		case "metrics":
			cfg.MetricsAddr = *metricsAddr
		case "name":
			cfg.ServerName = *name
		case "multi-login":
			cfg.AllowMultiLogin = *multiLogin
		case "max-conns":
			cfg.MaxConnections = *maxConns
		}
	})

	st, err := datastore.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}

	if *exportPunishments {
		data, err := server.ExportPunishmentsYAML(st)
		_ = st.Close()
		if err != nil {
			slog.Error("export punishments", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	srv := server.New(cfg, server.Dependencies{Store: st})
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
