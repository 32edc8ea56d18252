package server

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/magiconair/properties"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/mediachat/pkg/datastore"
	"github.com/NicolasHaas/mediachat/pkg/model"
)

func TestParseConfig(t *testing.T) {
	cfg := DefaultConfig()
	data := `
# comment
server_name = Media Room
server_password=pw
admin_password=root
multi_login=true
port=9000
db_path=/tmp/x.db
max_connections=10
metrics_addr=127.0.0.1:9100
bogus=ignored
`
	require.NoError(t, ParseConfig([]byte(data), &cfg))

	want := DefaultConfig()
	want.ServerName = "Media Room"
	want.ServerPassword = "pw"
	want.AdminPassword = "root"
	want.AllowMultiLogin = true
	want.ListenAddr = ":9000"
	want.DBPath = "/tmp/x.db"
	want.MaxConnections = 10
	want.MetricsAddr = "127.0.0.1:9100"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseConfigErrors(t *testing.T) {
	for _, data := range []string{`server_name=\uZZZZ`, "port=abc", "multi_login=maybe", "max_connections=-1"} {
		cfg := DefaultConfig()
		assert.Error(t, ParseConfig([]byte(data), &cfg), data)
	}
}

func TestLoadConfigFileWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediachat.conf")
	cfg := DefaultConfig()
	require.NoError(t, LoadConfigFile(path, &cfg))

	props, err := properties.LoadFile(path, properties.UTF8)
	require.NoError(t, err)
	assert.Equal(t, "7777", props.GetString("port", ""))
	assert.Equal(t, "", props.GetString("admin_password", "unset"))

	reloaded := DefaultConfig()
	reloaded.ServerName = "changed"
	require.NoError(t, LoadConfigFile(path, &reloaded))
	if diff := cmp.Diff(DefaultConfig(), reloaded); diff != "" {
		t.Errorf("reloaded config mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigKeepsSpecialValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediachat.conf")
	cfg := DefaultConfig()
	cfg.ServerName = "Room: one = two"
	cfg.ServerPassword = "p=ss ${word}"
	cfg.AdminPassword = `back\slash #not-a-comment`
	cfg.DBPath = `C:\data\mediachat.db`
	require.NoError(t, WriteConfigFile(path, cfg))

	got := DefaultConfig()
	require.NoError(t, LoadConfigFile(path, &got))
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	other := DefaultConfig()
	require.NoError(t, ParseConfig([]byte("! bang comment\nserver_password = ${unset}\nport: 8000\n"), &other))
	assert.Equal(t, "${unset}", other.ServerPassword)
	assert.Equal(t, ":8000", other.ListenAddr)
}

func TestExportPunishmentsYAML(t *testing.T) {
	st := datastore.NewMemory()
	require.NoError(t, st.SetPunishment("10.0.0.1", "alice", model.PunishBan))
	require.NoError(t, st.SetPunishment("10.0.0.2", "bob", model.PunishMute))

	data, err := ExportPunishmentsYAML(st)
	require.NoError(t, err)

	var got PunishmentsExport
	require.NoError(t, yaml.Unmarshal(data, &got))
	require.Len(t, got.Punishments, 2)
	assert.Equal(t, "alice", got.Punishments[0].Username)
	assert.Equal(t, "ban", got.Punishments[0].Kind)
	assert.Equal(t, "mute", got.Punishments[1].Kind)
	assert.True(t, strings.HasSuffix(got.Punishments[0].CreatedAt, "Z"))
}
