package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	if err := Setup(Options{Level: "loud"}); err == nil {
		t.Fatal("Setup accepted unknown level")
	}
}

func TestForConnection(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	if err := Setup(Options{Level: "info", Format: "json", Output: &buf}); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	log, id := ForConnection("127.0.0.1:5000")
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("correlation id %q: %v", id, err)
	}
	log.Info("hello")

	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["conn"] != id {
		t.Errorf("conn = %v, want %s", rec["conn"], id)
	}
	if rec["remote"] != "127.0.0.1:5000" {
		t.Errorf("remote = %v", rec["remote"])
	}
}

func TestSetupRejectsUnknownFormat(t *testing.T) {
	if err := Setup(Options{Level: "info", Format: "xml"}); err == nil {
		t.Fatal("Setup accepted unknown format")
	}
}

func TestLevelNames(t *testing.T) {
	for _, name := range strings.Split(LevelNames(), ", ") {
		if err := Validate(name); err != nil {
			t.Errorf("listed level %q rejected: %v", name, err)
		}
	}
}
