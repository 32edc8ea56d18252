// Package logging configures log/slog for the mediachat binaries.
//
// Levels, most to least verbose: debug, info, warn, error. Each server
// connection logs through a child logger carrying a correlation ID, so the
// lines of one session can be grepped out of a busy log:
//
//	logging.Setup(logging.Options{Level: "debug", Format: "json"})
//	log, _ := logging.ForConnection(conn.RemoteAddr().String())
//	log.Info("client authenticated", "user", name)
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Options controls how logging is configured.
type Options struct {
	Level  string    // debug, info, warn, error; empty means info
	Format string    // text or json; empty means text
	Output io.Writer // defaults to os.Stdout
}

var levelOrder = []string{"debug", "info", "warn", "error"}

var levels = map[string]slog.Level{
	"":        slog.LevelInfo,
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// ParseLevel maps a level name to slog.Level, falling back to info.
func ParseLevel(level string) slog.Level {
	if l, ok := levels[normalize(level)]; ok {
		return l
	}
	return slog.LevelInfo
}

// Validate rejects unknown level names.
func Validate(level string) error {
	if _, ok := levels[normalize(level)]; !ok {
		return fmt.Errorf("unknown log level %q (valid: %s)", level, LevelNames())
	}
	return nil
}

// LevelNames lists the accepted level names for flag help.
func LevelNames() string {
	return strings.Join(levelOrder, ", ")
}

// Setup installs the default slog logger. Call it first thing in main.
func Setup(opts Options) error {
	if err := Validate(opts.Level); err != nil {
		return err
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	level := ParseLevel(opts.Level)
	hopts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var h slog.Handler
	switch normalize(opts.Format) {
	case "json":
		h = slog.NewJSONHandler(out, hopts)
	case "text", "":
		h = slog.NewTextHandler(out, hopts)
	default:
		return fmt.Errorf("unknown log format %q (valid: text, json)", opts.Format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// ForConnection returns a logger tagged with a fresh correlation ID and the
// remote address, plus the ID itself.
func ForConnection(remote string) (*slog.Logger, string) {
	id := uuid.NewString()
	return slog.Default().With("conn", id, "remote", remote), id
}
