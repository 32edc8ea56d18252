package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/NicolasHaas/mediachat/pkg/logging"
	"github.com/NicolasHaas/mediachat/pkg/version"
	"github.com/NicolasHaas/mediachat/ui"
)

func main() {
	addr := flag.String("server", "", "Server address or bookmark name (asked if empty)")
	username := flag.String("user", "", "Username (asked if empty)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("mediachat", version.Full())
		return
	}

	// Default to "warn" so logs stay out of the prompt; override with
	// MEDIACHAT_LOG_LEVEL (debug, info, warn, error).
	level := "warn"
	if v := os.Getenv("MEDIACHAT_LOG_LEVEL"); v != "" {
		level = v
	}
	format := "text"
	if v := os.Getenv("MEDIACHAT_LOG_FORMAT"); v != "" {
		format = v
	}
	_ = logging.Setup(logging.Options{
		Level:  level,
		Format: format,
		Output: os.Stderr,
	})

	app := ui.NewApp()
	if err := app.Run(*addr, *username, os.Getenv("MEDIACHAT_PASSWORD")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
