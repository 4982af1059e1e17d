// Command narrativebet runs the narrative prediction-market settlement
// engine: the HTTP API, the background resolver, or both.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/narrativebet/internal/app"
	"github.com/alanyoungcy/narrativebet/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("narrativebet", flag.ContinueOnError)
	configPath := fs.String("config", "narrativebet.toml", "configuration file; empty for defaults and environment only")
	mode := fs.String("mode", "", "override the configured mode: server, resolver or full")
	printConfig := fs.Bool("print-config", false, "print the redacted configuration as JSON and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := newLogger(stdout, "info")
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config: load failed", slog.String("path", *configPath), slog.String("error", err.Error()))
		return 1
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	logger = newLogger(stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	if *printConfig {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(config.RedactedConfig(cfg)); err != nil {
			fmt.Fprintf(os.Stderr, "print config: %v\n", err)
			return 1
		}
		return 0
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("config: invalid", slog.String("error", err.Error()))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)
	defer application.Close()

	err = application.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info("narrativebet stopped")
		return 0
	default:
		logger.Error("narrativebet exited", slog.String("error", err.Error()))
		return 1
	}
}

// newLogger builds the JSON logger; an unknown level falls back to info.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
