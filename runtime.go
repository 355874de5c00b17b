// ABOUTME: Shared command plumbing: config loading, logging and metrics
// ABOUTME: Global flags override config file values here
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sendspin/hearme/internal/config"
	"github.com/Sendspin/hearme/internal/observe"
	"github.com/Sendspin/hearme/internal/version"
)

// loadConfig reads --config (or the defaults) and applies global flags.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		var err error
		if cfg, err = config.Load(cfgFile); err != nil {
			return nil, err
		}
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	if os.Getenv("DEBUG") != "" {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

// setupLogging installs the default slog logger. With a TUI on screen,
// logs go only to the log file.
func setupLogging(cfg config.LogConfig, tui bool) (*slog.Logger, func(), error) {
	var out io.Writer = os.Stderr
	if tui {
		out = io.Discard
	}
	closeFn := func() {}

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		closeFn = func() { _ = f.Close() }
		if tui {
			out = f
		} else {
			out = io.MultiWriter(os.Stderr, f)
		}
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, closeFn, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupMetrics returns the instruments sessions record into. When addr is
// set the Prometheus endpoint is served from the returned serve func.
func setupMetrics(cfg config.MetricsConfig) (*observe.Metrics, func(ctx context.Context, logger *slog.Logger) error, error) {
	if cfg.Addr == "" {
		return observe.DefaultMetrics(), nil, nil
	}
	p, err := observe.InitProvider(observe.ProviderConfig{ServiceVersion: version.Version})
	if err != nil {
		return nil, nil, fmt.Errorf("init metrics: %w", err)
	}
	m, err := observe.NewMetrics(p.MeterProvider())
	if err != nil {
		return nil, nil, fmt.Errorf("create instruments: %w", err)
	}
	serve := func(ctx context.Context, logger *slog.Logger) error {
		defer p.Shutdown(context.Background())
		return p.Serve(ctx, cfg.Addr, logger)
	}
	return m, serve, nil
}

// useTUI reports whether the status view should take over the terminal.
func useTUI(cmd *cobra.Command) bool {
	noTUI, _ := cmd.Flags().GetBool("no-tui")
	if noTUI {
		return false
	}
	fi, err := os.Stdout.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
