// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tracker-foundation/tracker/lib/config"
	"github.com/tracker-foundation/tracker/lib/version"
	"github.com/tracker-foundation/tracker/tracker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to tracker.yaml (defaults to TRACKER_CONFIG)")
	host := flag.String("host", "", "bind address (overrides config)")
	port := flag.Int("port", 0, "low end of the bind scan (overrides config)")
	portEnd := flag.Int("port-end", 0, "high end of the bind scan, inclusive (overrides config)")
	silent := flag.Bool("silent", false, "suppress info logs")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("trackerd %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = *host
		case "port":
			cfg.Port = *port
		case "port-end":
			cfg.PortEnd = *portEnd
		case "silent":
			cfg.Log.Silent = *silent
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	t, err := tracker.New(tracker.Options{
		Host:          cfg.Host,
		Port:          cfg.Port,
		PortEnd:       cfg.PortEnd,
		Logger:        logger,
		MaxFrameBytes: cfg.Limits.MaxFrameBytes,
	})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		t.Terminate()
	case <-t.Done():
		// Remote STOP already tore the instance down.
	}
	return nil
}

// loadConfig resolves the config file: explicit flag first, then the
// TRACKER_CONFIG environment variable, then built-in defaults when
// neither is set.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("TRACKER_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.Silent && level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
