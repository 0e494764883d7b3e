package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"saldo/internal/backend"
	"saldo/internal/config"
	"saldo/internal/events"
	"saldo/internal/importer"
	applog "saldo/internal/log"
	"saldo/internal/ports"
	"saldo/internal/provider/splitwise"
)

// app is what every command runs against: the configured store and an
// importer wired the same way as the server.
type app struct {
	store    ports.Store
	importer *importer.Service
	cleanup  backend.CleanupFunc
	out      io.Writer
}

func openApp(ctx context.Context, notify events.Notifier) (*app, error) {
	logCfg := applog.DefaultConfig()
	logCfg.Level = slog.LevelWarn
	if lvl, err := applog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && os.Getenv("LOG_LEVEL") != "" {
		logCfg.Level = lvl
	}
	logCfg.Output = os.Stderr
	logger := applog.New(logCfg)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	be, err := backend.NewFactory(logger.Slog()).CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.DataBackend, err)
	}

	notifiers := events.Multi{notify}
	if be.Publisher != nil {
		notifiers = append(notifiers, be.Publisher)
	}
	client := splitwise.New(cfg.ProviderBaseURL, cfg.ProviderTimeout, splitwise.WithPageSize(cfg.ProviderPageSize))
	return &app{
		store:    be.Store,
		importer: importer.NewService(be.Store, client, notifiers, logger.WithComponent(applog.ComponentImporter).Slog()),
		cleanup:  be.Cleanup,
		out:      os.Stdout,
	}, nil
}

func (a *app) Close() {
	if err := a.cleanup(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: closing backend: %v\n", err)
	}
}
