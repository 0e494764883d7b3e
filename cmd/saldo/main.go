package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"saldo/internal/backend"
	"saldo/internal/cache"
	"saldo/internal/cli"
	"saldo/internal/events"
	apphttp "saldo/internal/http"
	"saldo/internal/importer"
	applog "saldo/internal/log"
	"saldo/internal/provider/splitwise"
	"saldo/internal/realtime"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger().WithComponent(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	be, err := backend.NewFactory(logger.Slog()).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	hub := realtime.NewHub(logger.Slog())
	summaries := cache.NewSummaries(1000, cfg.SummaryCacheTTL)

	notifiers := events.Multi{hub, summaries}
	if be.Publisher != nil {
		notifiers = append(notifiers, be.Publisher)
	}

	client := splitwise.New(cfg.ProviderBaseURL, cfg.ProviderTimeout, splitwise.WithPageSize(cfg.ProviderPageSize))
	imp := importer.NewService(be.Store, client, notifiers, logger.WithComponent(applog.ComponentImporter).Slog())

	addr := ":" + strings.TrimPrefix(cfg.Port, ":")
	srv := apphttp.NewServer(addr, be.Store, imp, apphttp.Options{
		Logger:             logger,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Summaries:          summaries,
		Hub:                hub,
	})
	srv.ReadTimeout = 15 * time.Second
	srv.WriteTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx := cli.GracefulShutdown(logger.Slog(), 30*time.Second, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting saldo server", "addr", addr, "backend", cfg.DataBackend, "amqp", be.Publisher != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err, "addr", addr)
		if cerr := be.Cleanup(); cerr != nil {
			logger.Error("Backend cleanup failed", "error", cerr)
		}
		os.Exit(1)
	}

	if err := be.Cleanup(); err != nil {
		logger.Error("Backend cleanup failed", "error", err)
	}
	logger.Info("Server stopped gracefully")
}
