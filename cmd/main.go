package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roamio/roamio/internal/cache"
	"github.com/roamio/roamio/internal/catalog"
	"github.com/roamio/roamio/internal/config"
	"github.com/roamio/roamio/internal/fallback"
	"github.com/roamio/roamio/internal/logging"
	"github.com/roamio/roamio/internal/metrics"
	"github.com/roamio/roamio/internal/rowstore"
	"github.com/roamio/roamio/internal/server"
	"github.com/roamio/roamio/internal/settings"
	"github.com/roamio/roamio/internal/storage"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "ROAMIO", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	var shared *cache.Shared
	if cfg.Cache.Valkey.Enabled {
		shared, err = cache.NewShared(cfg.Cache.Valkey)
		if err != nil {
			logger.Warn("valkey tier unavailable, continuing with in-process caches only", slog.Any("error", err))
		} else {
			defer shared.Close()
		}
	}

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(promRegistry)

	httpClient := &http.Client{Timeout: cfg.Backend.RequestTimeoutDuration()}
	rows := rowstore.NewClient(cfg.Backend, httpClient, logger)
	store := storage.NewClient(cfg.Backend, httpClient, logger)

	table, err := fallback.Bundled()
	if err != nil {
		log.Fatalf("failed to load bundled fallback dataset: %v", err)
	}

	catalogSvc := catalog.NewService(store, catalog.NewDirectory(rows), table, logger, catalog.Options{
		TTL:        cfg.Catalog.TTLDuration(),
		DefaultTTL: cfg.Cache.DefaultTTLDuration(),
		BatchSize:  cfg.Catalog.BatchSize,
		BatchPause: cfg.Catalog.BatchPauseDuration(),
		Shared:     shared,
		Metrics:    recorder,
	})
	settingsSvc := settings.NewService(rows, logger, settings.Options{
		TTL:        cfg.Settings.TTLDuration(),
		DefaultTTL: cfg.Cache.DefaultTTLDuration(),
		CheckTTL:   cfg.Settings.UsernameCheckTTLDuration(),
		CheckSize:  cfg.Settings.UsernameCheckSize,
		Shared:     shared,
		Metrics:    recorder,
	})

	if cfg.Catalog.FallbackFile != "" {
		watcher, err := fallback.Watch(ctx, cfg.Catalog.FallbackFile, func(table fallback.Table) {
			catalogSvc.SetFallback(ctx, table)
			logger.Info("fallback dataset reloaded", slog.String("file", cfg.Catalog.FallbackFile))
		}, func(err error) {
			logger.Error("fallback dataset watcher error", slog.Any("error", err))
		})
		if err != nil {
			logger.Error("fallback dataset watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	handler := server.NewHandler(catalogSvc, settingsSvc, logger)
	mux := handler.Routes()
	mux.Handle("GET /metrics", recorder.Handler())

	srv, err := server.New(cfg, logger, mux)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}
