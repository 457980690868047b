// AssetSentry - Protected Asset Delivery Guard
// Copyright 2026 The AssetSentry Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/assetsentry/assetsentry

// Package main is the entry point for the AssetSentry server.
//
// AssetSentry guards downloads of protected assets: at most one
// transfer per client at a time, a tamper-evident audit trail of every
// attempt, and automatic blacklisting of clients that accumulate
// suspicious activity.
//
// The server initializes components in the following order:
//
//  1. Configuration: koanf v2 layered defaults -> config.yaml -> env
//  2. Audit store: BadgerDB (durable) or in-memory
//  3. Guard pipeline: lock manager, threat scorer, download guard
//  4. HTTP surface: chi router with download, reporting and admin routes
//  5. Supervision: suture tree running the server and maintenance loops
//
// Graceful shutdown runs on SIGINT/SIGTERM: the listener drains
// in-flight downloads within the configured timeout, then background
// services stop and the audit store closes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/assetsentry/assetsentry/internal/api"
	"github.com/assetsentry/assetsentry/internal/audit"
	"github.com/assetsentry/assetsentry/internal/clientip"
	"github.com/assetsentry/assetsentry/internal/config"
	"github.com/assetsentry/assetsentry/internal/delivery"
	"github.com/assetsentry/assetsentry/internal/guard"
	"github.com/assetsentry/assetsentry/internal/lock"
	"github.com/assetsentry/assetsentry/internal/logging"
	"github.com/assetsentry/assetsentry/internal/supervisor"
	"github.com/assetsentry/assetsentry/internal/threat"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Server failed")
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("assetsentry", version)
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("version", version).
		Str("audit_store", cfg.Audit.Store).
		Msg("Starting AssetSentry")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Audit store: the guard fails closed without it, so a broken
	// store path is a startup failure, not a degraded mode.
	store, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("opening audit store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing audit store")
		}
	}()

	// Guard pipeline.
	locks := lock.NewManager(cfg.Lock.TTL)
	scorer := threat.NewScorer(store, cfg.Threat.Threshold)
	dlGuard := guard.New(locks, scorer, store, guard.Config{
		LockDeniedSuspicious: cfg.Guard.LockDeniedSuspicious,
	})

	// Delivery.
	catalog, err := delivery.NewDirCatalog(cfg.Delivery.Root)
	if err != nil {
		return fmt.Errorf("opening asset catalog: %w", err)
	}
	streamer := delivery.NewStreamer(int64(cfg.Delivery.BandwidthLimit))

	resolver, err := clientip.NewResolver(cfg.Security.TrustedProxies)
	if err != nil {
		return fmt.Errorf("parsing trusted proxies: %w", err)
	}

	// HTTP surface.
	handler := api.NewHandler(dlGuard, store, locks, scorer, catalog, streamer, resolver)
	middleware := api.NewMiddleware(&api.MiddlewareConfig{
		CORSAllowedOrigins:    cfg.Security.CORSOrigins,
		CORSAllowedMethods:    []string{"GET", "POST", "OPTIONS"},
		CORSAllowedHeaders:    []string{"Content-Type", "Authorization"},
		CORSMaxAge:            86400,
		DownloadLimitRequests: cfg.Security.DownloadRateLimit,
		DownloadLimitWindow:   cfg.Security.DownloadRateWindow,
		ReportLimitRequests:   cfg.Security.RateLimitRequests,
		ReportLimitWindow:     cfg.Security.RateLimitWindow,
	})
	router := api.NewRouter(handler, middleware, api.RouterConfig{
		JWTSecret: cfg.Security.AdminJWTSecret,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Supervision tree.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddAPIService(api.NewServerService(server, server.Addr, cfg.Server.ShutdownTimeout))
	tree.AddMaintenanceService(lock.NewSweeper(locks, cfg.Lock.SweepInterval))
	tree.AddMaintenanceService(audit.NewRetentionService(store, cfg.Audit.RetentionDays, cfg.Audit.CleanupInterval))

	// Signal handling.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutting down, waiting for services to stop")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("supervisor tree: %w", err)
		}
	}

	// Drain the error channel until the tree finishes.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	logging.Info().Msg("Stopped gracefully")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// newStore opens the configured audit store implementation.
func newStore(cfg *config.Config) (audit.Store, error) {
	switch cfg.Audit.Store {
	case "badger":
		return audit.NewBadgerStore(cfg.Audit.Path)
	case "memory":
		return audit.NewMemoryStore(cfg.Audit.MaxEntries), nil
	default:
		return nil, fmt.Errorf("unknown audit store %q", cfg.Audit.Store)
	}
}
