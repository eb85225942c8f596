// Package main initializes and runs the Beacon feature flag service.
//
// It acts as the composition root: configuration, logging, PostgreSQL,
// the cache backend, the evaluation engine, the REST API, the observability
// server, and the optional cache warmer are wired here, along with the
// process lifecycle.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/beaconlabs/beacon/internal/api"
	"github.com/beaconlabs/beacon/internal/cache"
	"github.com/beaconlabs/beacon/internal/config"
	"github.com/beaconlabs/beacon/internal/database"
	"github.com/beaconlabs/beacon/internal/evaluator"
	"github.com/beaconlabs/beacon/internal/logger"
	"github.com/beaconlabs/beacon/internal/observability"
	"github.com/beaconlabs/beacon/internal/store"
	"github.com/beaconlabs/beacon/internal/syncer"
)

// main is the application entrypoint.
func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

// run executes the service lifecycle.
func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logg := logger.New(&cfg.App)
	slog.SetDefault(logg)
	cfg.LogConfig(logg)

	// Root context carries the logger and is cancelled on shutdown signals.
	ctx, stop := signal.NotifyContext(logger.WithContext(context.Background(), logg),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// 2. Infrastructure Setup
	// -------------------------------------------------------------------------
	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	checkers := []observability.Checker{database.NewHealthChecker(pool)}

	var flagCache evaluator.FlagCache
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		redisClient, err := cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		redisCache := cache.NewRedisCache(redisClient, logg)
		defer redisCache.Close()

		flagCache = redisCache
		checkers = append(checkers, cache.NewHealthChecker(redisClient))

	case config.CacheBackendMemory:
		memCache, err := cache.NewMemoryCache(cfg.Cache.MemoryCapacity, cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("failed to initialize memory cache: %w", err)
		}
		defer memCache.Close()

		flagCache = memCache

	default:
		return fmt.Errorf("unknown cache backend: %s", cfg.Cache.Backend)
	}

	// -------------------------------------------------------------------------
	// 3. Wiring (Dependency Injection)
	// -------------------------------------------------------------------------
	repo := store.NewPostgresStore(pool)
	engine := evaluator.New(repo, flagCache, cfg.Cache.TTL)
	invalidator := evaluator.NewInvalidator(flagCache, logg)

	// An empty API key hash only passes config validation outside production;
	// it disables authentication for local development.
	restAPI := api.NewAPIWithConfig(repo, engine, invalidator,
		cfg.Server.APIKeyHash, cfg.Server.APIKeyHash == "")

	// -------------------------------------------------------------------------
	// 4. Servers & Workers
	// -------------------------------------------------------------------------
	obsServer := observability.NewServer(logg, &cfg.Observability, checkers...)
	obsServer.Start()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           restAPI.Router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		logg.Info("starting http server",
			slog.String("addr", httpServer.Addr),
			slog.Bool("tls", cfg.Server.TLSEnabled),
		)

		var serveErr error
		if cfg.Server.TLSEnabled {
			serveErr = httpServer.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			serveErr = httpServer.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server failed: %w", serveErr)
		}
	}()

	if cfg.Syncer.Enabled {
		warmer := syncer.New(logg, syncer.Config{
			Interval: cfg.Syncer.Interval,
			PageSize: cfg.Syncer.PageSize,
			TTL:      cfg.Cache.TTL,
		}, repo, flagCache)

		go func() {
			if err := warmer.Run(ctx); err != nil {
				logg.Error("cache warmer stopped", slog.String("error", err.Error()))
			}
		}()
	}

	// -------------------------------------------------------------------------
	// 5. Graceful Shutdown
	// -------------------------------------------------------------------------
	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logg.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logg.Error("http server shutdown failed", slog.String("error", err.Error()))
	}
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		logg.Error("observability server shutdown failed", slog.String("error", err.Error()))
	}

	logg.Info("service exited successfully")
	return nil
}
