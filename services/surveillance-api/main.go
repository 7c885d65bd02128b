package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Youtmax654/serversure/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Configuration and JSON logging (standard for containers)
	cfg := LoadConfig()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	logger.Info("Starting surveillance API", "port", cfg.HTTPPort, "store_driver", cfg.StoreDriver)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 2. Store. The data-logger owns the schema, but Initialize is
	// idempotent and lets the API start first on an empty disk.
	db, err := store.Open(ctx, store.Config{
		Driver:      cfg.StoreDriver,
		DSN:         cfg.StoreDSN,
		BusyTimeout: cfg.StoreTimeout,
	})
	if err != nil {
		logger.Error("Critical error: cannot open store", "error", err)
		return 1
	}
	defer db.Close()

	if err := db.Initialize(ctx); err != nil {
		logger.Error("Critical error: cannot initialize schema", "error", err)
		return 1
	}

	// 3. Optional Valkey hot path
	var cache LatestMeasurementCache
	if cfg.ValkeyAddr != "" {
		c, err := store.NewLastValueCache(ctx, cfg.ValkeyAddr, 0)
		if err != nil {
			logger.Warn("Valkey unavailable, reading from store only", "addr", cfg.ValkeyAddr, "error", err)
		} else {
			defer c.Close()
			cache = c
		}
	}

	// 4. Wiring
	svc := NewService(db, cache, cfg.PhotosDir, logger)
	api := NewAPIHandler(svc, logger)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	// 5. HTTP server; the whole mux is wrapped in CORS for the dashboard.
	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           CorsMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "address", server.Addr, "photos_dir", cfg.PhotosDir)
		errCh <- server.ListenAndServe()
	}()

	// 6. Graceful shutdown on SIGINT / SIGTERM
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			return 1
		}
	case <-sigCtx.Done():
		logger.Info("Shutting down...")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown", "error", err)
		}
	}
	return 0
}
