package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wozniakbe/player-optout/internal/optout"
	"github.com/wozniakbe/player-optout/internal/store"
	"github.com/wozniakbe/player-optout/internal/telemetry"
)

const serviceName = "player-optout"

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	shutdownTracing, err := telemetry.Setup(context.Background(), serviceName, cfg.Telemetry)
	if err != nil {
		logger.Error("failed to set up tracing, continuing without it", "error", err)
	}

	prefs, err := store.New(cfg.Store, logger)
	if err != nil {
		logger.Error("failed to create preference store", "error", err)
		os.Exit(1)
	}

	// An unreachable store degrades the service to "nobody is excluded".
	initCtx, cancelInit := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := prefs.Initialize(initCtx); err != nil {
		logger.Error("preference store unavailable, opt-outs will not be honoured",
			"kind", store.KindOf(err).String(), "error", err)
	}
	cancelInit()

	runner := optout.NewRunner(cfg.Workers, cfg.QueueSize, logger)
	cache, err := optout.New(prefs, runner, logger, cfg.MaxPlayers)
	if err != nil {
		logger.Error("failed to create opt-out cache", "error", err)
		os.Exit(1)
	}

	handler := NewOptOutHandler(cache, prefs, cfg.HostSubject, logger)
	router := NewRouter(handler, cfg, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.ServerPort, "backend", string(prefs.Backend()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	exitCode := 0
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		exitCode = 1
	}

	// Drain pending writes before the store goes away.
	runner.Close()
	cache.Shutdown()
	if err := prefs.Close(); err != nil {
		exitCode = 1
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Warn("failed to flush traces", "error", err)
	}

	logger.Info("server stopped")
	os.Exit(exitCode)
}
