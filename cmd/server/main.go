package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/molekcbt/session-gateway/internal/auth"
	"github.com/molekcbt/session-gateway/internal/backend"
	"github.com/molekcbt/session-gateway/internal/config"
	"github.com/molekcbt/session-gateway/internal/database"
	"github.com/molekcbt/session-gateway/internal/handler"
	"github.com/molekcbt/session-gateway/internal/logger"
	"github.com/molekcbt/session-gateway/internal/router"
	"github.com/molekcbt/session-gateway/internal/session"
	"github.com/molekcbt/session-gateway/internal/validator"
	"github.com/molekcbt/session-gateway/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("backend", cfg.BackendBaseURL).
		Msg("Starting Molek CBT Session Gateway")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Backend Collaborator ──────────────────────────────────────────
	api := backend.NewClient(cfg.BackendBaseURL, cfg.BackendTimeout, log)

	// ─── Session Registry ──────────────────────────────────────────────
	ckpt := session.NewRedisCheckpointer(rdb, log)
	timing := session.DefaultTiming(cfg.AutosaveInterval, cfg.SaveDebounce)
	registry := session.NewRegistry(ctx, api, ckpt, timing, log)
	go registry.Sweep(ctx, time.Minute, 10*time.Minute)

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})

	checkpointWorker := worker.NewCheckpointWorker(rdb, cfg.CheckpointTTL, log)
	go func() {
		checkpointWorker.Start(workerCtx)
		close(workerDone)
	}()

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Portal: handler.NewPortalHandler(registry),
		WS:     handler.NewWSHandler(registry, log, cfg.AllowedOrigins),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	verifier := auth.NewVerifier(cfg)
	r := router.SetupRouter(verifier, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Checkpoint in-flight attempts so a restarted gateway can resume them.
	registry.Shutdown(shutdownCtx)

	// 3. Stop the checkpoint worker and wait for the queue to drain.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Checkpoint worker drain timed out")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
