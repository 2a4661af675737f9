// Package main provides the entry point for the video-to-MP3 job runner.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mp3pipeline/internal/config"
	"mp3pipeline/internal/orchestrator"
	"mp3pipeline/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting job runner",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("temp_directory", cfg.TempDirectory),
		slog.Int("max_concurrent_downloads", cfg.MaxConcurrentDownloads),
		slog.Int("max_concurrent_conversions", cfg.ConvertWorkers()),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	orch, err := orchestrator.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize orchestrator: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch.Start(ctx)

	handlers := server.NewHandlers(orch.Store, orch.Dispatcher(), logger)
	router := server.NewRouter(handlers, logger, server.DefaultConfig())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		shutdownOrchestrator(orch, logger)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down HTTP server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}

	shutdownOrchestrator(orch, logger)

	logger.Info("job runner stopped gracefully")
	return nil
}

func shutdownOrchestrator(orch *orchestrator.Orchestrator, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := orch.Shutdown(ctx); err != nil {
		logger.Error("orchestrator shutdown failed", "error", err)
	}
}
