package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slidecast/internal/config"
	"slidecast/internal/kv"
	"slidecast/internal/logging"
	"slidecast/internal/mirror"
	"slidecast/internal/queue"
	"slidecast/internal/server"
	"slidecast/internal/state"
	"slidecast/internal/storage"
)

func main() {
	cfg := config.Load()

	// Initialize structured logging
	closeLog, err := logging.Setup()
	if err != nil {
		slog.Error("Failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer closeLog()

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to the shared store
	store, err := kv.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to connect to store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// The relational mirror keeps task history past key TTLs; the queue
	// treats it as best-effort, so a broken mirror only costs history.
	var taskMirror queue.Mirror
	if m, err := mirror.Open(cfg.SQLitePath); err != nil {
		slog.Warn("Task mirror unavailable", "error", err, "path", cfg.SQLitePath)
	} else {
		taskMirror = m
		defer m.Close()
	}

	taskQueue := queue.NewQueue(store, taskMirror, cfg.TaskTTL)
	states := state.NewManager(store, cfg.StateTTL)

	files, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Create HTTP server
	srv := server.NewServer(cfg, store, taskQueue, states, files)

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed to start", "error", err)
			cancel()
		}
	}()

	slog.Info("Slidecast HTTP server started", "port", cfg.Port, "storage", files.Provider())

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("Context cancelled")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	} else {
		slog.Info("Server exited gracefully")
	}
}
