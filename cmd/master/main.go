package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"slidecast/internal/config"
	"slidecast/internal/kv"
	"slidecast/internal/logging"
	"slidecast/internal/master"
	"slidecast/internal/mirror"
	"slidecast/internal/queue"
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

	// Connect to the shared store; the master is useless without it
	store, err := kv.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to connect to store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var taskMirror queue.Mirror
	if m, err := mirror.Open(cfg.SQLitePath); err != nil {
		slog.Warn("Task mirror unavailable", "error", err, "path", cfg.SQLitePath)
	} else {
		taskMirror = m
		defer m.Close()
	}

	taskQueue := queue.NewQueue(store, taskMirror, cfg.TaskTTL)
	sched := master.New(cfg, taskQueue)

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received signal, shutting down gracefully", "signal", sig)
		cancel()
	}()

	if err := sched.Run(ctx); err != nil {
		slog.Error("Master exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Master exited gracefully")
}
