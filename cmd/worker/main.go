package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"slidecast/internal/ai"
	"slidecast/internal/config"
	"slidecast/internal/kv"
	"slidecast/internal/logging"
	"slidecast/internal/media"
	"slidecast/internal/mirror"
	"slidecast/internal/queue"
	"slidecast/internal/state"
	"slidecast/internal/storage"
	"slidecast/internal/worker"
)

// main runs exactly one task, named by TASK_ID, and exits. Exit code 0
// means the task reached completed or cancelled; anything else is a failure
// the master records.
func main() {
	cfg := config.Load()

	// Initialize structured logging
	closeLog, err := logging.Setup()
	if err != nil {
		slog.Error("Failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer closeLog()

	taskID := os.Getenv(worker.TaskIDEnv)
	if taskID == "" {
		slog.Error("TASK_ID is not set")
		os.Exit(2)
	}

	// SIGTERM from the master cancels the run; the pipeline settles the
	// task cancelled and the process still exits zero.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
	states := state.NewManager(store, cfg.StateTTL)

	files, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	runtime := worker.New(cfg, taskQueue, states, files, ai.New(cfg), media.NewRunner(cfg))

	if err := runtime.Run(ctx, taskID); err != nil {
		slog.Error("Task failed", "task_id", taskID, "error", err)
		os.Exit(1)
	}
}
