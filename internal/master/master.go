// Package master supervises the worker fleet: it pops task ids off the
// dispatch list, spawns one worker process per task up to a concurrency
// bound, and reconciles task status from worker exit codes.
package master

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"slidecast/internal/config"
	"slidecast/internal/procgroup"
	"slidecast/internal/queue"
	"slidecast/internal/worker"
)

// child is one live worker process.
type child struct {
	taskID string
	pid    int
	cmd    *exec.Cmd
}

// exitEvent reports a reaped worker.
type exitEvent struct {
	taskID string
	pid    int
	code   int
}

// Master runs the supervision loop. Not safe for concurrent Run calls.
type Master struct {
	cfg   *config.Config
	queue *queue.Queue

	// buildCmd makes the worker command for a task id. Tests substitute
	// short-lived shell commands.
	buildCmd func(taskID string) *exec.Cmd

	children map[int]*child
	exits    chan exitEvent
}

// New builds a master over the shared queue.
func New(cfg *config.Config, q *queue.Queue) *Master {
	m := &Master{
		cfg:      cfg,
		queue:    q,
		children: make(map[int]*child),
		exits:    make(chan exitEvent, cfg.MaxWorkers+1),
	}
	m.buildCmd = m.workerCmd
	return m
}

func (m *Master) workerCmd(taskID string) *exec.Cmd {
	cmd := exec.Command(m.cfg.WorkerBin)
	cmd.Env = append(os.Environ(), worker.TaskIDEnv+"="+taskID)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

// Run supervises until ctx ends, then winds the fleet down within the
// configured grace period.
func (m *Master) Run(ctx context.Context) error {
	slog.Info("Master starting",
		"max_workers", m.cfg.MaxWorkers,
		"worker_bin", m.cfg.WorkerBin,
		"pop_timeout", m.cfg.PopTimeout)

	for ctx.Err() == nil {
		m.drainExits(ctx)

		if len(m.children) >= m.cfg.MaxWorkers {
			// At capacity: block on the next exit instead of polling.
			select {
			case ev := <-m.exits:
				m.handleExit(ctx, ev)
			case <-ctx.Done():
			}
			continue
		}

		taskID, err := m.queue.Next(ctx, m.cfg.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Warn("Dispatch pop failed, backing off", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}
		if taskID == "" {
			continue
		}

		m.launch(ctx, taskID)
	}

	m.shutdown()
	return nil
}

// launch re-checks cancellation, claims the task and spawns its worker.
func (m *Master) launch(ctx context.Context, taskID string) {
	cancelled, err := m.queue.IsCancelled(ctx, taskID)
	if err != nil {
		slog.Warn("Cancellation re-check failed", "task_id", taskID, "error", err)
	}
	if cancelled {
		slog.Info("Skipping cancelled task", "task_id", taskID)
		return
	}

	// Best-effort claim; losing the race to a cancel is fine.
	if _, err := m.queue.UpdateStatus(ctx, taskID, queue.StatusProcessing, nil); err != nil {
		if !errors.Is(err, queue.ErrInvalidTransition) {
			slog.Warn("Claim failed", "task_id", taskID, "error", err)
		}
		task, gerr := m.queue.Get(ctx, taskID)
		if gerr != nil || task == nil || task.Status != queue.StatusProcessing {
			slog.Info("Not spawning, task moved on", "task_id", taskID)
			return
		}
	}

	// Let the status write settle in the store before the worker reads it.
	select {
	case <-time.After(m.cfg.SpawnDelay):
	case <-ctx.Done():
		return
	}

	cmd := m.buildCmd(taskID)
	procgroup.Set(cmd)
	if err := cmd.Start(); err != nil {
		slog.Error("Worker spawn failed", "task_id", taskID, "error", err)
		msg := fmt.Sprintf("worker_spawn_failed: %v", err)
		if _, uerr := m.queue.UpdateStatus(ctx, taskID, queue.StatusFailed, &queue.StatusPatch{Error: &msg}); uerr != nil {
			slog.Error("Failed to record spawn failure", "task_id", taskID, "error", uerr)
		}
		return
	}

	pid := cmd.Process.Pid
	m.children[pid] = &child{taskID: taskID, pid: pid, cmd: cmd}
	slog.Info("Worker spawned", "task_id", taskID, "pid", pid, "active", len(m.children))

	go func() {
		err := cmd.Wait()
		code := 0
		if err != nil {
			code = -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			}
		}
		m.exits <- exitEvent{taskID: taskID, pid: pid, code: code}
	}()
}

// drainExits reaps every already-finished worker without blocking.
func (m *Master) drainExits(ctx context.Context) {
	for {
		select {
		case ev := <-m.exits:
			m.handleExit(ctx, ev)
		default:
			return
		}
	}
}

func (m *Master) handleExit(ctx context.Context, ev exitEvent) {
	delete(m.children, ev.pid)
	slog.Info("Worker exited", "task_id", ev.taskID, "pid", ev.pid, "code", ev.code, "active", len(m.children))
	m.reconcile(ctx, ev.taskID, ev.code)
}

// reconcile settles a task's status from its worker's exit code. A task
// still in processing moves to completed (code 0) or failed
// (worker_exited); any terminal status the worker or a cancel already wrote
// is left untouched.
func (m *Master) reconcile(ctx context.Context, taskID string, code int) {
	task, err := m.queue.Get(ctx, taskID)
	if err != nil {
		slog.Error("Reconcile read failed", "task_id", taskID, "error", err)
		return
	}
	if task == nil {
		slog.Warn("Reconcile found no task record", "task_id", taskID)
		return
	}
	if task.Status != queue.StatusProcessing {
		return
	}

	if code == 0 {
		if _, err := m.queue.UpdateStatus(ctx, taskID, queue.StatusCompleted, nil); err != nil {
			slog.Error("Reconcile completion failed", "task_id", taskID, "error", err)
		}
		return
	}
	msg := fmt.Sprintf("worker_exited(code=%d)", code)
	if _, err := m.queue.UpdateStatus(ctx, taskID, queue.StatusFailed, &queue.StatusPatch{Error: &msg}); err != nil {
		slog.Error("Reconcile failure write failed", "task_id", taskID, "error", err)
	}
}

// shutdown asks every worker to stop, waits out the grace period, then
// kills the stragglers. Exit reconciliation still runs for each child.
func (m *Master) shutdown() {
	if len(m.children) == 0 {
		slog.Info("Master stopped")
		return
	}
	slog.Info("Master stopping, terminating workers", "active", len(m.children))

	ctx := context.Background()
	for pid, ch := range m.children {
		if err := procgroup.Terminate(pid); err != nil {
			slog.Warn("Terminate failed", "task_id", ch.taskID, "pid", pid, "error", err)
		}
	}

	grace := time.NewTimer(m.cfg.ShutdownGrace)
	defer grace.Stop()
	for len(m.children) > 0 {
		select {
		case ev := <-m.exits:
			m.handleExit(ctx, ev)
		case <-grace.C:
			for pid, ch := range m.children {
				slog.Warn("Killing worker after grace period", "task_id", ch.taskID, "pid", pid)
				if err := procgroup.Kill(pid); err != nil {
					slog.Error("Kill failed", "pid", pid, "error", err)
				}
			}
			// Killed children still deliver exit events.
			for len(m.children) > 0 {
				m.handleExit(ctx, <-m.exits)
			}
		}
	}
	slog.Info("Master stopped")
}
