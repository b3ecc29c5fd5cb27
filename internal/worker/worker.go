// Package worker drives exactly one task to a terminal status. The master
// spawns one worker process per task; the process exits zero on completion
// or cancellation and non-zero on failure.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"slidecast/internal/ai"
	"slidecast/internal/config"
	"slidecast/internal/pipeline"
	"slidecast/internal/queue"
	"slidecast/internal/state"
	"slidecast/internal/storage"
)

// TaskIDEnv is the environment variable the master hands the task id in.
const TaskIDEnv = "TASK_ID"

// Runtime wires one task run: load, validate, monitor, dispatch, settle.
type Runtime struct {
	cfg   *config.Config
	queue *queue.Queue
	state *state.Manager
	store storage.Storage
	ai    ai.Service
	media pipeline.MediaRunner
}

// New builds a worker runtime over shared infrastructure.
func New(cfg *config.Config, q *queue.Queue, st *state.Manager, store storage.Storage, aiSvc ai.Service, mediaRunner pipeline.MediaRunner) *Runtime {
	return &Runtime{cfg: cfg, queue: q, state: st, store: store, ai: aiSvc, media: mediaRunner}
}

// Run processes taskID to a terminal status. It returns nil when the task
// completed or was cancelled, and the failure otherwise; the caller turns
// that into the process exit code.
func (r *Runtime) Run(ctx context.Context, taskID string) error {
	task, err := r.queue.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}

	// The external file path is logged, never rewritten.
	slog.Info("Worker starting",
		"task_id", taskID,
		"task_type", task.Type,
		"file_id", task.Kwargs.FileID,
		"file_path", task.Kwargs.FilePath)

	if task.Status == queue.StatusCancelled {
		slog.Info("Task already cancelled, nothing to do", "task_id", taskID)
		return nil
	}

	if err := r.claimProcessing(ctx, task); err != nil {
		if errors.Is(err, errClaimCancelled) {
			slog.Info("Task cancelled before start", "task_id", taskID)
			return nil
		}
		return err
	}

	if err := task.Validate(); err != nil {
		r.settleFailed(context.WithoutCancel(ctx), taskID, err)
		return err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		r.monitor(runCtx, cancelRun, taskID, task.Kwargs.FileID)
	}()

	runErr := r.dispatch(runCtx, task)
	cancelRun()
	<-monitorDone

	// Settlement writes must survive the cancelled run context.
	settleCtx := context.WithoutCancel(ctx)
	switch {
	case runErr == nil:
		result := map[string]interface{}{"file_id": task.Kwargs.FileID}
		if _, err := r.queue.UpdateStatus(settleCtx, taskID, queue.StatusCompleted, &queue.StatusPatch{Result: result}); err != nil {
			// The master reconciles from the exit code; do not fail the run
			// over a bookkeeping write.
			slog.Error("Failed to record completion", "task_id", taskID, "error", err)
		}
		slog.Info("Worker finished", "task_id", taskID, "status", queue.StatusCompleted)
		return nil

	case errors.Is(runErr, pipeline.ErrCancelled):
		// An API cancel already moved the record; a signal-driven stop
		// leaves it processing, so settle it here.
		if _, err := r.queue.UpdateStatus(settleCtx, taskID, queue.StatusCancelled, nil); err != nil && !errors.Is(err, queue.ErrInvalidTransition) {
			slog.Error("Failed to record cancellation", "task_id", taskID, "error", err)
		}
		slog.Info("Worker finished", "task_id", taskID, "status", queue.StatusCancelled)
		return nil

	default:
		r.settleFailed(settleCtx, taskID, runErr)
		slog.Error("Worker finished", "task_id", taskID, "status", queue.StatusFailed, "error", runErr)
		return runErr
	}
}

var errClaimCancelled = errors.New("task cancelled before claim")

// claimProcessing moves the task into processing. The master usually won
// this race already; finding the task in processing is success, finding it
// cancelled ends the run cleanly.
func (r *Runtime) claimProcessing(ctx context.Context, task *queue.Task) error {
	if task.Status == queue.StatusProcessing {
		return nil
	}
	_, err := r.queue.UpdateStatus(ctx, task.ID, queue.StatusProcessing, nil)
	if err == nil {
		return nil
	}
	if !errors.Is(err, queue.ErrInvalidTransition) {
		return fmt.Errorf("claim task %s: %w", task.ID, err)
	}
	cur, gerr := r.queue.Get(ctx, task.ID)
	if gerr != nil {
		return fmt.Errorf("re-read task %s: %w", task.ID, gerr)
	}
	if cur == nil {
		return fmt.Errorf("task %s disappeared", task.ID)
	}
	switch cur.Status {
	case queue.StatusProcessing:
		return nil
	case queue.StatusCancelled:
		return errClaimCancelled
	default:
		return fmt.Errorf("task %s in unexpected status %s", task.ID, cur.Status)
	}
}

// monitor polls the task for cancellation and logs pipeline progress until
// the run context ends. On cancellation it kills the run context so every
// blocking call unwinds.
func (r *Runtime) monitor(ctx context.Context, cancelRun context.CancelFunc, taskID, fileID string) {
	interval := r.cfg.MonitorInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cancelled, err := r.queue.IsCancelled(ctx, taskID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("Cancellation poll failed", "task_id", taskID, "error", err)
				continue
			}
			if cancelled {
				slog.Info("Cancellation observed, stopping run", "task_id", taskID)
				cancelRun()
				return
			}
			if fileID != "" {
				if doc, err := r.state.Get(ctx, fileID); err == nil && doc != nil {
					slog.Info("Progress", "task_id", taskID, "file_id", fileID,
						"status", doc.Status, "step", doc.CurrentStep)
				}
			}
		}
	}
}

// dispatch routes the task to its coordinator.
func (r *Runtime) dispatch(ctx context.Context, task *queue.Task) error {
	kw := task.Kwargs
	opts := pipeline.Options{
		SourceIsPDF:       kw.Source == queue.SourcePDF,
		VoiceID:           kw.VoiceID,
		PodcastHostVoice:  kw.PodcastHostVoice,
		PodcastGuestVoice: kw.PodcastGuestVoice,
	}
	coord := pipeline.New(pipeline.Deps{
		State:     r.state,
		Storage:   r.store,
		AI:        r.ai,
		Media:     r.media,
		Config:    r.cfg,
		Cancelled: r.cancelCheck(task.ID),
	}, kw.FileID, task.ID, opts)

	switch task.Type {
	case queue.TaskPurge:
		return coord.RunPurge(ctx, kw.DeleteRemote)

	case queue.TaskVideo:
		if err := r.ensureState(ctx, task); err != nil {
			return err
		}
		if err := coord.RunVideo(ctx); err != nil {
			return err
		}
		if kw.GeneratePodcast {
			return coord.RunPodcast(ctx)
		}
		return nil

	case queue.TaskPodcast:
		if err := r.ensureState(ctx, task); err != nil {
			return err
		}
		return coord.RunPodcast(ctx)

	default:
		return fmt.Errorf("%w: unknown task_type %q", queue.ErrInvalidTaskPayload, task.Type)
	}
}

// ensureState materializes the file document if this is the first run and
// records the task correlation. Create is idempotent, so resumed tasks keep
// their progress. Purge tasks never call this; the correlation must keep
// pointing at the producing task.
func (r *Runtime) ensureState(ctx context.Context, task *queue.Task) error {
	kw := task.Kwargs
	init := state.InitFields{
		FilePath:                  kw.FilePath,
		FileExt:                   kw.FileExt,
		TaskID:                    task.ID,
		VoiceLanguage:             kw.VoiceLanguage,
		SubtitleLanguage:          kw.SubtitleLanguage,
		PodcastTranscriptLanguage: kw.TranscriptLanguage,
		GenerateAvatar:            kw.GenerateAvatar,
		GenerateSubtitles:         kw.GenerateSubtitles,
		GenerateVideo:             kw.GenerateVideo,
		GeneratePodcast:           kw.GeneratePodcast,
		SourceIsPDF:               kw.Source == queue.SourcePDF,
	}
	if _, err := r.state.Create(ctx, kw.FileID, init); err != nil {
		return fmt.Errorf("ensure state for %s: %w", kw.FileID, err)
	}
	if err := r.state.SetTaskIDForFile(ctx, kw.FileID, task.ID); err != nil {
		return fmt.Errorf("correlate task %s: %w", task.ID, err)
	}
	return nil
}

// cancelCheck builds the poll coordinators call between steps.
func (r *Runtime) cancelCheck(taskID string) pipeline.CancelCheck {
	return func(ctx context.Context) bool {
		if ctx.Err() != nil {
			return true
		}
		cancelled, err := r.queue.IsCancelled(ctx, taskID)
		if err != nil {
			slog.Warn("Cancellation check failed", "task_id", taskID, "error", err)
			return false
		}
		return cancelled
	}
}

// settleFailed records the failure on the task, best-effort.
func (r *Runtime) settleFailed(ctx context.Context, taskID string, cause error) {
	msg := cause.Error()
	if _, err := r.queue.UpdateStatus(ctx, taskID, queue.StatusFailed, &queue.StatusPatch{Error: &msg}); err != nil {
		slog.Error("Failed to record failure", "task_id", taskID, "error", err)
	}
}
