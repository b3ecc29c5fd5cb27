package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"slidecast/internal/kv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// TaskKeyPrefix is the Redis key prefix for task records
	TaskKeyPrefix = "ss:task:"
	// DispatchList is the Redis list key holding queued task ids (FIFO)
	DispatchList = "ss:task_queue"
	// CancelFlagSuffix marks the short-lived cancellation flag key
	CancelFlagSuffix = ":cancelled"
	// CancelFlagTTL is how long the cancellation flag stays visible
	CancelFlagTTL = 5 * time.Minute
	// casAttempts bounds retries when a concurrent writer wins the record
	casAttempts = 5
)

var (
	// ErrQueueUnavailable wraps store failures on the submit path.
	ErrQueueUnavailable = errors.New("task queue unavailable")
	// ErrInvalidTransition is returned for moves outside the status graph.
	ErrInvalidTransition = errors.New("invalid task status transition")
	// ErrInvalidTaskPayload is returned when required kwargs are missing.
	ErrInvalidTaskPayload = errors.New("invalid task payload")
)

// Mirror receives best-effort copies of task writes for durable history.
// A nil Mirror disables mirroring; errors are logged, never propagated.
type Mirror interface {
	InsertTask(ctx context.Context, task *Task) error
	UpdateTaskStatus(ctx context.Context, taskID string, status Status, errMsg string) error
}

// Queue manages task submission, FIFO dispatch and cancellation over the
// shared store.
type Queue struct {
	store   *kv.Client
	mirror  Mirror
	taskTTL time.Duration
}

// NewQueue builds a queue over an existing store client. taskTTL bounds how
// long task records live without a refresh.
func NewQueue(store *kv.Client, mirror Mirror, taskTTL time.Duration) *Queue {
	return &Queue{store: store, mirror: mirror, taskTTL: taskTTL}
}

// TaskKey returns the record key for a task id.
func TaskKey(taskID string) string {
	return TaskKeyPrefix + taskID
}

// CancelFlagKey returns the cancellation flag key for a task id.
func CancelFlagKey(taskID string) string {
	return TaskKeyPrefix + taskID + CancelFlagSuffix
}

// Submit persists a new task with status queued and appends its id to the
// dispatch list. Returns the allocated task id.
func (q *Queue) Submit(ctx context.Context, taskType TaskType, kwargs Kwargs) (string, error) {
	if q.store == nil {
		return "", fmt.Errorf("queue is not connected")
	}

	now := time.Now().UTC()
	task := &Task{
		ID:        uuid.New().String(),
		Type:      taskType,
		Status:    StatusQueued,
		Kwargs:    kwargs,
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := q.store.Set(ctx, TaskKey(task.ID), string(data), q.taskTTL); err != nil {
		return "", fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	if err := q.store.LPush(ctx, DispatchList, task.ID); err != nil {
		// Roll the record back so the task does not linger half-submitted.
		_ = q.store.Del(ctx, TaskKey(task.ID))
		return "", fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	q.mirrorInsert(ctx, task)

	slog.Info("Task submitted", "task_id", task.ID, "task_type", taskType, "file_id", kwargs.FileID)
	return task.ID, nil
}

// Get returns the task record, or nil when the key is absent or expired.
func (q *Queue) Get(ctx context.Context, taskID string) (*Task, error) {
	if q.store == nil {
		return nil, fmt.Errorf("queue is not connected")
	}

	raw, ok, err := q.store.Get(ctx, TaskKey(taskID))
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	if !ok {
		return nil, nil
	}

	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %s: %w", taskID, err)
	}
	return &task, nil
}

// StatusPatch carries the optional fields UpdateStatus applies alongside the
// status change.
type StatusPatch struct {
	Error      *string
	ClearError bool
	Result     map[string]interface{}
	// Force skips the transition graph check. Reserved for operator tooling.
	Force bool
}

// UpdateStatus atomically moves a task to newStatus, refreshing updated_at
// and the record TTL. Returns false when the task does not exist. Moves
// outside the allowed graph fail with ErrInvalidTransition unless forced.
func (q *Queue) UpdateStatus(ctx context.Context, taskID string, newStatus Status, patch *StatusPatch) (bool, error) {
	if q.store == nil {
		return false, fmt.Errorf("queue is not connected")
	}
	if patch == nil {
		patch = &StatusPatch{}
	}

	key := TaskKey(taskID)
	var found bool
	var wasQueued bool
	var errMsg string

	apply := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			found = false
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load task %s: %w", taskID, err)
		}

		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			return fmt.Errorf("failed to unmarshal task %s: %w", taskID, err)
		}
		found = true
		wasQueued = task.Status == StatusQueued

		if !patch.Force && !CanTransition(task.Status, newStatus) {
			return fmt.Errorf("%w: %s → %s for task %s", ErrInvalidTransition, task.Status, newStatus, taskID)
		}

		task.Status = newStatus
		task.UpdatedAt = time.Now().UTC()
		if patch.ClearError {
			task.Error = nil
		} else if patch.Error != nil {
			task.Error = patch.Error
		}
		if patch.Result != nil {
			task.Result = patch.Result
		}
		errMsg = task.ErrMessage()

		data, err := json.Marshal(&task)
		if err != nil {
			return fmt.Errorf("failed to marshal task %s: %w", taskID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, q.taskTTL)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < casAttempts; attempt++ {
		err = q.store.Watch(ctx, apply, key)
		if err == nil {
			break
		}
		if !kv.IsTxFailed(err) {
			return false, err
		}
	}
	if err != nil {
		return false, fmt.Errorf("failed to update task %s after %d attempts: %w", taskID, casAttempts, err)
	}
	if !found {
		return false, nil
	}

	// Leaving queued by any route other than dispatch must also clear the
	// id from the dispatch list; entering queued (operator requeue) must
	// restore it exactly once. LRem of an absent id is a no-op.
	if wasQueued && newStatus != StatusQueued {
		if _, err := q.store.LRem(ctx, DispatchList, 0, taskID); err != nil {
			slog.Warn("Failed to remove task from dispatch list", "task_id", taskID, "error", err)
		}
	} else if !wasQueued && newStatus == StatusQueued {
		if _, err := q.store.LRem(ctx, DispatchList, 0, taskID); err != nil {
			slog.Warn("Failed to dedupe dispatch list", "task_id", taskID, "error", err)
		}
		if err := q.store.LPush(ctx, DispatchList, taskID); err != nil {
			slog.Warn("Failed to requeue task on dispatch list", "task_id", taskID, "error", err)
		}
	}

	q.mirrorStatus(ctx, taskID, newStatus, errMsg)

	slog.Info("Task status updated", "task_id", taskID, "status", newStatus)
	return true, nil
}

// Next blocks up to timeout for the oldest queued task id. Returns "" when
// the window elapses with nothing to do. Each id is delivered to exactly one
// caller; transient store errors are returned for the caller to back off on.
func (q *Queue) Next(ctx context.Context, timeout time.Duration) (string, error) {
	if q.store == nil {
		return "", fmt.Errorf("queue is not connected")
	}

	taskID, ok, err := q.store.BRPop(ctx, timeout, DispatchList)
	if err != nil {
		return "", fmt.Errorf("failed to pop dispatch list: %w", err)
	}
	if !ok {
		return "", nil
	}

	slog.Info("Task dispatched", "task_id", taskID)
	return taskID, nil
}

// Cancel requests cancellation. Queued tasks leave the dispatch list and
// flip to cancelled; processing tasks get the short-lived flag key so the
// worker observes promptly, then flip to cancelled. Terminal tasks and
// unknown ids return false.
func (q *Queue) Cancel(ctx context.Context, taskID string) (bool, error) {
	task, err := q.Get(ctx, taskID)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	switch task.Status {
	case StatusQueued:
		ok, err := q.UpdateStatus(ctx, taskID, StatusCancelled, nil)
		if err != nil && errors.Is(err, ErrInvalidTransition) {
			// Lost a race with another transition; treat as not cancelled here.
			return false, nil
		}
		return ok, err
	case StatusProcessing:
		// Flag first so a polling worker sees the request even before the
		// record flips.
		if err := q.store.SetEx(ctx, CancelFlagKey(taskID), "true", CancelFlagTTL); err != nil {
			return false, fmt.Errorf("failed to write cancel flag for %s: %w", taskID, err)
		}
		ok, err := q.UpdateStatus(ctx, taskID, StatusCancelled, nil)
		if err != nil && errors.Is(err, ErrInvalidTransition) {
			return false, nil
		}
		return ok, err
	default:
		return false, nil
	}
}

// IsCancelled reports whether the task has been cancelled, via either the
// record status or the short-lived flag key.
func (q *Queue) IsCancelled(ctx context.Context, taskID string) (bool, error) {
	task, err := q.Get(ctx, taskID)
	if err != nil {
		return false, err
	}
	if task != nil && task.Status == StatusCancelled {
		return true, nil
	}

	flagged, err := q.store.Exists(ctx, CancelFlagKey(taskID))
	if err != nil {
		return false, fmt.Errorf("failed to check cancel flag for %s: %w", taskID, err)
	}
	return flagged, nil
}

// Scan enumerates task records with cursor-based iteration, invoking fn for
// each. fn returning false stops the walk. status "" matches everything.
func (q *Queue) Scan(ctx context.Context, status Status, fn func(*Task) bool) error {
	if q.store == nil {
		return fmt.Errorf("queue is not connected")
	}

	return q.store.Scan(ctx, TaskKeyPrefix+"*", func(key string) bool {
		if strings.HasSuffix(key, CancelFlagSuffix) {
			return true
		}
		raw, ok, err := q.store.Get(ctx, key)
		if err != nil || !ok {
			return true
		}
		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			slog.Warn("Skipping unreadable task record", "key", key, "error", err)
			return true
		}
		if status != "" && task.Status != status {
			return true
		}
		return fn(&task)
	})
}

// List collects up to limit tasks matching status (0 = unlimited).
func (q *Queue) List(ctx context.Context, status Status, limit int) ([]*Task, error) {
	var tasks []*Task
	err := q.Scan(ctx, status, func(t *Task) bool {
		tasks = append(tasks, t)
		return limit <= 0 || len(tasks) < limit
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// QueuePosition returns the 1-based FIFO position of a queued task, or 0
// when the id is not in the dispatch list.
func (q *Queue) QueuePosition(ctx context.Context, taskID string) (int, error) {
	ids, err := q.store.LRange(ctx, DispatchList, 0, -1)
	if err != nil {
		return 0, fmt.Errorf("failed to read dispatch list: %w", err)
	}
	// LPUSH puts the newest at index 0; the tail pops first.
	for i, id := range ids {
		if id == taskID {
			return len(ids) - i, nil
		}
	}
	return 0, nil
}

// QueueLength returns the number of ids awaiting dispatch.
func (q *Queue) QueueLength(ctx context.Context) (int64, error) {
	if q.store == nil {
		return 0, fmt.Errorf("queue is not connected")
	}
	return q.store.LLen(ctx, DispatchList)
}

func (q *Queue) mirrorInsert(ctx context.Context, task *Task) {
	if q.mirror == nil {
		return
	}
	if err := q.mirror.InsertTask(ctx, task); err != nil {
		slog.Warn("Task mirror insert failed", "task_id", task.ID, "error", err)
	}
}

func (q *Queue) mirrorStatus(ctx context.Context, taskID string, status Status, errMsg string) {
	if q.mirror == nil {
		return
	}
	if err := q.mirror.UpdateTaskStatus(ctx, taskID, status, errMsg); err != nil {
		slog.Warn("Task mirror update failed", "task_id", taskID, "error", err)
	}
}
