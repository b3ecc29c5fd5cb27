package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"slidecast/internal/kv"

	"github.com/redis/go-redis/v9"
)

const (
	// StateKeyPrefix is the Redis key prefix for file state documents
	StateKeyPrefix = "ai_slider:state:"
	// TaskFileKeyPrefix maps task_id → file_id
	TaskFileKeyPrefix = "ss:task_file:"
	// FileTaskKeyPrefix maps file_id → active task_id
	FileTaskKeyPrefix = "ss:file_task:"
	// casAttempts bounds retries when a concurrent writer wins the document
	casAttempts = 5
)

var (
	// ErrNotFound is returned for mutations on absent documents.
	ErrNotFound = errors.New("file state not found")
	// ErrInvalidTransition is returned for step moves outside the graph.
	ErrInvalidTransition = errors.New("invalid step status transition")
	// ErrVersionConflict is returned by Save when the document moved under
	// the caller.
	ErrVersionConflict = errors.New("state version conflict")
)

// Manager owns the per-file pipeline documents. Every mutation is a
// read-modify-write under an optimistic transaction keyed on the document,
// with the version counter as a second guard; writes refresh the TTL.
type Manager struct {
	store *kv.Client
	ttl   time.Duration
}

// NewManager builds a manager over an existing store client.
func NewManager(store *kv.Client, ttl time.Duration) *Manager {
	return &Manager{store: store, ttl: ttl}
}

// StateKey returns the document key for a file id.
func StateKey(fileID string) string {
	return StateKeyPrefix + fileID
}

// TaskFileKey returns the task→file correlation key.
func TaskFileKey(taskID string) string {
	return TaskFileKeyPrefix + taskID
}

// FileTaskKey returns the file→task correlation key.
func FileTaskKey(fileID string) string {
	return FileTaskKeyPrefix + fileID
}

// Create materializes the document for fileID if absent and returns it.
// An existing document is returned unchanged, so re-submissions resume
// instead of resetting progress.
func (m *Manager) Create(ctx context.Context, fileID string, init InitFields) (*FileState, error) {
	if m.store == nil {
		return nil, fmt.Errorf("state manager is not connected")
	}

	key := StateKey(fileID)
	var result *FileState

	err := m.store.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if err == nil {
			var existing FileState
			if uerr := json.Unmarshal([]byte(raw), &existing); uerr != nil {
				return fmt.Errorf("failed to unmarshal state %s: %w", fileID, uerr)
			}
			result = &existing
			return nil
		}
		if err != redis.Nil {
			return fmt.Errorf("failed to load state %s: %w", fileID, err)
		}

		now := time.Now().UTC()
		doc := &FileState{
			FileID:      fileID,
			FilePath:    init.FilePath,
			FileExt:     init.FileExt,
			Status:      FileUploaded,
			CurrentStep: FirstStep(init.SourceIsPDF),
			TaskID:      init.TaskID,

			VoiceLanguage:             init.VoiceLanguage,
			SubtitleLanguage:          init.SubtitleLanguage,
			PodcastTranscriptLanguage: init.PodcastTranscriptLanguage,

			GenerateAvatar:    init.GenerateAvatar,
			GenerateSubtitles: init.GenerateSubtitles,
			GenerateVideo:     init.GenerateVideo,
			GeneratePodcast:   init.GeneratePodcast,

			Steps:     initialSteps(init),
			Errors:    []FileError{},
			Artifacts: map[string]Artifact{},

			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
		}

		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal state %s: %w", fileID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, m.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = doc
		return nil
	}, key)

	if err != nil {
		if kv.IsTxFailed(err) {
			// A concurrent creator won; the document now exists.
			return m.Get(ctx, fileID)
		}
		return nil, err
	}

	slog.Debug("File state ready", "file_id", fileID, "version", result.Version)
	return result, nil
}

// Get returns the document, or nil when absent or expired.
func (m *Manager) Get(ctx context.Context, fileID string) (*FileState, error) {
	if m.store == nil {
		return nil, fmt.Errorf("state manager is not connected")
	}

	raw, ok, err := m.store.Get(ctx, StateKey(fileID))
	if err != nil {
		return nil, fmt.Errorf("failed to load state %s: %w", fileID, err)
	}
	if !ok {
		return nil, nil
	}

	var doc FileState
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state %s: %w", fileID, err)
	}
	return &doc, nil
}

// Update applies mutate to the current document under the CAS discipline and
// persists the result with a bumped version and refreshed TTL.
func (m *Manager) Update(ctx context.Context, fileID string, mutate func(*FileState) error) error {
	if m.store == nil {
		return fmt.Errorf("state manager is not connected")
	}

	key := StateKey(fileID)
	apply := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return fmt.Errorf("%w: %s", ErrNotFound, fileID)
		}
		if err != nil {
			return fmt.Errorf("failed to load state %s: %w", fileID, err)
		}

		var doc FileState
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return fmt.Errorf("failed to unmarshal state %s: %w", fileID, err)
		}

		if err := mutate(&doc); err != nil {
			return err
		}
		doc.Version++
		doc.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(&doc)
		if err != nil {
			return fmt.Errorf("failed to marshal state %s: %w", fileID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, m.ttl)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < casAttempts; attempt++ {
		err = m.store.Watch(ctx, apply, key)
		if err == nil {
			return nil
		}
		if !kv.IsTxFailed(err) {
			return err
		}
	}
	return fmt.Errorf("failed to update state %s after %d attempts: %w", fileID, casAttempts, err)
}

// Save replaces the whole document iff the stored version still matches
// st.Version. On success st carries the bumped version.
func (m *Manager) Save(ctx context.Context, st *FileState) error {
	if m.store == nil {
		return fmt.Errorf("state manager is not connected")
	}

	key := StateKey(st.FileID)
	expected := st.Version

	apply := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("failed to load state %s: %w", st.FileID, err)
		}
		if err != redis.Nil {
			var current FileState
			if uerr := json.Unmarshal([]byte(raw), &current); uerr != nil {
				return fmt.Errorf("failed to unmarshal state %s: %w", st.FileID, uerr)
			}
			if current.Version != expected {
				return fmt.Errorf("%w: have %d, stored %d", ErrVersionConflict, expected, current.Version)
			}
		}

		st.Version = expected + 1
		st.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("failed to marshal state %s: %w", st.FileID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, m.ttl)
			return nil
		})
		return err
	}

	if err := m.store.Watch(ctx, apply, key); err != nil {
		// A failed write must not leave the caller's copy bumped.
		st.Version = expected
		if kv.IsTxFailed(err) {
			return fmt.Errorf("%w: concurrent write", ErrVersionConflict)
		}
		return err
	}
	return nil
}

// GetStep returns one step's entry, or nil when the document or step is
// absent.
func (m *Manager) GetStep(ctx context.Context, fileID, step string) (*StepState, error) {
	doc, err := m.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return doc.Step(step), nil
}

// SetStepStatus moves one step through its lifecycle, updating current_step
// alongside. Illegal moves fail with ErrInvalidTransition; marking a second
// step processing while another is mid-flight is rejected the same way.
// data replaces the step's payload when non-nil.
func (m *Manager) SetStepStatus(ctx context.Context, fileID, step string, status StepStatus, data map[string]interface{}) error {
	err := m.Update(ctx, fileID, func(doc *FileState) error {
		entry := doc.Step(step)
		if entry == nil {
			return fmt.Errorf("%w: unknown step %s", ErrInvalidTransition, step)
		}
		if !CanStepTransition(entry.Status, status) {
			return fmt.Errorf("%w: %s %s → %s", ErrInvalidTransition, step, entry.Status, status)
		}
		if status == StepProcessing {
			if running := doc.ProcessingStep(); running != "" && running != step {
				return fmt.Errorf("%w: step %s still processing", ErrInvalidTransition, running)
			}
		}

		entry.Status = status
		if data != nil {
			entry.Data = data
		}
		doc.CurrentStep = step
		return nil
	})
	if err != nil {
		return err
	}

	slog.Debug("Step status set", "file_id", fileID, "step", step, "status", status)
	return nil
}

// AddError appends a diagnostics entry for step.
func (m *Manager) AddError(ctx context.Context, fileID, step, message string) error {
	return m.Update(ctx, fileID, func(doc *FileState) error {
		doc.Errors = append(doc.Errors, FileError{
			Step:      step,
			Message:   message,
			Timestamp: time.Now().UTC(),
		})
		return nil
	})
}

// AddArtifact registers (or supersedes) a named output.
func (m *Manager) AddArtifact(ctx context.Context, fileID, name string, art Artifact) error {
	return m.Update(ctx, fileID, func(doc *FileState) error {
		if doc.Artifacts == nil {
			doc.Artifacts = map[string]Artifact{}
		}
		doc.Artifacts[name] = art
		return nil
	})
}

// MarkProcessing flips the overall status for a starting run.
func (m *Manager) MarkProcessing(ctx context.Context, fileID string) error {
	return m.setStatus(ctx, fileID, FileProcessing)
}

// MarkCompleted flips the overall status after a successful run.
func (m *Manager) MarkCompleted(ctx context.Context, fileID string) error {
	return m.setStatus(ctx, fileID, FileCompleted)
}

// MarkFailed flips the overall status after an aborted run.
func (m *Manager) MarkFailed(ctx context.Context, fileID string) error {
	return m.setStatus(ctx, fileID, FileFailed)
}

// MarkCancelled flips the overall status and optionally tags the step that
// observed the cancellation.
func (m *Manager) MarkCancelled(ctx context.Context, fileID, cancelledStep string) error {
	err := m.Update(ctx, fileID, func(doc *FileState) error {
		doc.Status = FileCancelled
		if cancelledStep != "" {
			doc.CurrentStep = cancelledStep
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("File state cancelled", "file_id", fileID, "step", cancelledStep)
	return nil
}

func (m *Manager) setStatus(ctx context.Context, fileID string, status FileStatus) error {
	err := m.Update(ctx, fileID, func(doc *FileState) error {
		doc.Status = status
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("File state updated", "file_id", fileID, "status", status)
	return nil
}

// SetTaskIDForFile records the active task on the document and writes both
// correlation keys with the document TTL.
func (m *Manager) SetTaskIDForFile(ctx context.Context, fileID, taskID string) error {
	if err := m.Update(ctx, fileID, func(doc *FileState) error {
		doc.TaskID = taskID
		return nil
	}); err != nil {
		return err
	}
	if err := m.store.Set(ctx, FileTaskKey(fileID), taskID, m.ttl); err != nil {
		return fmt.Errorf("failed to write file→task key: %w", err)
	}
	if err := m.store.Set(ctx, TaskFileKey(taskID), fileID, m.ttl); err != nil {
		return fmt.Errorf("failed to write task→file key: %w", err)
	}
	return nil
}

// GetFileIDByTask resolves the file a task operates on, "" when unknown.
func (m *Manager) GetFileIDByTask(ctx context.Context, taskID string) (string, error) {
	fileID, _, err := m.store.Get(ctx, TaskFileKey(taskID))
	if err != nil {
		return "", fmt.Errorf("failed to resolve task %s: %w", taskID, err)
	}
	return fileID, nil
}

// GetTaskIDByFile resolves the active task for a file, "" when none.
func (m *Manager) GetTaskIDByFile(ctx context.Context, fileID string) (string, error) {
	taskID, _, err := m.store.Get(ctx, FileTaskKey(fileID))
	if err != nil {
		return "", fmt.Errorf("failed to resolve file %s: %w", fileID, err)
	}
	return taskID, nil
}

// Delete removes the document and its correlation keys. Used by purge tasks;
// idempotent.
func (m *Manager) Delete(ctx context.Context, fileID string) error {
	taskID, err := m.GetTaskIDByFile(ctx, fileID)
	if err != nil {
		return err
	}
	keys := []string{StateKey(fileID), FileTaskKey(fileID)}
	if taskID != "" {
		keys = append(keys, TaskFileKey(taskID))
	}
	if err := m.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("failed to delete state %s: %w", fileID, err)
	}
	slog.Info("File state deleted", "file_id", fileID)
	return nil
}
