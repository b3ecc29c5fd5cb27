package mirror

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"slidecast/internal/queue"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTask(id string) *queue.Task {
	now := time.Now().UTC()
	return &queue.Task{
		ID:     id,
		Type:   queue.TaskVideo,
		Status: queue.StatusQueued,
		Kwargs: queue.Kwargs{
			FileID:        "file-" + id,
			FilePath:      "/srv/uploads/file-" + id + ".pdf",
			FileExt:       ".pdf",
			Source:        queue.SourcePDF,
			VoiceLanguage: "english",
			GenerateVideo: true,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestInsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertTask(ctx, sampleTask("t1")); err != nil {
		t.Fatalf("InsertTask() error = %v", err)
	}

	rec, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec == nil {
		t.Fatal("Get() = nil, want record")
	}
	if rec.TaskType != "video" || rec.Status != "queued" || rec.FileID != "file-t1" {
		t.Errorf("record = %+v", rec)
	}
	if strings.Contains(rec.Kwargs, "/srv/uploads") {
		t.Errorf("kwargs retained filesystem path: %s", rec.Kwargs)
	}
}

func TestGetAbsent(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Get(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec != nil {
		t.Errorf("Get() = %+v, want nil", rec)
	}
}

func TestInsertIsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := sampleTask("t1")
	if err := s.InsertTask(ctx, task); err != nil {
		t.Fatalf("InsertTask() error = %v", err)
	}
	task.Status = queue.StatusProcessing
	if err := s.InsertTask(ctx, task); err != nil {
		t.Fatalf("InsertTask() again error = %v", err)
	}

	rec, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Status != "processing" {
		t.Errorf("Status = %q, want processing", rec.Status)
	}

	all, err := s.Recent(ctx, "", 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Recent() len = %d, want 1", len(all))
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertTask(ctx, sampleTask("t1")); err != nil {
		t.Fatalf("InsertTask() error = %v", err)
	}
	if err := s.UpdateTaskStatus(ctx, "t1", queue.StatusFailed, "tts returned empty audio"); err != nil {
		t.Fatalf("UpdateTaskStatus() error = %v", err)
	}

	rec, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Status != "failed" || rec.Error != "tts returned empty audio" {
		t.Errorf("record = %+v", rec)
	}
}

func TestUpdateUnknownTaskIsNoOp(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpdateTaskStatus(context.Background(), "ghost", queue.StatusCompleted, ""); err != nil {
		t.Errorf("UpdateTaskStatus() error = %v, want nil", err)
	}
}

func TestRecentFilterAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, st := range []queue.Status{queue.StatusCompleted, queue.StatusFailed, queue.StatusCompleted} {
		task := sampleTask(string(rune('a' + i)))
		task.Status = st
		if err := s.InsertTask(ctx, task); err != nil {
			t.Fatalf("InsertTask() error = %v", err)
		}
	}

	completed, err := s.Recent(ctx, "completed", 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(completed) != 2 {
		t.Errorf("Recent(completed) len = %d, want 2", len(completed))
	}

	capped, err := s.Recent(ctx, "", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(capped) != 2 {
		t.Errorf("Recent(limit=2) len = %d, want 2", len(capped))
	}
}
