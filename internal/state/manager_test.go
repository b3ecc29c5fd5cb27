package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"slidecast/internal/kv"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewManager(kv.NewWithClient(rdb), 24*time.Hour), mr
}

func slidesInit(taskID string) InitFields {
	return InitFields{
		FilePath:      "/uploads/f1.pptx",
		FileExt:       ".pptx",
		TaskID:        taskID,
		VoiceLanguage: SourceLanguage,
		GenerateVideo: true,
	}
}

func TestCreateAndGet(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	doc, err := m.Create(ctx, "f1", slidesInit("t1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if doc.Status != FileUploaded {
		t.Errorf("Expected uploaded, got %s", doc.Status)
	}
	if doc.CurrentStep != StepExtractSlides {
		t.Errorf("Expected first step extract_slides, got %s", doc.CurrentStep)
	}
	if doc.Version != 1 {
		t.Errorf("New doc version = %d", doc.Version)
	}
	if len(doc.Steps) != len(AllSteps) {
		t.Errorf("Expected full steps map, got %d entries", len(doc.Steps))
	}

	if ttl := mr.TTL(StateKey("f1")); ttl <= 0 {
		t.Errorf("State doc should carry a TTL, got %v", ttl)
	}

	got, err := m.Get(ctx, "f1")
	if err != nil || got == nil {
		t.Fatalf("Get: %v %v", got, err)
	}
	if got.FileID != "f1" || got.FilePath != "/uploads/f1.pptx" {
		t.Errorf("Round trip mismatch: %+v", got)
	}
}

func TestCreateIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first, _ := m.Create(ctx, "f1", slidesInit("t1"))
	if err := m.SetStepStatus(ctx, "f1", StepExtractSlides, StepProcessing, nil); err != nil {
		t.Fatal(err)
	}
	if err := m.SetStepStatus(ctx, "f1", StepExtractSlides, StepCompleted, map[string]interface{}{"slides": 5.0}); err != nil {
		t.Fatal(err)
	}

	again, err := m.Create(ctx, "f1", slidesInit("t2"))
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if !again.StepCompletedOK(StepExtractSlides) {
		t.Error("Re-create must not reset completed steps")
	}
	if !again.CreatedAt.Equal(first.CreatedAt) {
		t.Error("Re-create must return the original document")
	}
}

func TestGetAbsent(t *testing.T) {
	m, _ := newTestManager(t)
	doc, err := m.Get(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Get absent: %v", err)
	}
	if doc != nil {
		t.Error("Expected nil for absent doc")
	}
}

func TestSetStepStatusLifecycle(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	m.Create(ctx, "f1", slidesInit("t1"))

	if err := m.SetStepStatus(ctx, "f1", StepExtractSlides, StepProcessing, nil); err != nil {
		t.Fatalf("pending→processing: %v", err)
	}
	doc, _ := m.Get(ctx, "f1")
	if doc.CurrentStep != StepExtractSlides {
		t.Errorf("current_step = %s", doc.CurrentStep)
	}

	data := map[string]interface{}{"slide_count": 12.0}
	if err := m.SetStepStatus(ctx, "f1", StepExtractSlides, StepCompleted, data); err != nil {
		t.Fatalf("processing→completed: %v", err)
	}
	doc, _ = m.Get(ctx, "f1")
	got, ok := doc.StepData(StepExtractSlides)
	if !ok || got["slide_count"] != 12.0 {
		t.Errorf("step data = %v ok=%v", got, ok)
	}

	// Completed is a sink.
	err := m.SetStepStatus(ctx, "f1", StepExtractSlides, StepProcessing, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}

	// Illegal jump.
	err = m.SetStepStatus(ctx, "f1", StepConvertSlides, StepCompleted, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pending→completed should fail, got %v", err)
	}
}

func TestSingleProcessingStepInvariant(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	m.Create(ctx, "f1", slidesInit("t1"))

	if err := m.SetStepStatus(ctx, "f1", StepExtractSlides, StepProcessing, nil); err != nil {
		t.Fatal(err)
	}

	err := m.SetStepStatus(ctx, "f1", StepConvertSlides, StepProcessing, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Second concurrent processing step must be rejected, got %v", err)
	}

	// Re-entering the same step is allowed (crash resume).
	if err := m.SetStepStatus(ctx, "f1", StepExtractSlides, StepProcessing, nil); err != nil {
		t.Errorf("Same-step re-entry should pass: %v", err)
	}
}

func TestSetStepStatusUnknownStepAndFile(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	m.Create(ctx, "f1", slidesInit("t1"))

	err := m.SetStepStatus(ctx, "f1", "estimate_budget", StepProcessing, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Unknown step should fail, got %v", err)
	}

	err = m.SetStepStatus(ctx, "ghost", StepExtractSlides, StepProcessing, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Missing doc should fail with ErrNotFound, got %v", err)
	}
}

func TestAddErrorAndMarks(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	m.Create(ctx, "f1", slidesInit("t1"))

	if err := m.AddError(ctx, "f1", StepGenerateAudio, "tts stream empty"); err != nil {
		t.Fatalf("AddError: %v", err)
	}
	if err := m.MarkFailed(ctx, "f1"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	doc, _ := m.Get(ctx, "f1")
	if doc.Status != FileFailed {
		t.Errorf("status = %s", doc.Status)
	}
	if len(doc.Errors) != 1 || doc.Errors[0].Step != StepGenerateAudio {
		t.Errorf("errors = %+v", doc.Errors)
	}
	if doc.Errors[0].Timestamp.IsZero() {
		t.Error("error timestamp not set")
	}

	if err := m.MarkCancelled(ctx, "f1", StepGenerateAudio); err != nil {
		t.Fatalf("MarkCancelled: %v", err)
	}
	doc, _ = m.Get(ctx, "f1")
	if doc.Status != FileCancelled || doc.CurrentStep != StepGenerateAudio {
		t.Errorf("cancel mark: status=%s step=%s", doc.Status, doc.CurrentStep)
	}
}

func TestAddArtifactSupersedes(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	m.Create(ctx, "f1", slidesInit("t1"))

	first := Artifact{StorageKey: "outputs/t1/video/final.mp4", ContentType: "video/mp4"}
	if err := m.AddArtifact(ctx, "f1", "final_video", first); err != nil {
		t.Fatal(err)
	}
	second := Artifact{StorageKey: "outputs/t2/video/final.mp4", ContentType: "video/mp4"}
	if err := m.AddArtifact(ctx, "f1", "final_video", second); err != nil {
		t.Fatal(err)
	}

	doc, _ := m.Get(ctx, "f1")
	if len(doc.Artifacts) != 1 {
		t.Fatalf("artifacts = %v", doc.Artifacts)
	}
	if doc.Artifacts["final_video"].StorageKey != second.StorageKey {
		t.Error("later artifact should supersede the earlier one")
	}
}

func TestSaveVersionConflict(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	m.Create(ctx, "f1", slidesInit("t1"))

	stale, _ := m.Get(ctx, "f1")

	// Another writer moves the document.
	if err := m.MarkProcessing(ctx, "f1"); err != nil {
		t.Fatal(err)
	}

	stale.GeneratePodcast = true
	err := m.Save(ctx, stale)
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("Expected ErrVersionConflict, got %v", err)
	}

	// Fresh read succeeds.
	fresh, _ := m.Get(ctx, "f1")
	fresh.GeneratePodcast = true
	if err := m.Save(ctx, fresh); err != nil {
		t.Fatalf("Save fresh: %v", err)
	}
	doc, _ := m.Get(ctx, "f1")
	if !doc.GeneratePodcast {
		t.Error("Save did not persist the flag")
	}
	if doc.Version != fresh.Version {
		t.Errorf("Version mismatch: doc %d, returned %d", doc.Version, fresh.Version)
	}
}

func TestUpdateSerializesConcurrentWriters(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	m.Create(ctx, "f1", slidesInit("t1"))

	const writers = 10
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- m.AddError(ctx, "f1", StepExtractSlides, "boom")
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		}
	}
	if succeeded == 0 {
		t.Fatal("No writer succeeded")
	}

	// Every acknowledged write must be present: no lost updates.
	doc, _ := m.Get(ctx, "f1")
	if len(doc.Errors) != succeeded {
		t.Errorf("Expected %d errors appended, got %d (lost updates)", succeeded, len(doc.Errors))
	}
	if doc.Version != int64(succeeded)+1 {
		t.Errorf("Version = %d, want %d", doc.Version, succeeded+1)
	}
}

func TestTaskFileCorrelation(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()
	m.Create(ctx, "f1", slidesInit(""))

	if err := m.SetTaskIDForFile(ctx, "f1", "t42"); err != nil {
		t.Fatalf("SetTaskIDForFile: %v", err)
	}

	fileID, err := m.GetFileIDByTask(ctx, "t42")
	if err != nil || fileID != "f1" {
		t.Errorf("GetFileIDByTask = %q, %v", fileID, err)
	}
	taskID, err := m.GetTaskIDByFile(ctx, "f1")
	if err != nil || taskID != "t42" {
		t.Errorf("GetTaskIDByFile = %q, %v", taskID, err)
	}

	if ttl := mr.TTL(TaskFileKey("t42")); ttl <= 0 {
		t.Error("correlation keys must carry the state TTL")
	}

	doc, _ := m.Get(ctx, "f1")
	if doc.TaskID != "t42" {
		t.Errorf("doc.TaskID = %s", doc.TaskID)
	}

	// Unknown lookups come back empty, not as errors.
	fileID, err = m.GetFileIDByTask(ctx, "ghost")
	if err != nil || fileID != "" {
		t.Errorf("ghost lookup = %q, %v", fileID, err)
	}
}

func TestWriteRefreshesTTL(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()
	m.Create(ctx, "f1", slidesInit("t1"))

	mr.FastForward(20 * time.Hour)
	if err := m.MarkProcessing(ctx, "f1"); err != nil {
		t.Fatal(err)
	}

	if ttl := mr.TTL(StateKey("f1")); ttl < 23*time.Hour {
		t.Errorf("Write should refresh TTL to the full window, got %v", ttl)
	}
}

func TestDelete(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()
	m.Create(ctx, "f1", slidesInit(""))
	m.SetTaskIDForFile(ctx, "f1", "t1")

	if err := m.Delete(ctx, "f1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if mr.Exists(StateKey("f1")) || mr.Exists(FileTaskKey("f1")) || mr.Exists(TaskFileKey("t1")) {
		t.Error("Delete left keys behind")
	}

	// Idempotent.
	if err := m.Delete(ctx, "f1"); err != nil {
		t.Errorf("Second delete should pass: %v", err)
	}
}
