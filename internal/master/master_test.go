package master

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"slidecast/internal/config"
	"slidecast/internal/kv"
	"slidecast/internal/queue"
	"slidecast/internal/state"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestMaster(t *testing.T, maxWorkers int) (*Master, *queue.Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	q := queue.NewQueue(kv.NewWithClient(rdb), nil, 24*time.Hour)
	cfg := &config.Config{
		MaxWorkers:    maxWorkers,
		PopTimeout:    50 * time.Millisecond,
		SpawnDelay:    time.Millisecond,
		ShutdownGrace: 200 * time.Millisecond,
	}
	return New(cfg, q), q, mr
}

func submitTask(t *testing.T, q *queue.Queue, fileID string) string {
	t.Helper()
	id, err := q.Submit(context.Background(), queue.TaskVideo, queue.Kwargs{
		FileID:        fileID,
		FilePath:      "/uploads/" + fileID + ".pdf",
		FileExt:       ".pdf",
		Source:        queue.SourceSlides,
		VoiceLanguage: state.SourceLanguage,
		GenerateVideo: true,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return id
}

func taskStatus(t *testing.T, q *queue.Queue, id string) queue.Status {
	t.Helper()
	task, err := q.Get(context.Background(), id)
	if err != nil || task == nil {
		t.Fatalf("Get task %s: %v %v", id, task, err)
	}
	return task.Status
}

func waitForStatus(t *testing.T, q *queue.Queue, id string, want queue.Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if taskStatus(t, q, id) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Task %s never reached %s, last status %s", id, want, taskStatus(t, q, id))
}

// shellCmd substitutes the worker binary with an inline script.
func shellCmd(script string) func(string) *exec.Cmd {
	return func(taskID string) *exec.Cmd {
		return exec.Command("sh", "-c", script)
	}
}

func TestReconcileCompletesCleanExit(t *testing.T) {
	m, q, _ := newTestMaster(t, 1)
	ctx := context.Background()
	id := submitTask(t, q, "f1")
	if _, err := q.UpdateStatus(ctx, id, queue.StatusProcessing, nil); err != nil {
		t.Fatal(err)
	}

	m.reconcile(ctx, id, 0)

	if got := taskStatus(t, q, id); got != queue.StatusCompleted {
		t.Errorf("Status = %s, want completed", got)
	}
}

func TestReconcileFailsNonZeroExit(t *testing.T) {
	m, q, _ := newTestMaster(t, 1)
	ctx := context.Background()
	id := submitTask(t, q, "f2")
	if _, err := q.UpdateStatus(ctx, id, queue.StatusProcessing, nil); err != nil {
		t.Fatal(err)
	}

	m.reconcile(ctx, id, 3)

	task, _ := q.Get(ctx, id)
	if task.Status != queue.StatusFailed {
		t.Errorf("Status = %s, want failed", task.Status)
	}
	if task.ErrMessage() != "worker_exited(code=3)" {
		t.Errorf("Error = %q", task.ErrMessage())
	}
}

func TestReconcileLeavesTerminalStates(t *testing.T) {
	m, q, _ := newTestMaster(t, 1)
	ctx := context.Background()

	// A worker that recorded its own failure keeps its message.
	id := submitTask(t, q, "f3")
	if _, err := q.UpdateStatus(ctx, id, queue.StatusProcessing, nil); err != nil {
		t.Fatal(err)
	}
	msg := "step generate_audio: tts down"
	if _, err := q.UpdateStatus(ctx, id, queue.StatusFailed, &queue.StatusPatch{Error: &msg}); err != nil {
		t.Fatal(err)
	}
	m.reconcile(ctx, id, 1)
	task, _ := q.Get(ctx, id)
	if task.ErrMessage() != msg {
		t.Errorf("Reconcile clobbered the worker's error: %q", task.ErrMessage())
	}

	// A cancelled task stays cancelled even on exit 0.
	id2 := submitTask(t, q, "f4")
	if _, err := q.UpdateStatus(ctx, id2, queue.StatusProcessing, nil); err != nil {
		t.Fatal(err)
	}
	if ok, err := q.Cancel(ctx, id2); err != nil || !ok {
		t.Fatalf("Cancel: %v %v", ok, err)
	}
	m.reconcile(ctx, id2, 0)
	if got := taskStatus(t, q, id2); got != queue.StatusCancelled {
		t.Errorf("Status = %s, want cancelled", got)
	}
}

func TestReconcileToleratesMissingRecord(t *testing.T) {
	m, _, _ := newTestMaster(t, 1)
	m.reconcile(context.Background(), "expired-task", 0)
}

func TestRunProcessesQueueFIFO(t *testing.T) {
	m, q, _ := newTestMaster(t, 2)
	m.buildCmd = shellCmd("exit 0")

	ids := []string{
		submitTask(t, q, "f5"),
		submitTask(t, q, "f6"),
		submitTask(t, q, "f7"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	for _, id := range ids {
		waitForStatus(t, q, id, queue.StatusCompleted, 5*time.Second)
	}
	cancel()
	<-done
}

func TestRunMarksWorkerFailure(t *testing.T) {
	m, q, _ := newTestMaster(t, 1)
	m.buildCmd = shellCmd("exit 7")
	id := submitTask(t, q, "f8")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	waitForStatus(t, q, id, queue.StatusFailed, 5*time.Second)
	cancel()
	<-done

	task, _ := q.Get(context.Background(), id)
	if task.ErrMessage() != "worker_exited(code=7)" {
		t.Errorf("Error = %q", task.ErrMessage())
	}
}

func TestRunSkipsCancelledTask(t *testing.T) {
	m, q, mr := newTestMaster(t, 1)

	var mu sync.Mutex
	spawned := 0
	m.buildCmd = func(taskID string) *exec.Cmd {
		mu.Lock()
		spawned++
		mu.Unlock()
		return exec.Command("sh", "-c", "exit 0")
	}

	id := submitTask(t, q, "f9")
	// Cancelling a queued task pulls it off the dispatch list; push the id
	// back to simulate the race where a cancel lands between pop and spawn.
	if ok, err := q.Cancel(context.Background(), id); err != nil || !ok {
		t.Fatalf("Cancel: %v %v", ok, err)
	}
	if _, err := mr.Lpush(queue.DispatchList, id); err != nil {
		t.Fatalf("Lpush: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if spawned != 0 {
		t.Errorf("Spawned %d workers for a cancelled task", spawned)
	}
	if got := taskStatus(t, q, id); got != queue.StatusCancelled {
		t.Errorf("Status = %s, want cancelled", got)
	}
}

func TestRunRespectsCapacity(t *testing.T) {
	m, q, _ := newTestMaster(t, 1)

	var mu sync.Mutex
	var spawnTimes []time.Time
	m.buildCmd = func(taskID string) *exec.Cmd {
		mu.Lock()
		spawnTimes = append(spawnTimes, time.Now())
		mu.Unlock()
		return exec.Command("sh", "-c", "sleep 0.3")
	}

	id1 := submitTask(t, q, "f10")
	id2 := submitTask(t, q, "f11")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	waitForStatus(t, q, id1, queue.StatusCompleted, 5*time.Second)
	waitForStatus(t, q, id2, queue.StatusCompleted, 5*time.Second)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(spawnTimes) != 2 {
		t.Fatalf("Spawned %d workers, want 2", len(spawnTimes))
	}
	if gap := spawnTimes[1].Sub(spawnTimes[0]); gap < 200*time.Millisecond {
		t.Errorf("Second worker spawned %v after the first; capacity 1 was not enforced", gap)
	}
}

func TestShutdownKillsStubbornWorkerAfterGrace(t *testing.T) {
	m, q, _ := newTestMaster(t, 1)
	m.buildCmd = shellCmd(`trap "" TERM; while :; do sleep 1; done`)
	id := submitTask(t, q, "f12")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	waitForStatus(t, q, id, queue.StatusProcessing, 5*time.Second)
	// Give the spawn a moment, then order shutdown.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not finish; stubborn worker was not killed")
	}

	task, _ := q.Get(context.Background(), id)
	if task.Status != queue.StatusFailed {
		t.Errorf("Status = %s, want failed", task.Status)
	}
	if !strings.Contains(task.ErrMessage(), "worker_exited") {
		t.Errorf("Error = %q", task.ErrMessage())
	}
}

func TestWorkerCmdCarriesTaskID(t *testing.T) {
	m, _, _ := newTestMaster(t, 1)
	m.cfg.WorkerBin = "/usr/local/bin/worker"

	cmd := m.workerCmd("task-abc")
	found := false
	for _, env := range cmd.Env {
		if env == fmt.Sprintf("TASK_ID=%s", "task-abc") {
			found = true
		}
	}
	if !found {
		t.Errorf("TASK_ID missing from env")
	}
	if cmd.Path != "/usr/local/bin/worker" {
		t.Errorf("Path = %q", cmd.Path)
	}
}
