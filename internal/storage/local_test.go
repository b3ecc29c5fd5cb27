package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestLocal(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(t.TempDir(), "http://localhost:8080")
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}
	return s
}

func TestLocalUploadDownloadRoundtrip(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "final.mp4")
	if err := os.WriteFile(src, []byte("video-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	key := VideoKey("task-1")
	uri, err := s.UploadFile(ctx, src, key, "video/mp4")
	if err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}
	if uri == "" {
		t.Error("UploadFile() returned empty URI")
	}

	data, err := s.DownloadFile(ctx, key)
	if err != nil {
		t.Fatalf("DownloadFile() error = %v", err)
	}
	if string(data) != "video-bytes" {
		t.Errorf("DownloadFile() = %q, want video-bytes", data)
	}

	dst := filepath.Join(t.TempDir(), "copy.mp4")
	if err := s.DownloadFileTo(ctx, key, dst); err != nil {
		t.Fatalf("DownloadFileTo() error = %v", err)
	}
	copied, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(copied) != "video-bytes" {
		t.Errorf("copied = %q, want video-bytes", copied)
	}
}

func TestLocalUploadBytesAndExists(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	key := SubtitleKey("task-1", "en", "srt")
	if _, err := s.UploadBytes(ctx, []byte("1\n00:00:00,000 --> 00:00:01,000\nhi\n"), key, "text/plain"); err != nil {
		t.Fatalf("UploadBytes() error = %v", err)
	}

	exists, err := s.FileExists(ctx, key)
	if err != nil {
		t.Fatalf("FileExists() error = %v", err)
	}
	if !exists {
		t.Error("FileExists() = false after upload")
	}

	exists, err = s.FileExists(ctx, "outputs/nothing/here.mp4")
	if err != nil {
		t.Fatalf("FileExists() error = %v", err)
	}
	if exists {
		t.Error("FileExists() = true for absent key")
	}
}

func TestLocalUploadMissingSource(t *testing.T) {
	s := newTestLocal(t)

	_, err := s.UploadFile(context.Background(), "/no/such/file.mp4", "k", "video/mp4")
	if !errors.Is(err, ErrUploadFailed) {
		t.Errorf("UploadFile() error = %v, want ErrUploadFailed", err)
	}
}

func TestLocalDeleteIsIdempotent(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	key := "outputs/t/audio/final.mp3"
	if _, err := s.UploadBytes(ctx, []byte("mp3"), key, "audio/mpeg"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteFile(ctx, key); err != nil {
		t.Fatalf("DeleteFile() error = %v", err)
	}
	if err := s.DeleteFile(ctx, key); err != nil {
		t.Errorf("DeleteFile() second call error = %v, want nil", err)
	}
}

func TestLocalDeletePrefix(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	for _, key := range []string{
		VideoKey("task-9"),
		PodcastKey("task-9"),
		"task-9.mp4", // legacy flat spelling
		VideoKey("task-other"),
	} {
		if _, err := s.UploadBytes(ctx, []byte("x"), key, ""); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.DeletePrefix(ctx, TaskPrefix("task-9")); err != nil {
		t.Fatalf("DeletePrefix() error = %v", err)
	}
	if err := s.DeletePrefix(ctx, "task-9"); err != nil {
		t.Fatalf("DeletePrefix() flat error = %v", err)
	}

	for _, key := range []string{VideoKey("task-9"), PodcastKey("task-9"), "task-9.mp4"} {
		exists, err := s.FileExists(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if exists {
			t.Errorf("key %s survived purge", key)
		}
	}

	exists, err := s.FileExists(ctx, VideoKey("task-other"))
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("unrelated task's artifact was deleted")
	}
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	for _, key := range []string{"../outside", "/etc/passwd", "a/../../b"} {
		if _, err := s.UploadBytes(ctx, []byte("x"), key, ""); err == nil {
			t.Errorf("UploadBytes(%q) succeeded, want error", key)
		}
	}
}

func TestLocalDownloadURL(t *testing.T) {
	s := newTestLocal(t)

	url, err := s.GenerateDownloadURL(context.Background(), VideoKey("t1"), 0)
	if err != nil {
		t.Fatalf("GenerateDownloadURL() error = %v", err)
	}
	want := "http://localhost:8080/files/outputs/t1/video/final.mp4"
	if url != want {
		t.Errorf("GenerateDownloadURL() = %q, want %q", url, want)
	}
}

func TestFindExisting(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	// Only the legacy spelling is present.
	if _, err := s.UploadBytes(ctx, []byte("x"), "file-1_final.mp4", ""); err != nil {
		t.Fatal(err)
	}

	key, err := FindExisting(ctx, s, VideoCandidates("task-1", "file-1"))
	if err != nil {
		t.Fatalf("FindExisting() error = %v", err)
	}
	if key != "file-1_final.mp4" {
		t.Errorf("FindExisting() = %q, want legacy key", key)
	}

	key, err = FindExisting(ctx, s, VideoCandidates("task-2", "file-2"))
	if err != nil {
		t.Fatalf("FindExisting() error = %v", err)
	}
	if key != "" {
		t.Errorf("FindExisting() = %q, want empty", key)
	}
}
