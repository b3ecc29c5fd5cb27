package storage

import (
	"context"
	"errors"
	"time"
)

// ErrUploadFailed marks upload errors so callers can distinguish a failed
// artifact publish from download or lookup problems.
var ErrUploadFailed = errors.New("storage upload failed")

// Storage abstracts the object store that holds final artifacts. Keys are
// slash-separated paths like outputs/<task_id>/video/final.mp4; every
// backend maps them onto its own namespace.
type Storage interface {
	// Provider returns the backend name ("local", "s3", "gdrive").
	Provider() string

	// File content operations. Uploads return a provider URI for the
	// stored object; failures wrap ErrUploadFailed.
	UploadFile(ctx context.Context, localPath, key, mimeType string) (string, error)
	UploadBytes(ctx context.Context, data []byte, key, mimeType string) (string, error)
	DownloadFile(ctx context.Context, key string) ([]byte, error)
	DownloadFileTo(ctx context.Context, key, localPath string) error

	// File management operations. DeleteFile is idempotent: deleting an
	// absent key succeeds.
	FileExists(ctx context.Context, key string) (bool, error)
	DeleteFile(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error

	// GenerateDownloadURL returns a browser-usable URL for the object,
	// presigned when the backend needs it. expires <= 0 uses the backend
	// default.
	GenerateDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error)
}

// FindExisting returns the first candidate key present in the store, or ""
// when none is. Used to resolve current and legacy artifact spellings.
func FindExisting(ctx context.Context, s Storage, candidates []string) (string, error) {
	for _, key := range candidates {
		ok, err := s.FileExists(ctx, key)
		if err != nil {
			return "", err
		}
		if ok {
			return key, nil
		}
	}
	return "", nil
}
