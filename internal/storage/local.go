package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStorage keeps objects on the local filesystem under a single root.
// It is the default backend for development and for single-host deployments
// where the HTTP server serves artifacts directly.
type LocalStorage struct {
	root    string
	baseURL string // public base for download URLs, e.g. http://localhost:8080
}

// NewLocalStorage creates the root directory if needed and returns a
// filesystem-backed store.
func NewLocalStorage(root, baseURL string) (*LocalStorage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	slog.Info("Local storage initialized", "root", abs)
	return &LocalStorage{root: abs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStorage) Provider() string { return "local" }

// keyPath maps a slash key onto the root, rejecting anything that would
// escape it.
func (s *LocalStorage) keyPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || clean == ".." || filepath.IsAbs(clean) ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage key: %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

// LocalPath returns the absolute filesystem path for a key. Pipeline steps
// use it when the local copy is authoritative.
func (s *LocalStorage) LocalPath(key string) (string, error) {
	return s.keyPath(key)
}

func (s *LocalStorage) UploadFile(ctx context.Context, localPath, key, mimeType string) (string, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", ErrUploadFailed, localPath, err)
	}
	defer src.Close()

	dst, err := s.keyPath(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return "", fmt.Errorf("%w: copy %s: %w", ErrUploadFailed, key, err)
	}

	slog.Info("File stored", "key", key, "path", dst)
	return "file://" + dst, nil
}

func (s *LocalStorage) UploadBytes(ctx context.Context, data []byte, key, mimeType string) (string, error) {
	dst, err := s.keyPath(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: write %s: %w", ErrUploadFailed, key, err)
	}
	return "file://" + dst, nil
}

func (s *LocalStorage) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

func (s *LocalStorage) DownloadFileTo(ctx context.Context, key, localPath string) error {
	data, err := s.DownloadFile(ctx, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create target dir: %w", err)
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	return nil
}

func (s *LocalStorage) FileExists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("storage key is empty")
	}
	path, err := s.keyPath(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check if file exists: %w", err)
	}
	return !info.IsDir(), nil
}

func (s *LocalStorage) DeleteFile(ctx context.Context, key string) error {
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", key, err)
	}
	return nil
}

func (s *LocalStorage) DeletePrefix(ctx context.Context, prefix string) error {
	base, err := s.keyPath(strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return err
	}

	if info, err := os.Stat(base); err == nil && info.IsDir() {
		if err := os.RemoveAll(base); err != nil {
			return fmt.Errorf("failed to delete prefix %s: %w", prefix, err)
		}
		return nil
	}

	// Flat legacy keys share the prefix without forming a directory.
	matches, err := filepath.Glob(base + "*")
	if err != nil {
		return fmt.Errorf("failed to match prefix %s: %w", prefix, err)
	}
	for _, m := range matches {
		if err := os.RemoveAll(m); err != nil {
			return fmt.Errorf("failed to delete %s: %w", m, err)
		}
	}
	return nil
}

func (s *LocalStorage) GenerateDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return "", err
	}
	if s.baseURL != "" {
		return fmt.Sprintf("%s/files/%s", s.baseURL, key), nil
	}
	return "file://" + path, nil
}
