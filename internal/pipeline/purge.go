package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"slidecast/internal/storage"
)

// RunPurge removes everything a file's pipeline left behind: the workspace,
// the uploaded source, the state document with its correlation keys, and,
// when deleteRemote is set, the stored artifacts. Individual removals are
// best-effort; all failures are joined into the returned error so the purge
// task surfaces them.
func (c *Coordinator) RunPurge(ctx context.Context, deleteRemote bool) error {
	var errs []error

	doc, err := c.st.Get(ctx, c.fileID)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	// The producing task's id anchors the storage keys. The purge task's own
	// id is deliberately not used.
	producerTask := ""
	sourcePath := ""
	if doc != nil {
		producerTask = doc.TaskID
		sourcePath = doc.FilePath
	}

	if err := os.RemoveAll(c.workspace()); err != nil {
		errs = append(errs, fmt.Errorf("remove workspace: %w", err))
	}

	if sourcePath != "" {
		if underDir(c.cfg.UploadsDir, sourcePath) {
			if err := os.Remove(sourcePath); err != nil && !os.IsNotExist(err) {
				errs = append(errs, fmt.Errorf("remove source: %w", err))
			}
		} else {
			slog.Warn("Skipping source outside uploads dir", "file_id", c.fileID, "path", sourcePath)
		}
	}

	if deleteRemote {
		if doc != nil {
			for name, art := range doc.Artifacts {
				if art.StorageKey == "" {
					continue
				}
				if err := c.store.DeleteFile(ctx, art.StorageKey); err != nil {
					errs = append(errs, fmt.Errorf("delete artifact %s: %w", name, err))
				}
			}
		}
		if producerTask != "" {
			if err := c.store.DeletePrefix(ctx, storage.TaskPrefix(producerTask)); err != nil {
				errs = append(errs, fmt.Errorf("delete task prefix: %w", err))
			}
			for _, key := range storage.LegacyTaskKeys(producerTask, c.fileID) {
				if err := c.store.DeleteFile(ctx, key); err != nil {
					errs = append(errs, fmt.Errorf("delete legacy key %s: %w", key, err))
				}
			}
		}
	}

	if doc != nil {
		if err := c.st.Delete(ctx, c.fileID); err != nil {
			errs = append(errs, fmt.Errorf("delete state: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	slog.Info("File purged", "file_id", c.fileID, "remote", deleteRemote)
	return nil
}

// underDir reports whether path resolves inside dir.
func underDir(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
