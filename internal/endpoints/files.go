package endpoints

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"slidecast/internal/queue"
	"slidecast/internal/state"

	"github.com/gin-gonic/gin"
)

// FileStates defines the interface for state document reads
type FileStates interface {
	Get(ctx context.Context, fileID string) (*state.FileState, error)
}

// ArtifactURLs resolves stored artifact keys to downloadable URLs
type ArtifactURLs interface {
	GenerateDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error)
}

// HandleGetFile returns a handler that fetches the per-file state document
func HandleGetFile(states FileStates) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileID := c.Param("id")

		doc, err := states.Get(c.Request.Context(), fileID)
		if err != nil {
			slog.Error("Failed to fetch file state", "error", err, "file_id", fileID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch file state"})
			return
		}
		if doc == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}

		c.JSON(http.StatusOK, doc)
	}
}

// ArtifactInfo is one produced output with a resolvable location
type ArtifactInfo struct {
	StorageKey  string `json:"storage_key,omitempty"`
	StorageURI  string `json:"storage_uri,omitempty"`
	LocalPath   string `json:"local_path,omitempty"`
	ContentType string `json:"content_type"`
	URL         string `json:"url,omitempty"`
}

// GetArtifactsResponse represents the artifact listing for a file
type GetArtifactsResponse struct {
	FileID    string                  `json:"file_id"`
	Status    string                  `json:"status"`
	Artifacts map[string]ArtifactInfo `json:"artifacts"`
}

// HandleGetFileArtifacts returns a handler that lists a file's artifacts with
// download URLs, presigned when the backend needs it
func HandleGetFileArtifacts(states FileStates, urls ArtifactURLs) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileID := c.Param("id")
		ctx := c.Request.Context()

		expires := time.Duration(0)
		if raw := c.Query("expires"); raw != "" {
			seconds, err := strconv.Atoi(raw)
			if err != nil || seconds < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "expires must be a non-negative number of seconds"})
				return
			}
			expires = time.Duration(seconds) * time.Second
		}

		doc, err := states.Get(ctx, fileID)
		if err != nil {
			slog.Error("Failed to fetch file state", "error", err, "file_id", fileID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch file state"})
			return
		}
		if doc == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}

		artifacts := make(map[string]ArtifactInfo, len(doc.Artifacts))
		for name, art := range doc.Artifacts {
			info := ArtifactInfo{
				StorageKey:  art.StorageKey,
				StorageURI:  art.StorageURI,
				LocalPath:   art.LocalPath,
				ContentType: art.ContentType,
			}
			if art.StorageKey != "" {
				url, err := urls.GenerateDownloadURL(ctx, art.StorageKey, expires)
				if err != nil {
					// Still list the artifact; the key stays usable via the CLI.
					slog.Warn("Failed to resolve artifact URL", "file_id", fileID, "artifact", name, "error", err)
				} else {
					info.URL = url
				}
			}
			artifacts[name] = info
		}

		c.JSON(http.StatusOK, GetArtifactsResponse{
			FileID:    fileID,
			Status:    string(doc.Status),
			Artifacts: artifacts,
		})
	}
}

// HandlePurgeFile returns a handler that enqueues a file_purge task for the
// file. ?delete_remote=true extends the purge to stored artifacts.
func HandlePurgeFile(states FileStates, taskQueue TaskQueue) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileID := c.Param("id")
		ctx := c.Request.Context()

		deleteRemote := false
		if raw := c.Query("delete_remote"); raw != "" {
			parsed, err := strconv.ParseBool(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "delete_remote must be a boolean"})
				return
			}
			deleteRemote = parsed
		}

		doc, err := states.Get(ctx, fileID)
		if err != nil {
			slog.Error("Failed to fetch file state", "error", err, "file_id", fileID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch file state"})
			return
		}
		if doc == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}

		kwargs := queue.Kwargs{
			FileID:       fileID,
			FilePath:     doc.FilePath,
			FileExt:      doc.FileExt,
			DeleteRemote: deleteRemote,
		}
		taskID, err := taskQueue.Submit(ctx, queue.TaskPurge, kwargs)
		if err != nil {
			slog.Error("Failed to submit purge task", "error", err, "file_id", fileID)
			c.JSON(http.StatusServiceUnavailable, SubmitTaskResponse{
				Success: false,
				Error:   "Failed to queue task",
			})
			return
		}

		slog.Info("Purge requested", "task_id", taskID, "file_id", fileID, "delete_remote", deleteRemote)
		c.JSON(http.StatusAccepted, SubmitTaskResponse{
			Success: true,
			FileID:  fileID,
			TaskID:  taskID,
			Status:  string(queue.StatusQueued),
		})
	}
}
