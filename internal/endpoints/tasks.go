package endpoints

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"slidecast/internal/config"
	"slidecast/internal/queue"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TaskQueue defines the interface for task queue operations
type TaskQueue interface {
	Submit(ctx context.Context, taskType queue.TaskType, kwargs queue.Kwargs) (string, error)
	Get(ctx context.Context, taskID string) (*queue.Task, error)
	List(ctx context.Context, status queue.Status, limit int) ([]*queue.Task, error)
	Cancel(ctx context.Context, taskID string) (bool, error)
	QueuePosition(ctx context.Context, taskID string) (int, error)
}

// allowedUploadExts lists the document types the pipeline can ingest.
var allowedUploadExts = map[string]bool{
	".pdf":  true,
	".ppt":  true,
	".pptx": true,
}

const defaultListLimit = 50

// SubmitTaskRequest represents the task submission options. Multipart posts
// bind the same fields from form values and carry the document in the "file"
// part; JSON posts reference a server-visible path instead.
type SubmitTaskRequest struct {
	TaskType   string `json:"task_type" form:"task_type"`
	FilePath   string `json:"file_path" form:"-"`
	SourceType string `json:"source_type" form:"source_type"`

	VoiceLanguage      string  `json:"voice_language" form:"voice_language"`
	SubtitleLanguage   *string `json:"subtitle_language" form:"subtitle_language"`
	TranscriptLanguage string  `json:"transcript_language" form:"transcript_language"`

	GenerateAvatar    bool `json:"generate_avatar" form:"generate_avatar"`
	GenerateSubtitles bool `json:"generate_subtitles" form:"generate_subtitles"`
	GenerateVideo     bool `json:"generate_video" form:"generate_video"`
	GeneratePodcast   bool `json:"generate_podcast" form:"generate_podcast"`

	VoiceID           string `json:"voice_id" form:"voice_id"`
	PodcastHostVoice  string `json:"podcast_host_voice" form:"podcast_host_voice"`
	PodcastGuestVoice string `json:"podcast_guest_voice" form:"podcast_guest_voice"`
}

// SubmitTaskResponse represents the submission response
type SubmitTaskResponse struct {
	Success bool   `json:"success"`
	FileID  string `json:"file_id,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HandleSubmitTask returns a handler that accepts a document and enqueues a
// processing task for it
func HandleSubmitTask(taskQueue TaskQueue, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SubmitTaskRequest
		var filePath, fileExt string

		if strings.HasPrefix(c.ContentType(), "multipart/") {
			if err := c.ShouldBind(&req); err != nil {
				slog.Error("Failed to parse form fields", "error", err)
				c.JSON(http.StatusBadRequest, SubmitTaskResponse{
					Success: false,
					Error:   "Invalid form fields",
				})
				return
			}

			path, ext, ok := saveUpload(c, cfg)
			if !ok {
				return
			}
			filePath, fileExt = path, ext
		} else {
			if err := c.ShouldBindJSON(&req); err != nil {
				slog.Error("Failed to parse submission body", "error", err)
				c.JSON(http.StatusBadRequest, SubmitTaskResponse{
					Success: false,
					Error:   "Invalid request body",
				})
				return
			}
			if req.FilePath == "" {
				c.JSON(http.StatusBadRequest, SubmitTaskResponse{
					Success: false,
					Error:   "file_path is required without an upload",
				})
				return
			}

			ext := strings.ToLower(filepath.Ext(req.FilePath))
			if !allowedUploadExts[ext] {
				c.JSON(http.StatusBadRequest, SubmitTaskResponse{
					Success: false,
					Error:   fmt.Sprintf("Unsupported file type %q", ext),
				})
				return
			}
			if _, err := os.Stat(req.FilePath); err != nil {
				slog.Warn("Submitted path is not readable", "file_path", req.FilePath, "error", err)
				c.JSON(http.StatusBadRequest, SubmitTaskResponse{
					Success: false,
					Error:   "file_path does not exist on the server",
				})
				return
			}
			filePath, fileExt = req.FilePath, ext
		}

		taskType := queue.TaskType(req.TaskType)
		if req.TaskType == "" {
			taskType = queue.TaskVideo
		}
		if taskType != queue.TaskVideo && taskType != queue.TaskPodcast {
			c.JSON(http.StatusBadRequest, SubmitTaskResponse{
				Success: false,
				Error:   fmt.Sprintf("Unsupported task_type %q", req.TaskType),
			})
			return
		}

		source := queue.SourceType(req.SourceType)
		if req.SourceType == "" {
			// Infer from the document type when the client does not say.
			if fileExt == ".pdf" {
				source = queue.SourcePDF
			} else {
				source = queue.SourceSlides
			}
		}
		if source != queue.SourcePDF && source != queue.SourceSlides {
			c.JSON(http.StatusBadRequest, SubmitTaskResponse{
				Success: false,
				Error:   fmt.Sprintf("source_type must be pdf or slides, got %q", req.SourceType),
			})
			return
		}

		fileID := uuid.New().String()
		kwargs := queue.Kwargs{
			FileID:   fileID,
			FilePath: filePath,
			FileExt:  fileExt,
			Source:   source,

			VoiceLanguage:      req.VoiceLanguage,
			SubtitleLanguage:   req.SubtitleLanguage,
			TranscriptLanguage: req.TranscriptLanguage,

			GenerateAvatar:    req.GenerateAvatar,
			GenerateSubtitles: req.GenerateSubtitles,
			GenerateVideo:     req.GenerateVideo,
			GeneratePodcast:   req.GeneratePodcast,

			VoiceID:           req.VoiceID,
			PodcastHostVoice:  req.PodcastHostVoice,
			PodcastGuestVoice: req.PodcastGuestVoice,
		}

		taskID, err := taskQueue.Submit(c.Request.Context(), taskType, kwargs)
		if err != nil {
			slog.Error("Failed to submit task", "error", err, "file_id", fileID)
			c.JSON(http.StatusServiceUnavailable, SubmitTaskResponse{
				Success: false,
				Error:   "Failed to queue task",
			})
			return
		}

		slog.Info("Task accepted", "task_id", taskID, "file_id", fileID, "task_type", taskType)
		c.JSON(http.StatusAccepted, SubmitTaskResponse{
			Success: true,
			FileID:  fileID,
			TaskID:  taskID,
			Status:  string(queue.StatusQueued),
		})
	}
}

// saveUpload streams the multipart "file" part into the uploads directory
// under a fresh file id. Reports completion via the bool; error responses are
// already written on failure.
func saveUpload(c *gin.Context, cfg *config.Config) (path, ext string, ok bool) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		slog.Error("Failed to get file from form", "error", err)
		c.JSON(http.StatusBadRequest, SubmitTaskResponse{
			Success: false,
			Error:   "Failed to parse file upload",
		})
		return "", "", false
	}
	defer file.Close()

	ext = strings.ToLower(filepath.Ext(header.Filename))
	if !allowedUploadExts[ext] {
		slog.Warn("Invalid file extension", "filename", header.Filename)
		c.JSON(http.StatusBadRequest, SubmitTaskResponse{
			Success: false,
			Error:   fmt.Sprintf("Unsupported file type %q", ext),
		})
		return "", "", false
	}

	if err := os.MkdirAll(cfg.UploadsDir, 0o755); err != nil {
		slog.Error("Failed to create uploads directory", "error", err)
		c.JSON(http.StatusInternalServerError, SubmitTaskResponse{
			Success: false,
			Error:   "Failed to save file",
		})
		return "", "", false
	}

	path = filepath.Join(cfg.UploadsDir, uuid.New().String()+ext)
	dst, err := os.Create(path)
	if err != nil {
		slog.Error("Failed to create upload file", "error", err, "path", path)
		c.JSON(http.StatusInternalServerError, SubmitTaskResponse{
			Success: false,
			Error:   "Failed to save file",
		})
		return "", "", false
	}

	if _, err := io.Copy(dst, file); err != nil {
		slog.Error("Failed to copy file content", "error", err)
		dst.Close()
		os.Remove(path)
		c.JSON(http.StatusInternalServerError, SubmitTaskResponse{
			Success: false,
			Error:   "Failed to save file",
		})
		return "", "", false
	}
	dst.Close()

	slog.Info("Upload saved", "path", path, "filename", header.Filename, "size", header.Size)
	return path, ext, true
}

// GetTasksResponse represents the response for the task list endpoint
type GetTasksResponse struct {
	Tasks []*queue.Task `json:"tasks"`
}

// HandleGetTasks returns a handler that lists task records, optionally
// filtered by status
func HandleGetTasks(taskQueue TaskQueue) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := queue.Status(c.Query("status"))
		if status != "" && !queue.ValidStatus(status) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unknown status %q", status)})
			return
		}

		limit := defaultListLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = parsed
		}

		tasks, err := taskQueue.List(c.Request.Context(), status, limit)
		if err != nil {
			slog.Error("Failed to list tasks", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch tasks"})
			return
		}
		if tasks == nil {
			tasks = []*queue.Task{}
		}

		c.JSON(http.StatusOK, GetTasksResponse{Tasks: tasks})
	}
}

// HandleGetTask returns a handler that fetches one task record
func HandleGetTask(taskQueue TaskQueue) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("id")

		task, err := taskQueue.Get(c.Request.Context(), taskID)
		if err != nil {
			slog.Error("Failed to fetch task", "error", err, "task_id", taskID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch task"})
			return
		}
		if task == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
			return
		}

		c.JSON(http.StatusOK, task)
	}
}

// CancelTaskResponse represents the cancellation response
type CancelTaskResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"task_id"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HandleCancelTask returns a handler that requests cancellation of a queued
// or processing task
func HandleCancelTask(taskQueue TaskQueue) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("id")
		ctx := c.Request.Context()

		task, err := taskQueue.Get(ctx, taskID)
		if err != nil {
			slog.Error("Failed to fetch task", "error", err, "task_id", taskID)
			c.JSON(http.StatusInternalServerError, CancelTaskResponse{
				Success: false,
				TaskID:  taskID,
				Error:   "Failed to fetch task",
			})
			return
		}
		if task == nil {
			c.JSON(http.StatusNotFound, CancelTaskResponse{
				Success: false,
				TaskID:  taskID,
				Error:   "Task not found",
			})
			return
		}

		cancelled, err := taskQueue.Cancel(ctx, taskID)
		if err != nil {
			slog.Error("Failed to cancel task", "error", err, "task_id", taskID)
			c.JSON(http.StatusInternalServerError, CancelTaskResponse{
				Success: false,
				TaskID:  taskID,
				Error:   "Failed to cancel task",
			})
			return
		}
		if !cancelled {
			c.JSON(http.StatusConflict, CancelTaskResponse{
				Success: false,
				TaskID:  taskID,
				Status:  string(task.Status),
				Error:   fmt.Sprintf("Task is already %s", task.Status),
			})
			return
		}

		slog.Info("Task cancellation requested", "task_id", taskID)
		c.JSON(http.StatusOK, CancelTaskResponse{
			Success: true,
			TaskID:  taskID,
			Status:  string(queue.StatusCancelled),
		})
	}
}

// QueuePositionResponse represents the dispatch position response. Position
// is 1-based; 0 means the task is not waiting in the dispatch list.
type QueuePositionResponse struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Position int    `json:"position"`
}

// HandleQueuePosition returns a handler that reports how many tasks are
// ahead of the given one
func HandleQueuePosition(taskQueue TaskQueue) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("id")
		ctx := c.Request.Context()

		task, err := taskQueue.Get(ctx, taskID)
		if err != nil {
			slog.Error("Failed to fetch task", "error", err, "task_id", taskID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch task"})
			return
		}
		if task == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
			return
		}

		position, err := taskQueue.QueuePosition(ctx, taskID)
		if err != nil {
			slog.Error("Failed to read queue position", "error", err, "task_id", taskID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read queue position"})
			return
		}

		c.JSON(http.StatusOK, QueuePositionResponse{
			TaskID:   taskID,
			Status:   string(task.Status),
			Position: position,
		})
	}
}
