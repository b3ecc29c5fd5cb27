package endpoints

import (
	"context"
	"log/slog"
	"net/http"

	"slidecast/internal/config"
	"slidecast/internal/queue"
	"slidecast/internal/state"
	"slidecast/internal/storage"

	"github.com/gin-gonic/gin"
)

// StorePinger reports shared-store reachability
type StorePinger interface {
	Ping(ctx context.Context) error
}

// HealthQueue defines the queue probe for the liveness endpoint
type HealthQueue interface {
	QueueLength(ctx context.Context) (int64, error)
}

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, taskQueue *queue.Queue, states *state.Manager, files storage.Storage, pinger StorePinger, cfg *config.Config) {
	// Liveness endpoint outside the API group, for probes
	r.GET("/healthz", HandleHealth(pinger, taskQueue))

	// API group with common middleware
	api := r.Group("/api")
	{
		// Task routes
		tasks := api.Group("/tasks")
		{
			tasks.POST("", HandleSubmitTask(taskQueue, cfg))
			tasks.GET("", HandleGetTasks(taskQueue))
			tasks.GET("/:id", HandleGetTask(taskQueue))
			tasks.POST("/:id/cancel", HandleCancelTask(taskQueue))
			tasks.GET("/:id/queue-position", HandleQueuePosition(taskQueue))
		}

		// File state routes
		filesGroup := api.Group("/files")
		{
			filesGroup.GET("/:id", HandleGetFile(states))
			filesGroup.GET("/:id/artifacts", HandleGetFileArtifacts(states, files))
			filesGroup.DELETE("/:id", HandlePurgeFile(states, taskQueue))
		}
	}
}

// HandleHealth returns a handler that reports liveness: store reachability
// plus the dispatch backlog length
func HandleHealth(pinger StorePinger, taskQueue HealthQueue) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if err := pinger.Ping(ctx); err != nil {
			slog.Error("Health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": "slidecast",
				"error":   "store unreachable",
			})
			return
		}

		length, err := taskQueue.QueueLength(ctx)
		if err != nil {
			slog.Error("Health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": "slidecast",
				"error":   "queue unreachable",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":       "healthy",
			"service":      "slidecast",
			"queue_length": length,
		})
	}
}
