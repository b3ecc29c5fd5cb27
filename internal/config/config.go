package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config carries every tunable the binaries read from the environment.
// Load it once at startup and pass it down; nothing in this package mutates
// after Load returns.
type Config struct {
	// Redis connection
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Scheduling
	MaxWorkers      int
	PopTimeout      time.Duration
	SpawnDelay      time.Duration
	ShutdownGrace   time.Duration
	WorkerBin       string
	MonitorInterval time.Duration
	HeavyJobSlots   int

	// TTLs
	TaskTTL  time.Duration
	StateTTL time.Duration

	// Filesystem layout
	WorkspaceDir string
	UploadsDir   string
	SQLitePath   string

	// HTTP server
	Port          int
	PublicBaseURL string

	// Storage provider selection: "local", "s3" or "gdrive"
	StorageProvider string
	LocalStorageDir string

	// S3 / R2
	S3Region      string
	S3Bucket      string
	S3AccessKey   string
	S3SecretKey   string
	S3EndpointURL string // for R2: https://account-id.r2.cloudflarestorage.com
	S3BaseURL     string // for public URLs: https://pub-bucket.r2.dev
	S3PublicRead  bool

	// Google Drive
	GoogleAccessToken string
	GDriveFolderID    string

	// AI providers (OpenAI-compatible)
	OpenAIAPIKey  string
	OpenAIBaseURL string
	ChatModel     string
	VisionModel   string
	ImageModel    string
	TTSModel      string
	TTSVoice      string

	// External call policy
	APITimeout     time.Duration
	APIRetries     int
	APIBackoff     time.Duration
	ProbeTimeout   time.Duration
	ComposeTimeout time.Duration
}

// Load reads the environment into a Config with defaults suitable for
// local development.
func Load() *Config {
	return &Config{
		RedisHost:     getEnvWithDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvInt("REDIS_PORT", 6379),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MaxWorkers:      getEnvInt("MAX_WORKERS", 2),
		PopTimeout:      getEnvDuration("POP_TIMEOUT_MS", 1000) * time.Millisecond,
		SpawnDelay:      getEnvDuration("SPAWN_DELAY_MS", 500) * time.Millisecond,
		ShutdownGrace:   getEnvDuration("SHUTDOWN_GRACE_SECONDS", 30) * time.Second,
		WorkerBin:       getEnvWithDefault("WORKER_BIN", defaultWorkerBin()),
		MonitorInterval: getEnvDuration("MONITOR_INTERVAL_SECONDS", 5) * time.Second,
		HeavyJobSlots:   getEnvInt("HEAVY_JOB_SLOTS", 2),

		TaskTTL:  time.Duration(getEnvInt("TASK_TTL_HOURS", 24)) * time.Hour,
		StateTTL: time.Duration(getEnvInt("STATE_TTL_HOURS", 24)) * time.Hour,

		WorkspaceDir: getEnvWithDefault("WORKSPACE_DIR", "workspace"),
		UploadsDir:   getEnvWithDefault("UPLOADS_DIR", "uploads"),
		SQLitePath:   getEnvWithDefault("SQLITE_PATH", "slidecast.db"),

		Port:          getEnvInt("PORT", 8080),
		PublicBaseURL: getEnvWithDefault("PUBLIC_BASE_URL", "http://localhost:8080"),

		StorageProvider: getEnvWithDefault("STORAGE_PROVIDER", "local"),
		LocalStorageDir: getEnvWithDefault("LOCAL_STORAGE_DIR", "storage"),

		S3Region:      getEnvWithDefault("AWS_REGION", "auto"),
		S3Bucket:      os.Getenv("S3_BUCKET"),
		S3AccessKey:   os.Getenv("AWS_ACCESS_KEY_ID"),
		S3SecretKey:   os.Getenv("AWS_SECRET_ACCESS_KEY"),
		S3EndpointURL: os.Getenv("AWS_ENDPOINT_URL"),
		S3BaseURL:     os.Getenv("S3_BASE_URL"),
		S3PublicRead:  getEnvWithDefault("S3_PUBLIC_READ", "false") == "true",

		GoogleAccessToken: os.Getenv("GOOGLE_OAUTH_ACCESS_TOKEN"),
		GDriveFolderID:    os.Getenv("GDRIVE_FOLDER_ID"),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: getEnvWithDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		ChatModel:     getEnvWithDefault("CHAT_MODEL", "gpt-4o-mini"),
		VisionModel:   getEnvWithDefault("VISION_MODEL", "gpt-4o"),
		ImageModel:    getEnvWithDefault("IMAGE_MODEL", "dall-e-3"),
		TTSModel:      getEnvWithDefault("TTS_MODEL", "tts-1"),
		TTSVoice:      getEnvWithDefault("TTS_VOICE", "alloy"),

		APITimeout:     getEnvDuration("API_TIMEOUT_SECONDS", 60) * time.Second,
		APIRetries:     getEnvInt("API_RETRIES", 3),
		APIBackoff:     getEnvDuration("API_BACKOFF_MS", 500) * time.Millisecond,
		ProbeTimeout:   getEnvDuration("PROBE_TIMEOUT_SECONDS", 30) * time.Second,
		ComposeTimeout: getEnvDuration("COMPOSE_TIMEOUT_MINUTES", 30) * time.Minute,
	}
}

// RedisAddr returns the host:port form used by the redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// FileWorkspace returns the scratch directory for one file's pipeline run.
func (c *Config) FileWorkspace(fileID string) string {
	return filepath.Join(c.WorkspaceDir, fileID)
}

func defaultWorkerBin() string {
	if exe, err := os.Executable(); err == nil {
		return filepath.Join(filepath.Dir(exe), "worker")
	}
	return "worker"
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue))
}
