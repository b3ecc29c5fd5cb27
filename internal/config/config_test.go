package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.RedisHost != "localhost" {
		t.Errorf("Expected default redis host localhost, got %s", cfg.RedisHost)
	}
	if cfg.MaxWorkers != 2 {
		t.Errorf("Expected default MaxWorkers 2, got %d", cfg.MaxWorkers)
	}
	if cfg.PopTimeout != time.Second {
		t.Errorf("Expected default pop timeout 1s, got %v", cfg.PopTimeout)
	}
	if cfg.TaskTTL != 24*time.Hour {
		t.Errorf("Expected default task TTL 24h, got %v", cfg.TaskTTL)
	}
	if cfg.APIRetries != 3 {
		t.Errorf("Expected 3 API retries, got %d", cfg.APIRetries)
	}
	if cfg.APIBackoff != 500*time.Millisecond {
		t.Errorf("Expected 500ms backoff base, got %v", cfg.APIBackoff)
	}
	if cfg.StorageProvider != "local" {
		t.Errorf("Expected local storage provider default, got %s", cfg.StorageProvider)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_WORKERS", "8")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("STATE_TTL_HOURS", "72")
	t.Setenv("STORAGE_PROVIDER", "s3")

	cfg := Load()

	if cfg.MaxWorkers != 8 {
		t.Errorf("Expected MaxWorkers 8, got %d", cfg.MaxWorkers)
	}
	if cfg.RedisPort != 6380 {
		t.Errorf("Expected redis port 6380, got %d", cfg.RedisPort)
	}
	if cfg.StateTTL != 72*time.Hour {
		t.Errorf("Expected state TTL 72h, got %v", cfg.StateTTL)
	}
	if cfg.StorageProvider != "s3" {
		t.Errorf("Expected s3 provider, got %s", cfg.StorageProvider)
	}
}

func TestLoadIgnoresMalformedInt(t *testing.T) {
	t.Setenv("MAX_WORKERS", "not-a-number")

	cfg := Load()
	if cfg.MaxWorkers != 2 {
		t.Errorf("Malformed env should fall back to default, got %d", cfg.MaxWorkers)
	}
}

func TestRedisAddr(t *testing.T) {
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "7000")

	cfg := Load()
	if addr := cfg.RedisAddr(); addr != "redis.internal:7000" {
		t.Errorf("Expected redis.internal:7000, got %s", addr)
	}
}

func TestFileWorkspace(t *testing.T) {
	t.Setenv("WORKSPACE_DIR", "/tmp/ws")

	cfg := Load()
	if got := cfg.FileWorkspace("abc"); got != "/tmp/ws/abc" {
		t.Errorf("Expected /tmp/ws/abc, got %s", got)
	}
}
