package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.BreakerFailureThreshold != 5 {
		t.Errorf("BreakerFailureThreshold = %d, want 5", cfg.BreakerFailureThreshold)
	}
	if cfg.BreakerCooldown != 30*time.Second {
		t.Errorf("BreakerCooldown = %v, want 30s", cfg.BreakerCooldown)
	}
	if cfg.QueueBatchSize != 5 || cfg.QueueMaxRetries != 3 {
		t.Errorf("queue defaults = batch %d retries %d, want 5 and 3", cfg.QueueBatchSize, cfg.QueueMaxRetries)
	}
	if cfg.CacheEvictionPercent != 0.8 {
		t.Errorf("CacheEvictionPercent = %v, want 0.8", cfg.CacheEvictionPercent)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "7")
	t.Setenv("QUEUE_DRAIN_INTERVAL", "90s")
	t.Setenv("RETRY_BASE_DELAY", "not-a-duration")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want override 9090", cfg.Port)
	}
	if cfg.BreakerFailureThreshold != 7 {
		t.Errorf("BreakerFailureThreshold = %d, want override 7", cfg.BreakerFailureThreshold)
	}
	if cfg.QueueDrainInterval != 90*time.Second {
		t.Errorf("QueueDrainInterval = %v, want 90s", cfg.QueueDrainInterval)
	}
	// Malformed values fall back to the default rather than failing startup.
	if cfg.RetryBaseDelay != time.Second {
		t.Errorf("RetryBaseDelay = %v, want default 1s", cfg.RetryBaseDelay)
	}
}
