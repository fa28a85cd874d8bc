package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("QUEUE_BACKEND", "")
	t.Setenv("EFFECT_MAX_ATTEMPTS", "")

	cfg := Load()
	if cfg.Addr != ":8787" || cfg.QueueBackend != "memory" || cfg.EffectAttempts != 3 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl %s", cfg.AccessTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "Redis")
	t.Setenv("EFFECT_WORKERS", "9")
	t.Setenv("EFFECT_TIMEOUT", "45")
	t.Setenv("ACCESS_TTL", "1h")
	t.Setenv("SMTP_STARTTLS", "false")
	t.Setenv("S3_ENDPOINT", "minio:9000")
	t.Setenv("S3_BUCKET", "site")

	cfg := Load()
	if cfg.QueueBackend != "redis" || cfg.Workers != 9 {
		t.Fatalf("unexpected queue settings: %+v", cfg)
	}
	if cfg.EffectTimeout != 45*time.Second || cfg.AccessTTL != time.Hour {
		t.Fatalf("unexpected durations: %s %s", cfg.EffectTimeout, cfg.AccessTTL)
	}
	if cfg.SMTPStartTLS || !cfg.ObjectStorageEnabled() {
		t.Fatalf("unexpected flags: %+v", cfg)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("EFFECT_WORKERS", "many")
	t.Setenv("EFFECT_TIMEOUT", "soon")
	t.Setenv("S3_USE_SSL", "maybe")

	if got := getenvInt("EFFECT_WORKERS", 4); got != 4 {
		t.Fatalf("getenvInt fallback = %d", got)
	}
	if got := getenvDuration("EFFECT_TIMEOUT", time.Second); got != time.Second {
		t.Fatalf("getenvDuration fallback = %s", got)
	}
	if got := getenvBool("S3_USE_SSL", true); !got {
		t.Fatal("getenvBool fallback lost")
	}
}
