package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.SpeechProvider != "auto" {
		t.Fatalf("SpeechProvider = %q, want %q", cfg.SpeechProvider, "auto")
	}
	if cfg.BufferEvictWindow != 30*time.Second {
		t.Fatalf("BufferEvictWindow = %v, want 30s", cfg.BufferEvictWindow)
	}
	if cfg.SpeechSpeed != 1.0 {
		t.Fatalf("SpeechSpeed = %v, want 1.0", cfg.SpeechSpeed)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("BUFFER_EVICT_WINDOW", "45s")
	t.Setenv("SPEECH_SPEED", "1.25")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BufferEvictWindow != 45*time.Second {
		t.Fatalf("BufferEvictWindow = %v, want 45s", cfg.BufferEvictWindow)
	}
	if cfg.SpeechSpeed != 1.25 {
		t.Fatalf("SpeechSpeed = %v, want 1.25", cfg.SpeechSpeed)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
}

func TestLoadRejectsOutOfRangeSpeed(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("SPEECH_SPEED", "3.5")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error for out-of-range SPEECH_SPEED")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"SPEECH_PROVIDER",
		"SPEECH_SPEED",
		"SPEECH_LANGUAGE",
		"ELEVENLABS_API_KEY",
		"ELEVENLABS_API_BASE_URL",
		"ELEVENLABS_TTS_VOICE_ID",
		"ELEVENLABS_TTS_MODEL_ID",
		"ELEVENLABS_TTS_OUTPUT_FORMAT",
		"BUFFER_EVICT_WINDOW",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
