package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the narration service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	SpeechProvider string

	ElevenLabsAPIKey       string
	ElevenLabsAPIBaseURL   string
	ElevenLabsTTSVoice     string
	ElevenLabsTTSModel     string
	ElevenLabsOutputFormat string

	SpeechSpeed    float64
	SpeechLanguage string

	// Span of played-back audio retained behind the cursor before eviction.
	BufferEvictWindow time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "readalong"),
		AllowAnyOrigin:       false,
		SpeechProvider:       envOrDefault("SPEECH_PROVIDER", "auto"),
		ElevenLabsAPIBaseURL: envOrDefault("ELEVENLABS_API_BASE_URL", "https://api.elevenlabs.io"),
		// Default to a neutral narration voice rather than a conversational one.
		ElevenLabsTTSVoice: envOrDefault("ELEVENLABS_TTS_VOICE_ID", "onwK4e9ZLuTAKqWW03F9"),
		ElevenLabsTTSModel: envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		// MP3 keeps per-paragraph chunks small; each chunk stays independently decodable.
		ElevenLabsOutputFormat:   envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "mp3_44100_128"),
		SpeechLanguage:           envOrDefault("SPEECH_LANGUAGE", "en"),
		SpeechSpeed:              1.0,
		BufferEvictWindow:        30 * time.Second,
		ElevenLabsAPIKey:         stringsTrimSpace("ELEVENLABS_API_KEY"),
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 5 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.BufferEvictWindow, err = durationFromEnv("BUFFER_EVICT_WINDOW", cfg.BufferEvictWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechSpeed, err = floatFromEnv("SPEECH_SPEED", cfg.SpeechSpeed)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.BufferEvictWindow < time.Second {
		return Config{}, fmt.Errorf("BUFFER_EVICT_WINDOW must be at least 1s")
	}
	if cfg.SpeechSpeed < 0.5 || cfg.SpeechSpeed > 2.0 {
		return Config{}, fmt.Errorf("SPEECH_SPEED must be within [0.5, 2.0]")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
