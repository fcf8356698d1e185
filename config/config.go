// Package config loads application configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/voxlabs/lenscore/logger"
)

// Config holds application configuration.
type Config struct {
	// GeminiAPIKey authenticates the realtime assistant session.
	GeminiAPIKey string
	// GeminiModel overrides the default live model.
	GeminiModel string
	// SystemInstruction is the assistant system prompt.
	SystemInstruction string

	// Snap3DAPIKey authenticates the 3D generation backend.
	Snap3DAPIKey string
	// Snap3DBaseURL overrides the generation backend endpoint.
	Snap3DBaseURL string

	// MetricsAddress is the Prometheus exporter listen address. Empty
	// disables the exporter.
	MetricsAddress string

	// SetupTimeout bounds the session handshake.
	SetupTimeout time.Duration
	// GenerationTimeout bounds one generation request end to end.
	GenerationTimeout time.Duration

	// HaveVideoInput enables camera streaming.
	HaveVideoInput bool
	// HaveAudioOutput enables spoken playback.
	HaveAudioOutput bool
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", "error", err)
	}

	cfg := Config{
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       os.Getenv("GEMINI_MODEL"),
		SystemInstruction: os.Getenv("SYSTEM_INSTRUCTION"),
		Snap3DAPIKey:      os.Getenv("SNAP3D_API_KEY"),
		Snap3DBaseURL:     os.Getenv("SNAP3D_BASE_URL"),
		MetricsAddress:    envDefault("METRICS_ADDRESS", ":9090"),
		SetupTimeout:      envDuration("SETUP_TIMEOUT", 10*time.Second),
		GenerationTimeout: envDuration("GENERATION_TIMEOUT", 120*time.Second),
		HaveVideoInput:    envBool("VIDEO_INPUT", true),
		HaveAudioOutput:   envBool("AUDIO_OUTPUT", false),
	}

	if cfg.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY not set, assistant session will not authenticate")
	}
	if cfg.Snap3DAPIKey == "" {
		logger.Warn("SNAP3D_API_KEY not set, 3D generation will not work")
	}
	logger.Info("config loaded",
		"metrics_address", cfg.MetricsAddress,
		"setup_timeout", cfg.SetupTimeout,
		"generation_timeout", cfg.GenerationTimeout,
		"video_input", cfg.HaveVideoInput,
		"audio_output", cfg.HaveAudioOutput)

	return cfg
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("invalid boolean, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return b
}
