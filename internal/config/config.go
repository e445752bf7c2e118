package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the guidance service.
type Config struct {
	BindAddr                 string
	Env                      string
	LogLevel                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	MaxMessageBytes          int64

	AllowAnyOrigin bool

	FrameMinInterval   time.Duration
	FrameDiffThreshold float64
	FrameMinDiffPixels int
	FrameMaxPixels     int

	GatewayProvider       string
	GatewayFallback       string
	GatewayModel          string
	GatewayTimeout        time.Duration
	GatewayMaxRetries     int
	GatewayRetryBaseDelay time.Duration
	GatewayRateLimit      float64
	GatewayRateBurst      int
	GatewayHTTPURL        string
	GatewayHTTPToken      string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	GeminiAPIKey    string

	DatabaseURL      string
	RecordsMemoryTTL time.Duration

	// StageTargetsMS holds p95 latency targets per stage for /v1/perf/latency.
	StageTargetsMS map[string]float64
}

func defaultStageTargets() map[string]float64 {
	return map[string]float64{
		"frame_decode":  50,
		"frame_diff":    150,
		"gateway_frame": 5000,
		"gateway_chat":  5000,
		"record_save":   200,
	}
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		Env:                      strings.ToLower(envOrDefault("APP_ENV", "development")),
		LogLevel:                 strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "glance"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		MaxMessageBytes:          16 << 20,
		FrameMinInterval:         time.Second,
		FrameDiffThreshold:       0.1,
		FrameMinDiffPixels:       1000,
		FrameMaxPixels:           16 << 20,
		GatewayProvider:          strings.ToLower(envOrDefault("GATEWAY_PROVIDER", "auto")),
		GatewayFallback:          strings.ToLower(trimmedEnv("GATEWAY_FALLBACK")),
		GatewayModel:             trimmedEnv("GATEWAY_MODEL"),
		GatewayTimeout:           30 * time.Second,
		GatewayRetryBaseDelay:    250 * time.Millisecond,
		GatewayRateBurst:         1,
		GatewayHTTPURL:           trimmedEnv("GATEWAY_HTTP_URL"),
		GatewayHTTPToken:         trimmedEnv("GATEWAY_HTTP_TOKEN"),
		OpenAIAPIKey:             trimmedEnv("OPENAI_API_KEY"),
		OpenAIBaseURL:            trimmedEnv("OPENAI_BASE_URL"),
		AnthropicAPIKey:          trimmedEnv("ANTHROPIC_API_KEY"),
		GeminiAPIKey:             trimmedEnv("GEMINI_API_KEY"),
		DatabaseURL:              trimmedEnv("DATABASE_URL"),
		RecordsMemoryTTL:         24 * time.Hour,
		StageTargetsMS:           defaultStageTargets(),
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	maxBytes, err := intFromEnv("APP_MAX_MESSAGE_BYTES", int(cfg.MaxMessageBytes))
	if err != nil {
		return Config{}, err
	}
	cfg.MaxMessageBytes = int64(maxBytes)

	if cfg.FrameMinInterval, err = durationFromEnv("FRAME_MIN_INTERVAL", cfg.FrameMinInterval); err != nil {
		return Config{}, err
	}
	if cfg.FrameDiffThreshold, err = floatFromEnv("FRAME_DIFF_THRESHOLD", cfg.FrameDiffThreshold); err != nil {
		return Config{}, err
	}
	if cfg.FrameMinDiffPixels, err = intFromEnv("FRAME_MIN_DIFF_PIXELS", cfg.FrameMinDiffPixels); err != nil {
		return Config{}, err
	}
	if cfg.FrameMaxPixels, err = intFromEnv("FRAME_MAX_PIXELS", cfg.FrameMaxPixels); err != nil {
		return Config{}, err
	}

	if cfg.GatewayTimeout, err = durationFromEnv("GATEWAY_TIMEOUT", cfg.GatewayTimeout); err != nil {
		return Config{}, err
	}
	if cfg.GatewayMaxRetries, err = intFromEnv("GATEWAY_MAX_RETRIES", cfg.GatewayMaxRetries); err != nil {
		return Config{}, err
	}
	if cfg.GatewayRetryBaseDelay, err = durationFromEnv("GATEWAY_RETRY_BASE_DELAY", cfg.GatewayRetryBaseDelay); err != nil {
		return Config{}, err
	}
	if cfg.GatewayRateLimit, err = floatFromEnv("GATEWAY_RATE_LIMIT", cfg.GatewayRateLimit); err != nil {
		return Config{}, err
	}
	if cfg.GatewayRateBurst, err = intFromEnv("GATEWAY_RATE_BURST", cfg.GatewayRateBurst); err != nil {
		return Config{}, err
	}
	if cfg.RecordsMemoryTTL, err = durationFromEnv("RECORDS_MEMORY_TTL", cfg.RecordsMemoryTTL); err != nil {
		return Config{}, err
	}
	if err := stageTargetsFromEnv("PERF_STAGE_TARGETS_MS", cfg.StageTargetsMS); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.MaxMessageBytes < 1<<10 {
		return fmt.Errorf("APP_MAX_MESSAGE_BYTES must be at least 1024")
	}
	if c.FrameMinInterval < 0 {
		return fmt.Errorf("FRAME_MIN_INTERVAL must be >= 0")
	}
	if c.FrameDiffThreshold <= 0 || c.FrameDiffThreshold >= 1 {
		return fmt.Errorf("FRAME_DIFF_THRESHOLD must be strictly between 0 and 1")
	}
	if c.FrameMinDiffPixels <= 0 {
		return fmt.Errorf("FRAME_MIN_DIFF_PIXELS must be positive")
	}
	if c.FrameMaxPixels <= 0 {
		return fmt.Errorf("FRAME_MAX_PIXELS must be positive")
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	if c.GatewayMaxRetries < 0 {
		return fmt.Errorf("GATEWAY_MAX_RETRIES must be >= 0")
	}
	if c.GatewayRateLimit < 0 {
		return fmt.Errorf("GATEWAY_RATE_LIMIT must be >= 0")
	}
	if c.GatewayRateBurst <= 0 {
		return fmt.Errorf("GATEWAY_RATE_BURST must be positive")
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("APP_LOG_LEVEL %q is not a known level", c.LogLevel)
	}
	return nil
}

// Production reports whether the service runs with production defaults.
func (c Config) Production() bool {
	return c.Env == "production" || c.Env == "prod"
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
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
	v := strings.ToLower(trimmedEnv(key))
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

// stageTargetsFromEnv overlays "stage=ms,stage=ms" entries onto targets. A
// value of 0 removes the target for that stage.
func stageTargetsFromEnv(key string, targets map[string]float64) error {
	v := trimmedEnv(key)
	if v == "" {
		return nil
	}
	for _, entry := range strings.Split(v, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		stage, raw, ok := strings.Cut(entry, "=")
		stage = strings.TrimSpace(stage)
		if !ok || stage == "" {
			return fmt.Errorf("%s parse error: %q is not stage=ms", key, entry)
		}
		ms, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || ms < 0 {
			return fmt.Errorf("%s parse error: %q needs a non-negative number", key, entry)
		}
		if ms == 0 {
			delete(targets, stage)
			continue
		}
		targets[stage] = ms
	}
	return nil
}
