package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the fact-store service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	DatabaseURL string

	ModelURL     string
	ModelTimeout time.Duration

	SemanticIndexURL  string
	SemanticThreshold float64
	SemanticTopK      int

	SerpEndpoint       string
	SerpAPIKey         string
	WebTimeout         time.Duration
	WebTopN            int
	WebMinHighConf     int
	WebRelevanceCutoff float64

	BufferCapacity int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "govsight"),
		AllowAnyOrigin:           false,
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		ModelURL:                 stringsTrimSpace("MODEL_HTTP_URL"),
		SemanticIndexURL:         stringsTrimSpace("SEMANTIC_INDEX_URL"),
		SerpEndpoint:             stringsTrimSpace("SERP_ENDPOINT"),
		SerpAPIKey:               stringsTrimSpace("SERPAPI_API_KEY"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
		ModelTimeout:             60 * time.Second,
		WebTimeout:               20 * time.Second,
		SemanticThreshold:        0.80,
		SemanticTopK:             20,
		WebTopN:                  10,
		WebMinHighConf:           3,
		WebRelevanceCutoff:       0.70,
		BufferCapacity:           12,
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
	cfg.ModelTimeout, err = durationFromEnv("MODEL_HTTP_TIMEOUT", cfg.ModelTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WebTimeout, err = durationFromEnv("WEB_FETCH_TIMEOUT", cfg.WebTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.SemanticThreshold, err = floatFromEnv("SEMANTIC_THRESHOLD", cfg.SemanticThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.SemanticTopK, err = intFromEnv("SEMANTIC_TOP_K", cfg.SemanticTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.WebTopN, err = intFromEnv("WEB_TOP_N", cfg.WebTopN)
	if err != nil {
		return Config{}, err
	}
	cfg.WebMinHighConf, err = intFromEnv("WEB_MIN_HIGH_CONF", cfg.WebMinHighConf)
	if err != nil {
		return Config{}, err
	}
	cfg.WebRelevanceCutoff, err = floatFromEnv("WEB_RELEVANCE_CUTOFF", cfg.WebRelevanceCutoff)
	if err != nil {
		return Config{}, err
	}
	cfg.BufferCapacity, err = intFromEnv("CONTEXT_BUFFER_CAPACITY", cfg.BufferCapacity)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.SemanticThreshold <= 0 || cfg.SemanticThreshold > 1 {
		return Config{}, fmt.Errorf("SEMANTIC_THRESHOLD must be in (0, 1]")
	}
	if cfg.WebRelevanceCutoff <= 0 || cfg.WebRelevanceCutoff > 1 {
		return Config{}, fmt.Errorf("WEB_RELEVANCE_CUTOFF must be in (0, 1]")
	}
	if cfg.SemanticTopK <= 0 {
		return Config{}, fmt.Errorf("SEMANTIC_TOP_K must be positive")
	}
	if cfg.WebTopN <= 0 {
		return Config{}, fmt.Errorf("WEB_TOP_N must be positive")
	}
	if cfg.WebMinHighConf <= 0 {
		return Config{}, fmt.Errorf("WEB_MIN_HIGH_CONF must be positive")
	}
	if cfg.BufferCapacity <= 0 {
		return Config{}, fmt.Errorf("CONTEXT_BUFFER_CAPACITY must be positive")
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
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
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

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
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
