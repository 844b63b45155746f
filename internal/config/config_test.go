package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want :9090", cfg.BindAddr)
	}
	if cfg.SemanticThreshold != 0.80 || cfg.SemanticTopK != 20 {
		t.Fatalf("semantic defaults = %v/%d", cfg.SemanticThreshold, cfg.SemanticTopK)
	}
	if cfg.WebTopN != 10 || cfg.WebMinHighConf != 3 || cfg.WebRelevanceCutoff != 0.70 {
		t.Fatalf("web defaults = %d/%d/%v", cfg.WebTopN, cfg.WebMinHighConf, cfg.WebRelevanceCutoff)
	}
	if cfg.BufferCapacity != 12 {
		t.Fatalf("BufferCapacity = %d, want 12", cfg.BufferCapacity)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
	if cfg.WebTimeout != 20*time.Second {
		t.Fatalf("WebTimeout = %v, want 20s", cfg.WebTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("SEMANTIC_THRESHOLD", "0.9")
	t.Setenv("WEB_MIN_HIGH_CONF", "5")
	t.Setenv("MODEL_HTTP_URL", " http://localhost:7777/complete ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SemanticThreshold != 0.9 {
		t.Fatalf("SemanticThreshold = %v, want 0.9", cfg.SemanticThreshold)
	}
	if cfg.WebMinHighConf != 5 {
		t.Fatalf("WebMinHighConf = %d, want 5", cfg.WebMinHighConf)
	}
	if cfg.ModelURL != "http://localhost:7777/complete" {
		t.Fatalf("ModelURL = %q, want trimmed explicit value", cfg.ModelURL)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"SEMANTIC_THRESHOLD", "1.5"},
		{"WEB_RELEVANCE_CUTOFF", "0"},
		{"WEB_TOP_N", "-1"},
		{"CONTEXT_BUFFER_CAPACITY", "0"},
		{"APP_SESSION_INACTIVITY_TIMEOUT", "1s"},
		{"SEMANTIC_TOP_K", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() accepted %s=%s", tt.key, tt.value)
			}
		})
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
		"DATABASE_URL",
		"MODEL_HTTP_URL",
		"MODEL_HTTP_TIMEOUT",
		"SEMANTIC_INDEX_URL",
		"SEMANTIC_THRESHOLD",
		"SEMANTIC_TOP_K",
		"SERP_ENDPOINT",
		"SERPAPI_API_KEY",
		"WEB_FETCH_TIMEOUT",
		"WEB_TOP_N",
		"WEB_MIN_HIGH_CONF",
		"WEB_RELEVANCE_CUTOFF",
		"CONTEXT_BUFFER_CAPACITY",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
