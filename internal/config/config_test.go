package config

import (
	"os"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "cryptodash-config-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("failed to close temp file: %v", err)
	}
	return tmpFile.Name()
}

func TestLoadFile(t *testing.T) {
	path := writeTempConfig(t, `
user_api:
  base_url: "http://users.internal:8000"
  timeout: 5s
market:
  base_url: "http://market.internal:8001"
  batch_concurrency: 4
  rate_limit_per_min: 30
  rate_limit_burst: 5
  synthetic_fallback: false
cache:
  price_ttl: 30s
  historical_ttl: 1h
pricebus:
  url: "ws://market.internal:8001/ws/updates"
  reconnect_base: 2s
  max_retries: 3
  close_when_idle: true
layout:
  debounce: 300ms
storage:
  driver: memory
logging:
  level: "debug"
  format: "text"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- APIs --
	if cfg.UserAPI.BaseURL != "http://users.internal:8000" {
		t.Errorf("UserAPI.BaseURL = %q, want %q", cfg.UserAPI.BaseURL, "http://users.internal:8000")
	}
	if cfg.UserAPI.Timeout != 5*time.Second {
		t.Errorf("UserAPI.Timeout = %v, want %v", cfg.UserAPI.Timeout, 5*time.Second)
	}
	if cfg.Market.BatchConcurrency != 4 {
		t.Errorf("Market.BatchConcurrency = %d, want %d", cfg.Market.BatchConcurrency, 4)
	}
	if cfg.Market.SyntheticFallback {
		t.Error("Market.SyntheticFallback = true, want false")
	}
	if cfg.Market.RateLimitPerMin != 30 || cfg.Market.RateLimitBurst != 5 {
		t.Errorf("Market rate limit = %d/min burst %d, want 30/min burst 5", cfg.Market.RateLimitPerMin, cfg.Market.RateLimitBurst)
	}

	// -- Cache --
	if cfg.Cache.PriceTTL != 30*time.Second {
		t.Errorf("Cache.PriceTTL = %v, want %v", cfg.Cache.PriceTTL, 30*time.Second)
	}
	// Unset keys keep their defaults.
	if cfg.Cache.ForecastTTL != 30*time.Minute {
		t.Errorf("Cache.ForecastTTL = %v, want default %v", cfg.Cache.ForecastTTL, 30*time.Minute)
	}

	// -- PriceBus --
	if cfg.PriceBus.MaxRetries != 3 {
		t.Errorf("PriceBus.MaxRetries = %d, want %d", cfg.PriceBus.MaxRetries, 3)
	}
	if !cfg.PriceBus.CloseWhenIdle {
		t.Error("PriceBus.CloseWhenIdle = false, want true")
	}
	if cfg.PriceBus.ReconnectMax != time.Minute {
		t.Errorf("PriceBus.ReconnectMax = %v, want default %v", cfg.PriceBus.ReconnectMax, time.Minute)
	}

	// -- Layout / storage / logging --
	if cfg.Layout.Debounce != 300*time.Millisecond {
		t.Errorf("Layout.Debounce = %v, want %v", cfg.Layout.Debounce, 300*time.Millisecond)
	}
	if cfg.Layout.Columns != 12 {
		t.Errorf("Layout.Columns = %d, want default %d", cfg.Layout.Columns, 12)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("Storage.Driver = %q, want %q", cfg.Storage.Driver, "memory")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "text")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
user_api:
  base_url: "http://yaml-users:8000"
market:
  base_url: "http://yaml-market:8001"
`)

	t.Setenv("CRYPTODASH_USER_API_URL", "http://env-users:8000")
	t.Setenv("CRYPTODASH_SYNTHETIC_FALLBACK", "false")
	t.Setenv("CRYPTODASH_LAYOUT_DEBOUNCE", "450ms")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.UserAPI.BaseURL != "http://env-users:8000" {
		t.Errorf("UserAPI.BaseURL = %q, want %q (env override)", cfg.UserAPI.BaseURL, "http://env-users:8000")
	}
	// market base_url should remain from YAML since no env override was set.
	if cfg.Market.BaseURL != "http://yaml-market:8001" {
		t.Errorf("Market.BaseURL = %q, want %q (from YAML)", cfg.Market.BaseURL, "http://yaml-market:8001")
	}
	if cfg.Market.SyntheticFallback {
		t.Error("Market.SyntheticFallback = true, want false (env override)")
	}
	if cfg.Layout.Debounce != 450*time.Millisecond {
		t.Errorf("Layout.Debounce = %v, want %v", cfg.Layout.Debounce, 450*time.Millisecond)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "warn")
	}
}

func TestLoadBadEnvValue(t *testing.T) {
	t.Setenv("CRYPTODASH_SYNTHETIC_FALLBACK", "sometimes")
	if _, err := Load(""); err == nil {
		t.Fatal("Load() should reject a non-boolean CRYPTODASH_SYNTHETIC_FALLBACK")
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg, err := LoadOptional("/nonexistent/cryptodash.yaml")
	if err != nil {
		t.Fatalf("LoadOptional() returned error: %v", err)
	}
	if cfg.Cache.InfoTTL != 24*time.Hour {
		t.Errorf("Cache.InfoTTL = %v, want default %v", cfg.Cache.InfoTTL, 24*time.Hour)
	}
	if cfg.Market.RateLimitBurst != 1 {
		t.Errorf("Market.RateLimitBurst = %d, want default 1", cfg.Market.RateLimitBurst)
	}
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	path := writeTempConfig(t, `
storage:
  driver: "postgres"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load() should reject storage.driver postgres")
	}
}
