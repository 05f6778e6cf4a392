package config

import (
	"testing"
	"time"
)

func TestNewDefaultConfigValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.SessionWindowSize != 5 {
		t.Errorf("SessionWindowSize = %d, want 5", cfg.SessionWindowSize)
	}
	if cfg.BehavioralThreshold != 0.6 {
		t.Errorf("BehavioralThreshold = %v, want 0.6", cfg.BehavioralThreshold)
	}
	if cfg.CacheBackend != CacheMemory {
		t.Errorf("CacheBackend = %q, want memory", cfg.CacheBackend)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SHIELD_SESSION_WINDOW", "8")
	t.Setenv("SHIELD_CACHE_TTL", "30s")
	t.Setenv("SHIELD_ENABLE_SEMANTICS", "false")
	t.Setenv("SHIELD_BEHAVIORAL_THRESHOLD", "0.45")

	cfg := NewDefaultConfig()
	if cfg.SessionWindowSize != 8 {
		t.Errorf("SessionWindowSize = %d, want 8", cfg.SessionWindowSize)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Errorf("CacheTTL = %v, want 30s", cfg.CacheTTL)
	}
	if cfg.EnableSemantics {
		t.Errorf("EnableSemantics not disabled by env")
	}
	if cfg.BehavioralThreshold != 0.45 {
		t.Errorf("BehavioralThreshold = %v, want 0.45", cfg.BehavioralThreshold)
	}
}

func TestEnvBadValuesFallBack(t *testing.T) {
	t.Setenv("SHIELD_SESSION_WINDOW", "not-a-number")
	t.Setenv("SHIELD_CACHE_TTL", "soon")

	cfg := NewDefaultConfig()
	if cfg.SessionWindowSize != 5 {
		t.Errorf("bad int did not fall back: %d", cfg.SessionWindowSize)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("bad duration did not fall back: %v", cfg.CacheTTL)
	}
}

func TestEnvClamping(t *testing.T) {
	t.Setenv("SHIELD_SESSION_WINDOW", "5000")
	cfg := NewDefaultConfig()
	if cfg.SessionWindowSize != 100 {
		t.Errorf("SessionWindowSize = %d, want clamp to 100", cfg.SessionWindowSize)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"behavioral threshold above 1", func(c *Config) { c.BehavioralThreshold = 1.5 }},
		{"non-positive cache ttl", func(c *Config) { c.CacheTTL = 0 }},
		{"unknown cache backend", func(c *Config) { c.CacheBackend = "memcached" }},
		{"redis backend without addr", func(c *Config) { c.CacheBackend = CacheRedis; c.RedisAddr = "" }},
		{"semantics without a model", func(c *Config) { c.ModelPath = ""; c.ModelName = "" }},
		{"non-positive semantic budget", func(c *Config) { c.SemanticBudget = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate accepted bad config")
			}
		})
	}
}

func TestPresets(t *testing.T) {
	hs := NewHighSecurityConfig()
	hu := NewHighUsabilityConfig()
	if hs.BehavioralThreshold >= hu.BehavioralThreshold {
		t.Errorf("high security threshold %v not below high usability %v", hs.BehavioralThreshold, hu.BehavioralThreshold)
	}
	if err := hs.Validate(); err != nil {
		t.Errorf("high security preset invalid: %v", err)
	}
	if err := hu.Validate(); err != nil {
		t.Errorf("high usability preset invalid: %v", err)
	}

	off := NewOfflineConfig()
	if off.EnableSemantics {
		t.Errorf("offline preset enabled semantics without a local model")
	}
	if err := off.Validate(); err != nil {
		t.Errorf("offline preset invalid: %v", err)
	}
}
