// Package config holds global settings for the detection engine.
// All settings can be configured via environment variables or
// programmatically.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// CacheBackend selects where scan results are memoized.
type CacheBackend string

const (
	CacheMemory CacheBackend = "memory" // single-node in-process cache
	CacheRedis  CacheBackend = "redis"  // shared cache for multi-node deployments
)

// Config holds the full engine configuration.
type Config struct {
	// === Catalogues ===
	RulesDir     string // directory of YAML rule files ("" = built-in catalogue)
	ExemplarsDir string // directory of YAML exemplar files ("" = built-in catalogue)

	// === Semantic Layer ===
	EnableSemantics bool          // embedding similarity detection on/off
	ModelPath       string        // local ONNX model directory
	ModelName       string        // HuggingFace model to download when ModelPath is unset
	ModelsDir       string        // download destination (default: ./models)
	OnnxLibraryPath string        // native onnxruntime library, enables the ORT backend
	SemanticBudget  time.Duration // per-scan wait for the semantic layer (default: 200ms)

	// === Session Tracking ===
	SessionWindowSize int           // inputs retained per session (default: 5)
	DripThreshold     int           // cumulative keyword count that triggers the alert (default: 3)
	SessionTTL        time.Duration // idle session lifetime (default: 1h)
	MaxSessions       int           // tracked session cap (default: 10000)

	// === Fusion ===
	BehavioralThreshold float64 // behavioral score that forces human review (default: 0.6)

	// === Result Cache ===
	CacheBackend  CacheBackend  // "memory" or "redis"
	CacheCapacity int           // memory backend entry cap (default: 1000)
	CacheTTL      time.Duration // verdict lifetime (default: 5m)
	RedisAddr     string        // host:port of the redis backend
	RedisPassword string
	RedisDB       int
	CachePrefix   string // redis key namespace (default: "shield:scan:")

	// === Audit ===
	AuditLogPath string // JSONL audit file ("" disables auditing)
	AuditWorkers int    // concurrent background audit deliveries (default: 32)

	// === Server ===
	ListenAddr    string // HTTP bind address (default: ":8787")
	EnableMetrics bool   // expose /metrics (default: true)
}

// NewDefaultConfig creates a Config with sensible defaults; every value
// can be overridden via SHIELD_* environment variables.
func NewDefaultConfig() *Config {
	return &Config{
		RulesDir:     GetEnv("SHIELD_RULES_DIR", ""),
		ExemplarsDir: GetEnv("SHIELD_EXEMPLARS_DIR", ""),

		EnableSemantics: GetEnvBool("SHIELD_ENABLE_SEMANTICS", true),
		ModelPath:       GetEnv("SHIELD_MODEL_PATH", ""),
		ModelName:       GetEnv("SHIELD_MODEL_NAME", "sentence-transformers/all-MiniLM-L6-v2"),
		ModelsDir:       GetEnv("SHIELD_MODELS_DIR", "./models"),
		OnnxLibraryPath: GetEnv("SHIELD_ONNX_LIBRARY_PATH", ""),
		SemanticBudget:  GetEnvDuration("SHIELD_SEMANTIC_BUDGET", 200*time.Millisecond),

		SessionWindowSize: clampInt(GetEnvInt("SHIELD_SESSION_WINDOW", 5), 1, 100),
		DripThreshold:     GetEnvInt("SHIELD_DRIP_THRESHOLD", 3),
		SessionTTL:        GetEnvDuration("SHIELD_SESSION_TTL", time.Hour),
		MaxSessions:       clampInt(GetEnvInt("SHIELD_MAX_SESSIONS", 10000), 1, 1_000_000),

		BehavioralThreshold: GetEnvFloat("SHIELD_BEHAVIORAL_THRESHOLD", 0.6),

		CacheBackend:  CacheBackend(GetEnv("SHIELD_CACHE_BACKEND", string(CacheMemory))),
		CacheCapacity: clampInt(GetEnvInt("SHIELD_CACHE_CAPACITY", 1000), 1, 1_000_000),
		CacheTTL:      GetEnvDuration("SHIELD_CACHE_TTL", 5*time.Minute),
		RedisAddr:     GetEnv("SHIELD_REDIS_ADDR", "localhost:6379"),
		RedisPassword: GetEnv("SHIELD_REDIS_PASSWORD", ""),
		RedisDB:       GetEnvInt("SHIELD_REDIS_DB", 0),
		CachePrefix:   GetEnv("SHIELD_CACHE_PREFIX", "shield:scan:"),

		AuditLogPath: GetEnv("SHIELD_AUDIT_LOG", "audit_events.jsonl"),
		AuditWorkers: clampInt(GetEnvInt("SHIELD_AUDIT_WORKERS", 32), 1, 1024),

		ListenAddr:    GetEnv("SHIELD_LISTEN_ADDR", ":8787"),
		EnableMetrics: GetEnvBool("SHIELD_ENABLE_METRICS", true),
	}
}

// NewHighSecurityConfig trades false positives for coverage: lower
// behavioral bar, shorter cache lifetime so rule updates bite sooner.
func NewHighSecurityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.BehavioralThreshold = 0.4
	cfg.DripThreshold = 2
	cfg.CacheTTL = time.Minute
	return cfg
}

// NewHighUsabilityConfig minimizes false positives for chat-heavy
// workloads.
func NewHighUsabilityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.BehavioralThreshold = 0.8
	cfg.DripThreshold = 5
	return cfg
}

// NewOfflineConfig disables everything that could touch the network:
// no model download, no redis, no metrics endpoint.
func NewOfflineConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.ModelName = ""
	cfg.EnableSemantics = cfg.ModelPath != ""
	cfg.CacheBackend = CacheMemory
	cfg.EnableMetrics = false
	return cfg
}

// clampInt ensures a value is within bounds.
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Helper functions for environment variable parsing.
// Exported for use by other packages.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvDuration returns the duration value ("200ms", "1h") of an
// environment variable or a default value.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return defaultValue
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var problems []string

	if c.SessionWindowSize < 1 {
		problems = append(problems, "SHIELD_SESSION_WINDOW must be >= 1")
	}
	if c.DripThreshold < 0 {
		problems = append(problems, "SHIELD_DRIP_THRESHOLD must be >= 0")
	}
	if c.BehavioralThreshold < 0 || c.BehavioralThreshold > 1 {
		problems = append(problems, "SHIELD_BEHAVIORAL_THRESHOLD must be in [0, 1]")
	}
	if c.CacheTTL <= 0 {
		problems = append(problems, "SHIELD_CACHE_TTL must be positive")
	}
	if c.SemanticBudget <= 0 {
		problems = append(problems, "SHIELD_SEMANTIC_BUDGET must be positive")
	}
	switch c.CacheBackend {
	case CacheMemory:
	case CacheRedis:
		if c.RedisAddr == "" {
			problems = append(problems, "SHIELD_REDIS_ADDR required for redis cache backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown cache backend %q", c.CacheBackend))
	}
	if c.EnableSemantics && c.ModelPath == "" && c.ModelName == "" {
		problems = append(problems, "semantic layer enabled but neither SHIELD_MODEL_PATH nor SHIELD_MODEL_NAME set")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// MustValidate calls Validate and fatally exits if validation fails.
// Call this at startup before accepting scans.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		log.Fatalf("[STARTUP] FATAL: configuration validation failed: %v", err)
	}
}
