package chorus

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CacheStrategy selects which cache backing the pipeline memoizes with.
type CacheStrategy string

const (
	// CacheNone disables caching; every stage recomputes.
	CacheNone CacheStrategy = "none"

	// CacheMemory uses a fast in-process cache, lost on restart.
	CacheMemory CacheStrategy = "memory"

	// CachePersistent uses a database-backed cache that survives restarts.
	// Requires an injected SoyCache (or compatible) via WithCache.
	CachePersistent CacheStrategy = "persistent"

	// CacheRedis uses a Redis-backed cache shared across processes.
	// Requires an injected RedisCache via WithCache.
	CacheRedis CacheStrategy = "redis"
)

// PipelineConfig shapes pipeline execution. It is pure data: flags map a
// pending stage to running vs skipped but never change stage ordering,
// output schema, or error semantics. A ReasoningPipeline reads the config
// but does not own its lifecycle; do not mutate it after construction.
type PipelineConfig struct {
	// Stage toggles. Disabled stages appear in results as skipped.
	EnablePreprocessing    bool `yaml:"enable_preprocessing"`
	EnableWorkingAwareness bool `yaml:"enable_working_awareness"`
	EnableCompaction       bool `yaml:"enable_compaction"`
	EnableReranking        bool `yaml:"enable_reranking"`
	EnableFinalResponse    bool `yaml:"enable_final_response"`

	// ParallelExecution dispatches independent sub-units (working-awareness
	// perspectives) concurrently. Stages themselves always run sequentially
	// because each may depend on shared data written by an earlier one.
	ParallelExecution bool `yaml:"parallel_execution"`

	// NumPerspectives is the number of reasoning perspectives the
	// working-awareness stage generates.
	NumPerspectives int `yaml:"num_perspectives"`

	// MaxRetries wraps each stage with retry when > 0. Zero means no
	// internal retries; retry policy then belongs to the collaborator.
	MaxRetries int `yaml:"max_retries"`

	// TimeoutSeconds bounds each stage's execution when > 0.
	TimeoutSeconds float64 `yaml:"timeout_seconds"`

	// Caching.
	CacheStrategy   CacheStrategy `yaml:"cache_strategy"`
	CacheTTLSeconds int           `yaml:"cache_ttl_seconds"`

	// Observability.
	EnableMetrics bool   `yaml:"enable_metrics"`
	EnableTracing bool   `yaml:"enable_tracing"`
	LogLevel      string `yaml:"log_level"`
}

// DefaultConfig returns the configuration used when none is provided:
// all stages enabled, parallel perspective execution, in-memory caching
// with a one hour TTL, metrics on, tracing off.
func DefaultConfig() *PipelineConfig {
	return &PipelineConfig{
		EnablePreprocessing:    true,
		EnableWorkingAwareness: true,
		EnableCompaction:       true,
		EnableReranking:        true,
		EnableFinalResponse:    true,
		ParallelExecution:      true,
		NumPerspectives:        3,
		MaxRetries:             0,
		TimeoutSeconds:         60,
		CacheStrategy:          CacheMemory,
		CacheTTLSeconds:        3600,
		EnableMetrics:          true,
		EnableTracing:          false,
		LogLevel:               "INFO",
	}
}

// Validate checks the configuration for contradictions. Combination checks
// that involve collaborators (reranking without a reranker, persistent cache
// without a backend) happen in NewReasoningPipeline, which sees both.
func (c *PipelineConfig) Validate() error {
	if c.EnableWorkingAwareness && c.NumPerspectives < 1 {
		return &ConfigError{Field: "num_perspectives", Reason: "must be at least 1 when working awareness is enabled"}
	}
	if c.MaxRetries < 0 {
		return &ConfigError{Field: "max_retries", Reason: "must not be negative"}
	}
	if c.TimeoutSeconds < 0 {
		return &ConfigError{Field: "timeout_seconds", Reason: "must not be negative"}
	}
	if c.CacheTTLSeconds < 0 {
		return &ConfigError{Field: "cache_ttl_seconds", Reason: "must not be negative"}
	}
	switch c.CacheStrategy {
	case CacheNone, CacheMemory, CachePersistent, CacheRedis, "":
	default:
		return &ConfigError{Field: "cache_strategy", Reason: fmt.Sprintf("unknown strategy %q", c.CacheStrategy)}
	}
	switch c.LogLevel {
	case "", "DEBUG", "INFO", "WARNING", "ERROR":
	default:
		return &ConfigError{Field: "log_level", Reason: fmt.Sprintf("unknown level %q", c.LogLevel)}
	}
	return nil
}

// cacheEnabled reports whether this configuration uses a cache at all.
func (c *PipelineConfig) cacheEnabled() bool {
	return c.CacheStrategy != CacheNone && c.CacheStrategy != ""
}

// LoadConfig reads a PipelineConfig from a YAML file. Fields absent from the
// file keep their defaults.
//
// Example config.yaml:
//
//	enable_preprocessing: true
//	enable_working_awareness: true
//	parallel_execution: true
//	num_perspectives: 3
//	cache_strategy: memory
//	log_level: DEBUG
func LoadConfig(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
