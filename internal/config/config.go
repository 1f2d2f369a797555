// Package config loads and validates tapestry configuration from file,
// environment and defaults.
package config

import (
	"errors"
	"time"
)

// Config is the top-level configuration struct for tapestry.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Store      StoreConfig      `mapstructure:"store"`
	Storage    StorageConfig    `mapstructure:"storage"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Grouping   GroupingConfig   `mapstructure:"grouping"`
	Refinement RefinementConfig `mapstructure:"refinement"`
	Runner     RunnerConfig     `mapstructure:"runner"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// StoreConfig locates the transactional store.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig locates raw archive blob storage.
type StorageConfig struct {
	Dir string `mapstructure:"dir"`
}

// LLMConfig names the models the job client calls and where to reach them.
type LLMConfig struct {
	// BaseURL is the root of an OpenAI-compatible API.
	BaseURL string `mapstructure:"base_url"`
	// APIKey is typically supplied via TAPESTRY_LLM_API_KEY.
	APIKey          string `mapstructure:"api_key"`
	CompletionModel string `mapstructure:"completion_model"`
	EmbeddingModel  string `mapstructure:"embedding_model"`
}

// GroupingConfig tunes the sliding-window grouper.
type GroupingConfig struct {
	WindowDays  int `mapstructure:"window_days"`
	OverlapDays int `mapstructure:"overlap_days"`
	MinMemories int `mapstructure:"min_memories"`
	MaxMemories int `mapstructure:"max_memories"`
}

// RefinementConfig tunes refinement cluster discovery.
type RefinementConfig struct {
	DateProximityDays    int     `mapstructure:"date_proximity_days"`
	SimilarityThreshold  float64 `mapstructure:"similarity_threshold"`
	MaxCandidatesPerSeed int     `mapstructure:"max_candidates_per_seed"`
}

// RunnerConfig tunes the batch runner and admission policy.
type RunnerConfig struct {
	// Concurrency caps batches advancing at once; zero means unbounded.
	Concurrency int `mapstructure:"concurrency"`
	// Policy selects run admission: "immediate" or "lock".
	Policy string `mapstructure:"policy"`
	// LockStaleAfter is how old a run lock may get before takeover.
	LockStaleAfter time.Duration `mapstructure:"lock_stale_after"`
}

// Runner admission policy names.
const (
	PolicyImmediate = "immediate"
	PolicyLock      = "lock"
)

// LoggingConfig tunes slog output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Format is json or text.
	Format string `mapstructure:"format"`
}

// MetricsConfig tunes the prometheus scrape endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the endpoint.
	Addr string `mapstructure:"addr"`
}

// Sentinel errors for configuration validation.
var (
	// ErrInvalidStorePath indicates an empty store path.
	ErrInvalidStorePath = errors.New("store.path must not be empty")
	// ErrInvalidStorageDir indicates an empty storage directory.
	ErrInvalidStorageDir = errors.New("storage.dir must not be empty")
	// ErrInvalidWindowDays indicates a non-positive window length.
	ErrInvalidWindowDays = errors.New("grouping.window_days must be positive")
	// ErrInvalidOverlapDays indicates an overlap not smaller than the window.
	ErrInvalidOverlapDays = errors.New("grouping.overlap_days must be non-negative and smaller than window_days")
	// ErrInvalidMemoryBounds indicates min_memories above max_memories.
	ErrInvalidMemoryBounds = errors.New("grouping.min_memories must not exceed max_memories")
	// ErrInvalidProximityDays indicates a negative proximity envelope.
	ErrInvalidProximityDays = errors.New("refinement.date_proximity_days must be non-negative")
	// ErrInvalidSimilarityThreshold indicates a threshold outside [0,1].
	ErrInvalidSimilarityThreshold = errors.New("refinement.similarity_threshold must be between 0 and 1")
	// ErrInvalidMaxCandidates indicates a non-positive candidate cap.
	ErrInvalidMaxCandidates = errors.New("refinement.max_candidates_per_seed must be positive")
	// ErrInvalidConcurrency indicates a negative runner concurrency.
	ErrInvalidConcurrency = errors.New("runner.concurrency must be non-negative")
	// ErrInvalidPolicy indicates an unknown admission policy name.
	ErrInvalidPolicy = errors.New("runner.policy must be immediate or lock")
	// ErrInvalidLockStaleAfter indicates a non-positive lock staleness window.
	ErrInvalidLockStaleAfter = errors.New("runner.lock_stale_after must be positive")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return ErrInvalidStorePath
	}

	if c.Storage.Dir == "" {
		return ErrInvalidStorageDir
	}

	groupingErr := c.validateGrouping()
	if groupingErr != nil {
		return groupingErr
	}

	refinementErr := c.validateRefinement()
	if refinementErr != nil {
		return refinementErr
	}

	return c.validateRunner()
}

func (c *Config) validateGrouping() error {
	if c.Grouping.WindowDays < 1 {
		return ErrInvalidWindowDays
	}

	if c.Grouping.OverlapDays < 0 || c.Grouping.OverlapDays >= c.Grouping.WindowDays {
		return ErrInvalidOverlapDays
	}

	if c.Grouping.MinMemories > c.Grouping.MaxMemories {
		return ErrInvalidMemoryBounds
	}

	return nil
}

func (c *Config) validateRefinement() error {
	if c.Refinement.DateProximityDays < 0 {
		return ErrInvalidProximityDays
	}

	if c.Refinement.SimilarityThreshold < 0 || c.Refinement.SimilarityThreshold > 1 {
		return ErrInvalidSimilarityThreshold
	}

	if c.Refinement.MaxCandidatesPerSeed < 1 {
		return ErrInvalidMaxCandidates
	}

	return nil
}

func (c *Config) validateRunner() error {
	if c.Runner.Concurrency < 0 {
		return ErrInvalidConcurrency
	}

	if c.Runner.Policy != PolicyImmediate && c.Runner.Policy != PolicyLock {
		return ErrInvalidPolicy
	}

	if c.Runner.LockStaleAfter <= 0 {
		return ErrInvalidLockStaleAfter
	}

	return nil
}
