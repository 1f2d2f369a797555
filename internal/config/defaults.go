package config

import "time"

// Default configuration values.
const (
	DefaultStorePath  = ".tapestry/tapestry.db"
	DefaultStorageDir = ".tapestry/blobs"

	DefaultLLMBaseURL      = "https://api.openai.com/v1"
	DefaultCompletionModel = "gpt-4o"
	DefaultEmbeddingModel  = "text-embedding-3-large"

	DefaultWindowDays  = 7
	DefaultOverlapDays = 1
	DefaultMinMemories = 1
	DefaultMaxMemories = 10

	DefaultDateProximityDays    = 7
	DefaultSimilarityThreshold  = 0.4
	DefaultMaxCandidatesPerSeed = 10

	DefaultRunnerConcurrency = 0
	DefaultRunnerPolicy      = PolicyLock
	DefaultLockStaleAfter    = time.Hour

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	DefaultMetricsAddr = ""
)
