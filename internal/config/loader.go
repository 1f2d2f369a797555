package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".tapestry"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for tapestry settings.
const envPrefix = "TAPESTRY"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("store.path", DefaultStorePath)
	viperCfg.SetDefault("storage.dir", DefaultStorageDir)

	viperCfg.SetDefault("llm.base_url", DefaultLLMBaseURL)
	viperCfg.SetDefault("llm.api_key", "")
	viperCfg.SetDefault("llm.completion_model", DefaultCompletionModel)
	viperCfg.SetDefault("llm.embedding_model", DefaultEmbeddingModel)

	viperCfg.SetDefault("grouping.window_days", DefaultWindowDays)
	viperCfg.SetDefault("grouping.overlap_days", DefaultOverlapDays)
	viperCfg.SetDefault("grouping.min_memories", DefaultMinMemories)
	viperCfg.SetDefault("grouping.max_memories", DefaultMaxMemories)

	viperCfg.SetDefault("refinement.date_proximity_days", DefaultDateProximityDays)
	viperCfg.SetDefault("refinement.similarity_threshold", DefaultSimilarityThreshold)
	viperCfg.SetDefault("refinement.max_candidates_per_seed", DefaultMaxCandidatesPerSeed)

	viperCfg.SetDefault("runner.concurrency", DefaultRunnerConcurrency)
	viperCfg.SetDefault("runner.policy", DefaultRunnerPolicy)
	viperCfg.SetDefault("runner.lock_stale_after", DefaultLockStaleAfter)

	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.format", DefaultLogFormat)

	viperCfg.SetDefault("metrics.addr", DefaultMetricsAddr)
}
