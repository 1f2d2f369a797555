package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestry-ai/tapestry/internal/config"
)

func validConfig() *config.Config {
	return &config.Config{
		Store:   config.StoreConfig{Path: "db/tapestry.db"},
		Storage: config.StorageConfig{Dir: "blobs"},
		Grouping: config.GroupingConfig{
			WindowDays:  7,
			OverlapDays: 1,
			MinMemories: 1,
			MaxMemories: 10,
		},
		Refinement: config.RefinementConfig{
			DateProximityDays:    7,
			SimilarityThreshold:  0.4,
			MaxCandidatesPerSeed: 10,
		},
		Runner: config.RunnerConfig{
			Policy:         config.PolicyLock,
			LockStaleAfter: time.Hour,
		},
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, config.DefaultStorePath, cfg.Store.Path)
	assert.Equal(t, config.DefaultWindowDays, cfg.Grouping.WindowDays)
	assert.Equal(t, config.DefaultOverlapDays, cfg.Grouping.OverlapDays)
	assert.InEpsilon(t, config.DefaultSimilarityThreshold, cfg.Refinement.SimilarityThreshold, 1e-9)
	assert.Equal(t, config.DefaultMaxCandidatesPerSeed, cfg.Refinement.MaxCandidatesPerSeed)
	assert.Equal(t, config.PolicyLock, cfg.Runner.Policy)
	assert.Equal(t, time.Hour, cfg.Runner.LockStaleAfter)
}

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tapestry.yaml")

	data := []byte(`
store:
  path: /var/lib/tapestry/db
grouping:
  window_days: 14
  overlap_days: 3
runner:
  policy: immediate
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/tapestry/db", cfg.Store.Path)
	assert.Equal(t, 14, cfg.Grouping.WindowDays)
	assert.Equal(t, 3, cfg.Grouping.OverlapDays)
	assert.Equal(t, config.PolicyImmediate, cfg.Runner.Policy)

	// Untouched keys keep their defaults.
	assert.Equal(t, config.DefaultStorageDir, cfg.Storage.Dir)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("TAPESTRY_GROUPING_WINDOW_DAYS", "30")

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Grouping.WindowDays)
}

func TestLoadConfig_InvalidFileRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tapestry.yaml")

	require.NoError(t, os.WriteFile(path, []byte("grouping:\n  window_days: 0\n"), 0o600))

	_, err := config.LoadConfig(path)
	assert.ErrorIs(t, err, config.ErrInvalidWindowDays)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr error
	}{
		{"valid", func(*config.Config) {}, nil},
		{"empty store path", func(c *config.Config) { c.Store.Path = "" }, config.ErrInvalidStorePath},
		{"empty storage dir", func(c *config.Config) { c.Storage.Dir = "" }, config.ErrInvalidStorageDir},
		{"zero window", func(c *config.Config) { c.Grouping.WindowDays = 0 }, config.ErrInvalidWindowDays},
		{"overlap equals window", func(c *config.Config) { c.Grouping.OverlapDays = c.Grouping.WindowDays }, config.ErrInvalidOverlapDays},
		{"negative overlap", func(c *config.Config) { c.Grouping.OverlapDays = -1 }, config.ErrInvalidOverlapDays},
		{"min above max", func(c *config.Config) { c.Grouping.MinMemories = 11 }, config.ErrInvalidMemoryBounds},
		{"negative proximity", func(c *config.Config) { c.Refinement.DateProximityDays = -1 }, config.ErrInvalidProximityDays},
		{"threshold above one", func(c *config.Config) { c.Refinement.SimilarityThreshold = 1.5 }, config.ErrInvalidSimilarityThreshold},
		{"zero candidates", func(c *config.Config) { c.Refinement.MaxCandidatesPerSeed = 0 }, config.ErrInvalidMaxCandidates},
		{"negative concurrency", func(c *config.Config) { c.Runner.Concurrency = -1 }, config.ErrInvalidConcurrency},
		{"unknown policy", func(c *config.Config) { c.Runner.Policy = "queue" }, config.ErrInvalidPolicy},
		{"zero lock staleness", func(c *config.Config) { c.Runner.LockStaleAfter = 0 }, config.ErrInvalidLockStaleAfter},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}
