// Package discovery finds clusters of related memories to refine. Each
// seed is joined with its similar neighbors in a union-find forest; the
// connected components of size two or more become refinement clusters.
package discovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tapestry-ai/tapestry/internal/store"
	"github.com/tapestry-ai/tapestry/pkg/unionfind"
)

// Default clustering parameters.
const (
	DefaultDateProximityDays    = 7
	DefaultSimilarityThreshold  = 0.4
	DefaultMaxCandidatesPerSeed = 10
)

// minClusterSize filters out singleton components.
const minClusterSize = 2

// Params tunes candidate selection around each seed.
type Params struct {
	// DateProximityDays widens the seed's date range when testing overlap.
	DateProximityDays int
	// SimilarityThreshold in [0,1]; candidates need cosine distance
	// below 1 - threshold.
	SimilarityThreshold float64
	// MaxCandidatesPerSeed caps neighbors considered per seed.
	MaxCandidatesPerSeed int
}

// DefaultParams returns the standard clustering parameters.
func DefaultParams() Params {
	return Params{
		DateProximityDays:    DefaultDateProximityDays,
		SimilarityThreshold:  DefaultSimilarityThreshold,
		MaxCandidatesPerSeed: DefaultMaxCandidatesPerSeed,
	}
}

// Discoverer clusters seed memories by similarity and date proximity.
type Discoverer struct {
	store  *store.Store
	params Params
	logger *slog.Logger
}

// NewDiscoverer creates a discoverer over the given store.
func NewDiscoverer(st *store.Store, params Params, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Discoverer{store: st, params: params, logger: logger}
}

// Discover unions each seed with its similar neighbors and returns the
// resulting clusters of size >= 2 as lists of memory ids. Seeds without
// an embedding contribute no edges.
func (d *Discoverer) Discover(ctx context.Context, seedIDs []string) ([][]string, error) {
	forest := unionfind.New()

	for _, seedID := range seedIDs {
		forest.Add(seedID)

		candidates, err := d.store.FindSimilarMemories(
			ctx,
			seedID,
			d.params.DateProximityDays,
			d.params.SimilarityThreshold,
			d.params.MaxCandidatesPerSeed,
		)
		if err != nil {
			return nil, fmt.Errorf("find similar memories for %s: %w", seedID, err)
		}

		for _, candidateID := range candidates {
			forest.Union(seedID, candidateID)
		}
	}

	clusters := forest.Clusters(minClusterSize)

	d.logger.Debug("discovery complete",
		slog.Int("seeds", len(seedIDs)),
		slog.Int("clusters", len(clusters)))

	return clusters, nil
}
