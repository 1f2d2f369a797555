package store

import (
	"context"
	"errors"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tapestry-ai/tapestry/internal/model"
	"github.com/tapestry-ai/tapestry/pkg/persist"
	"github.com/tapestry-ai/tapestry/pkg/vecmath"
)

// InsertMemories persists new memory rows, validating embedding dimensions.
func (s *Store) InsertMemories(ctx context.Context, memories []*model.Memory) error {
	return s.write(ctx, func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMemories)

		for _, memory := range memories {
			err := model.ValidateEmbedding(memory.Embedding)
			if err != nil {
				return err
			}

			putErr := putRow(bucket, s.rowCodec, memory.ID, memory)
			if putErr != nil {
				return putErr
			}
		}

		return nil
	})
}

// GetMemory loads a memory by id.
func (s *Store) GetMemory(ctx context.Context, id string) (*model.Memory, error) {
	var memory model.Memory

	err := s.read(ctx, func(tx *bolt.Tx) error {
		return getRow(tx.Bucket(bucketMemories), s.rowCodec, id, &memory)
	})
	if err != nil {
		return nil, err
	}

	return &memory, nil
}

// UpdateMemory overwrites an existing memory row, validating the embedding.
func (s *Store) UpdateMemory(ctx context.Context, memory *model.Memory) error {
	err := model.ValidateEmbedding(memory.Embedding)
	if err != nil {
		return err
	}

	return s.write(ctx, func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMemories)

		var existing model.Memory

		getErr := getRow(bucket, s.rowCodec, memory.ID, &existing)
		if getErr != nil {
			return getErr
		}

		return putRow(bucket, s.rowCodec, memory.ID, memory)
	})
}

// ListMemories returns memories filtered by optional status and minimum
// from-date, ordered by from_date descending, capped at limit when > 0.
func (s *Store) ListMemories(ctx context.Context, status model.MemoryStatus, fromDate time.Time, limit int) ([]*model.Memory, error) {
	memories, err := s.scanMemories(ctx, func(m *model.Memory) bool {
		if status != "" && m.Status != status {
			return false
		}

		if !fromDate.IsZero() && m.FromDate.Before(fromDate) {
			return false
		}

		return true
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(memories, func(i, j int) bool {
		if memories[i].FromDate.Equal(memories[j].FromDate) {
			return memories[i].ID < memories[j].ID
		}

		return memories[i].FromDate.After(memories[j].FromDate)
	})

	if limit > 0 && len(memories) > limit {
		memories = memories[:limit]
	}

	return memories, nil
}

// CountMemories counts memories, optionally restricted to one status.
func (s *Store) CountMemories(ctx context.Context, status model.MemoryStatus) (int, error) {
	memories, err := s.scanMemories(ctx, func(m *model.Memory) bool {
		return status == "" || m.Status == status
	})
	if err != nil {
		return 0, err
	}

	return len(memories), nil
}

// scanMemories iterates the memories bucket collecting rows that pass the
// filter. bbolt has no secondary indexes; at personal-archive scale a
// bucket scan is the simplest correct plan.
func (s *Store) scanMemories(ctx context.Context, keep func(*model.Memory) bool) ([]*model.Memory, error) {
	var memories []*model.Memory

	err := s.read(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMemories).ForEach(func(_, v []byte) error {
			var memory model.Memory

			decodeErr := persist.DecodeBytes(s.rowCodec, v, &memory)
			if decodeErr != nil {
				return decodeErr
			}

			if keep(&memory) {
				memories = append(memories, &memory)
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return memories, nil
}

// scoredMemory pairs a memory with its cosine distance to a query vector.
type scoredMemory struct {
	memory   *model.Memory
	distance float64
}

// SearchMemories returns up to topK memories. With a query embedding the
// result is active embedded rows ordered by cosine distance ascending;
// without one it is active rows ordered by from_date descending. The
// optional date range restricts candidates in both modes.
func (s *Store) SearchMemories(
	ctx context.Context,
	queryEmbedding []float64,
	fromDate, toDate time.Time,
	topK int,
) ([]*model.Memory, error) {
	err := model.ValidateEmbedding(queryEmbedding)
	if err != nil {
		return nil, err
	}

	inRange := func(m *model.Memory) bool {
		if !fromDate.IsZero() && m.ToDate.Before(fromDate) {
			return false
		}

		if !toDate.IsZero() && m.FromDate.After(toDate) {
			return false
		}

		return true
	}

	if queryEmbedding == nil {
		memories, listErr := s.scanMemories(ctx, func(m *model.Memory) bool {
			return m.Status == model.MemoryActive && inRange(m)
		})
		if listErr != nil {
			return nil, listErr
		}

		sort.Slice(memories, func(i, j int) bool {
			return memories[i].FromDate.After(memories[j].FromDate)
		})

		return capMemories(memories, topK), nil
	}

	candidates, scanErr := s.scanMemories(ctx, func(m *model.Memory) bool {
		return m.Status == model.MemoryActive && m.HasEmbedding() && inRange(m)
	})
	if scanErr != nil {
		return nil, scanErr
	}

	scored := make([]scoredMemory, 0, len(candidates))

	for _, candidate := range candidates {
		distance, distErr := vecmath.CosineDistance(queryEmbedding, candidate.Embedding)
		if distErr != nil {
			return nil, distErr
		}

		scored = append(scored, scoredMemory{memory: candidate, distance: distance})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].distance == scored[j].distance {
			return scored[i].memory.ID < scored[j].memory.ID
		}

		return scored[i].distance < scored[j].distance
	})

	result := make([]*model.Memory, 0, len(scored))
	for _, sm := range scored {
		result = append(result, sm.memory)
	}

	return capMemories(result, topK), nil
}

// ListUnembeddedMemories returns active memories that have no embedding
// yet, ordered by id.
func (s *Store) ListUnembeddedMemories(ctx context.Context) ([]*model.Memory, error) {
	memories, err := s.scanMemories(ctx, func(m *model.Memory) bool {
		return m.Status == model.MemoryActive && !m.HasEmbedding()
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(memories, func(i, j int) bool {
		return memories[i].ID < memories[j].ID
	})

	return memories, nil
}

// GetMemoriesByIDs loads the rows for the given ids, preserving input
// order. Missing ids are skipped rather than failing the whole load.
func (s *Store) GetMemoriesByIDs(ctx context.Context, ids []string) ([]*model.Memory, error) {
	memories := make([]*model.Memory, 0, len(ids))

	err := s.read(ctx, func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMemories)

		for _, id := range ids {
			var memory model.Memory

			getErr := getRow(bucket, s.rowCodec, id, &memory)
			if errors.Is(getErr, ErrNotFound) {
				continue
			}

			if getErr != nil {
				return getErr
			}

			memories = append(memories, &memory)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return memories, nil
}

// GetRefinableMemoryIDs returns ids of memories eligible as refinement
// seeds: active, embedded, and not themselves products of refinement.
func (s *Store) GetRefinableMemoryIDs(ctx context.Context) ([]string, error) {
	memories, err := s.scanMemories(ctx, func(m *model.Memory) bool {
		return m.Status == model.MemoryActive && m.HasEmbedding() && len(m.SourceMemoryIDs) == 0
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(memories))
	for _, memory := range memories {
		ids = append(ids, memory.ID)
	}

	sort.Strings(ids)

	return ids, nil
}

// FindSimilarMemories returns up to maxCandidates ids of active embedded
// memories whose date range overlaps the seed's within proximityDays and
// whose cosine distance to the seed is below 1 - similarityThreshold,
// ordered by distance ascending. A seed without an embedding yields nil.
func (s *Store) FindSimilarMemories(
	ctx context.Context,
	seedID string,
	proximityDays int,
	similarityThreshold float64,
	maxCandidates int,
) ([]string, error) {
	seed, err := s.GetMemory(ctx, seedID)
	if err != nil {
		return nil, err
	}

	if !seed.HasEmbedding() {
		return nil, nil
	}

	proximity := time.Duration(proximityDays) * 24 * time.Hour
	maxDistance := 1 - similarityThreshold

	candidates, scanErr := s.scanMemories(ctx, func(m *model.Memory) bool {
		if m.ID == seedID || m.Status != model.MemoryActive || !m.HasEmbedding() {
			return false
		}

		// Date ranges must overlap within the proximity envelope.
		if m.FromDate.After(seed.ToDate.Add(proximity)) {
			return false
		}

		if m.ToDate.Before(seed.FromDate.Add(-proximity)) {
			return false
		}

		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}

	scored := make([]scoredMemory, 0, len(candidates))

	for _, candidate := range candidates {
		distance, distErr := vecmath.CosineDistance(seed.Embedding, candidate.Embedding)
		if distErr != nil {
			return nil, distErr
		}

		if distance >= maxDistance {
			continue
		}

		scored = append(scored, scoredMemory{memory: candidate, distance: distance})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].distance == scored[j].distance {
			return scored[i].memory.ID < scored[j].memory.ID
		}

		return scored[i].distance < scored[j].distance
	})

	if maxCandidates > 0 && len(scored) > maxCandidates {
		scored = scored[:maxCandidates]
	}

	ids := make([]string, 0, len(scored))
	for _, sm := range scored {
		ids = append(ids, sm.memory.ID)
	}

	return ids, nil
}

func capMemories(memories []*model.Memory, topK int) []*model.Memory {
	if topK > 0 && len(memories) > topK {
		return memories[:topK]
	}

	return memories
}
