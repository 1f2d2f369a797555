package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/tapestry-ai/tapestry/internal/grouper"
	"github.com/tapestry-ai/tapestry/internal/model"
	"github.com/tapestry-ai/tapestry/internal/store"
)

// Factory turns a thread list into persisted batches: the grouper
// partitions threads into groups, the groups are bin-packed into chunks
// of at most MaxGroupsPerBatch, and each chunk yields one batch per
// registered category.
type Factory struct {
	store      *store.Store
	grouper    grouper.Grouper
	categories []Category
	logger     *slog.Logger
}

// NewFactory creates a batch factory for the given categories.
func NewFactory(st *store.Store, g grouper.Grouper, categories []Category, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}

	return &Factory{store: st, grouper: g, categories: categories, logger: logger}
}

// CreateBatches groups the threads and persists the resulting batches,
// each with its thread links, in one atomic section per batch. No
// threads or no groups produce no batches.
func (f *Factory) CreateBatches(ctx context.Context, threads []*model.Thread) ([]*model.Batch, error) {
	groups, err := f.grouper.Group(threads)
	if err != nil {
		return nil, fmt.Errorf("group threads: %w", err)
	}

	if len(groups) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()

	initial, encErr := EncodeState(Created{Timestamp: now})
	if encErr != nil {
		return nil, encErr
	}

	chunks := lo.Chunk(groups, MaxGroupsPerBatch)

	batches := make([]*model.Batch, 0, len(chunks)*len(f.categories))

	for i, chunk := range chunks {
		for _, category := range f.categories {
			b := &model.Batch{
				ID:          uuid.NewString(),
				BatchNumber: i + 1,
				Category:    string(category),
				States:      []json.RawMessage{initial},
				CreatedAt:   now,
				UpdatedAt:   now,
			}

			createErr := f.store.Atomic(ctx, func(ctx context.Context) error {
				return f.store.CreateBatch(ctx, b, chunk)
			})
			if createErr != nil {
				return nil, fmt.Errorf("create batch %d/%s: %w", b.BatchNumber, category, createErr)
			}

			batches = append(batches, b)
		}
	}

	f.logger.Info("batches created",
		slog.Int("groups", len(groups)),
		slog.Int("batches", len(batches)))

	return batches, nil
}

// RefinementFactory builds the refinement batch covering all refinable
// seeds. Refinement does not bin-pack: one batch, number 1, carries the
// whole seed set.
type RefinementFactory struct {
	store  *store.Store
	logger *slog.Logger
}

// NewRefinementFactory creates a refinement batch factory.
func NewRefinementFactory(st *store.Store, logger *slog.Logger) *RefinementFactory {
	if logger == nil {
		logger = slog.Default()
	}

	return &RefinementFactory{store: st, logger: logger}
}

// CreateRefinementBatches persists one refinement batch seeded with all
// refinable memory ids, or none when there is nothing to refine.
func (f *RefinementFactory) CreateRefinementBatches(ctx context.Context) ([]*model.Batch, error) {
	seeds, err := f.store.GetRefinableMemoryIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load refinable seeds: %w", err)
	}

	if len(seeds) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()

	initial, encErr := EncodeState(RefinementCreated{SeedMemoryIDs: seeds, Timestamp: now})
	if encErr != nil {
		return nil, encErr
	}

	b := &model.Batch{
		ID:          uuid.NewString(),
		BatchNumber: 1,
		Category:    string(CategoryRefinement),
		States:      []json.RawMessage{initial},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	createErr := f.store.Atomic(ctx, func(ctx context.Context) error {
		return f.store.CreateBatch(ctx, b, nil)
	})
	if createErr != nil {
		return nil, fmt.Errorf("create refinement batch: %w", createErr)
	}

	f.logger.Info("refinement batch created", slog.Int("seeds", len(seeds)))

	return []*model.Batch{b}, nil
}
