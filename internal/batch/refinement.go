package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tapestry-ai/tapestry/internal/discovery"
	"github.com/tapestry-ai/tapestry/internal/llm"
	"github.com/tapestry-ai/tapestry/internal/model"
	"github.com/tapestry-ai/tapestry/internal/store"
)

// RefinementTransitioner advances a refinement batch:
//
//	REFINEMENT_CREATED → REFINEMENT_DISCOVER → REFINEMENT_PENDING
//	                   → REFINEMENT_COMPLETE → REFINEMENT_EMBED_PENDING
//	                   → REFINEMENT_EMBED_COMPLETE → COMPLETE
//
// Refinement merges clusters of overlapping memories into fewer rows and
// supersedes the inputs.
type RefinementTransitioner struct {
	store      *store.Store
	client     llm.Client
	discoverer *discovery.Discoverer
	logger     *slog.Logger
}

// NewRefinementTransitioner creates the refinement-category transitioner.
func NewRefinementTransitioner(st *store.Store, client llm.Client, disc *discovery.Discoverer, logger *slog.Logger) *RefinementTransitioner {
	if logger == nil {
		logger = slog.Default()
	}

	return &RefinementTransitioner{store: st, client: client, discoverer: disc, logger: logger}
}

// Category implements Transitioner.
func (t *RefinementTransitioner) Category() Category {
	return CategoryRefinement
}

// Transition implements Transitioner.
func (t *RefinementTransitioner) Transition(ctx context.Context, b *model.Batch, current State) (State, SideEffect, error) {
	switch s := current.(type) {
	case RefinementCreated:
		return t.discover(ctx, s)
	case RefinementDiscover:
		return t.submitRefinement(ctx, b, s)
	case RefinementPending:
		return t.pollRefinement(ctx, s)
	case RefinementComplete:
		return t.submitEmbedding(ctx, b, s)
	case RefinementEmbedPending:
		return t.pollEmbedding(ctx, s)
	case RefinementEmbedComplete:
		return Complete{CompletedAt: time.Now().UTC()}, nil, nil
	default:
		return nil, nil, nil
	}
}

// discover clusters the seed memories.
func (t *RefinementTransitioner) discover(ctx context.Context, s RefinementCreated) (State, SideEffect, error) {
	if len(s.SeedMemoryIDs) == 0 {
		return Skipped{SkippedAt: time.Now().UTC(), Reason: "no refinable seeds"}, nil, nil
	}

	clusters, err := t.discoverer.Discover(ctx, s.SeedMemoryIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("discover clusters: %w", err)
	}

	if len(clusters) == 0 {
		return Skipped{SkippedAt: time.Now().UTC(), Reason: "no clusters of size >= 2"}, nil, nil
	}

	return RefinementDiscover{
		Clusters:     clusters,
		ClusterCount: len(clusters),
		DiscoveredAt: time.Now().UTC(),
	}, nil, nil
}

// submitRefinement loads cluster rows and submits one prompt per
// surviving cluster.
func (t *RefinementTransitioner) submitRefinement(ctx context.Context, b *model.Batch, s RefinementDiscover) (State, SideEffect, error) {
	items := make([]llm.PromptItem, 0, len(s.Clusters))

	for i, cluster := range s.Clusters {
		rows, err := t.store.GetMemoriesByIDs(ctx, cluster)
		if err != nil {
			return nil, nil, fmt.Errorf("load cluster rows: %w", err)
		}

		active := make([]*model.Memory, 0, len(rows))
		for _, row := range rows {
			if row.Status == model.MemoryActive {
				active = append(active, row)
			}
		}

		if len(active) < 2 {
			continue
		}

		items = append(items, llm.PromptItem{
			ItemID:         fmt.Sprintf("cluster-%d", i),
			Prompt:         buildRefinementPrompt(active),
			ResponseSchema: refinementResponseSchema,
		})
	}

	if len(items) == 0 {
		return Skipped{SkippedAt: time.Now().UTC(), Reason: "no clusters survived loading"}, nil, nil
	}

	jobKey, submitErr := t.client.BatchSubmit(ctx, b.ID, items)
	if submitErr != nil {
		return nil, nil, fmt.Errorf("submit refinement batch: %w", submitErr)
	}

	t.logger.Info("refinement batch submitted",
		slog.String("batch_id", b.ID),
		slog.String("job_key", jobKey),
		slog.Int("clusters", len(items)))

	return RefinementPending{JobKey: jobKey, SubmittedAt: time.Now().UTC()}, nil, nil
}

// pollRefinement polls the refinement job; on completion it stages the
// refined rows and the supersession of their sources.
func (t *RefinementTransitioner) pollRefinement(ctx context.Context, s RefinementPending) (State, SideEffect, error) {
	results, err := t.client.BatchGetResults(ctx, s.JobKey, refinementResponseSchema)
	if err != nil {
		return nil, nil, fmt.Errorf("poll refinement job %s: %w", s.JobKey, err)
	}

	if results == nil {
		return s, nil, nil
	}

	rows, parseErr := refinedRows(results)
	if parseErr != nil {
		return nil, nil, parseErr
	}

	supersededCount, countErr := t.countSupersessions(ctx, rows)
	if countErr != nil {
		return nil, nil, countErr
	}

	createdIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		createdIDs = append(createdIDs, row.ID)
	}

	next := RefinementComplete{
		CompletedAt:      time.Now().UTC(),
		RefinedCount:     len(rows),
		SupersededCount:  supersededCount,
		CreatedMemoryIDs: createdIDs,
	}

	effect := func(ctx context.Context) error {
		return t.applyRefinement(ctx, rows)
	}

	return next, effect, nil
}

// submitEmbedding embeds the refined rows that lack vectors.
func (t *RefinementTransitioner) submitEmbedding(ctx context.Context, b *model.Batch, s RefinementComplete) (State, SideEffect, error) {
	rows, err := t.store.GetMemoriesByIDs(ctx, s.CreatedMemoryIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("load refined rows: %w", err)
	}

	items := make([]llm.EmbedItem, 0, len(rows))

	for _, row := range rows {
		if row.HasEmbedding() {
			continue
		}

		items = append(items, llm.EmbedItem{ItemID: row.ID, Text: row.Content})
	}

	if len(items) == 0 {
		return RefinementEmbedComplete{CompletedAt: time.Now().UTC()}, nil, nil
	}

	jobKey, submitErr := t.client.EmbedBatchSubmit(ctx, b.ID, items)
	if submitErr != nil {
		return nil, nil, fmt.Errorf("submit refinement embedding batch: %w", submitErr)
	}

	return RefinementEmbedPending{JobKey: jobKey, SubmittedAt: time.Now().UTC()}, nil, nil
}

// pollEmbedding polls the embedding job and attaches vectors on completion.
func (t *RefinementTransitioner) pollEmbedding(ctx context.Context, s RefinementEmbedPending) (State, SideEffect, error) {
	vectors, err := t.client.EmbedBatchGetResults(ctx, s.JobKey)
	if err != nil {
		return nil, nil, fmt.Errorf("poll refinement embedding job %s: %w", s.JobKey, err)
	}

	if vectors == nil {
		return s, nil, nil
	}

	next := RefinementEmbedComplete{CompletedAt: time.Now().UTC(), EmbeddedCount: len(vectors)}

	effect := func(ctx context.Context) error {
		return attachEmbeddings(ctx, t.store, vectors)
	}

	return next, effect, nil
}

// applyRefinement inserts the refined rows and supersedes their sources.
// A source already superseded (including earlier in this pass) is left
// untouched; a missing source id is skipped.
func (t *RefinementTransitioner) applyRefinement(ctx context.Context, rows []*model.Memory) error {
	insertErr := t.store.InsertMemories(ctx, rows)
	if insertErr != nil {
		return insertErr
	}

	for _, row := range rows {
		for _, sourceID := range row.SourceMemoryIDs {
			source, err := t.store.GetMemory(ctx, sourceID)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}

			if err != nil {
				return fmt.Errorf("load source memory %s: %w", sourceID, err)
			}

			if source.Status != model.MemoryActive {
				continue
			}

			source.Status = model.MemorySuperseded
			source.SupersededBy = row.ID

			updateErr := t.store.UpdateMemory(ctx, source)
			if updateErr != nil {
				return fmt.Errorf("supersede memory %s: %w", sourceID, updateErr)
			}
		}
	}

	return nil
}

// countSupersessions counts the distinct source ids that are currently
// active, i.e. the rows applyRefinement will supersede.
func (t *RefinementTransitioner) countSupersessions(ctx context.Context, rows []*model.Memory) (int, error) {
	seen := make(map[string]struct{})
	count := 0

	for _, row := range rows {
		for _, sourceID := range row.SourceMemoryIDs {
			if _, dup := seen[sourceID]; dup {
				continue
			}

			seen[sourceID] = struct{}{}

			source, err := t.store.GetMemory(ctx, sourceID)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}

			if err != nil {
				return 0, fmt.Errorf("load source memory %s: %w", sourceID, err)
			}

			if source.Status == model.MemoryActive {
				count++
			}
		}
	}

	return count, nil
}

// refinedRows converts refinement results into new active memory rows
// carrying their source ids.
func refinedRows(results map[string]json.RawMessage) ([]*model.Memory, error) {
	now := time.Now().UTC()

	var rows []*model.Memory

	for itemID, doc := range results {
		var envelope memoryEnvelope

		err := json.Unmarshal(doc, &envelope)
		if err != nil {
			return nil, fmt.Errorf("parse refinement result for %s: %w", itemID, err)
		}

		for _, generated := range envelope.Memories {
			row, rowErr := newMemoryRow(generated, "", now)
			if rowErr != nil {
				return nil, fmt.Errorf("refinement item %s: %w", itemID, rowErr)
			}

			rows = append(rows, row)
		}
	}

	return rows, nil
}
