package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tapestry-ai/tapestry/internal/llm"
	"github.com/tapestry-ai/tapestry/internal/model"
	"github.com/tapestry-ai/tapestry/internal/store"
)

// MemoriesConfig tunes memory generation prompts.
type MemoriesConfig struct {
	// MinMemories and MaxMemories bound how many memories the prompt
	// requests per group. Zero leaves the bound unset.
	MinMemories int
	MaxMemories int
}

// MemoriesTransitioner advances a memories batch:
//
//	CREATED → MEMORY_GENERATE_PENDING → MEMORY_GENERATE_COMPLETE
//	        → MEMORY_EMBED_PENDING → MEMORY_EMBED_COMPLETE → COMPLETE
//
// with same-state polls handled by the manager's counter bump.
type MemoriesTransitioner struct {
	store  *store.Store
	client llm.Client
	cfg    MemoriesConfig
	logger *slog.Logger
}

// NewMemoriesTransitioner creates the memories-category transitioner.
func NewMemoriesTransitioner(st *store.Store, client llm.Client, cfg MemoriesConfig, logger *slog.Logger) *MemoriesTransitioner {
	if logger == nil {
		logger = slog.Default()
	}

	return &MemoriesTransitioner{store: st, client: client, cfg: cfg, logger: logger}
}

// Category implements Transitioner.
func (t *MemoriesTransitioner) Category() Category {
	return CategoryMemories
}

// Transition implements Transitioner.
func (t *MemoriesTransitioner) Transition(ctx context.Context, b *model.Batch, current State) (State, SideEffect, error) {
	switch s := current.(type) {
	case Created:
		return t.submitGeneration(ctx, b)
	case GenerationPending:
		return t.pollGeneration(ctx, s)
	case GenerationComplete:
		return t.submitEmbedding(ctx, b)
	case EmbeddingPending:
		return t.pollEmbedding(ctx, s)
	case EmbeddingComplete:
		return Complete{CompletedAt: time.Now().UTC()}, nil, nil
	default:
		return nil, nil, nil
	}
}

// submitGeneration builds one prompt per group and submits the
// completion batch.
func (t *MemoriesTransitioner) submitGeneration(ctx context.Context, b *model.Batch) (State, SideEffect, error) {
	groups, err := t.store.GetBatchGroups(ctx, b.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load batch groups: %w", err)
	}

	threadCount := 0
	for _, group := range groups {
		threadCount += len(group.Threads)
	}

	if len(groups) == 0 || threadCount == 0 {
		return Skipped{SkippedAt: time.Now().UTC(), Reason: "no processable records"}, nil, nil
	}

	profile := ""

	latest, profileErr := t.store.GetLatestProfile(ctx)
	if profileErr == nil {
		profile = latest.Content
	} else if !errors.Is(profileErr, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("load profile: %w", profileErr)
	}

	items := make([]llm.PromptItem, 0, len(groups))
	for _, group := range groups {
		items = append(items, llm.PromptItem{
			ItemID:         group.GroupID,
			Prompt:         buildMemoryPrompt(group, profile, t.cfg.MinMemories, t.cfg.MaxMemories),
			ResponseSchema: memoryResponseSchema,
		})
	}

	jobKey, submitErr := t.client.BatchSubmit(ctx, b.ID, items)
	if submitErr != nil {
		return nil, nil, fmt.Errorf("submit generation batch: %w", submitErr)
	}

	t.logger.Info("generation batch submitted",
		slog.String("batch_id", b.ID),
		slog.String("job_key", jobKey),
		slog.Int("groups", len(items)))

	return GenerationPending{JobKey: jobKey, SubmittedAt: time.Now().UTC()}, nil, nil
}

// pollGeneration polls the generation job. Still-running jobs return the
// unchanged state so the manager bumps the poll counter.
func (t *MemoriesTransitioner) pollGeneration(ctx context.Context, s GenerationPending) (State, SideEffect, error) {
	results, err := t.client.BatchGetResults(ctx, s.JobKey, memoryResponseSchema)
	if err != nil {
		return nil, nil, fmt.Errorf("poll generation job %s: %w", s.JobKey, err)
	}

	if results == nil {
		return s, nil, nil
	}

	rows, parseErr := memoryRows(results)
	if parseErr != nil {
		return nil, nil, parseErr
	}

	next := GenerationComplete{CompletedAt: time.Now().UTC(), MemoriesCount: len(rows)}

	effect := func(ctx context.Context) error {
		return t.store.InsertMemories(ctx, rows)
	}

	return next, effect, nil
}

// submitEmbedding submits an embedding batch over rows that have no
// vector yet. With nothing to embed the batch advances straight to
// EmbeddingComplete.
func (t *MemoriesTransitioner) submitEmbedding(ctx context.Context, b *model.Batch) (State, SideEffect, error) {
	unembedded, err := t.store.ListUnembeddedMemories(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list unembedded memories: %w", err)
	}

	if len(unembedded) == 0 {
		return EmbeddingComplete{CompletedAt: time.Now().UTC()}, nil, nil
	}

	items := make([]llm.EmbedItem, 0, len(unembedded))
	for _, memory := range unembedded {
		items = append(items, llm.EmbedItem{ItemID: memory.ID, Text: memory.Content})
	}

	jobKey, submitErr := t.client.EmbedBatchSubmit(ctx, b.ID, items)
	if submitErr != nil {
		return nil, nil, fmt.Errorf("submit embedding batch: %w", submitErr)
	}

	return EmbeddingPending{JobKey: jobKey, SubmittedAt: time.Now().UTC()}, nil, nil
}

// pollEmbedding polls the embedding job and attaches vectors on completion.
func (t *MemoriesTransitioner) pollEmbedding(ctx context.Context, s EmbeddingPending) (State, SideEffect, error) {
	vectors, err := t.client.EmbedBatchGetResults(ctx, s.JobKey)
	if err != nil {
		return nil, nil, fmt.Errorf("poll embedding job %s: %w", s.JobKey, err)
	}

	if vectors == nil {
		return s, nil, nil
	}

	next := EmbeddingComplete{CompletedAt: time.Now().UTC(), EmbeddedCount: len(vectors)}

	effect := func(ctx context.Context) error {
		return attachEmbeddings(ctx, t.store, vectors)
	}

	return next, effect, nil
}

// memoryRows converts generation results into memory rows, one per
// memory per group. Malformed output fails the batch.
func memoryRows(results map[string]json.RawMessage) ([]*model.Memory, error) {
	now := time.Now().UTC()

	var rows []*model.Memory

	for groupID, doc := range results {
		var envelope memoryEnvelope

		err := json.Unmarshal(doc, &envelope)
		if err != nil {
			return nil, fmt.Errorf("parse generation result for group %s: %w", groupID, err)
		}

		for _, generated := range envelope.Memories {
			row, rowErr := newMemoryRow(generated, groupID, now)
			if rowErr != nil {
				return nil, fmt.Errorf("group %s: %w", groupID, rowErr)
			}

			rows = append(rows, row)
		}
	}

	return rows, nil
}

// newMemoryRow builds one active memory row from a generated memory.
func newMemoryRow(generated generatedMemory, groupID string, now time.Time) (*model.Memory, error) {
	fromDate, err := model.ParseDate(generated.FromDate)
	if err != nil {
		return nil, err
	}

	toDate, err := model.ParseDate(generated.ToDate)
	if err != nil {
		return nil, err
	}

	if fromDate.After(toDate) {
		return nil, fmt.Errorf("memory dates inverted: %s after %s", generated.FromDate, generated.ToDate)
	}

	return &model.Memory{
		ID:              uuid.NewString(),
		Content:         generated.Content,
		FromDate:        fromDate,
		ToDate:          toDate,
		GroupID:         groupID,
		Status:          model.MemoryActive,
		SourceMemoryIDs: generated.SourceIDs,
		CreatedAt:       now,
	}, nil
}

// attachEmbeddings writes result vectors onto their memory rows.
func attachEmbeddings(ctx context.Context, st *store.Store, vectors map[string][]float64) error {
	for memoryID, vector := range vectors {
		memory, err := st.GetMemory(ctx, memoryID)
		if err != nil {
			return fmt.Errorf("load memory %s: %w", memoryID, err)
		}

		memory.Embedding = vector

		updateErr := st.UpdateMemory(ctx, memory)
		if updateErr != nil {
			return fmt.Errorf("attach embedding to %s: %w", memoryID, updateErr)
		}
	}

	return nil
}
