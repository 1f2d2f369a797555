package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// Uncollected results expire after jobTTL so an abandoned batch cannot
// pin its results in memory forever. Expiry is lazy (no janitor
// goroutine): entries are dropped on access.
const jobTTL = time.Hour

// Model performs a single completion or embedding call. It is the
// provider-facing seam for the synchronous client.
type Model interface {
	Complete(ctx context.Context, prompt string, schema json.RawMessage) (json.RawMessage, error)
	Embed(ctx context.Context, text string) ([]float64, error)
}

// SyncClient implements Client over a single-call Model. Submit performs
// all work eagerly and caches the results under a generated job key; the
// first poll returns the cached map and drains the entry. The orchestrator
// cannot tell it apart from a true batch backend.
type SyncClient struct {
	model  Model
	jobs   *gocache.Cache
	logger *slog.Logger
}

// NewSyncClient creates a synchronous client over the given model.
func NewSyncClient(model Model, logger *slog.Logger) *SyncClient {
	if logger == nil {
		logger = slog.Default()
	}

	return &SyncClient{
		model:  model,
		jobs:   gocache.New(jobTTL, 0),
		logger: logger,
	}
}

// completionJob holds eagerly computed completion results keyed by item id.
type completionJob struct {
	results map[string]json.RawMessage
}

// embedJob holds eagerly computed embedding results keyed by item id.
type embedJob struct {
	results map[string][]float64
}

// BatchSubmit implements Client. Every item is completed before the job
// key is returned; a failing item fails the whole submit.
func (c *SyncClient) BatchSubmit(ctx context.Context, batchID string, items []PromptItem) (string, error) {
	results := make(map[string]json.RawMessage, len(items))

	for _, item := range items {
		doc, err := c.model.Complete(ctx, item.Prompt, item.ResponseSchema)
		if err != nil {
			return "", fmt.Errorf("completing item %s: %w", item.ItemID, err)
		}

		results[item.ItemID] = doc
	}

	jobKey := uuid.NewString()
	c.jobs.Set(jobKey, &completionJob{results: results}, gocache.DefaultExpiration)

	c.logger.Debug("completion batch submitted",
		slog.String("batch_id", batchID),
		slog.String("job_key", jobKey),
		slog.Int("items", len(items)))

	return jobKey, nil
}

// BatchGetResults implements Client. The entry is drained before
// validation so a schema failure cannot be retried against stale results.
func (c *SyncClient) BatchGetResults(_ context.Context, jobKey string, schema json.RawMessage) (map[string]json.RawMessage, error) {
	entry, found := c.jobs.Get(jobKey)
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobKey)
	}

	c.jobs.Delete(jobKey)

	job, ok := entry.(*completionJob)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a completion job", ErrUnknownJob, jobKey)
	}

	for itemID, doc := range job.results {
		err := ValidateResult(schema, doc)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", itemID, err)
		}
	}

	return job.results, nil
}

// EmbedBatchSubmit implements Client.
func (c *SyncClient) EmbedBatchSubmit(ctx context.Context, batchID string, items []EmbedItem) (string, error) {
	results := make(map[string][]float64, len(items))

	for _, item := range items {
		vec, err := c.model.Embed(ctx, item.Text)
		if err != nil {
			return "", fmt.Errorf("embedding item %s: %w", item.ItemID, err)
		}

		results[item.ItemID] = vec
	}

	jobKey := uuid.NewString()
	c.jobs.Set(jobKey, &embedJob{results: results}, gocache.DefaultExpiration)

	c.logger.Debug("embedding batch submitted",
		slog.String("batch_id", batchID),
		slog.String("job_key", jobKey),
		slog.Int("items", len(items)))

	return jobKey, nil
}

// EmbedBatchGetResults implements Client.
func (c *SyncClient) EmbedBatchGetResults(_ context.Context, jobKey string) (map[string][]float64, error) {
	entry, found := c.jobs.Get(jobKey)
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobKey)
	}

	c.jobs.Delete(jobKey)

	job, ok := entry.(*embedJob)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an embedding job", ErrUnknownJob, jobKey)
	}

	return job.results, nil
}
