// Package llm defines the asynchronous job client contract the batch
// orchestrator speaks: submit a batch of work, poll a job key until results
// arrive or the job fails terminally. A synchronous implementation that
// preserves the same submit/poll shape is provided for providers without
// batch APIs.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for job polling.
var (
	// ErrUnknownJob indicates a poll for a job key the client has no
	// record of, e.g. a job whose results were already collected.
	ErrUnknownJob = errors.New("unknown job key")
	// ErrSchemaViolation indicates a completion result that does not
	// conform to the requested response schema.
	ErrSchemaViolation = errors.New("response schema violation")
)

// JobStatus is the terminal status of a failed job.
type JobStatus string

// Terminal job statuses.
const (
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
	JobExpired   JobStatus = "expired"
)

// JobError is the terminal failure of a submitted job. Managers convert
// it into a failed batch state.
type JobError struct {
	JobKey  string
	Status  JobStatus
	Message string
}

// Error implements the error interface.
func (e *JobError) Error() string {
	return fmt.Sprintf("job %s %s: %s", e.JobKey, e.Status, e.Message)
}

// PromptItem is one completion request within a batch.
type PromptItem struct {
	// ItemID keys the result back to the caller's unit of work.
	ItemID string
	// Prompt is the full completion prompt.
	Prompt string
	// ResponseSchema is the JSON schema the response must satisfy.
	ResponseSchema json.RawMessage
	// AssetPaths optionally reference files attached to the prompt.
	AssetPaths []string
}

// EmbedItem is one embedding request within a batch.
type EmbedItem struct {
	ItemID string
	Text   string
}

// Client submits completion and embedding batches and polls for their
// results. A nil result map with a nil error means the job is still
// running and should be polled again. A returned error is terminal for
// the job; *JobError carries the provider-side terminal status.
type Client interface {
	// BatchSubmit submits a completion batch and returns its job key.
	BatchSubmit(ctx context.Context, batchID string, items []PromptItem) (string, error)

	// BatchGetResults polls a completion job. Results are validated
	// against schema before being returned.
	BatchGetResults(ctx context.Context, jobKey string, schema json.RawMessage) (map[string]json.RawMessage, error)

	// EmbedBatchSubmit submits an embedding batch and returns its job key.
	EmbedBatchSubmit(ctx context.Context, batchID string, items []EmbedItem) (string, error)

	// EmbedBatchGetResults polls an embedding job.
	EmbedBatchGetResults(ctx context.Context, jobKey string) (map[string][]float64, error)
}
