// Package model defines the persisted data model: archives, ETL tasks,
// threads, batches, memories and profiles, plus the derivation of thread
// unique keys.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EmbeddingDim is the fixed embedding vector dimension. Vectors of any
// other length are rejected at ingest.
const EmbeddingDim = 3072

// ErrEmbeddingDim indicates an embedding vector of the wrong length.
var ErrEmbeddingDim = errors.New("embedding dimension mismatch")

// ArchiveStatus is the lifecycle state of a raw archive import.
type ArchiveStatus string

// Archive statuses. Transitions are monotonic: created → completed | failed.
const (
	ArchiveCreated   ArchiveStatus = "created"
	ArchiveCompleted ArchiveStatus = "completed"
	ArchiveFailed    ArchiveStatus = "failed"
)

// Archive is one raw personal-data import.
type Archive struct {
	ID        string        `json:"id"`
	Provider  string        `json:"provider"`
	Status    ArchiveStatus `json:"status"`
	FileKeys  []string      `json:"file_keys"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// TaskStatus is the lifecycle state of an ETL task.
type TaskStatus string

// ETL task statuses, in phase order.
const (
	TaskCreated      TaskStatus = "created"
	TaskExtracting   TaskStatus = "extracting"
	TaskTransforming TaskStatus = "transforming"
	TaskUploading    TaskStatus = "uploading"
	TaskCompleted    TaskStatus = "completed"
	TaskFailed       TaskStatus = "failed"
)

// EtlTask is one discovered processing unit inside an archive.
// Counts are monotonic per phase: Extracted >= Transformed >= Uploaded.
type EtlTask struct {
	ID               string     `json:"id"`
	ArchiveID        string     `json:"archive_id"`
	Provider         string     `json:"provider"`
	InteractionType  string     `json:"interaction_type"`
	SourceURIs       []string   `json:"source_uris"`
	Status           TaskStatus `json:"status"`
	ExtractedCount   int        `json:"extracted_count"`
	TransformedCount int        `json:"transformed_count"`
	UploadedCount    int        `json:"uploaded_count"`
	Error            string     `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Thread is one normalized interaction record.
type Thread struct {
	ID              string          `json:"id"`
	UniqueKey       string          `json:"unique_key"`
	EtlTaskID       string          `json:"etl_task_id"`
	Provider        string          `json:"provider"`
	InteractionType string          `json:"interaction_type"`
	Preview         string          `json:"preview"`
	Payload         json.RawMessage `json:"payload"`
	Version         string          `json:"version"`
	AsAt            time.Time       `json:"asat"`
	AssetURI        string          `json:"asset_uri,omitempty"`
	RawSource       json.RawMessage `json:"raw_source,omitempty"`
}

// ThreadGroup is a transient set of threads processed together by one
// prompt. The GroupID is stable across retries: either an encoded time
// window "YYYY-MM-DD/YYYY-MM-DD" or an opaque collection id.
type ThreadGroup struct {
	GroupID string
	Threads []*Thread
}

// Batch is the unit of orchestration: one persisted state machine.
// States is a stack with the current state at index 0; it is never empty
// once the batch is created.
type Batch struct {
	ID          string            `json:"id"`
	BatchNumber int               `json:"batch_number"`
	Category    string            `json:"category"`
	States      []json.RawMessage `json:"states"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// statusEnvelope extracts just the discriminator tag from a state record.
type statusEnvelope struct {
	Status string `json:"status"`
}

// CurrentStatus returns the status tag of the state at the top of the
// stack, or the empty string when the stack is empty.
func (b *Batch) CurrentStatus() string {
	if len(b.States) == 0 {
		return ""
	}

	var env statusEnvelope
	if err := json.Unmarshal(b.States[0], &env); err != nil {
		return ""
	}

	return env.Status
}

// CurrentState returns the raw state record at the top of the stack.
func (b *Batch) CurrentState() (json.RawMessage, error) {
	if len(b.States) == 0 {
		return nil, fmt.Errorf("batch %s: empty state stack", b.ID)
	}

	return b.States[0], nil
}

// BatchThread links a batch to one of its threads, carrying the group id
// so group membership survives restarts.
type BatchThread struct {
	BatchID  string `json:"batch_id"`
	ThreadID string `json:"thread_id"`
	GroupID  string `json:"group_id"`
}

// MemoryStatus is the lifecycle state of a memory row.
type MemoryStatus string

// Memory statuses.
const (
	MemoryActive     MemoryStatus = "active"
	MemorySuperseded MemoryStatus = "superseded"
)

// Memory is one extracted memory row. A superseded memory points at
// exactly one active memory whose SourceMemoryIDs contains this row's id.
type Memory struct {
	ID              string       `json:"id"`
	Content         string       `json:"content"`
	FromDate        time.Time    `json:"from_date"`
	ToDate          time.Time    `json:"to_date"`
	GroupID         string       `json:"group_id"`
	Embedding       []float64    `json:"embedding,omitempty"`
	Status          MemoryStatus `json:"status"`
	SupersededBy    string       `json:"superseded_by,omitempty"`
	SourceMemoryIDs []string     `json:"source_memory_ids,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// HasEmbedding reports whether the memory carries an embedding vector.
func (m *Memory) HasEmbedding() bool {
	return len(m.Embedding) > 0
}

// ValidateEmbedding rejects vectors that do not match EmbeddingDim.
// A nil vector is valid (not yet embedded).
func ValidateEmbedding(vec []float64) error {
	if vec == nil {
		return nil
	}

	if len(vec) != EmbeddingDim {
		return fmt.Errorf("%w: got %d, want %d", ErrEmbeddingDim, len(vec), EmbeddingDim)
	}

	return nil
}

// Profile is one generated user profile.
type Profile struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	GeneratedAt time.Time `json:"generated_at"`
	MemoryCount int       `json:"memory_count"`
}

// DateOnly formats a timestamp as an ISO calendar date.
func DateOnly(t time.Time) string {
	return t.Format(time.DateOnly)
}

// ParseDate parses an ISO calendar date ("2024-01-31") in UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}

	return t, nil
}
