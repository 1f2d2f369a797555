package batch

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status tags shared across categories.
const (
	StatusCreated  = "CREATED"
	StatusComplete = "COMPLETE"
	StatusSkipped  = "SKIPPED"
	StatusFailed   = "FAILED"
)

// Memories category status tags.
const (
	StatusMemoryGeneratePending  = "MEMORY_GENERATE_PENDING"
	StatusMemoryGenerateComplete = "MEMORY_GENERATE_COMPLETE"
	StatusMemoryEmbedPending     = "MEMORY_EMBED_PENDING"
	StatusMemoryEmbedComplete    = "MEMORY_EMBED_COMPLETE"
)

// Refinement category status tags.
const (
	StatusRefinementCreated       = "REFINEMENT_CREATED"
	StatusRefinementDiscover      = "REFINEMENT_DISCOVER"
	StatusRefinementPending       = "REFINEMENT_PENDING"
	StatusRefinementComplete      = "REFINEMENT_COMPLETE"
	StatusRefinementEmbedPending  = "REFINEMENT_EMBED_PENDING"
	StatusRefinementEmbedComplete = "REFINEMENT_EMBED_COMPLETE"
)

// Created is the initial state of a memories batch.
type Created struct {
	Timestamp time.Time `json:"timestamp"`
}

func (Created) Status() string           { return StatusCreated }
func (Created) Kind() Kind               { return KindTransition }
func (Created) Countdown() time.Duration { return 0 }

// Complete is the successful terminal state.
type Complete struct {
	CompletedAt time.Time `json:"completed_at"`
}

func (Complete) Status() string           { return StatusComplete }
func (Complete) Kind() Kind               { return KindTerminal }
func (Complete) Countdown() time.Duration { return 0 }

// Skipped is the nothing-to-do terminal state.
type Skipped struct {
	SkippedAt time.Time `json:"skipped_at"`
	Reason    string    `json:"reason"`
}

func (Skipped) Status() string           { return StatusSkipped }
func (Skipped) Kind() Kind               { return KindTerminal }
func (Skipped) Countdown() time.Duration { return 0 }

// Failed is the error terminal state. PreviousStatus records where the
// batch was when the failure was captured.
type Failed struct {
	ErrorMessage   string    `json:"error_message"`
	FailedAt       time.Time `json:"failed_at"`
	PreviousStatus string    `json:"previous_status"`
}

func (Failed) Status() string           { return StatusFailed }
func (Failed) Kind() Kind               { return KindTerminal }
func (Failed) Countdown() time.Duration { return 0 }

// GenerationPending waits for a memory generation completion job.
type GenerationPending struct {
	JobKey      string    `json:"job_key"`
	PollCount   int       `json:"poll_count"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func (GenerationPending) Status() string           { return StatusMemoryGeneratePending }
func (GenerationPending) Kind() Kind               { return KindPolling }
func (GenerationPending) Countdown() time.Duration { return jittered(memoryPollBase) }
func (s GenerationPending) Attempts() int          { return s.PollCount }

func (s GenerationPending) Bump() State {
	s.PollCount++

	return s
}

// GenerationComplete records that memory rows were written.
type GenerationComplete struct {
	CompletedAt   time.Time `json:"completed_at"`
	MemoriesCount int       `json:"memories_count"`
}

func (GenerationComplete) Status() string           { return StatusMemoryGenerateComplete }
func (GenerationComplete) Kind() Kind               { return KindTransition }
func (GenerationComplete) Countdown() time.Duration { return 0 }

// EmbeddingPending waits for a memory embedding job.
type EmbeddingPending struct {
	JobKey      string    `json:"job_key"`
	PollCount   int       `json:"poll_count"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func (EmbeddingPending) Status() string           { return StatusMemoryEmbedPending }
func (EmbeddingPending) Kind() Kind               { return KindPolling }
func (EmbeddingPending) Countdown() time.Duration { return jittered(memoryPollBase) }
func (s EmbeddingPending) Attempts() int          { return s.PollCount }

func (s EmbeddingPending) Bump() State {
	s.PollCount++

	return s
}

// EmbeddingComplete records that embedding vectors were attached.
type EmbeddingComplete struct {
	CompletedAt   time.Time `json:"completed_at"`
	EmbeddedCount int       `json:"embedded_count"`
}

func (EmbeddingComplete) Status() string           { return StatusMemoryEmbedComplete }
func (EmbeddingComplete) Kind() Kind               { return KindTransition }
func (EmbeddingComplete) Countdown() time.Duration { return 0 }

// RefinementCreated is the initial state of a refinement batch, carrying
// the seed memory ids discovery starts from.
type RefinementCreated struct {
	SeedMemoryIDs []string  `json:"seed_memory_ids"`
	Timestamp     time.Time `json:"timestamp"`
}

func (RefinementCreated) Status() string           { return StatusRefinementCreated }
func (RefinementCreated) Kind() Kind               { return KindTransition }
func (RefinementCreated) Countdown() time.Duration { return 0 }

// RefinementDiscover carries the clusters discovery found, flattened to
// lists of memory ids.
type RefinementDiscover struct {
	Clusters     [][]string `json:"clusters"`
	ClusterCount int        `json:"cluster_count"`
	DiscoveredAt time.Time  `json:"discovered_at"`
}

func (RefinementDiscover) Status() string           { return StatusRefinementDiscover }
func (RefinementDiscover) Kind() Kind               { return KindTransition }
func (RefinementDiscover) Countdown() time.Duration { return 0 }

// RefinementPending waits for the refinement completion job.
type RefinementPending struct {
	JobKey      string    `json:"job_key"`
	PollCount   int       `json:"poll_count"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func (RefinementPending) Status() string           { return StatusRefinementPending }
func (RefinementPending) Kind() Kind               { return KindPolling }
func (RefinementPending) Countdown() time.Duration { return jittered(refinementPollBase) }
func (s RefinementPending) Attempts() int          { return s.PollCount }

func (s RefinementPending) Bump() State {
	s.PollCount++

	return s
}

// RefinementComplete records refined rows written and inputs superseded.
type RefinementComplete struct {
	CompletedAt      time.Time `json:"completed_at"`
	RefinedCount     int       `json:"refined_count"`
	SupersededCount  int       `json:"superseded_count"`
	CreatedMemoryIDs []string  `json:"created_memory_ids"`
}

func (RefinementComplete) Status() string           { return StatusRefinementComplete }
func (RefinementComplete) Kind() Kind               { return KindTransition }
func (RefinementComplete) Countdown() time.Duration { return 0 }

// RefinementEmbedPending waits for the refined-row embedding job.
type RefinementEmbedPending struct {
	JobKey      string    `json:"job_key"`
	PollCount   int       `json:"poll_count"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func (RefinementEmbedPending) Status() string           { return StatusRefinementEmbedPending }
func (RefinementEmbedPending) Kind() Kind               { return KindPolling }
func (RefinementEmbedPending) Countdown() time.Duration { return jittered(refinementPollBase) }
func (s RefinementEmbedPending) Attempts() int          { return s.PollCount }

func (s RefinementEmbedPending) Bump() State {
	s.PollCount++

	return s
}

// RefinementEmbedComplete records vectors attached to refined rows.
type RefinementEmbedComplete struct {
	CompletedAt   time.Time `json:"completed_at"`
	EmbeddedCount int       `json:"embedded_count"`
}

func (RefinementEmbedComplete) Status() string           { return StatusRefinementEmbedComplete }
func (RefinementEmbedComplete) Kind() Kind               { return KindTransition }
func (RefinementEmbedComplete) Countdown() time.Duration { return 0 }

// parseMemoriesState maps records to memories-category variants.
func parseMemoriesState(status string, raw json.RawMessage) (State, error) {
	switch status {
	case StatusCreated:
		return decodeState[Created](raw)
	case StatusMemoryGeneratePending:
		return decodeState[GenerationPending](raw)
	case StatusMemoryGenerateComplete:
		return decodeState[GenerationComplete](raw)
	case StatusMemoryEmbedPending:
		return decodeState[EmbeddingPending](raw)
	case StatusMemoryEmbedComplete:
		return decodeState[EmbeddingComplete](raw)
	case StatusComplete:
		return decodeState[Complete](raw)
	case StatusSkipped:
		return decodeState[Skipped](raw)
	case StatusFailed:
		return decodeState[Failed](raw)
	default:
		return nil, fmt.Errorf("%w: %q for category %s", ErrUnknownStatus, status, CategoryMemories)
	}
}

// parseRefinementState maps records to refinement-category variants.
func parseRefinementState(status string, raw json.RawMessage) (State, error) {
	switch status {
	case StatusRefinementCreated:
		return decodeState[RefinementCreated](raw)
	case StatusRefinementDiscover:
		return decodeState[RefinementDiscover](raw)
	case StatusRefinementPending:
		return decodeState[RefinementPending](raw)
	case StatusRefinementComplete:
		return decodeState[RefinementComplete](raw)
	case StatusRefinementEmbedPending:
		return decodeState[RefinementEmbedPending](raw)
	case StatusRefinementEmbedComplete:
		return decodeState[RefinementEmbedComplete](raw)
	case StatusComplete:
		return decodeState[Complete](raw)
	case StatusSkipped:
		return decodeState[Skipped](raw)
	case StatusFailed:
		return decodeState[Failed](raw)
	default:
		return nil, fmt.Errorf("%w: %q for category %s", ErrUnknownStatus, status, CategoryRefinement)
	}
}
