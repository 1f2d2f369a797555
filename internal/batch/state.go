// Package batch implements the orchestration core: the state catalog,
// the per-category batch managers, the batch factories and the runner.
// Each batch is one persisted state machine; its state stack lives as a
// JSON array on the batch row with the current state at index 0.
package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Orchestration limits.
const (
	// MaxGroupsPerBatch caps how many groups one batch carries.
	MaxGroupsPerBatch = 50
	// MaxPollAttempts caps polls of one pending state before the batch fails.
	MaxPollAttempts = 500
	// MaxRetryAttempts caps re-entries of one retry state before the batch fails.
	MaxRetryAttempts = 100
)

// Poll countdown tuning. Every pending state sleeps its category's base
// plus a uniform jitter in [-pollJitter, +pollJitter], clamped to zero.
const (
	memoryPollBase     = 60 * time.Second
	refinementPollBase = 10 * time.Second
	pollJitter         = 10 * time.Second
)

// Category is a pipeline family fixing the state algebra and manager.
type Category string

// Registered categories.
const (
	CategoryMemories   Category = "memories"
	CategoryRefinement Category = "refinement"
)

// Sentinel errors for state parsing and advancement.
var (
	// ErrUnknownCategory indicates a batch category with no registered parser.
	ErrUnknownCategory = errors.New("unknown batch category")
	// ErrUnknownStatus indicates a persisted state tag the category's
	// parser does not recognize.
	ErrUnknownStatus = errors.New("unknown state status")
	// ErrPollAttemptsExceeded indicates a pending state polled past the cap.
	ErrPollAttemptsExceeded = errors.New("poll attempts exceeded")
	// ErrRetryAttemptsExceeded indicates a retry state re-entered past the cap.
	ErrRetryAttemptsExceeded = errors.New("retry attempts exceeded")
)

// Kind classifies a state by how the runner should treat it.
type Kind int

// State kinds.
const (
	// KindTransition states advance immediately.
	KindTransition Kind = iota
	// KindPolling states wait a jittered countdown between polls.
	KindPolling
	// KindRetry states wait a countdown before re-attempting.
	KindRetry
	// KindTerminal states stop the batch.
	KindTerminal
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindTransition:
		return "transition"
	case KindPolling:
		return "polling"
	case KindRetry:
		return "retry"
	case KindTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// State is one immutable state variant. Advancing a counter produces a
// new value; persisted records carry the status tag as discriminator.
type State interface {
	// Status returns the persisted discriminator tag.
	Status() string
	// Kind classifies the state for the runner.
	Kind() Kind
	// Countdown is how long the runner sleeps before the next attempt.
	// Zero for transition and terminal states.
	Countdown() time.Duration
}

// Counter is implemented by polling and retry states: re-entering the
// same concrete state bumps its attempt counter in place.
type Counter interface {
	State
	// Attempts returns the current counter value.
	Attempts() int
	// Bump returns a copy with the counter incremented.
	Bump() State
}

// EncodeState serializes a state with its status tag injected, producing
// the record shape the parsers accept back.
func EncodeState(s State) (json.RawMessage, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state %s: %w", s.Status(), err)
	}

	var fields map[string]any

	unmarshalErr := json.Unmarshal(raw, &fields)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("encode state %s: %w", s.Status(), unmarshalErr)
	}

	fields["status"] = s.Status()

	out, marshalErr := json.Marshal(fields)
	if marshalErr != nil {
		return nil, fmt.Errorf("encode state %s: %w", s.Status(), marshalErr)
	}

	return out, nil
}

// parserFunc maps a persisted record to the concrete variant for one category.
type parserFunc func(status string, raw json.RawMessage) (State, error)

// parsers is the category-keyed parser registry.
var parsers = map[Category]parserFunc{
	CategoryMemories:   parseMemoriesState,
	CategoryRefinement: parseRefinementState,
}

// ParseState decodes a persisted state record for the given category.
// An unknown category or status tag is fatal.
func ParseState(category Category, raw json.RawMessage) (State, error) {
	parser, ok := parsers[category]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	var env struct {
		Status string `json:"status"`
	}

	err := json.Unmarshal(raw, &env)
	if err != nil {
		return nil, fmt.Errorf("parse state record: %w", err)
	}

	return parser(env.Status, raw)
}

// decodeState unmarshals a record into a concrete variant.
func decodeState[S State](raw json.RawMessage) (State, error) {
	var s S

	err := json.Unmarshal(raw, &s)
	if err != nil {
		return nil, fmt.Errorf("decode %T: %w", s, err)
	}

	return s, nil
}

// jittered returns base plus uniform jitter in [-pollJitter, +pollJitter],
// clamped to zero.
func jittered(base time.Duration) time.Duration {
	span := int64(2*pollJitter) + 1

	d := base + time.Duration(rand.Int64N(span)) - pollJitter
	if d < 0 {
		return 0
	}

	return d
}
