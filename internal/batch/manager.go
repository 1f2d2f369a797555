package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tapestry-ai/tapestry/internal/model"
	"github.com/tapestry-ai/tapestry/internal/store"
)

// Instruction tells the runner what to do after one advancement attempt.
type Instruction struct {
	// Stop reports that the batch reached a terminal state (or vanished)
	// and its task should end.
	Stop bool
	// Countdown is how long to sleep before the next attempt.
	Countdown time.Duration
}

// SideEffect is a store mutation produced by a transition. It runs inside
// the atomic section that persists the new state, so the rows and the
// state land in one transaction.
type SideEffect func(ctx context.Context) error

// Transitioner supplies the category-specific transition function.
// Transition may talk to the LLM client (submit or poll); it runs outside
// any store transaction, so a slow poll never holds a write lock. Store
// writes belong in the returned SideEffect. Returning a nil next state
// stops the batch without a new transition.
type Transitioner interface {
	Category() Category
	Transition(ctx context.Context, b *model.Batch, current State) (State, SideEffect, error)
}

// Manager drives one batch's state machine. TryAdvanceState performs a
// single transition attempt; the runner loops it until told to stop.
type Manager struct {
	store   *store.Store
	trans   Transitioner
	batchID string
	logger  *slog.Logger
}

// NewManager creates a manager for one batch.
func NewManager(st *store.Store, trans Transitioner, batchID string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		store:   st,
		trans:   trans,
		batchID: batchID,
		logger:  logger.With(slog.String("batch_id", batchID), slog.String("category", string(trans.Category()))),
	}
}

// NewManagerFor selects the registered transitioner for the batch's
// category. A batch with no registered category is a configuration
// error, surfaced before any batch runs.
func NewManagerFor(st *store.Store, b *model.Batch, registry map[Category]Transitioner, logger *slog.Logger) (*Manager, error) {
	trans, ok := registry[Category(b.Category)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, b.Category)
	}

	return NewManager(st, trans, b.ID, logger), nil
}

// BatchID returns the id of the managed batch.
func (m *Manager) BatchID() string {
	return m.batchID
}

// Category returns the pipeline category of the managed batch.
func (m *Manager) Category() Category {
	return m.trans.Category()
}

// TryAdvanceState performs one transition attempt. A transition error is
// captured as a FAILED state in its own atomic section and reported as a
// stop instruction, not as an error; the returned error is reserved for
// failures persisting that capture.
func (m *Manager) TryAdvanceState(ctx context.Context) (Instruction, error) {
	b, err := m.store.GetBatch(ctx, m.batchID)
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("batch disappeared, stopping")

		return Instruction{Stop: true}, nil
	}

	if err != nil {
		return Instruction{Stop: true}, fmt.Errorf("read batch: %w", err)
	}

	entryStatus := b.CurrentStatus()

	current, parseErr := currentState(b)
	if parseErr != nil {
		return m.fail(ctx, entryStatus, parseErr)
	}

	if current.Kind() == KindTerminal {
		return Instruction{Stop: true}, nil
	}

	// LLM submit/poll happens here, outside any store transaction.
	next, effect, transErr := m.trans.Transition(ctx, b, current)
	if transErr != nil {
		return m.fail(ctx, entryStatus, transErr)
	}

	if next == nil {
		return Instruction{Stop: true}, nil
	}

	committed := next

	commitErr := m.store.Atomic(ctx, func(ctx context.Context) error {
		fresh, readErr := m.store.GetBatch(ctx, m.batchID)
		if readErr != nil {
			return readErr
		}

		cur, curErr := currentState(fresh)
		if curErr != nil {
			return curErr
		}

		pushed, bumpErr := m.bumped(cur, next)
		if bumpErr != nil {
			return bumpErr
		}

		committed = pushed

		encoded, encErr := EncodeState(pushed)
		if encErr != nil {
			return encErr
		}

		if effect != nil {
			effectErr := effect(ctx)
			if effectErr != nil {
				return effectErr
			}
		}

		pushState(fresh, encoded, pushed.Status() == cur.Status())

		return m.store.UpdateBatch(ctx, fresh)
	})
	if commitErr != nil {
		return m.fail(ctx, entryStatus, commitErr)
	}

	m.logger.Debug("state advanced",
		slog.String("from", entryStatus),
		slog.String("to", committed.Status()))

	return instructionFor(committed), nil
}

// bumped applies the same-kind counter rules: re-entering the polling or
// retry state the batch is already in increments its counter, failing the
// batch past the cap. The concrete status tag is the discriminator; two
// distinct pending variants are never the same kind.
func (m *Manager) bumped(cur, next State) (State, error) {
	if next.Status() != cur.Status() {
		return next, nil
	}

	counter, ok := cur.(Counter)
	if !ok {
		return next, nil
	}

	bumped := counter.Bump()
	attempts := bumped.(Counter).Attempts()

	switch next.Kind() {
	case KindPolling:
		if attempts >= MaxPollAttempts {
			return nil, fmt.Errorf("%w: %s at %d", ErrPollAttemptsExceeded, next.Status(), attempts)
		}

		m.logger.Info("polling attempt",
			slog.String("status", next.Status()),
			slog.Int("attempt", attempts))
	case KindRetry:
		if attempts > MaxRetryAttempts {
			return nil, fmt.Errorf("%w: %s at %d", ErrRetryAttemptsExceeded, next.Status(), attempts)
		}
	}

	return bumped, nil
}

// fail captures a transition error as a FAILED state in a fresh atomic
// section, preserving the status the batch had at entry.
func (m *Manager) fail(ctx context.Context, previousStatus string, cause error) (Instruction, error) {
	m.logger.Error("transition failed",
		slog.String("previous_status", previousStatus),
		slog.String("error", cause.Error()))

	persistErr := m.store.Atomic(ctx, func(ctx context.Context) error {
		fresh, readErr := m.store.GetBatch(ctx, m.batchID)
		if readErr != nil {
			return readErr
		}

		encoded, encErr := EncodeState(Failed{
			ErrorMessage:   cause.Error(),
			FailedAt:       time.Now().UTC(),
			PreviousStatus: previousStatus,
		})
		if encErr != nil {
			return encErr
		}

		pushState(fresh, encoded, fresh.CurrentStatus() == StatusFailed)

		return m.store.UpdateBatch(ctx, fresh)
	})
	if persistErr != nil {
		return Instruction{Stop: true}, fmt.Errorf("persist failed state: %w", errors.Join(cause, persistErr))
	}

	return Instruction{Stop: true}, nil
}

// currentState parses the state at the top of the batch's stack.
func currentState(b *model.Batch) (State, error) {
	raw, err := b.CurrentState()
	if err != nil {
		return nil, err
	}

	return ParseState(Category(b.Category), raw)
}

// pushState applies the stack semantics: a same-tag push replaces the
// head in place (polling/retry bump), anything else prepends. This keeps
// polling history to a single head entry while preserving transitions
// for audit.
func pushState(b *model.Batch, encoded json.RawMessage, sameTag bool) {
	if sameTag && len(b.States) > 0 {
		b.States[0] = encoded

		return
	}

	b.States = append([]json.RawMessage{encoded}, b.States...)
}

// instructionFor converts the committed state into a runner instruction.
func instructionFor(s State) Instruction {
	switch s.Kind() {
	case KindTerminal:
		return Instruction{Stop: true}
	case KindPolling, KindRetry:
		return Instruction{Countdown: s.Countdown()}
	default:
		return Instruction{}
	}
}
