package batch_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestry-ai/tapestry/internal/batch"
	"github.com/tapestry-ai/tapestry/internal/model"
	"github.com/tapestry-ai/tapestry/internal/store"
)

func parseCurrent(t *testing.T, st *store.Store, batchID string) (batch.State, *model.Batch) {
	t.Helper()

	b, err := st.GetBatch(context.Background(), batchID)
	require.NoError(t, err)

	raw, err := b.CurrentState()
	require.NoError(t, err)

	state, err := batch.ParseState(batch.Category(b.Category), raw)
	require.NoError(t, err)

	return state, b
}

func TestTryAdvanceState_PollBumpKeepsStackLength(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	pending := batch.GenerationPending{JobKey: "jk", PollCount: 3, SubmittedAt: time.Now().UTC()}
	b := createBatch(t, st, batch.CategoryMemories, pending)

	trans := &stubTransitioner{
		category: batch.CategoryMemories,
		fn: func(_ context.Context, _ *model.Batch, current batch.State) (batch.State, batch.SideEffect, error) {
			// Job still running: hand the unchanged state back.
			return current, nil, nil
		},
	}

	m := batch.NewManager(st, trans, b.ID, nil)

	inst, err := m.TryAdvanceState(context.Background())
	require.NoError(t, err)
	assert.False(t, inst.Stop)
	assert.Positive(t, inst.Countdown)

	state, fresh := parseCurrent(t, st, b.ID)
	require.Len(t, fresh.States, 1)
	assert.Equal(t, 4, state.(batch.GenerationPending).PollCount)
	assert.Equal(t, "jk", state.(batch.GenerationPending).JobKey)
}

func TestTryAdvanceState_TransitionPush(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	b := createBatch(t, st, batch.CategoryMemories, batch.Created{Timestamp: time.Now().UTC()})

	trans := &stubTransitioner{
		category: batch.CategoryMemories,
		fn: func(_ context.Context, _ *model.Batch, _ batch.State) (batch.State, batch.SideEffect, error) {
			return batch.GenerationPending{JobKey: "jk", SubmittedAt: time.Now().UTC()}, nil, nil
		},
	}

	m := batch.NewManager(st, trans, b.ID, nil)

	inst, err := m.TryAdvanceState(context.Background())
	require.NoError(t, err)
	assert.False(t, inst.Stop)

	state, fresh := parseCurrent(t, st, b.ID)
	require.Len(t, fresh.States, 2)
	assert.Equal(t, batch.StatusMemoryGeneratePending, state.Status())

	prev, parseErr := batch.ParseState(batch.CategoryMemories, fresh.States[1])
	require.NoError(t, parseErr)
	assert.Equal(t, batch.StatusCreated, prev.Status())
}

func TestTryAdvanceState_PollCapProducesFailed(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	pending := batch.GenerationPending{JobKey: "jk", PollCount: batch.MaxPollAttempts - 1}
	b := createBatch(t, st, batch.CategoryMemories, pending)

	trans := &stubTransitioner{
		category: batch.CategoryMemories,
		fn: func(_ context.Context, _ *model.Batch, current batch.State) (batch.State, batch.SideEffect, error) {
			return current, nil, nil
		},
	}

	m := batch.NewManager(st, trans, b.ID, nil)

	inst, err := m.TryAdvanceState(context.Background())
	require.NoError(t, err)
	assert.True(t, inst.Stop)

	state, _ := parseCurrent(t, st, b.ID)
	failed := state.(batch.Failed)
	assert.Contains(t, failed.ErrorMessage, "poll attempts exceeded")
	assert.Equal(t, batch.StatusMemoryGeneratePending, failed.PreviousStatus)
}

func TestTryAdvanceState_TransitionErrorCapturedAsFailed(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	b := createBatch(t, st, batch.CategoryMemories, batch.Created{Timestamp: time.Now().UTC()})

	trans := &stubTransitioner{
		category: batch.CategoryMemories,
		fn: func(_ context.Context, _ *model.Batch, _ batch.State) (batch.State, batch.SideEffect, error) {
			return nil, nil, errors.New("job expired")
		},
	}

	m := batch.NewManager(st, trans, b.ID, nil)

	inst, err := m.TryAdvanceState(context.Background())
	require.NoError(t, err)
	assert.True(t, inst.Stop)

	state, fresh := parseCurrent(t, st, b.ID)
	failed := state.(batch.Failed)
	assert.Equal(t, "job expired", failed.ErrorMessage)
	assert.Equal(t, batch.StatusCreated, failed.PreviousStatus)
	assert.Len(t, fresh.States, 2)
}

func TestTryAdvanceState_NilNextStops(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	b := createBatch(t, st, batch.CategoryMemories, batch.Created{Timestamp: time.Now().UTC()})

	trans := &stubTransitioner{
		category: batch.CategoryMemories,
		fn: func(_ context.Context, _ *model.Batch, _ batch.State) (batch.State, batch.SideEffect, error) {
			return nil, nil, nil
		},
	}

	m := batch.NewManager(st, trans, b.ID, nil)

	inst, err := m.TryAdvanceState(context.Background())
	require.NoError(t, err)
	assert.True(t, inst.Stop)

	_, fresh := parseCurrent(t, st, b.ID)
	assert.Len(t, fresh.States, 1)
}

func TestTryAdvanceState_TerminalStopsWithoutTransition(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	b := createBatch(t, st, batch.CategoryMemories, batch.Complete{CompletedAt: time.Now().UTC()})

	trans := &stubTransitioner{
		category: batch.CategoryMemories,
		fn: func(_ context.Context, _ *model.Batch, _ batch.State) (batch.State, batch.SideEffect, error) {
			t.Fatal("transition must not run on a terminal state")

			return nil, nil, nil
		},
	}

	m := batch.NewManager(st, trans, b.ID, nil)

	inst, err := m.TryAdvanceState(context.Background())
	require.NoError(t, err)
	assert.True(t, inst.Stop)
	assert.Zero(t, trans.calls)
}

func TestTryAdvanceState_MissingBatchStops(t *testing.T) {
	t.Parallel()

	st := openStore(t)

	trans := &stubTransitioner{
		category: batch.CategoryMemories,
		fn: func(_ context.Context, _ *model.Batch, _ batch.State) (batch.State, batch.SideEffect, error) {
			return nil, nil, nil
		},
	}

	m := batch.NewManager(st, trans, uuid.NewString(), nil)

	inst, err := m.TryAdvanceState(context.Background())
	require.NoError(t, err)
	assert.True(t, inst.Stop)
}

func TestTryAdvanceState_SideEffectCommitsWithState(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	b := createBatch(t, st, batch.CategoryMemories, batch.Created{Timestamp: time.Now().UTC()})

	memory := &model.Memory{
		ID:        uuid.NewString(),
		Content:   "coffee with Alice",
		FromDate:  date(t, "2024-01-01"),
		ToDate:    date(t, "2024-01-01"),
		GroupID:   "2024-01-01/2024-01-05",
		Status:    model.MemoryActive,
		CreatedAt: time.Now().UTC(),
	}

	trans := &stubTransitioner{
		category: batch.CategoryMemories,
		fn: func(_ context.Context, _ *model.Batch, _ batch.State) (batch.State, batch.SideEffect, error) {
			effect := func(ctx context.Context) error {
				return st.InsertMemories(ctx, []*model.Memory{memory})
			}

			return batch.GenerationComplete{CompletedAt: time.Now().UTC(), MemoriesCount: 1}, effect, nil
		},
	}

	m := batch.NewManager(st, trans, b.ID, nil)

	inst, err := m.TryAdvanceState(context.Background())
	require.NoError(t, err)
	assert.False(t, inst.Stop)
	assert.Zero(t, inst.Countdown)

	state, _ := parseCurrent(t, st, b.ID)
	assert.Equal(t, batch.StatusMemoryGenerateComplete, state.Status())

	stored, getErr := st.GetMemory(context.Background(), memory.ID)
	require.NoError(t, getErr)
	assert.Equal(t, "coffee with Alice", stored.Content)
}

func TestTryAdvanceState_SideEffectErrorRollsBackAndFails(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	b := createBatch(t, st, batch.CategoryMemories, batch.Created{Timestamp: time.Now().UTC()})

	memoryID := uuid.NewString()

	trans := &stubTransitioner{
		category: batch.CategoryMemories,
		fn: func(_ context.Context, _ *model.Batch, _ batch.State) (batch.State, batch.SideEffect, error) {
			effect := func(ctx context.Context) error {
				insertErr := st.InsertMemories(ctx, []*model.Memory{{
					ID:       memoryID,
					Content:  "half-written",
					FromDate: date(t, "2024-01-01"),
					ToDate:   date(t, "2024-01-01"),
					Status:   model.MemoryActive,
				}})
				if insertErr != nil {
					return insertErr
				}

				return errors.New("write aborted")
			}

			return batch.GenerationComplete{CompletedAt: time.Now().UTC()}, effect, nil
		},
	}

	m := batch.NewManager(st, trans, b.ID, nil)

	inst, err := m.TryAdvanceState(context.Background())
	require.NoError(t, err)
	assert.True(t, inst.Stop)

	state, _ := parseCurrent(t, st, b.ID)
	assert.Equal(t, batch.StatusFailed, state.Status())

	// The insert rolled back with the aborted transaction.
	_, getErr := st.GetMemory(context.Background(), memoryID)
	assert.ErrorIs(t, getErr, store.ErrNotFound)
}

func TestNewManagerFor_UnknownCategory(t *testing.T) {
	t.Parallel()

	st := openStore(t)

	b := &model.Batch{ID: uuid.NewString(), Category: "profiles", States: []json.RawMessage{json.RawMessage(`{"status":"CREATED"}`)}}

	_, err := batch.NewManagerFor(st, b, map[batch.Category]batch.Transitioner{}, nil)
	assert.ErrorIs(t, err, batch.ErrUnknownCategory)
}
