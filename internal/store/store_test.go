package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestry-ai/tapestry/internal/model"
	"github.com/tapestry-ai/tapestry/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "tapestry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

// embedding builds a valid fixed-dimension vector from leading components.
func embedding(vals ...float64) []float64 {
	vec := make([]float64, model.EmbeddingDim)
	copy(vec, vals)

	if len(vals) == 0 {
		vec[0] = 1
	}

	return vec
}

func date(s string) time.Time {
	t, err := model.ParseDate(s)
	if err != nil {
		panic(err)
	}

	return t
}

func newThread(interactionType, key string, asat time.Time) *model.Thread {
	return &model.Thread{
		ID:              uuid.NewString(),
		UniqueKey:       key,
		InteractionType: interactionType,
		Preview:         "preview " + key,
		Payload:         []byte(`{"k":"` + key + `"}`),
		Version:         "1",
		AsAt:            asat,
	}
}

func TestInsertThreads_Idempotent(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	rows := []*model.Thread{
		newThread("conversation", "conversation:aaaa", date("2024-01-01")),
		newThread("conversation", "conversation:bbbb", date("2024-01-02")),
	}

	inserted, err := s.InsertThreads(ctx, rows, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Same unique keys again: nothing inserted, store unchanged.
	again := []*model.Thread{
		newThread("conversation", "conversation:aaaa", date("2024-01-01")),
		newThread("conversation", "conversation:bbbb", date("2024-01-02")),
	}

	inserted, err = s.InsertThreads(ctx, again, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	count, err := s.CountThreads(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestInsertThreads_PartialDedup(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	_, err := s.InsertThreads(ctx, []*model.Thread{
		newThread("post", "post:1111", date("2024-02-01")),
	}, "task-1")
	require.NoError(t, err)

	inserted, err := s.InsertThreads(ctx, []*model.Thread{
		newThread("post", "post:1111", date("2024-02-01")),
		newThread("post", "post:2222", date("2024-02-02")),
	}, "task-2")
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
}

func TestAtomic_NestedReusesOuterTransaction(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	archive := &model.Archive{
		ID:        uuid.NewString(),
		Provider:  "chatgpt",
		Status:    model.ArchiveCreated,
		CreatedAt: time.Now().UTC(),
	}

	err := s.Atomic(ctx, func(ctx context.Context) error {
		createErr := s.CreateArchive(ctx, archive)
		if createErr != nil {
			return createErr
		}

		// Nested section sees the uncommitted row through the same tx.
		return s.Atomic(ctx, func(ctx context.Context) error {
			_, getErr := s.GetArchive(ctx, archive.ID)

			return getErr
		})
	})
	require.NoError(t, err)
}

func TestAtomic_RollbackOnError(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	sentinel := errors.New("abort")
	archiveID := uuid.NewString()

	err := s.Atomic(ctx, func(ctx context.Context) error {
		createErr := s.CreateArchive(ctx, &model.Archive{
			ID:       archiveID,
			Provider: "instagram",
			Status:   model.ArchiveCreated,
		})
		if createErr != nil {
			return createErr
		}

		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	_, getErr := s.GetArchive(ctx, archiveID)
	assert.ErrorIs(t, getErr, store.ErrNotFound)
}

func TestArchiveStatus_Monotonic(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	archive := &model.Archive{ID: uuid.NewString(), Status: model.ArchiveCreated}
	require.NoError(t, s.CreateArchive(ctx, archive))

	require.NoError(t, s.UpdateArchiveStatus(ctx, archive.ID, model.ArchiveCompleted))

	err := s.UpdateArchiveStatus(ctx, archive.ID, model.ArchiveFailed)
	assert.ErrorIs(t, err, store.ErrStatusTransition)
}

func TestCreateBatch_GetBatchGroups(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	early := newThread("conversation", "conversation:0001", date("2024-01-01"))
	late := newThread("conversation", "conversation:0002", date("2024-01-05"))
	other := newThread("conversation", "conversation:0003", date("2024-02-01"))

	_, err := s.InsertThreads(ctx, []*model.Thread{late, early, other}, "task-1")
	require.NoError(t, err)

	batch := &model.Batch{
		ID:          uuid.NewString(),
		BatchNumber: 1,
		Category:    "memories",
		States:      []json.RawMessage{json.RawMessage(`{"status":"CREATED"}`)},
		CreatedAt:   time.Now().UTC(),
	}

	groups := []model.ThreadGroup{
		{GroupID: "2024-02-01/2024-02-05", Threads: []*model.Thread{other}},
		{GroupID: "2024-01-01/2024-01-05", Threads: []*model.Thread{late, early}},
	}

	require.NoError(t, s.CreateBatch(ctx, batch, groups))

	got, err := s.GetBatchGroups(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Groups ordered by group id, members by asat.
	assert.Equal(t, "2024-01-01/2024-01-05", got[0].GroupID)
	assert.Equal(t, early.ID, got[0].Threads[0].ID)
	assert.Equal(t, late.ID, got[0].Threads[1].ID)
	assert.Equal(t, "2024-02-01/2024-02-05", got[1].GroupID)
}

func TestMemories_SearchByEmbedding(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	near := &model.Memory{
		ID: "near", Content: "near", Status: model.MemoryActive,
		FromDate: date("2024-01-01"), ToDate: date("2024-01-02"),
		Embedding: embedding(1, 0.1),
	}
	far := &model.Memory{
		ID: "far", Content: "far", Status: model.MemoryActive,
		FromDate: date("2024-01-03"), ToDate: date("2024-01-04"),
		Embedding: embedding(0.1, 1),
	}
	unembedded := &model.Memory{
		ID: "plain", Content: "plain", Status: model.MemoryActive,
		FromDate: date("2024-01-05"), ToDate: date("2024-01-06"),
	}

	require.NoError(t, s.InsertMemories(ctx, []*model.Memory{far, near, unembedded}))

	got, err := s.SearchMemories(ctx, embedding(1), time.Time{}, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ID)
	assert.Equal(t, "far", got[1].ID)
}

func TestMemories_SearchWithoutEmbeddingOrdersByRecency(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	older := &model.Memory{
		ID: "older", Status: model.MemoryActive,
		FromDate: date("2024-01-01"), ToDate: date("2024-01-02"),
	}
	newer := &model.Memory{
		ID: "newer", Status: model.MemoryActive,
		FromDate: date("2024-03-01"), ToDate: date("2024-03-02"),
	}

	require.NoError(t, s.InsertMemories(ctx, []*model.Memory{older, newer}))

	got, err := s.SearchMemories(ctx, nil, time.Time{}, time.Time{}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "newer", got[0].ID)
}

func TestMemories_EmbeddingDimensionRejected(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	bad := &model.Memory{
		ID: "bad", Status: model.MemoryActive,
		FromDate: date("2024-01-01"), ToDate: date("2024-01-01"),
		Embedding: []float64{1, 2, 3},
	}

	err := s.InsertMemories(ctx, []*model.Memory{bad})
	assert.ErrorIs(t, err, model.ErrEmbeddingDim)
}

func TestGetRefinableMemoryIDs(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertMemories(ctx, []*model.Memory{
		{ID: "seed", Status: model.MemoryActive, FromDate: date("2024-01-01"), ToDate: date("2024-01-01"), Embedding: embedding(1)},
		{ID: "no-embed", Status: model.MemoryActive, FromDate: date("2024-01-01"), ToDate: date("2024-01-01")},
		{ID: "superseded", Status: model.MemorySuperseded, FromDate: date("2024-01-01"), ToDate: date("2024-01-01"), Embedding: embedding(1)},
		{ID: "refined", Status: model.MemoryActive, FromDate: date("2024-01-01"), ToDate: date("2024-01-01"), Embedding: embedding(1), SourceMemoryIDs: []string{"seed"}},
	}))

	ids, err := s.GetRefinableMemoryIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"seed"}, ids)
}

func TestFindSimilarMemories_ProximityCutoff(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	seed := &model.Memory{
		ID: "seed", Status: model.MemoryActive,
		FromDate: date("2024-01-01"), ToDate: date("2024-01-05"),
		Embedding: embedding(1, 0.5),
	}

	// Identical direction but six months away: excluded by proximity.
	distant := &model.Memory{
		ID: "distant", Status: model.MemoryActive,
		FromDate: date("2024-06-01"), ToDate: date("2024-06-05"),
		Embedding: embedding(1, 0.5),
	}

	nearby := &model.Memory{
		ID: "nearby", Status: model.MemoryActive,
		FromDate: date("2024-01-03"), ToDate: date("2024-01-07"),
		Embedding: embedding(1, 0.4),
	}

	require.NoError(t, s.InsertMemories(ctx, []*model.Memory{seed, distant, nearby}))

	ids, err := s.FindSimilarMemories(ctx, "seed", 7, 0.4, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"nearby"}, ids)
}

func TestFindSimilarMemories_SeedWithoutEmbedding(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertMemories(ctx, []*model.Memory{
		{ID: "seed", Status: model.MemoryActive, FromDate: date("2024-01-01"), ToDate: date("2024-01-01")},
	}))

	ids, err := s.FindSimilarMemories(ctx, "seed", 7, 0.4, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestProfiles_UpsertAndLatest(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	first := &model.Profile{ID: "p1", Content: "v1", GeneratedAt: date("2024-01-01"), MemoryCount: 3}
	second := &model.Profile{ID: "p2", Content: "v2", GeneratedAt: date("2024-02-01"), MemoryCount: 5}

	require.NoError(t, s.SaveProfile(ctx, first))
	require.NoError(t, s.SaveProfile(ctx, second))

	latest, err := s.GetLatestProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p2", latest.ID)

	// Upsert by id replaces content.
	second.Content = "v2-amended"
	require.NoError(t, s.SaveProfile(ctx, second))

	latest, err = s.GetLatestProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2-amended", latest.Content)
}

func TestRunLock_MutualExclusionAndStaleness(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	runID, ok, err := s.AcquireRunLock(ctx, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.AcquireRunLock(ctx, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.ReleaseRunLock(ctx, runID))

	_, ok, err = s.AcquireRunLock(ctx, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	// A zero staleness treats any holder as expired.
	_, ok, err = s.AcquireRunLock(ctx, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}
