package grouper_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestry-ai/tapestry/internal/grouper"
	"github.com/tapestry-ai/tapestry/internal/model"
)

func thread(asat string) *model.Thread {
	t, err := model.ParseDate(asat)
	if err != nil {
		panic(err)
	}

	return &model.Thread{
		ID:      uuid.NewString(),
		AsAt:    t,
		Payload: []byte(`{}`),
	}
}

func groupIDs(groups []model.ThreadGroup) []string {
	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.GroupID
	}

	return ids
}

func TestNewWindowGrouper_RejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := grouper.NewWindowGrouper(grouper.WindowConfig{WindowDays: 0})
	assert.ErrorIs(t, err, grouper.ErrWindowDays)

	// overlap == window must be rejected: the step would be zero.
	_, err = grouper.NewWindowGrouper(grouper.WindowConfig{WindowDays: 5, OverlapDays: 5})
	assert.ErrorIs(t, err, grouper.ErrOverlapDays)

	_, err = grouper.NewWindowGrouper(grouper.WindowConfig{WindowDays: 5, OverlapDays: 6})
	assert.ErrorIs(t, err, grouper.ErrOverlapDays)
}

func TestWindowGrouper_EmptyInput(t *testing.T) {
	t.Parallel()

	g, err := grouper.NewWindowGrouper(grouper.WindowConfig{WindowDays: 5, OverlapDays: 1})
	require.NoError(t, err)

	groups, err := g.Group(nil)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestWindowGrouper_SingleWindow(t *testing.T) {
	t.Parallel()

	g, err := grouper.NewWindowGrouper(grouper.WindowConfig{WindowDays: 5, OverlapDays: 1})
	require.NoError(t, err)

	threads := []*model.Thread{
		thread("2024-01-01"),
		thread("2024-01-03"),
		thread("2024-01-05"),
	}

	groups, err := g.Group(threads)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	assert.Equal(t, "2024-01-01/2024-01-05", groups[0].GroupID)
	assert.Len(t, groups[0].Threads, 3)
}

func TestWindowGrouper_TwoOverlappingWindows(t *testing.T) {
	t.Parallel()

	g, err := grouper.NewWindowGrouper(grouper.WindowConfig{WindowDays: 5, OverlapDays: 1})
	require.NoError(t, err)

	t1 := thread("2024-01-01")
	t2 := thread("2024-01-05")
	t3 := thread("2024-01-06")
	t4 := thread("2024-01-09")

	groups, err := g.Group([]*model.Thread{t1, t2, t3, t4})
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, []string{"2024-01-01/2024-01-05", "2024-01-05/2024-01-09"}, groupIDs(groups))

	first, second := groups[0], groups[1]
	assert.Equal(t, []*model.Thread{t1, t2}, first.Threads)
	assert.Equal(t, []*model.Thread{t2, t3, t4}, second.Threads)

	// The boundary thread appears in both windows.
	assert.Contains(t, first.Threads, t2)
	assert.Contains(t, second.Threads, t2)
}

func TestWindowGrouper_OmitsEmptyWindows(t *testing.T) {
	t.Parallel()

	g, err := grouper.NewWindowGrouper(grouper.WindowConfig{WindowDays: 3, OverlapDays: 0})
	require.NoError(t, err)

	groups, err := g.Group([]*model.Thread{
		thread("2024-01-01"),
		thread("2024-01-20"),
	})
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, "2024-01-01/2024-01-03", groups[0].GroupID)
	assert.Equal(t, "2024-01-19/2024-01-21", groups[1].GroupID)
}

func TestWindowGrouper_Deterministic(t *testing.T) {
	t.Parallel()

	g, err := grouper.NewWindowGrouper(grouper.WindowConfig{WindowDays: 7, OverlapDays: 2})
	require.NoError(t, err)

	threads := []*model.Thread{
		thread("2024-03-10"),
		thread("2024-03-01"),
		thread("2024-03-05"),
		thread("2024-03-22"),
	}

	first, err := g.Group(threads)
	require.NoError(t, err)

	for range 5 {
		again, groupErr := g.Group(threads)
		require.NoError(t, groupErr)
		assert.Equal(t, first, again)
	}
}

func TestWindowGrouper_TimeOfDayIgnored(t *testing.T) {
	t.Parallel()

	g, err := grouper.NewWindowGrouper(grouper.WindowConfig{WindowDays: 2, OverlapDays: 0})
	require.NoError(t, err)

	late := &model.Thread{
		ID:      uuid.NewString(),
		AsAt:    time.Date(2024, 1, 2, 23, 59, 0, 0, time.UTC),
		Payload: []byte(`{}`),
	}

	groups, err := g.Group([]*model.Thread{thread("2024-01-01"), late})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Threads, 2)
}
