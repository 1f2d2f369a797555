package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestry-ai/tapestry/internal/model"
)

func TestUniqueKey_Format(t *testing.T) {
	t.Parallel()

	key, err := model.UniqueKey("conversation", map[string]any{"id": "c1"})
	require.NoError(t, err)

	parts := strings.SplitN(key, ":", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, "conversation", parts[0])
	assert.Len(t, parts[1], 16)
	assert.Regexp(t, "^[0-9a-f]{16}$", parts[1])
}

func TestUniqueKey_KeyOrderIrrelevant(t *testing.T) {
	t.Parallel()

	a, err := model.UniqueKey("post", map[string]any{"x": 1, "y": 2})
	require.NoError(t, err)

	b, err := model.UniqueKey("post", map[string]any{"y": 2, "x": 1})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestUniqueKey_DiffersByType(t *testing.T) {
	t.Parallel()

	payload := map[string]any{"id": "same"}

	a, err := model.UniqueKey("conversation", payload)
	require.NoError(t, err)

	b, err := model.UniqueKey("post", payload)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestUniqueKey_DiffersByPayload(t *testing.T) {
	t.Parallel()

	a, err := model.UniqueKey("conversation", map[string]any{"id": "c1"})
	require.NoError(t, err)

	b, err := model.UniqueKey("conversation", map[string]any{"id": "c2"})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}
