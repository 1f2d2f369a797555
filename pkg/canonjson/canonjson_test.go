package canonjson_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestry-ai/tapestry/pkg/canonjson"
)

func TestMarshal_SortsKeys(t *testing.T) {
	t.Parallel()

	out, err := canonjson.Marshal(map[string]any{"b": 2, "a": 1, "c": 3})
	require.NoError(t, err)

	assert.Equal(t, `{"a":1,"b":2,"c":3}`, string(out))
}

func TestMarshal_NestedObjects(t *testing.T) {
	t.Parallel()

	out, err := canonjson.Marshal(map[string]any{
		"outer": map[string]any{"z": true, "a": nil},
		"list":  []any{3, 2, 1},
	})
	require.NoError(t, err)

	assert.Equal(t, `{"list":[3,2,1],"outer":{"a":null,"z":true}}`, string(out))
}

func TestMarshal_NonASCIIUnescaped(t *testing.T) {
	t.Parallel()

	out, err := canonjson.Marshal(map[string]any{"msg": "café ☕"})
	require.NoError(t, err)

	assert.Equal(t, "{\"msg\":\"café ☕\"}", string(out))
}

func TestMarshal_NoHTMLEscaping(t *testing.T) {
	t.Parallel()

	out, err := canonjson.Marshal(map[string]any{"html": "<a>&</a>"})
	require.NoError(t, err)

	assert.Equal(t, `{"html":"<a>&</a>"}`, string(out))
}

func TestMarshal_StructFieldOrderIrrelevant(t *testing.T) {
	t.Parallel()

	type one struct {
		B string `json:"b"`
		A string `json:"a"`
	}

	type two struct {
		A string `json:"a"`
		B string `json:"b"`
	}

	outOne, err := canonjson.Marshal(one{A: "x", B: "y"})
	require.NoError(t, err)

	outTwo, err := canonjson.Marshal(two{A: "x", B: "y"})
	require.NoError(t, err)

	assert.Equal(t, string(outOne), string(outTwo))
}

func TestMarshal_Deterministic(t *testing.T) {
	t.Parallel()

	payload := map[string]any{
		"mapping":  map[string]any{"k1": "v1", "k2": "v2", "k3": "v3"},
		"messages": []any{map[string]any{"role": "user", "text": "hi"}},
	}

	first, err := canonjson.Marshal(payload)
	require.NoError(t, err)

	for range 10 {
		again, marshalErr := canonjson.Marshal(payload)
		require.NoError(t, marshalErr)
		assert.Equal(t, string(first), string(again))
	}
}

func TestMarshal_IntegersKeepLiteralForm(t *testing.T) {
	t.Parallel()

	out, err := canonjson.Marshal(map[string]any{"big": int64(9007199254740993)})
	require.NoError(t, err)

	assert.Equal(t, `{"big":9007199254740993}`, string(out))
}
