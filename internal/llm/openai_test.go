package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestry-ai/tapestry/internal/llm"
)

func newModelServer(t *testing.T, handler http.HandlerFunc) *llm.HTTPModel {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return llm.NewHTTPModel(llm.ModelConfig{
		BaseURL:         srv.URL,
		APIKey:          "test-key",
		CompletionModel: "test-completion",
		EmbeddingModel:  "test-embedding",
	})
}

func TestHTTPModel_Complete(t *testing.T) {
	t.Parallel()

	model := newModelServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-completion", req["model"])
		assert.NotNil(t, req["response_format"])

		_, err := w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "{\"memories\": []}"}}]}`))
		require.NoError(t, err)
	})

	result, err := model.Complete(context.Background(), "summarize", json.RawMessage(`{"type": "object"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"memories": []}`, string(result))
}

func TestHTTPModel_Embed(t *testing.T) {
	t.Parallel()

	model := newModelServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-embedding", req["model"])

		_, err := w.Write([]byte(`{"data": [{"embedding": [0.1, 0.2, 0.3]}]}`))
		require.NoError(t, err)
	})

	vec, err := model.Embed(context.Background(), "coffee with Alice")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
}

func TestHTTPModel_APIError(t *testing.T) {
	t.Parallel()

	model := newModelServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := model.Complete(context.Background(), "summarize", nil)
	require.ErrorIs(t, err, llm.ErrAPIStatus)
	assert.Contains(t, err.Error(), "429")
}

func TestHTTPModel_EmptyChoices(t *testing.T) {
	t.Parallel()

	model := newModelServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, err := w.Write([]byte(`{"choices": []}`))
		require.NoError(t, err)
	})

	_, err := model.Complete(context.Background(), "summarize", nil)
	assert.ErrorIs(t, err, llm.ErrAPIStatus)
}
