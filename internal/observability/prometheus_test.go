package observability_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestry-ai/tapestry/internal/observability"
)

func TestPrometheusHandler_ServesScrapes(t *testing.T) {
	t.Parallel()

	mp, handler, err := observability.PrometheusHandler()
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, mp.Shutdown(context.Background()))
	})

	metrics, err := observability.NewOrchestratorMetrics(mp.Meter("test"))
	require.NoError(t, err)

	metrics.RecordPoll(context.Background(), "memories")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "tapestry_polls_total")
}

func TestPrometheusHandler_IndependentRegistries(t *testing.T) {
	t.Parallel()

	mp1, _, err := observability.PrometheusHandler()
	require.NoError(t, err)

	mp2, _, err := observability.PrometheusHandler()
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, mp1.Shutdown(context.Background()))
		require.NoError(t, mp2.Shutdown(context.Background()))
	})
}
