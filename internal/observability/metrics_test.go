package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	noopmetric "go.opentelemetry.io/otel/metric/noop"

	"github.com/tapestry-ai/tapestry/internal/observability"
)

func TestNewOrchestratorMetrics(t *testing.T) {
	t.Parallel()

	meter := noopmetric.NewMeterProvider().Meter("test")

	metrics, err := observability.NewOrchestratorMetrics(meter)
	require.NoError(t, err)
	require.NotNil(t, metrics)

	ctx := context.Background()

	metrics.RecordTransition(ctx, "memories", observability.OutcomeAdvanced, 50*time.Millisecond)
	metrics.RecordPoll(ctx, "memories")
	metrics.AddMemoriesCreated(ctx, 3)
	metrics.AddMemoriesSuperseded(ctx, 2)

	done := metrics.TrackBatch(ctx, "refinement")
	done()
}

func TestOrchestratorMetrics_NilIsInert(t *testing.T) {
	t.Parallel()

	var metrics *observability.OrchestratorMetrics

	ctx := context.Background()

	metrics.RecordTransition(ctx, "memories", observability.OutcomeError, time.Second)
	metrics.RecordPoll(ctx, "memories")
	metrics.AddMemoriesCreated(ctx, 1)
	metrics.AddMemoriesSuperseded(ctx, 1)

	done := metrics.TrackBatch(ctx, "memories")
	assert.NotNil(t, done)
	done()
}
