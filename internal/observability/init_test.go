package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestry-ai/tapestry/internal/observability"
)

func TestInit_NoEndpointUsesNoopProviders(t *testing.T) {
	providers, err := observability.Init(observability.DefaultConfig())
	require.NoError(t, err)

	require.NotNil(t, providers.Tracer)
	require.NotNil(t, providers.Meter)
	require.NotNil(t, providers.Logger)

	// No-op spans are non-recording.
	_, span := providers.Tracer.Start(context.Background(), "op")
	assert.False(t, span.IsRecording())
	span.End()

	require.NoError(t, providers.Shutdown(context.Background()))
}

func TestParseOTLPHeaders(t *testing.T) {
	t.Parallel()

	assert.Nil(t, observability.ParseOTLPHeaders(""))
	assert.Nil(t, observability.ParseOTLPHeaders("garbage"))

	headers := observability.ParseOTLPHeaders("a=1, b = 2")
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, headers)
}
