package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/tapestry-ai/tapestry/internal/observability"
)

func logLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	return record
}

func TestTracingHandler_ServiceAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(observability.NewTracingHandler(inner, "tapestry", "dev"))

	logger.Info("hello")

	record := logLine(t, &buf)
	assert.Equal(t, "tapestry", record["service"])
	assert.Equal(t, "dev", record["env"])
	assert.NotContains(t, record, "trace_id")
}

func TestTracingHandler_InjectsTraceContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(observability.NewTracingHandler(inner, "tapestry", ""))

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01},
		SpanID:     trace.SpanID{0x02},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.InfoContext(ctx, "hello")

	record := logLine(t, &buf)
	assert.Equal(t, sc.TraceID().String(), record["trace_id"])
	assert.Equal(t, sc.SpanID().String(), record["span_id"])
	assert.NotContains(t, record, "env")
}

func TestTracingHandler_GroupsKeepServiceAtTopLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(observability.NewTracingHandler(inner, "tapestry", "dev"))

	logger.WithGroup("batch").Info("hello", "id", "b-1")

	record := logLine(t, &buf)
	assert.Equal(t, "tapestry", record["service"])

	group, ok := record["batch"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "b-1", group["id"])
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, observability.ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, observability.ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, observability.ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, observability.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, observability.ParseLevel("chatty"))
}
