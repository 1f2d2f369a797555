package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricTransitionsTotal   = "tapestry.transitions.total"
	metricTransitionDuration = "tapestry.transition.duration.seconds"
	metricPollsTotal         = "tapestry.polls.total"
	metricBatchesInFlight    = "tapestry.batches.inflight"
	metricMemoriesCreated    = "tapestry.memories.created.total"
	metricMemoriesSuperseded = "tapestry.memories.superseded.total"

	attrCategory = "category"
	attrOutcome  = "outcome"
)

// Transition outcomes recorded on the transition counter.
const (
	OutcomeAdvanced = "advanced"
	OutcomeStopped  = "stopped"
	OutcomeError    = "error"
)

// transitionBucketBoundaries covers 10ms local bookkeeping up to multi-minute
// provider round trips.
var transitionBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// OrchestratorMetrics holds the OTel instruments for batch orchestration.
// A nil *OrchestratorMetrics is valid and records nothing.
type OrchestratorMetrics struct {
	transitionsTotal   metric.Int64Counter
	transitionDuration metric.Float64Histogram
	pollsTotal         metric.Int64Counter
	batchesInFlight    metric.Int64UpDownCounter
	memoriesCreated    metric.Int64Counter
	memoriesSuperseded metric.Int64Counter
}

// NewOrchestratorMetrics creates orchestration instruments from the given meter.
func NewOrchestratorMetrics(mt metric.Meter) (*OrchestratorMetrics, error) {
	transitions, err := mt.Int64Counter(metricTransitionsTotal,
		metric.WithDescription("Total number of batch state transitions attempted"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricTransitionsTotal, err)
	}

	duration, err := mt.Float64Histogram(metricTransitionDuration,
		metric.WithDescription("Batch state transition duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(transitionBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricTransitionDuration, err)
	}

	polls, err := mt.Int64Counter(metricPollsTotal,
		metric.WithDescription("Total number of pending-job polls"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricPollsTotal, err)
	}

	inflight, err := mt.Int64UpDownCounter(metricBatchesInFlight,
		metric.WithDescription("Number of batches currently being advanced"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricBatchesInFlight, err)
	}

	created, err := mt.Int64Counter(metricMemoriesCreated,
		metric.WithDescription("Total number of memories created"),
		metric.WithUnit("{memory}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricMemoriesCreated, err)
	}

	superseded, err := mt.Int64Counter(metricMemoriesSuperseded,
		metric.WithDescription("Total number of memories superseded by refinement"),
		metric.WithUnit("{memory}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricMemoriesSuperseded, err)
	}

	return &OrchestratorMetrics{
		transitionsTotal:   transitions,
		transitionDuration: duration,
		pollsTotal:         polls,
		batchesInFlight:    inflight,
		memoriesCreated:    created,
		memoriesSuperseded: superseded,
	}, nil
}

// RecordTransition records a completed transition attempt with its category,
// outcome, and duration.
func (om *OrchestratorMetrics) RecordTransition(ctx context.Context, category, outcome string, duration time.Duration) {
	if om == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrCategory, category),
		attribute.String(attrOutcome, outcome),
	)

	om.transitionsTotal.Add(ctx, 1, attrs)
	om.transitionDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordPoll records one pending-job poll for a category.
func (om *OrchestratorMetrics) RecordPoll(ctx context.Context, category string) {
	if om == nil {
		return
	}

	om.pollsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrCategory, category)))
}

// TrackBatch increments the in-flight gauge and returns a function to decrement it.
func (om *OrchestratorMetrics) TrackBatch(ctx context.Context, category string) func() {
	if om == nil {
		return func() {}
	}

	attrs := metric.WithAttributes(attribute.String(attrCategory, category))
	om.batchesInFlight.Add(ctx, 1, attrs)

	return func() {
		om.batchesInFlight.Add(ctx, -1, attrs)
	}
}

// AddMemoriesCreated records newly created memory rows.
func (om *OrchestratorMetrics) AddMemoriesCreated(ctx context.Context, n int64) {
	if om == nil || n == 0 {
		return
	}

	om.memoriesCreated.Add(ctx, n)
}

// AddMemoriesSuperseded records memory rows retired by refinement.
func (om *OrchestratorMetrics) AddMemoriesSuperseded(ctx context.Context, n int64) {
	if om == nil || n == 0 {
		return
	}

	om.memoriesSuperseded.Add(ctx, n)
}
