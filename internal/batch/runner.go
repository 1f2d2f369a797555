package batch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tapestry-ai/tapestry/internal/observability"
)

// ErrRunRejected reports that the admission policy declined the run.
var ErrRunRejected = errors.New("run rejected by admission policy")

// Runner drives batch state machines: one goroutine per batch, each
// looping try-advance / sleep until its manager says stop. A batch
// failure is captured in its own FAILED state and never cancels
// siblings.
type Runner struct {
	logger      *slog.Logger
	concurrency int

	// Metrics, when set, receives orchestration instruments. A nil
	// value records nothing.
	Metrics *observability.OrchestratorMetrics
}

// NewRunner creates a runner. concurrency caps how many batches advance
// at once; zero means unbounded.
func NewRunner(logger *slog.Logger, concurrency int) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{logger: logger, concurrency: concurrency}
}

// RunBatch loops one batch to a terminal state. Cancellation while
// sleeping abandons the batch with its last committed state intact.
func (r *Runner) RunBatch(ctx context.Context, m *Manager) error {
	category := string(m.Category())

	done := r.Metrics.TrackBatch(ctx, category)
	defer done()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		started := time.Now()

		inst, err := m.TryAdvanceState(ctx)
		if err != nil {
			r.Metrics.RecordTransition(ctx, category, observability.OutcomeError, time.Since(started))
			r.logger.Error("batch advancement failed",
				slog.String("batch_id", m.BatchID()),
				slog.String("error", err.Error()))

			return err
		}

		if inst.Stop {
			r.Metrics.RecordTransition(ctx, category, observability.OutcomeStopped, time.Since(started))

			return nil
		}

		r.Metrics.RecordTransition(ctx, category, observability.OutcomeAdvanced, time.Since(started))

		if inst.Countdown > 0 {
			r.Metrics.RecordPoll(ctx, category)

			sleepErr := sleep(ctx, inst.Countdown)
			if sleepErr != nil {
				return sleepErr
			}
		}
	}
}

// RunBatches runs all managers concurrently and waits for every one to
// finish. The group carries no shared cancellation: one batch erroring
// out does not stop the others.
func (r *Runner) RunBatches(ctx context.Context, managers []*Manager) error {
	var g errgroup.Group

	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}

	for _, m := range managers {
		g.Go(func() error {
			return r.RunBatch(ctx, m)
		})
	}

	return g.Wait()
}

// RunPipeline gates RunBatches behind the admission policy. The policy
// lock is released whether or not the run succeeded.
func (r *Runner) RunPipeline(ctx context.Context, managers []*Manager, policy Policy) error {
	runID, ok, err := policy.Acquire(ctx)
	if err != nil {
		return err
	}

	if !ok {
		r.logger.Warn("pipeline run rejected by admission policy")

		return ErrRunRejected
	}

	r.logger.Info("pipeline run admitted",
		slog.String("run_id", runID),
		slog.Int("batches", len(managers)))

	runErr := r.RunBatches(ctx, managers)

	releaseErr := policy.Release(ctx, runID, runErr == nil)
	if runErr != nil {
		return runErr
	}

	return releaseErr
}

// sleep waits for d or for cancellation, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
