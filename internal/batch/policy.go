package batch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tapestry-ai/tapestry/internal/store"
)

// Policy admits or rejects a pipeline run before any batch starts.
type Policy interface {
	// Acquire returns a run id and whether the run is admitted.
	Acquire(ctx context.Context) (runID string, ok bool, err error)
	// Release ends the run. success reports whether all batches finished
	// without a runner-level error.
	Release(ctx context.Context, runID string, success bool) error
}

// ImmediateRunPolicy admits every run.
type ImmediateRunPolicy struct{}

// Acquire implements Policy.
func (ImmediateRunPolicy) Acquire(context.Context) (string, bool, error) {
	return uuid.NewString(), true, nil
}

// Release implements Policy.
func (ImmediateRunPolicy) Release(context.Context, string, bool) error {
	return nil
}

// StoreLockPolicy enforces at most one concurrent run per store via an
// advisory lock row. A lock older than staleAfter is treated as left
// behind by a crashed run and taken over.
type StoreLockPolicy struct {
	store      *store.Store
	staleAfter time.Duration
}

// NewStoreLockPolicy creates a store-backed admission policy.
func NewStoreLockPolicy(st *store.Store, staleAfter time.Duration) *StoreLockPolicy {
	return &StoreLockPolicy{store: st, staleAfter: staleAfter}
}

// Acquire implements Policy.
func (p *StoreLockPolicy) Acquire(ctx context.Context) (string, bool, error) {
	return p.store.AcquireRunLock(ctx, p.staleAfter)
}

// Release implements Policy. The lock is released regardless of success;
// a failed run must not block the next one.
func (p *StoreLockPolicy) Release(ctx context.Context, runID string, _ bool) error {
	return p.store.ReleaseRunLock(ctx, runID)
}
