package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/tapestry-ai/tapestry/pkg/persist"
)

// pipelineLockKey is the single advisory lock guarding pipeline runs.
const pipelineLockKey = "pipeline_run"

// runLock is the persisted advisory lock row.
type runLock struct {
	RunID      string    `json:"run_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// AcquireRunLock attempts to take the pipeline advisory lock. It returns
// the run id and true on success, or empty and false when another run
// holds a lock younger than staleAfter. Stale locks (a crashed holder)
// are replaced.
func (s *Store) AcquireRunLock(ctx context.Context, staleAfter time.Duration) (string, bool, error) {
	var (
		runID    string
		acquired bool
	)

	err := s.write(ctx, func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLocks)

		if data := bucket.Get([]byte(pipelineLockKey)); data != nil {
			var held runLock

			decodeErr := persist.DecodeBytes(s.rowCodec, data, &held)
			if decodeErr != nil {
				return decodeErr
			}

			if time.Since(held.AcquiredAt) < staleAfter {
				return nil
			}
		}

		lock := runLock{
			RunID:      uuid.NewString(),
			AcquiredAt: time.Now().UTC(),
		}

		putErr := putRow(bucket, s.rowCodec, pipelineLockKey, &lock)
		if putErr != nil {
			return putErr
		}

		runID = lock.RunID
		acquired = true

		return nil
	})
	if err != nil {
		return "", false, err
	}

	return runID, acquired, nil
}

// ReleaseRunLock drops the pipeline advisory lock if runID still holds it.
func (s *Store) ReleaseRunLock(ctx context.Context, runID string) error {
	return s.write(ctx, func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLocks)

		data := bucket.Get([]byte(pipelineLockKey))
		if data == nil {
			return nil
		}

		var held runLock

		decodeErr := persist.DecodeBytes(s.rowCodec, data, &held)
		if decodeErr != nil {
			return decodeErr
		}

		if held.RunID != runID {
			return nil
		}

		return bucket.Delete([]byte(pipelineLockKey))
	})
}
