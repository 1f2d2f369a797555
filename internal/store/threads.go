package store

import (
	"context"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/tapestry-ai/tapestry/internal/model"
	"github.com/tapestry-ai/tapestry/pkg/persist"
)

// InsertThreads inserts thread rows for the given task, deduplicating on
// unique_key, and returns the number actually inserted. Re-running the
// same insert is a no-op, which makes ETL retries safe.
func (s *Store) InsertThreads(ctx context.Context, rows []*model.Thread, taskID string) (int, error) {
	var inserted int

	err := s.write(ctx, func(tx *bolt.Tx) error {
		threads := tx.Bucket(bucketThreads)
		keys := tx.Bucket(bucketThreadKeys)

		for _, row := range rows {
			if keys.Get([]byte(row.UniqueKey)) != nil {
				continue
			}

			row.EtlTaskID = taskID

			putErr := putRow(threads, s.threadCodec, row.ID, row)
			if putErr != nil {
				return putErr
			}

			keyErr := keys.Put([]byte(row.UniqueKey), []byte(row.ID))
			if keyErr != nil {
				return keyErr
			}

			inserted++
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

// GetThread loads a thread by id.
func (s *Store) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	var thread model.Thread

	err := s.read(ctx, func(tx *bolt.Tx) error {
		return getRow(tx.Bucket(bucketThreads), s.threadCodec, id, &thread)
	})
	if err != nil {
		return nil, err
	}

	return &thread, nil
}

// ListThreadsByType returns all threads of one interaction type ordered by
// asat ascending, the order groupers expect.
func (s *Store) ListThreadsByType(ctx context.Context, interactionType string) ([]*model.Thread, error) {
	var threads []*model.Thread

	err := s.read(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketThreads).ForEach(func(_, v []byte) error {
			var thread model.Thread

			decodeErr := persist.DecodeBytes(s.threadCodec, v, &thread)
			if decodeErr != nil {
				return decodeErr
			}

			if interactionType != "" && thread.InteractionType != interactionType {
				return nil
			}

			threads = append(threads, &thread)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortThreads(threads)

	return threads, nil
}

// ListUnbatchedThreads returns threads of one interaction type not yet
// linked to any batch, ordered by asat ascending. These are the rows a
// new pipeline run should batch.
func (s *Store) ListUnbatchedThreads(ctx context.Context, interactionType string) ([]*model.Thread, error) {
	var threads []*model.Thread

	err := s.read(ctx, func(tx *bolt.Tx) error {
		batched := make(map[string]struct{})

		linkErr := tx.Bucket(bucketBatchThreads).ForEach(func(_, v []byte) error {
			var link model.BatchThread

			decodeErr := persist.DecodeBytes(s.rowCodec, v, &link)
			if decodeErr != nil {
				return decodeErr
			}

			batched[link.ThreadID] = struct{}{}

			return nil
		})
		if linkErr != nil {
			return linkErr
		}

		return tx.Bucket(bucketThreads).ForEach(func(_, v []byte) error {
			var thread model.Thread

			decodeErr := persist.DecodeBytes(s.threadCodec, v, &thread)
			if decodeErr != nil {
				return decodeErr
			}

			if interactionType != "" && thread.InteractionType != interactionType {
				return nil
			}

			if _, ok := batched[thread.ID]; ok {
				return nil
			}

			threads = append(threads, &thread)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortThreads(threads)

	return threads, nil
}

// CountThreads returns the total number of thread rows.
func (s *Store) CountThreads(ctx context.Context) (int, error) {
	var count int

	err := s.read(ctx, func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketThreads).Stats().KeyN

		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

// sortThreads orders threads by asat ascending, breaking ties by id so the
// order is total and deterministic.
func sortThreads(threads []*model.Thread) {
	sort.Slice(threads, func(i, j int) bool {
		if threads[i].AsAt.Equal(threads[j].AsAt) {
			return threads[i].ID < threads[j].ID
		}

		return threads[i].AsAt.Before(threads[j].AsAt)
	})
}
