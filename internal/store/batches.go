package store

import (
	"bytes"
	"context"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tapestry-ai/tapestry/internal/model"
	"github.com/tapestry-ai/tapestry/pkg/persist"
)

// batchThreadKeySep separates batch id and thread id in link keys.
const batchThreadKeySep = "/"

// CreateBatch inserts a batch and its thread links in one write
// transaction. Threads are referenced by id, not owned: deleting a batch
// later must not delete threads.
func (s *Store) CreateBatch(ctx context.Context, batch *model.Batch, groups []model.ThreadGroup) error {
	return s.write(ctx, func(tx *bolt.Tx) error {
		putErr := putRow(tx.Bucket(bucketBatches), s.rowCodec, batch.ID, batch)
		if putErr != nil {
			return putErr
		}

		links := tx.Bucket(bucketBatchThreads)

		for _, group := range groups {
			for _, thread := range group.Threads {
				link := model.BatchThread{
					BatchID:  batch.ID,
					ThreadID: thread.ID,
					GroupID:  group.GroupID,
				}

				key := batch.ID + batchThreadKeySep + thread.ID

				linkErr := putRow(links, s.rowCodec, key, &link)
				if linkErr != nil {
					return linkErr
				}
			}
		}

		return nil
	})
}

// UpdateBatch overwrites an existing batch row, bumping its update time.
func (s *Store) UpdateBatch(ctx context.Context, batch *model.Batch) error {
	return s.write(ctx, func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketBatches)

		var existing model.Batch

		err := getRow(bucket, s.rowCodec, batch.ID, &existing)
		if err != nil {
			return err
		}

		batch.UpdatedAt = time.Now().UTC()

		return putRow(bucket, s.rowCodec, batch.ID, batch)
	})
}

// GetBatch loads a batch by id.
func (s *Store) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	var batch model.Batch

	err := s.read(ctx, func(tx *bolt.Tx) error {
		return getRow(tx.Bucket(bucketBatches), s.rowCodec, id, &batch)
	})
	if err != nil {
		return nil, err
	}

	return &batch, nil
}

// ListBatches returns batches, optionally filtered by category, ordered by
// category then batch number.
func (s *Store) ListBatches(ctx context.Context, category string) ([]*model.Batch, error) {
	var batches []*model.Batch

	err := s.read(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBatches).ForEach(func(_, v []byte) error {
			var batch model.Batch

			decodeErr := persist.DecodeBytes(s.rowCodec, v, &batch)
			if decodeErr != nil {
				return decodeErr
			}

			if category != "" && batch.Category != category {
				return nil
			}

			batches = append(batches, &batch)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(batches, func(i, j int) bool {
		if batches[i].Category != batches[j].Category {
			return batches[i].Category < batches[j].Category
		}

		return batches[i].BatchNumber < batches[j].BatchNumber
	})

	return batches, nil
}

// GetBatchGroups reconstructs the batch's thread groups from its link
// rows: groups ordered by group id, threads within a group by asat.
func (s *Store) GetBatchGroups(ctx context.Context, batchID string) ([]model.ThreadGroup, error) {
	byGroup := make(map[string][]*model.Thread)

	err := s.read(ctx, func(tx *bolt.Tx) error {
		links := tx.Bucket(bucketBatchThreads)
		threads := tx.Bucket(bucketThreads)
		prefix := []byte(batchID + batchThreadKeySep)

		cursor := links.Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			var link model.BatchThread

			decodeErr := persist.DecodeBytes(s.rowCodec, v, &link)
			if decodeErr != nil {
				return decodeErr
			}

			var thread model.Thread

			getErr := getRow(threads, s.threadCodec, link.ThreadID, &thread)
			if getErr != nil {
				return getErr
			}

			byGroup[link.GroupID] = append(byGroup[link.GroupID], &thread)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	groupIDs := make([]string, 0, len(byGroup))
	for id := range byGroup {
		groupIDs = append(groupIDs, id)
	}

	sort.Strings(groupIDs)

	groups := make([]model.ThreadGroup, 0, len(byGroup))

	for _, id := range groupIDs {
		members := byGroup[id]
		sortThreads(members)
		groups = append(groups, model.ThreadGroup{GroupID: id, Threads: members})
	}

	return groups, nil
}
