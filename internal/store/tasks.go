package store

import (
	"context"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/tapestry-ai/tapestry/internal/model"
	"github.com/tapestry-ai/tapestry/pkg/persist"
)

// CreateTask persists a new ETL task row.
func (s *Store) CreateTask(ctx context.Context, task *model.EtlTask) error {
	return s.write(ctx, func(tx *bolt.Tx) error {
		return putRow(tx.Bucket(bucketTasks), s.rowCodec, task.ID, task)
	})
}

// GetTask loads an ETL task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*model.EtlTask, error) {
	var task model.EtlTask

	err := s.read(ctx, func(tx *bolt.Tx) error {
		return getRow(tx.Bucket(bucketTasks), s.rowCodec, id, &task)
	})
	if err != nil {
		return nil, err
	}

	return &task, nil
}

// UpdateTask overwrites an existing ETL task row.
func (s *Store) UpdateTask(ctx context.Context, task *model.EtlTask) error {
	return s.write(ctx, func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketTasks)

		var existing model.EtlTask

		err := getRow(bucket, s.rowCodec, task.ID, &existing)
		if err != nil {
			return err
		}

		return putRow(bucket, s.rowCodec, task.ID, task)
	})
}

// ListTasks returns ETL tasks, optionally filtered by archive id,
// ordered by creation time.
func (s *Store) ListTasks(ctx context.Context, archiveID string) ([]*model.EtlTask, error) {
	var tasks []*model.EtlTask

	err := s.read(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(_, v []byte) error {
			var task model.EtlTask

			decodeErr := persist.DecodeBytes(s.rowCodec, v, &task)
			if decodeErr != nil {
				return decodeErr
			}

			if archiveID != "" && task.ArchiveID != archiveID {
				return nil
			}

			tasks = append(tasks, &task)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	return tasks, nil
}
