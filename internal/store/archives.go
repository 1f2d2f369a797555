package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tapestry-ai/tapestry/internal/model"
	"github.com/tapestry-ai/tapestry/pkg/persist"
)

// CreateArchive persists a new archive row.
func (s *Store) CreateArchive(ctx context.Context, archive *model.Archive) error {
	return s.write(ctx, func(tx *bolt.Tx) error {
		return putRow(tx.Bucket(bucketArchives), s.rowCodec, archive.ID, archive)
	})
}

// GetArchive loads an archive by id.
func (s *Store) GetArchive(ctx context.Context, id string) (*model.Archive, error) {
	var archive model.Archive

	err := s.read(ctx, func(tx *bolt.Tx) error {
		return getRow(tx.Bucket(bucketArchives), s.rowCodec, id, &archive)
	})
	if err != nil {
		return nil, err
	}

	return &archive, nil
}

// UpdateArchiveStatus moves an archive to a terminal status. Archive status
// is monotonic: only created → completed | failed is allowed.
func (s *Store) UpdateArchiveStatus(ctx context.Context, id string, status model.ArchiveStatus) error {
	return s.write(ctx, func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketArchives)

		var archive model.Archive

		err := getRow(bucket, s.rowCodec, id, &archive)
		if err != nil {
			return err
		}

		if archive.Status != model.ArchiveCreated {
			return fmt.Errorf("%w: archive %s is %s", ErrStatusTransition, id, archive.Status)
		}

		archive.Status = status
		archive.UpdatedAt = time.Now().UTC()

		return putRow(bucket, s.rowCodec, id, &archive)
	})
}

// ListArchives returns all archives ordered by creation time.
func (s *Store) ListArchives(ctx context.Context) ([]*model.Archive, error) {
	var archives []*model.Archive

	err := s.read(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketArchives).ForEach(func(_, v []byte) error {
			var archive model.Archive

			decodeErr := persist.DecodeBytes(s.rowCodec, v, &archive)
			if decodeErr != nil {
				return decodeErr
			}

			archives = append(archives, &archive)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].CreatedAt.Before(archives[j].CreatedAt)
	})

	return archives, nil
}
