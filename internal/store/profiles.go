package store

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/tapestry-ai/tapestry/internal/model"
	"github.com/tapestry-ai/tapestry/pkg/persist"
)

// SaveProfile upserts a profile row by id.
func (s *Store) SaveProfile(ctx context.Context, profile *model.Profile) error {
	return s.write(ctx, func(tx *bolt.Tx) error {
		return putRow(tx.Bucket(bucketProfiles), s.rowCodec, profile.ID, profile)
	})
}

// GetLatestProfile returns the most recently generated profile, or
// ErrNotFound when none exists.
func (s *Store) GetLatestProfile(ctx context.Context) (*model.Profile, error) {
	var latest *model.Profile

	err := s.read(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProfiles).ForEach(func(_, v []byte) error {
			var profile model.Profile

			decodeErr := persist.DecodeBytes(s.rowCodec, v, &profile)
			if decodeErr != nil {
				return decodeErr
			}

			if latest == nil || profile.GeneratedAt.After(latest.GeneratedAt) {
				latest = &profile
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if latest == nil {
		return nil, fmt.Errorf("%w: no profile", ErrNotFound)
	}

	return latest, nil
}
