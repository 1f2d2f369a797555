// Package store implements the transactional persistence layer on bbolt.
// All row values are codec-encoded JSON; thread rows are lz4-framed since
// payloads dominate the database size.
//
// Every mutating operation runs inside a bbolt write transaction. Atomic
// stashes the open transaction in the context so nested sections reuse the
// outermost transaction, matching the store contract.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tapestry-ai/tapestry/pkg/persist"
)

// Bucket names.
var (
	bucketArchives     = []byte("archives")
	bucketTasks        = []byte("tasks")
	bucketThreads      = []byte("threads")
	bucketThreadKeys   = []byte("thread_keys")
	bucketBatches      = []byte("batches")
	bucketBatchThreads = []byte("batch_threads")
	bucketMemories     = []byte("memories")
	bucketProfiles     = []byte("profiles")
	bucketLocks        = []byte("locks")
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("row not found")
	// ErrStatusTransition indicates a non-monotonic status change.
	ErrStatusTransition = errors.New("invalid status transition")
)

// openTimeout bounds how long Open waits for the file lock.
const openTimeout = 5 * time.Second

// filePerm is the database file permission.
const filePerm = 0o600

// Store is the bbolt-backed transactional store.
type Store struct {
	db *bolt.DB

	rowCodec    persist.Codec
	threadCodec persist.Codec
}

// txKey is the context key carrying the active write transaction.
type txKey struct{}

// Open opens (or creates) the database at path and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, filePerm, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	createErr := db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketArchives, bucketTasks, bucketThreads, bucketThreadKeys,
			bucketBatches, bucketBatchThreads, bucketMemories,
			bucketProfiles, bucketLocks,
		}

		for _, name := range buckets {
			_, bucketErr := tx.CreateBucketIfNotExists(name)
			if bucketErr != nil {
				return fmt.Errorf("create bucket %s: %w", name, bucketErr)
			}
		}

		return nil
	})
	if createErr != nil {
		closeErr := db.Close()

		return nil, errors.Join(createErr, closeErr)
	}

	return &Store{
		db:          db,
		rowCodec:    persist.NewCompactJSONCodec(),
		threadCodec: persist.NewLZ4Codec(persist.NewCompactJSONCodec()),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("close store: %w", err)
	}

	return nil
}

// Atomic runs fn inside a write transaction. A nested call reuses the
// outermost transaction, so a group of operations framed by one Atomic
// commits or rolls back as a unit.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*bolt.Tx); ok {
		return fn(ctx)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// write runs fn with a write transaction: the context's transaction when
// inside an Atomic section, a one-shot transaction otherwise.
func (s *Store) write(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*bolt.Tx); ok {
		return fn(tx)
	}

	return s.db.Update(fn)
}

// read runs fn with the context's transaction when inside an Atomic
// section, or a read-only transaction otherwise.
func (s *Store) read(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*bolt.Tx); ok {
		return fn(tx)
	}

	return s.db.View(fn)
}

// putRow encodes a row and stores it under key in the named bucket.
func putRow(bucket *bolt.Bucket, codec persist.Codec, key string, row any) error {
	data, err := persist.EncodeBytes(codec, row)
	if err != nil {
		return fmt.Errorf("encode row %s: %w", key, err)
	}

	putErr := bucket.Put([]byte(key), data)
	if putErr != nil {
		return fmt.Errorf("put row %s: %w", key, putErr)
	}

	return nil
}

// getRow decodes the row stored under key into out.
func getRow(bucket *bolt.Bucket, codec persist.Codec, key string, out any) error {
	data := bucket.Get([]byte(key))
	if data == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	decodeErr := persist.DecodeBytes(codec, data, out)
	if decodeErr != nil {
		return fmt.Errorf("decode row %s: %w", key, decodeErr)
	}

	return nil
}
