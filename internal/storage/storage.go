// Package storage provides key/value blob storage for raw archive
// contents. Blobs are lz4-framed on disk: archive exports are mostly
// JSON and compress well.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// Storage is the blob store contract consumed by pipes and the facade.
type Storage interface {
	// Put stores the blob read from r under key.
	Put(key string, r io.Reader) error
	// Get opens the blob stored under key. The caller closes the reader.
	Get(key string) (io.ReadCloser, error)
	// List returns all keys with the given prefix, sorted.
	List(prefix string) ([]string, error)
	// Delete removes the blob under key. Missing keys are not an error.
	Delete(key string) error
}

// ErrInvalidKey indicates a key that would escape the storage root.
var ErrInvalidKey = errors.New("invalid storage key")

// blobExtension marks compressed blobs on disk.
const blobExtension = ".lz4"

// Directory and file permissions for blobs.
const (
	dirPerm  = 0o750
	blobPerm = 0o600
)

// FS is a filesystem-backed Storage rooted at a directory.
type FS struct {
	root string
}

// NewFS creates filesystem storage rooted at dir, creating it if needed.
func NewFS(dir string) (*FS, error) {
	err := os.MkdirAll(dir, dirPerm)
	if err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	return &FS{root: dir}, nil
}

// path maps a key to its on-disk location, rejecting traversal attempts.
func (f *FS) path(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || filepath.IsAbs(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	return filepath.Join(f.root, filepath.FromSlash(key)+blobExtension), nil
}

// Put implements Storage.Put with an lz4 frame around the blob.
func (f *FS) Put(key string, r io.Reader) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}

	mkdirErr := os.MkdirAll(filepath.Dir(path), dirPerm)
	if mkdirErr != nil {
		return fmt.Errorf("create blob dir: %w", mkdirErr)
	}

	file, createErr := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, blobPerm)
	if createErr != nil {
		return fmt.Errorf("create blob %s: %w", key, createErr)
	}
	defer file.Close()

	zw := lz4.NewWriter(file)

	_, copyErr := io.Copy(zw, r)
	if copyErr != nil {
		return fmt.Errorf("write blob %s: %w", key, copyErr)
	}

	closeErr := zw.Close()
	if closeErr != nil {
		return fmt.Errorf("close blob %s: %w", key, closeErr)
	}

	return nil
}

// lz4ReadCloser decompresses on read and closes the underlying file.
type lz4ReadCloser struct {
	io.Reader
	file *os.File
}

func (rc *lz4ReadCloser) Close() error {
	return rc.file.Close()
}

// Get implements Storage.Get.
func (f *FS) Get(key string) (io.ReadCloser, error) {
	path, err := f.path(key)
	if err != nil {
		return nil, err
	}

	file, openErr := os.Open(path)
	if openErr != nil {
		return nil, fmt.Errorf("open blob %s: %w", key, openErr)
	}

	return &lz4ReadCloser{Reader: lz4.NewReader(file), file: file}, nil
}

// List implements Storage.List.
func (f *FS) List(prefix string) ([]string, error) {
	var keys []string

	walkErr := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !strings.HasSuffix(path, blobExtension) {
			return nil
		}

		rel, relErr := filepath.Rel(f.root, path)
		if relErr != nil {
			return relErr
		}

		key := strings.TrimSuffix(filepath.ToSlash(rel), blobExtension)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}

		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("list blobs: %w", walkErr)
	}

	sort.Strings(keys)

	return keys, nil
}

// Delete implements Storage.Delete.
func (f *FS) Delete(key string) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}

	removeErr := os.Remove(path)
	if removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", key, removeErr)
	}

	return nil
}
