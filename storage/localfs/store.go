// Package localfs stores uploaded files in a local directory.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/poiesic/docchat/storage"
)

// BlobStore implements storage.BlobStore on a directory.
type BlobStore struct {
	dir string
}

var _ storage.BlobStore = (*BlobStore)(nil)

// NewBlobStore creates the directory if needed and returns a store rooted in it.
func NewBlobStore(dir string) (storage.BlobStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &BlobStore{dir: dir}, nil
}

// Put writes r to a uniquely named file. The file appears atomically.
func (s *BlobStore) Put(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	path := filepath.Join(s.dir, storage.BlobName(name))

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", err
	}
	if size >= 0 && written != size {
		return "", fmt.Errorf("%w: wrote %d of %d bytes", storage.ErrTruncatedData, written, size)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens a stored file.
func (s *BlobStore) Open(ctx context.Context, path string) (storage.Blob, error) {
	if err := s.contains(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileBlob{File: f, size: info.Size()}, nil
}

// Delete removes a stored file. Deleting a missing file is not an error.
func (s *BlobStore) Delete(ctx context.Context, path string) error {
	if err := s.contains(path); err != nil {
		return err
	}
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// contains rejects paths outside the store directory.
func (s *BlobStore) contains(path string) error {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s is outside %s", storage.ErrInvalidQuery, path, s.dir)
	}
	return nil
}

type fileBlob struct {
	*os.File
	size int64
}

func (b *fileBlob) Size() int64 { return b.size }
