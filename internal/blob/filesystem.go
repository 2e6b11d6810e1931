package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileSystemStore keeps blobs as files below root, one directory per
// operation.
type FileSystemStore struct {
	root string
}

func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if root == "" {
		return nil, fmt.Errorf("filesystem blob store requires a root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FileSystemStore{root: root}, nil
}

func (s *FileSystemStore) path(key string) (string, error) {
	if err := ValidKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *FileSystemStore) Put(_ context.Context, key string, r io.Reader, size int64, _ string) error {
	dest, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	written, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write blob %s: %w", key, errors.Join(copyErr, closeErr))
	}
	if size >= 0 && written != size {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("commit blob %s: %w", key, err)
	}
	return nil
}

func (s *FileSystemStore) Get(_ context.Context, key string) (io.ReadCloser, Info, error) {
	src, err := s.path(key)
	if err != nil {
		return nil, Info{}, err
	}
	f, err := os.Open(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil, Info{}, notFound(key)
	}
	if err != nil {
		return nil, Info{}, fmt.Errorf("open blob %s: %w", key, err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, Info{}, fmt.Errorf("stat blob %s: %w", key, err)
	}
	return f, Info{Key: key, Size: stat.Size(), ContentType: contentTypeFor(key, "")}, nil
}

func (s *FileSystemStore) Delete(_ context.Context, key string) error {
	target, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}
