package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStore stores objects as files below a base directory. Keys may
// contain slashes; intermediate directories are created on demand.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates the base directory if needed.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("archive: create base directory: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}

// Put writes data to a temp file in the target directory, then renames it
// into place.
func (s *LocalStore) Put(_ context.Context, key, _ string, data []byte) error {
	finalPath := s.path(key)
	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("archive: create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(finalPath)+"-*")
	if err != nil {
		return fmt.Errorf("archive: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("archive: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("archive: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, finalPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("archive: rename temp file: %w", err)
	}
	return nil
}

func (s *LocalStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("archive: read file: %w", err)
	}
	return data, nil
}
