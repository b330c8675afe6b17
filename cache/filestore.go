package cache

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

// FileStorage implements Storage with one file per key.
type FileStorage struct {
	dir string
}

// NewFileStorage creates a file-backed store in dir. If dir is empty,
// ~/.baydir_cache is used.
func NewFileStorage(dir string) (*FileStorage, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".baydir_cache")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	return &FileStorage{dir: dir}, nil
}

// Dir is the directory holding the cache files.
func (s *FileStorage) Dir() string { return s.dir }

// Get implements Storage
func (s *FileStorage) Get(key string) (string, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// Set implements Storage
func (s *FileStorage) Set(key, value string) error {
	path := s.path(key)

	// Write to temporary file first, then rename (atomic operation)
	tmpPath := path + fmt.Sprintf(".tmp.%d", rand.Int())
	if err := os.WriteFile(tmpPath, []byte(value), 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// Remove implements Storage
func (s *FileStorage) Remove(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// path generates the full filesystem path for a storage key
func (s *FileStorage) path(key string) string {
	return filepath.Join(s.dir, fileName(key))
}
