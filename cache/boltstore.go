package cache

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const boltBucket = "cache"

// BoltStorage implements Storage in an embedded BoltDB file.
type BoltStorage struct {
	db *bbolt.DB
}

// OpenBoltStorage opens or creates the database at path.
func OpenBoltStorage(path string) (*BoltStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &BoltStorage{db: db}, nil
}

// Close closes the underlying BoltDB database.
func (s *BoltStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStorage) Get(key string) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(boltBucket)).Get([]byte(key))
		if b != nil {
			// b is only valid inside the transaction.
			v, ok = string(b), true
		}
		return nil
	})
	return v, ok, err
}

func (s *BoltStorage) Set(key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Put([]byte(key), []byte(value))
	})
}

func (s *BoltStorage) Remove(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Delete([]byte(key))
	})
}
