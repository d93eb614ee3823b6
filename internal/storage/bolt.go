package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var documentsBucket = []byte("documents")

// BoltStore keeps documents in a bbolt database file.
type BoltStore struct {
	db *bolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create documents bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load(_ context.Context, name string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(documentsBucket).Get([]byte(name))
		if v == nil {
			return ErrNotFound
		}
		// v is only valid for the life of the transaction
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (s *BoltStore) Save(_ context.Context, name string, contents []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(documentsBucket).Put([]byte(name), contents)
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

var _ Persistence = (*BoltStore)(nil)
