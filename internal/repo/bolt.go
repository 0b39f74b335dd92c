package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var documentsBucket = []byte("documents")

// BoltBackend stores documents as values in a single bbolt bucket.
type BoltBackend struct {
	db *bolt.DB
}

// NewBolt opens (or creates) the bbolt file at path.
func NewBolt(path string) (*BoltBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create bolt dir: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bolt bucket: %w", err)
	}
	return &BoltBackend{db: db}, nil
}

// Load reads the named document.
func (b *BoltBackend) Load(_ context.Context, name string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket(documentsBucket).Get([]byte(name))
		if val == nil {
			return ErrDocumentNotFound
		}
		// bbolt values are only valid inside the transaction.
		out = append([]byte(nil), val...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Save replaces the named document inside one write transaction.
func (b *BoltBackend) Save(_ context.Context, name string, data []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(documentsBucket).Put([]byte(name), data)
	})
	if err != nil {
		return fmt.Errorf("bolt put %s: %w", name, err)
	}
	return nil
}

// Close releases the bolt file lock.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
