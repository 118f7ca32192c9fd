// ABOUTME: BoltDB implementation of StateStore using go.etcd.io/bbolt
// ABOUTME: Keeps the slot as one key in a single bucket of a local file

package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/2389/video-studio/internal/conversation"
)

var stateBucket = []byte("state")

// BoltStore implements StateStore on a BoltDB file. The file stays open for
// the life of the store.
type BoltStore struct {
	db     *bolt.DB
	slot   []byte
	logger *slog.Logger
}

// NewBoltStore opens (or creates) the BoltDB file at path.
func NewBoltStore(path, slot string) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt store requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating state bucket: %w", err)
	}

	logger := slog.Default().With("component", "store", "driver", DriverBolt)
	logger.Info("bolt store initialized", "path", path, "slot", slot)
	return &BoltStore{db: db, slot: []byte(slot), logger: logger}, nil
}

// Save writes the state under the slot key.
func (s *BoltStore) Save(_ context.Context, state conversation.State) error {
	data, err := Encode(state)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucket).Put(s.slot, data)
	})
	if err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	s.logger.Debug("saved state", "slot", string(s.slot), "size", len(data))
	return nil
}

// Load reads the slot. Returns ErrNotFound if it was never written.
func (s *BoltStore) Load(_ context.Context) (*conversation.State, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(stateBucket).Get(s.slot); v != nil {
			// v is only valid inside the transaction
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading state: %w", err)
	}
	if data == nil {
		return nil, ErrNotFound
	}
	return Decode(data)
}

// Close releases the file lock.
func (s *BoltStore) Close() error {
	s.logger.Info("closing bolt store")
	return s.db.Close()
}
