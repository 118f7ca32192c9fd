// ABOUTME: StateStore interface, backend selection, and tolerant startup loading
// ABOUTME: The slot holds the whole conversation state under one name

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/video-studio/internal/conversation"
)

// ErrNotFound is returned when the slot has never been written.
var ErrNotFound = errors.New("not found")

// DefaultSlot is the slot name used when none is configured.
const DefaultSlot = "video-generator-storage"

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// StateStore reads and writes the full synchronization state.
type StateStore interface {
	Load(ctx context.Context) (*conversation.State, error)
	Save(ctx context.Context, state conversation.State) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver string
	Slot   string

	// Path is the database file for sqlite and bolt.
	Path string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open creates the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (StateStore, error) {
	slot := opts.Slot
	if slot == "" {
		slot = DefaultSlot
	}

	switch opts.Driver {
	case DriverSQLite, "":
		return NewSQLiteStore(opts.Path, slot)
	case DriverBolt:
		return NewBoltStore(opts.Path, slot)
	case DriverRedis:
		return NewRedisStore(ctx, RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		}, slot)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

// LoadOrEmpty restores the persisted state. A missing slot, a read error or
// a corrupt record all yield an empty state; only the latter two are logged
// as errors.
func LoadOrEmpty(ctx context.Context, s StateStore, logger *slog.Logger) conversation.State {
	if logger == nil {
		logger = slog.Default()
	}

	state, err := s.Load(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		logger.Info("no persisted state, starting empty")
		return conversation.State{}
	case err != nil:
		logger.Error("failed to restore state, starting empty", "error", err)
		return conversation.State{}
	}
	return *state
}
