// ABOUTME: SQLite implementation of StateStore using modernc.org/sqlite
// ABOUTME: Stores each named slot as one row with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/video-studio/internal/conversation"
)

// SQLiteStore implements StateStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	slot   string
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path, slot string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store", "driver", DriverSQLite)

	if path == "" {
		return nil, fmt.Errorf("sqlite store requires a path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer; the repository already serializes saves.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		slot:   slot,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "slot", slot)
	return s, nil
}

// createSchema creates the slot table if it doesn't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS state_slots (
			slot       TEXT PRIMARY KEY,
			state      BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save writes the state, replacing the previous record.
func (s *SQLiteStore) Save(ctx context.Context, state conversation.State) error {
	data, err := Encode(state)
	if err != nil {
		return err
	}

	query := `
		INSERT OR REPLACE INTO state_slots (slot, state, updated_at)
		VALUES (?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		s.slot,
		data,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving state: %w", err)
	}

	s.logger.Debug("saved state", "slot", s.slot, "size", len(data))
	return nil
}

// Load reads the state. Returns ErrNotFound if the slot was never written.
func (s *SQLiteStore) Load(ctx context.Context) (*conversation.State, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT state FROM state_slots WHERE slot = ?`, s.slot).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying state: %w", err)
	}
	return Decode(data)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}
