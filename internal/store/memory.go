// ABOUTME: In-memory StateStore implementation for tests and ephemeral runs
// ABOUTME: Keeps the encoded slot so reads go through the same codec as disk backends

package store

import (
	"context"
	"sync"

	"github.com/2389/video-studio/internal/conversation"
)

// MemoryStore is an in-memory StateStore. It stores encoded bytes, so a
// Load never aliases state handed to Save.
type MemoryStore struct {
	mu    sync.RWMutex
	data  []byte
	saves int

	// FailSave, when set, is returned from every Save.
	FailSave error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save encodes and stores the state.
func (m *MemoryStore) Save(_ context.Context, state conversation.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailSave != nil {
		return m.FailSave
	}
	data, err := Encode(state)
	if err != nil {
		return err
	}
	m.data = data
	m.saves++
	return nil
}

// Load decodes the stored state. Returns ErrNotFound before the first Save.
func (m *MemoryStore) Load(_ context.Context) (*conversation.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.data == nil {
		return nil, ErrNotFound
	}
	return Decode(m.data)
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
