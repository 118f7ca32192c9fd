// Package store persists the chat synchronization state in a single named slot.
//
// # Architecture
//
// StateStore is a key-value slot holding the whole state: every conversation
// and the active conversation id. The repository writes it after every
// mutation and reads it once at startup. Backends:
//
//   - SQLiteStore: modernc.org/sqlite, one row per slot in state_slots
//   - BoltStore: go.etcd.io/bbolt, one key in the "state" bucket
//   - RedisStore: github.com/redis/go-redis, one string key
//   - MemoryStore: in-process, for tests and ephemeral sessions
//
// Open picks a backend from Options.Driver.
//
// # Encoding
//
// The slot holds JSON shaped like the browser client's persisted record:
//
//	{"conversations": [...], "activeConversationId": "..."}
//
// Timestamps are RFC 3339 strings so the record round-trips exactly.
//
// # Error Handling
//
//   - ErrNotFound: the slot has never been written
//
// LoadOrEmpty turns any read or decode failure into an empty state; a
// corrupt slot must not keep the client from starting.
//
// # Testing
//
// Use NewMemoryStore() for unit tests, or NewSQLiteStore with a path under
// t.TempDir() for integration tests.
package store
