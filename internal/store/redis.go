// ABOUTME: Redis implementation of StateStore using go-redis
// ABOUTME: Stores the slot as a single string key with no expiry

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2389/video-studio/internal/conversation"
)

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore implements StateStore on a Redis string key.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, opts RedisOptions, slot string) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis store requires an address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, slot), nil
}

// NewRedisStoreWithClient wraps an existing client; the store takes
// ownership and closes it.
func NewRedisStoreWithClient(client *redis.Client, slot string) *RedisStore {
	logger := slog.Default().With("component", "store", "driver", DriverRedis)
	logger.Info("redis store initialized", "addr", client.Options().Addr, "slot", slot)
	return &RedisStore{client: client, key: slotKey(slot), logger: logger}
}

func slotKey(slot string) string {
	return "studio:state:" + slot
}

// Save writes the state.
func (s *RedisStore) Save(ctx context.Context, state conversation.State) error {
	data, err := Encode(state)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	s.logger.Debug("saved state", "key", s.key, "size", len(data))
	return nil
}

// Load reads the state. Returns ErrNotFound if the key does not exist.
func (s *RedisStore) Load(ctx context.Context) (*conversation.State, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading state: %w", err)
	}
	return Decode(data)
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
