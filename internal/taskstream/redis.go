// ABOUTME: Source that follows job progress through Redis keys and pub/sub
// ABOUTME: Reads the task:{id} snapshot, then every message published on stream:{id}

package taskstream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
)

// RedisSource reads progress straight from the generation worker's Redis,
// bypassing the HTTP service.
type RedisSource struct {
	client *redis.Client
}

// NewRedisSource wraps client. The caller keeps ownership of client.
func NewRedisSource(client *redis.Client) *RedisSource {
	return &RedisSource{client: client}
}

// SnapshotKey is the key holding the latest event for a task.
func SnapshotKey(taskID string) string {
	return "task:" + taskID
}

// ChannelName is the pub/sub channel carrying a task's events.
func ChannelName(taskID string) string {
	return "stream:" + taskID
}

// Open subscribes before reading the snapshot so no publish falls between
// the two. The snapshot, when present, is the first payload.
func (s *RedisSource) Open(ctx context.Context, taskID string) (Feed, error) {
	pubsub := s.client.Subscribe(ctx, ChannelName(taskID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", ChannelName(taskID), err)
	}

	feed := &redisFeed{pubsub: pubsub, ch: pubsub.Channel()}

	snapshot, err := s.client.Get(ctx, SnapshotKey(taskID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		_ = pubsub.Close()
		return nil, fmt.Errorf("reading %s: %w", SnapshotKey(taskID), err)
	default:
		feed.pending = snapshot
	}
	return feed, nil
}

type redisFeed struct {
	pubsub  *redis.PubSub
	ch      <-chan *redis.Message
	pending []byte
}

func (f *redisFeed) Next(ctx context.Context) ([]byte, error) {
	if f.pending != nil {
		p := f.pending
		f.pending = nil
		return p, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-f.ch:
		if !ok {
			return nil, io.EOF
		}
		return []byte(msg.Payload), nil
	}
}

func (f *redisFeed) Close() error {
	return f.pubsub.Close()
}
