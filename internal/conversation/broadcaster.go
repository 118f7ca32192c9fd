// ABOUTME: In-memory fan-out of repository changes to view-layer subscribers
// ABOUTME: Subscribers filter by conversation id or receive every change

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// ChangeKind names the mutation that produced a Change.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "conversation_created"
	ChangeDeleted  ChangeKind = "conversation_deleted"
	ChangeRenamed  ChangeKind = "conversation_renamed"
	ChangeSelected ChangeKind = "active_changed"
	ChangeAppended ChangeKind = "message_appended"
	ChangeUpdated  ChangeKind = "message_updated"
	ChangeRestored ChangeKind = "state_restored"
)

// Change describes one applied mutation together with the active
// conversation as it stood right after it.
type Change struct {
	Kind           ChangeKind
	ConversationID string
	MessageID      string
	ActiveID       string
	Active         *Conversation
}

type subscriber struct {
	conversationID string // empty receives everything
	ch             chan Change
}

// Broadcaster provides in-memory pub/sub for repository changes.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber // subID -> subscriber
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]*subscriber),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for changes touching conversationID, or for all
// changes when conversationID is empty. The subscription is removed when
// ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, conversationID string) (<-chan Change, string) {
	subID := uuid.New().String()
	ch := make(chan Change, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = &subscriber{conversationID: conversationID, ch: ch}
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "conversation_id", conversationID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish delivers a change without blocking; full subscribers miss it.
func (b *Broadcaster) Publish(change Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, sub := range b.subscribers {
		if sub.conversationID != "" && sub.conversationID != change.ConversationID {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			b.logger.Debug("dropped change for slow subscriber",
				"sub_id", id,
				"kind", change.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(sub.ch)
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	b.closed = true
}
