// ABOUTME: Repository is the single writer of the conversation/message graph
// ABOUTME: Indexes conversations by id, tracks the active one, persists and publishes every mutation

package conversation

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultSaveTimeout bounds a single persistence write. Saves run
// synchronously under the repository lock to keep them in mutation order,
// so this is also the longest a slow backend can stall every other
// mutation, stream updates included.
const defaultSaveTimeout = 5 * time.Second

// Persister receives the full state after every mutation.
type Persister interface {
	Save(ctx context.Context, state State) error
}

// Repository holds conversations in memory. All mutations are serialized
// through mu and are atomic from the caller's point of view.
type Repository struct {
	mu       sync.Mutex
	convs    map[string]*Conversation
	order    []string // newest first
	activeID string

	persister   Persister
	saveTimeout time.Duration
	broadcaster *Broadcaster
	logger      *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewRepository creates an empty repository. persister may be nil.
func NewRepository(persister Persister, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		convs:       make(map[string]*Conversation),
		persister:   persister,
		saveTimeout: defaultSaveTimeout,
		broadcaster: NewBroadcaster(logger),
		logger:      logger.With("component", "repository"),
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
}

// SetSaveTimeout changes how long one save may take before it is abandoned
// and logged. A non-positive d restores the default.
func (r *Repository) SetSaveTimeout(d time.Duration) {
	if d <= 0 {
		d = defaultSaveTimeout
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveTimeout = d
}

// NewMessageID allocates an id for a message about to be appended.
func (r *Repository) NewMessageID() string {
	return r.newID()
}

// Now returns the repository clock, used for message timestamps.
func (r *Repository) Now() time.Time {
	return r.now().UTC()
}

// CreateConversation prepends a new empty conversation, makes it active and
// returns its id.
func (r *Repository) CreateConversation() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv := &Conversation{
		ID:        r.newID(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: r.now().UTC(),
	}
	r.convs[conv.ID] = conv
	r.order = slices.Insert(r.order, 0, conv.ID)
	r.activeID = conv.ID

	r.logger.Debug("conversation created", "conversation_id", conv.ID)
	r.commitLocked(Change{Kind: ChangeCreated, ConversationID: conv.ID})
	return conv.ID
}

// DeleteConversation removes a conversation. If it was active, nothing is
// active afterwards. Unknown ids are ignored.
func (r *Repository) DeleteConversation(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.convs[id]; !ok {
		return false
	}
	delete(r.convs, id)
	r.order = slices.DeleteFunc(r.order, func(v string) bool { return v == id })
	if r.activeID == id {
		r.activeID = ""
	}

	r.logger.Debug("conversation deleted", "conversation_id", id)
	r.commitLocked(Change{Kind: ChangeDeleted, ConversationID: id})
	return true
}

// SetActive points the active conversation at id. An unknown id leaves no
// conversation active; it is not an error.
func (r *Repository) SetActive(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.convs[id]; ok {
		r.activeID = id
	} else {
		r.activeID = ""
	}
	r.commitLocked(Change{Kind: ChangeSelected, ConversationID: r.activeID})
}

// ClearActive deselects the active conversation.
func (r *Repository) ClearActive() {
	r.SetActive("")
}

// RenameConversation sets a user-chosen title. Once renamed, the first
// message no longer derives the title.
func (r *Repository) RenameConversation(id, title string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.convs[id]
	if !ok || title == "" {
		return false
	}
	conv.Title = title
	r.commitLocked(Change{Kind: ChangeRenamed, ConversationID: id})
	return true
}

// AppendMessage appends msg to the conversation. When it is the first
// message, a user message and the title is still the default, the title is
// derived from its content. Returns false if the conversation is unknown.
func (r *Repository) AppendMessage(convID string, msg Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.convs[convID]
	if !ok {
		r.logger.Debug("append to unknown conversation ignored", "conversation_id", convID)
		return false
	}
	if msg.ID == "" {
		msg.ID = r.newID()
	}
	if conv.findMessage(msg.ID) != nil {
		// ids already present are never re-added
		return false
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.now().UTC()
	}

	if len(conv.Messages) == 0 && msg.Role == RoleUser && conv.Title == DefaultTitle {
		conv.Title = DeriveTitle(msg.Content)
	}
	conv.Messages = append(conv.Messages, msg.clone())

	r.commitLocked(Change{Kind: ChangeAppended, ConversationID: convID, MessageID: msg.ID})
	return true
}

// UpdateMessage merges patch into the matching message. It is a no-op when
// the conversation or message does not exist, which happens when a stream
// outlives its conversation.
func (r *Repository) UpdateMessage(convID, msgID string, patch MessagePatch) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.convs[convID]
	if !ok {
		return false
	}
	msg := conv.findMessage(msgID)
	if msg == nil {
		return false
	}
	if patch.IsZero() {
		return true
	}
	patch.apply(msg)

	r.commitLocked(Change{Kind: ChangeUpdated, ConversationID: convID, MessageID: msgID})
	return true
}

// Restore replaces the whole state, e.g. at startup. The active conversation
// is re-derived from state.ActiveID and is nil if that id no longer exists.
// Restore does not write back to the persister.
func (r *Repository) Restore(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.convs = make(map[string]*Conversation, len(state.Conversations))
	r.order = make([]string, 0, len(state.Conversations))
	for i := range state.Conversations {
		conv := state.Conversations[i].Clone()
		if conv.ID == "" {
			continue
		}
		if _, dup := r.convs[conv.ID]; dup {
			continue
		}
		if conv.Messages == nil {
			conv.Messages = []Message{}
		}
		r.convs[conv.ID] = conv
		r.order = append(r.order, conv.ID)
	}

	r.activeID = ""
	if _, ok := r.convs[state.ActiveID]; ok {
		r.activeID = state.ActiveID
	}

	r.logger.Info("state restored",
		"conversations", len(r.order),
		"active_id", r.activeID)
	r.broadcaster.Publish(Change{
		Kind:     ChangeRestored,
		ActiveID: r.activeID,
		Active:   r.activeLocked(),
	})
}

// Active returns a copy of the active conversation, or nil.
func (r *Repository) Active() *Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked()
}

// ActiveID returns the active conversation id, or "".
func (r *Repository) ActiveID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// Conversation returns a copy of the conversation with id, or nil.
func (r *Repository) Conversation(id string) *Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.convs[id].Clone()
}

// Message returns a copy of one message.
func (r *Repository) Message(convID, msgID string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.convs[convID]
	if !ok {
		return Message{}, false
	}
	msg := conv.findMessage(msgID)
	if msg == nil {
		return Message{}, false
	}
	return msg.clone(), true
}

// Conversations lists copies of all conversations, newest first.
func (r *Repository) Conversations() []*Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Conversation, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.convs[id].Clone())
	}
	return out
}

// Snapshot returns a deep copy of the full state.
func (r *Repository) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Changes subscribes to mutations; see Broadcaster.Subscribe.
func (r *Repository) Changes(ctx context.Context, conversationID string) (<-chan Change, string) {
	return r.broadcaster.Subscribe(ctx, conversationID)
}

// Close closes all change subscriptions.
func (r *Repository) Close() {
	r.broadcaster.Close()
}

func (r *Repository) activeLocked() *Conversation {
	if r.activeID == "" {
		return nil
	}
	return r.convs[r.activeID].Clone()
}

func (r *Repository) snapshotLocked() State {
	state := State{
		Conversations: make([]Conversation, 0, len(r.order)),
		ActiveID:      r.activeID,
	}
	for _, id := range r.order {
		state.Conversations = append(state.Conversations, *r.convs[id].Clone())
	}
	return state
}

// commitLocked persists the new state and publishes the change. Must be
// called with mu held so writes reach the persister in mutation order.
func (r *Repository) commitLocked(change Change) {
	if r.persister != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.saveTimeout)
		err := r.persister.Save(ctx, r.snapshotLocked())
		cancel()
		if err != nil {
			r.logger.Error("failed to persist state",
				"error", err,
				"kind", change.Kind,
				"conversation_id", change.ConversationID)
		}
	}

	change.ActiveID = r.activeID
	change.Active = r.activeLocked()
	r.broadcaster.Publish(change)
}
