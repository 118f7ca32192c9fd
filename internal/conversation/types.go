// ABOUTME: Conversation, Message and MessagePatch types for the chat graph
// ABOUTME: Defines roles, task statuses, and the field-level merge used by updates

package conversation

import (
	"time"
	"unicode/utf8"
)

// DefaultTitle is given to every new conversation until the first user message names it.
const DefaultTitle = "New video project"

// maxTitleRunes is the length of a derived title before the ellipsis.
const maxTitleRunes = 40

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status is the lifecycle state of an assistant message bound to a video job.
//
// Lifecycle: pending -> processing -> completed | failed
//
//	pending -> failed (submission rejected before any stream event)
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further events are expected after s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Message is one entry in a conversation. User messages leave Status,
// Progress and the task fields empty.
type Message struct {
	ID           string
	Role         Role
	Content      string
	Status       Status
	Progress     *int
	TaskID       string
	VideoURL     string
	ThumbnailURL string
	// Interrupted marks a message whose stream transport failed before a
	// terminal event; such a message can be reconnected.
	Interrupted bool
	Timestamp   time.Time
}

// Resumable reports whether the message is bound to a job whose progress
// should still be watched.
func (m *Message) Resumable() bool {
	if m.Role != RoleAssistant || m.TaskID == "" {
		return false
	}
	return !m.Status.Terminal() || m.Interrupted
}

func (m Message) clone() Message {
	if m.Progress != nil {
		p := *m.Progress
		m.Progress = &p
	}
	return m
}

// Conversation is a titled, ordered thread of messages.
type Conversation struct {
	ID        string
	Title     string
	Messages  []Message
	CreatedAt time.Time
}

// Clone returns a deep copy safe to hand outside the repository lock.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.clone()
	}
	return &out
}

func (c *Conversation) findMessage(id string) *Message {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return &c.Messages[i]
		}
	}
	return nil
}

// State is the complete persisted synchronization state. Conversations are
// listed newest first; ActiveID is empty when nothing is selected.
type State struct {
	Conversations []Conversation
	ActiveID      string
}

// MessagePatch carries the fields to merge into a message. A nil field is
// left unchanged.
type MessagePatch struct {
	Content      *string
	Status       *Status
	Progress     *int
	TaskID       *string
	VideoURL     *string
	ThumbnailURL *string
	Interrupted  *bool
}

// IsZero reports whether the patch changes nothing.
func (p MessagePatch) IsZero() bool {
	return p.Content == nil && p.Status == nil && p.Progress == nil && p.TaskID == nil &&
		p.VideoURL == nil && p.ThumbnailURL == nil && p.Interrupted == nil
}

func (p MessagePatch) apply(m *Message) {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.Progress != nil {
		v := *p.Progress
		m.Progress = &v
	}
	if p.TaskID != nil {
		m.TaskID = *p.TaskID
	}
	if p.VideoURL != nil {
		m.VideoURL = *p.VideoURL
	}
	if p.ThumbnailURL != nil {
		m.ThumbnailURL = *p.ThumbnailURL
	}
	if p.Interrupted != nil {
		m.Interrupted = *p.Interrupted
	}
}

// Ptr returns a pointer to v, for building patches inline.
func Ptr[T any](v T) *T {
	return &v
}

// DeriveTitle builds a conversation title from message content: the first
// 40 characters, with "..." appended when the content was longer.
func DeriveTitle(content string) string {
	if utf8.RuneCountInString(content) <= maxTitleRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:maxTitleRunes]) + "..."
}
