// ABOUTME: JSON encoding of the persisted synchronization state
// ABOUTME: Timestamps are stored as RFC 3339 strings for stable round-tripping

package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/video-studio/internal/conversation"
)

// timestampLayout keeps sub-second precision so restored timestamps compare equal.
const timestampLayout = time.RFC3339Nano

type stateRecord struct {
	Conversations        []conversationRecord `json:"conversations"`
	ActiveConversationID *string              `json:"activeConversationId"`
}

type conversationRecord struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Messages  []messageRecord `json:"messages"`
	CreatedAt string          `json:"createdAt"`
}

type messageRecord struct {
	ID           string `json:"id"`
	Role         string `json:"role"`
	Content      string `json:"content"`
	Status       string `json:"status,omitempty"`
	Progress     *int   `json:"progress,omitempty"`
	TaskID       string `json:"taskId,omitempty"`
	VideoURL     string `json:"videoUrl,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	Interrupted  bool   `json:"interrupted,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// Encode serializes state into the slot format.
func Encode(state conversation.State) ([]byte, error) {
	rec := stateRecord{
		Conversations: make([]conversationRecord, 0, len(state.Conversations)),
	}
	if state.ActiveID != "" {
		rec.ActiveConversationID = &state.ActiveID
	}

	for _, c := range state.Conversations {
		cr := conversationRecord{
			ID:        c.ID,
			Title:     c.Title,
			Messages:  make([]messageRecord, 0, len(c.Messages)),
			CreatedAt: c.CreatedAt.UTC().Format(timestampLayout),
		}
		for _, m := range c.Messages {
			cr.Messages = append(cr.Messages, messageRecord{
				ID:           m.ID,
				Role:         string(m.Role),
				Content:      m.Content,
				Status:       string(m.Status),
				Progress:     m.Progress,
				TaskID:       m.TaskID,
				VideoURL:     m.VideoURL,
				ThumbnailURL: m.ThumbnailURL,
				Interrupted:  m.Interrupted,
				Timestamp:    m.Timestamp.UTC().Format(timestampLayout),
			})
		}
		rec.Conversations = append(rec.Conversations, cr)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	return data, nil
}

// Decode parses the slot format. Unknown roles or statuses and malformed
// timestamps are rejected.
func Decode(data []byte) (*conversation.State, error) {
	var rec stateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding state: %w", err)
	}

	state := &conversation.State{
		Conversations: make([]conversation.Conversation, 0, len(rec.Conversations)),
	}
	if rec.ActiveConversationID != nil {
		state.ActiveID = *rec.ActiveConversationID
	}

	for _, cr := range rec.Conversations {
		createdAt, err := parseTimestamp(cr.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("conversation %s createdAt: %w", cr.ID, err)
		}
		conv := conversation.Conversation{
			ID:        cr.ID,
			Title:     cr.Title,
			Messages:  make([]conversation.Message, 0, len(cr.Messages)),
			CreatedAt: createdAt,
		}
		for _, mr := range cr.Messages {
			msg, err := decodeMessage(mr)
			if err != nil {
				return nil, fmt.Errorf("conversation %s message %s: %w", cr.ID, mr.ID, err)
			}
			conv.Messages = append(conv.Messages, msg)
		}
		state.Conversations = append(state.Conversations, conv)
	}

	return state, nil
}

func decodeMessage(mr messageRecord) (conversation.Message, error) {
	role := conversation.Role(mr.Role)
	if role != conversation.RoleUser && role != conversation.RoleAssistant {
		return conversation.Message{}, fmt.Errorf("unknown role %q", mr.Role)
	}
	status := conversation.Status(mr.Status)
	if status != "" && !status.Valid() {
		return conversation.Message{}, fmt.Errorf("unknown status %q", mr.Status)
	}
	ts, err := parseTimestamp(mr.Timestamp)
	if err != nil {
		return conversation.Message{}, fmt.Errorf("timestamp: %w", err)
	}

	return conversation.Message{
		ID:           mr.ID,
		Role:         role,
		Content:      mr.Content,
		Status:       status,
		Progress:     mr.Progress,
		TaskID:       mr.TaskID,
		VideoURL:     mr.VideoURL,
		ThumbnailURL: mr.ThumbnailURL,
		Interrupted:  mr.Interrupted,
		Timestamp:    ts,
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
