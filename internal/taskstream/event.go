// ABOUTME: Validating decoder for job progress events and their message patches
// ABOUTME: Fails closed on unknown statuses, wrong field types, and bad progress values

package taskstream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/2389/video-studio/internal/conversation"
)

// Content used when an event carries no message of its own.
const (
	GeneratingContent = "Generating..."
	FailedContent     = "Video generation failed."
)

// ErrMalformedEvent wraps every ParseEvent rejection.
var ErrMalformedEvent = errors.New("malformed event")

// Event is one decoded progress update. The concrete type is one of
// Pending, Processing, Completed or Failed.
type Event interface {
	Status() conversation.Status
	// Patch is the message change this event produces.
	Patch() conversation.MessagePatch
}

// Pending means the job is queued.
type Pending struct {
	Message  *string
	Progress *int
}

// Processing means the job is running.
type Processing struct {
	Message  *string
	Progress *int
}

// Completed means the video is ready.
type Completed struct {
	Message      *string
	Progress     *int
	VideoURL     *string
	ThumbnailURL *string
}

// Failed means the job gave up.
type Failed struct {
	Message  *string
	Progress *int
}

func (Pending) Status() conversation.Status    { return conversation.StatusPending }
func (Processing) Status() conversation.Status { return conversation.StatusProcessing }
func (Completed) Status() conversation.Status  { return conversation.StatusCompleted }
func (Failed) Status() conversation.Status     { return conversation.StatusFailed }

func (e Pending) Patch() conversation.MessagePatch {
	return inProgressPatch(conversation.StatusPending, e.Message, e.Progress)
}

func (e Processing) Patch() conversation.MessagePatch {
	return inProgressPatch(conversation.StatusProcessing, e.Message, e.Progress)
}

func (e Completed) Patch() conversation.MessagePatch {
	p := conversation.MessagePatch{
		Status:       conversation.Ptr(conversation.StatusCompleted),
		Progress:     e.Progress,
		VideoURL:     e.VideoURL,
		ThumbnailURL: e.ThumbnailURL,
		Interrupted:  conversation.Ptr(false),
	}
	if e.Message != nil && *e.Message != "" {
		p.Content = e.Message
	}
	if p.Progress == nil {
		p.Progress = conversation.Ptr(100)
	}
	return p
}

func (e Failed) Patch() conversation.MessagePatch {
	return conversation.MessagePatch{
		Content:     orDefault(e.Message, FailedContent),
		Status:      conversation.Ptr(conversation.StatusFailed),
		Progress:    e.Progress,
		Interrupted: conversation.Ptr(false),
	}
}

func inProgressPatch(status conversation.Status, msg *string, progress *int) conversation.MessagePatch {
	return conversation.MessagePatch{
		Content:     orDefault(msg, GeneratingContent),
		Status:      conversation.Ptr(status),
		Progress:    progress,
		Interrupted: conversation.Ptr(false),
	}
}

func orDefault(s *string, def string) *string {
	if s == nil || *s == "" {
		return &def
	}
	return s
}

// ParseEvent decodes one payload. Unknown fields are ignored; anything else
// that does not match the event shape is rejected with ErrMalformedEvent.
func ParseEvent(payload []byte) (Event, error) {
	payload = bytes.TrimSpace(payload)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedEvent)
	}

	var status string
	raw, ok := fields["status"]
	if !ok || isNull(raw) {
		return nil, fmt.Errorf("%w: missing status", ErrMalformedEvent)
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("%w: status: %v", ErrMalformedEvent, err)
	}

	message, err := optionalString(fields, "message")
	if err != nil {
		return nil, err
	}
	progress, err := optionalProgress(fields)
	if err != nil {
		return nil, err
	}

	var videoURL, thumbnailURL *string
	if raw, ok := fields["data"]; ok && !isNull(raw) {
		var data map[string]json.RawMessage
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMalformedEvent, err)
		}
		if videoURL, err = optionalString(data, "video_url"); err != nil {
			return nil, err
		}
		if thumbnailURL, err = optionalString(data, "thumbnail_url"); err != nil {
			return nil, err
		}
	}

	switch conversation.Status(status) {
	case conversation.StatusPending:
		return Pending{Message: message, Progress: progress}, nil
	case conversation.StatusProcessing:
		return Processing{Message: message, Progress: progress}, nil
	case conversation.StatusCompleted:
		return Completed{Message: message, Progress: progress, VideoURL: videoURL, ThumbnailURL: thumbnailURL}, nil
	case conversation.StatusFailed:
		return Failed{Message: message, Progress: progress}, nil
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrMalformedEvent, status)
	}
}

func optionalString(fields map[string]json.RawMessage, name string) (*string, error) {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, name, err)
	}
	return &s, nil
}

func optionalProgress(fields map[string]json.RawMessage) (*int, error) {
	raw, ok := fields["progress"]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: progress: %v", ErrMalformedEvent, err)
	}
	if f < 0 || f > 100 || f != math.Trunc(f) {
		return nil, fmt.Errorf("%w: progress %v out of range", ErrMalformedEvent, f)
	}
	p := int(f)
	return &p, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
