// ABOUTME: Stream client that applies job progress events to assistant messages
// ABOUTME: One goroutine per stream, terminal ledger, and cancel-by-conversation

package taskstream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/video-studio/internal/conversation"
	"github.com/2389/video-studio/internal/dedupe"
)

// LostConnectionContent replaces the message content when a stream breaks
// before its job finished.
const LostConnectionContent = "Lost connection to the video service. Reconnect to resume watching this job."

// Terminal ledger bounds.
const (
	terminalTTL  = 24 * time.Hour
	terminalSize = 4096
)

// ErrStreamEnded is the transport failure recorded when a feed ends before
// a terminal event.
var ErrStreamEnded = errors.New("stream ended before the job finished")

// Updater applies a patch to a message and reports whether it still exists.
type Updater interface {
	UpdateMessage(convID, msgID string, patch conversation.MessagePatch) bool
}

type streamKey struct {
	convID string
	msgID  string
}

type stream struct {
	key    streamKey
	taskID string
	cancel context.CancelFunc
}

// Client runs progress streams. It is safe for concurrent use.
type Client struct {
	source   Source
	updater  Updater
	logger   *slog.Logger
	terminal *dedupe.Cache

	mu      sync.Mutex
	streams map[streamKey]*stream
	closed  bool
	wg      sync.WaitGroup
}

// NewClient creates a Client reading from source and writing through updater.
func NewClient(source Source, updater Updater, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		source:   source,
		updater:  updater,
		logger:   logger.With("component", "taskstream"),
		terminal: dedupe.New(terminalTTL, terminalSize),
		streams:  make(map[streamKey]*stream),
	}
}

// Subscribe starts following taskID for the given message and reports
// whether a new stream was opened. It is a no-op when the message already
// follows the same task, when the task already finished, or after Close.
// A subscription to a different task replaces the previous stream.
//
// The stream stops when ctx is cancelled; cancellation leaves the message
// as it was.
func (c *Client) Subscribe(ctx context.Context, convID, msgID, taskID string) bool {
	if taskID == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if c.terminal.Seen(taskID) {
		c.logger.Debug("task already finished, not subscribing", "task_id", taskID)
		return false
	}

	key := streamKey{convID: convID, msgID: msgID}
	if existing, ok := c.streams[key]; ok {
		if existing.taskID == taskID {
			return false
		}
		c.logger.Info("replacing stream", "message_id", msgID, "old_task_id", existing.taskID, "task_id", taskID)
		existing.cancel()
		delete(c.streams, key)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &stream{key: key, taskID: taskID, cancel: cancel}
	c.streams[key] = s

	c.wg.Add(1)
	go c.run(streamCtx, s)
	return true
}

// CancelConversation stops every stream bound to convID and returns how
// many were stopped.
func (c *Client) CancelConversation(convID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, s := range c.streams {
		if key.convID == convID {
			s.cancel()
			delete(c.streams, key)
			n++
		}
	}
	if n > 0 {
		c.logger.Info("cancelled streams", "conversation_id", convID, "count", n)
	}
	return n
}

// Active returns the number of open streams.
func (c *Client) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

// Close stops all streams, waits for them, and rejects later subscriptions.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	for key, s := range c.streams {
		s.cancel()
		delete(c.streams, key)
	}
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *Client) run(ctx context.Context, s *stream) {
	defer c.wg.Done()
	defer c.remove(s)
	defer s.cancel()

	logger := c.logger.With("task_id", s.taskID, "conversation_id", s.key.convID, "message_id", s.key.msgID)

	feed, err := c.source.Open(ctx, s.taskID)
	if err != nil {
		if ctx.Err() == nil {
			c.interrupt(logger, s, err)
		}
		return
	}
	defer feed.Close()
	logger.Debug("stream started")

	for {
		payload, err := feed.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("stream cancelled")
				return
			}
			if errors.Is(err, io.EOF) {
				err = ErrStreamEnded
			}
			c.interrupt(logger, s, err)
			return
		}

		ev, err := ParseEvent(payload)
		if err != nil {
			logger.Warn("dropping malformed event", "error", err)
			continue
		}

		// Another message may have finished the same task meanwhile.
		if c.terminal.Seen(s.taskID) {
			logger.Debug("task finished elsewhere, closing stream")
			return
		}

		switch c.apply(ctx, s, ev) {
		case applyDone:
			logger.Info("job finished", "status", ev.Status())
			return
		case applyStop:
			logger.Info("stream no longer owns its message, closing")
			return
		}
	}
}

type applyResult int

const (
	applyContinue applyResult = iota
	applyDone
	applyStop
)

// apply writes the event's patch while s still owns its message. c.mu is
// held across the update so a replaced or cancelled stream cannot land a
// late write. A terminal event claims its task in the ledger first; only
// the claiming message applies it.
func (c *Client) apply(ctx context.Context, s *stream, ev Event) applyResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streams[s.key] != s || ctx.Err() != nil {
		return applyStop
	}
	terminal := ev.Status().Terminal()
	if terminal && !c.terminal.MarkIfNew(s.taskID) {
		return applyStop
	}
	if !c.updater.UpdateMessage(s.key.convID, s.key.msgID, ev.Patch()) {
		return applyStop
	}
	if terminal {
		return applyDone
	}
	return applyContinue
}

// interrupt records a transport failure on the message.
func (c *Client) interrupt(logger *slog.Logger, s *stream, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streams[s.key] != s {
		return
	}
	logger.Warn("stream failed", "error", cause)
	c.updater.UpdateMessage(s.key.convID, s.key.msgID, conversation.MessagePatch{
		Content:     conversation.Ptr(LostConnectionContent),
		Status:      conversation.Ptr(conversation.StatusFailed),
		Interrupted: conversation.Ptr(true),
	})
}

func (c *Client) remove(s *stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streams[s.key] == s {
		delete(c.streams, s.key)
	}
}
