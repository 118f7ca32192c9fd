// ABOUTME: Service facade over the repository, job submission, and progress streams
// ABOUTME: Implements send, reconnect, resume, and conversation management for a UI

package studio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/2389/video-studio/internal/conversation"
	"github.com/2389/video-studio/internal/videoapi"
)

// PlaceholderContent is shown on an assistant message until its job reports.
const PlaceholderContent = "Initializing generation..."

// submitFallback is used when a submission error carries no text at all.
const submitFallback = "Failed to connect to backend"

// ErrEmptyMessage is returned by SendMessage for blank input.
var ErrEmptyMessage = errors.New("message is empty")

// Submitter starts a generation job and returns its task id.
type Submitter interface {
	SubmitJob(ctx context.Context, prompt string) (string, error)
}

// Streamer follows job progress for messages.
type Streamer interface {
	Subscribe(ctx context.Context, convID, msgID, taskID string) bool
	CancelConversation(convID string) int
	Active() int
	Close() error
}

// SendResult describes what SendMessage did.
type SendResult struct {
	ConversationID     string
	UserMessageID      string
	AssistantMessageID string
	// TaskID is empty when submission failed.
	TaskID string
	// SubmitErr is the submission failure already recorded on the
	// assistant message.
	SubmitErr error
}

// Service coordinates the conversation graph with the video service.
type Service struct {
	repo    *conversation.Repository
	jobs    Submitter
	streams Streamer
	logger  *slog.Logger

	// ctx outlives individual calls; streams run under it until Close.
	ctx    context.Context
	cancel context.CancelFunc

	// bindMu orders binding a task to a message against deleting its
	// conversation, so a deleted conversation never gains a stream.
	bindMu sync.Mutex

	mu      sync.Mutex
	closers []io.Closer
	closed  bool
}

// New creates a Service. The repository should already hold any restored
// state.
func New(repo *conversation.Repository, jobs Submitter, streams Streamer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		repo:    repo,
		jobs:    jobs,
		streams: streams,
		logger:  logger.With("component", "studio"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// OnClose registers c to be closed, in reverse order, by Close.
func (s *Service) OnClose(c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, c)
}

// CreateConversation starts a new conversation and selects it.
func (s *Service) CreateConversation() string {
	return s.repo.CreateConversation()
}

// DeleteConversation stops the conversation's streams and removes it.
func (s *Service) DeleteConversation(id string) bool {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	if n := s.streams.CancelConversation(id); n > 0 {
		s.logger.Debug("stopped streams for deleted conversation", "conversation_id", id, "count", n)
	}
	return s.repo.DeleteConversation(id)
}

// SelectConversation makes id active. An unknown id clears the selection.
func (s *Service) SelectConversation(id string) {
	s.repo.SetActive(id)
}

// ClearSelection leaves no conversation active.
func (s *Service) ClearSelection() {
	s.repo.ClearActive()
}

// RenameConversation sets a conversation's title.
func (s *Service) RenameConversation(id, title string) bool {
	return s.repo.RenameConversation(id, title)
}

// UpdateMessage merges patch into a message.
func (s *Service) UpdateMessage(convID, msgID string, patch conversation.MessagePatch) bool {
	return s.repo.UpdateMessage(convID, msgID, patch)
}

// SendMessage posts content to the active conversation, creating one if
// none is selected, and starts a generation job for it. The only error is
// ErrEmptyMessage; a failed submission is recorded on the assistant message
// and reported in SendResult.SubmitErr.
func (s *Service) SendMessage(ctx context.Context, content string) (SendResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return SendResult{}, ErrEmptyMessage
	}

	var res SendResult
	res.ConversationID, res.UserMessageID = s.appendUserMessage(content)

	res.AssistantMessageID = s.repo.NewMessageID()
	s.repo.AppendMessage(res.ConversationID, conversation.Message{
		ID:       res.AssistantMessageID,
		Role:     conversation.RoleAssistant,
		Content:  PlaceholderContent,
		Status:   conversation.StatusPending,
		Progress: conversation.Ptr(0),
	})

	logger := s.logger.With("conversation_id", res.ConversationID, "message_id", res.AssistantMessageID)

	taskID, err := s.jobs.SubmitJob(ctx, content)
	if err != nil {
		logger.Warn("job submission failed", "error", err)
		s.repo.UpdateMessage(res.ConversationID, res.AssistantMessageID, conversation.MessagePatch{
			Content: conversation.Ptr("Error: " + videoapi.ErrorDetail(err, submitFallback)),
			Status:  conversation.Ptr(conversation.StatusFailed),
		})
		res.SubmitErr = err
		return res, nil
	}

	res.TaskID = taskID
	if !s.bind(res.ConversationID, res.AssistantMessageID, taskID) {
		logger.Info("conversation deleted during submission, not following job", "task_id", taskID)
		return res, nil
	}
	logger.Info("job started", "task_id", taskID)
	return res, nil
}

// bind records taskID on the message and starts following it. It returns
// false when the message no longer exists.
func (s *Service) bind(convID, msgID, taskID string) bool {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	if !s.repo.UpdateMessage(convID, msgID, conversation.MessagePatch{TaskID: conversation.Ptr(taskID)}) {
		return false
	}
	s.streams.Subscribe(s.ctx, convID, msgID, taskID)
	return true
}

// appendUserMessage adds the user's message to the active conversation,
// creating a conversation when none is active or the active one vanished.
func (s *Service) appendUserMessage(content string) (convID, msgID string) {
	msgID = s.repo.NewMessageID()
	msg := conversation.Message{ID: msgID, Role: conversation.RoleUser, Content: content}

	convID = s.repo.ActiveID()
	if convID != "" && s.repo.AppendMessage(convID, msg) {
		return convID, msgID
	}
	convID = s.repo.CreateConversation()
	s.repo.AppendMessage(convID, msg)
	return convID, msgID
}

// Reconnect resumes following a message's job without resubmitting it.
// taskID may be empty to use the task already bound to the message; a
// different id rebinds the message. It reports whether a stream was
// started.
func (s *Service) Reconnect(convID, msgID, taskID string) bool {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	msg, ok := s.repo.Message(convID, msgID)
	if !ok || msg.Role != conversation.RoleAssistant {
		return false
	}
	if taskID == "" {
		taskID = msg.TaskID
	}
	if taskID == "" {
		return false
	}

	if taskID != msg.TaskID {
		s.repo.UpdateMessage(convID, msgID, conversation.MessagePatch{TaskID: conversation.Ptr(taskID)})
	} else if msg.Status.Terminal() && !msg.Interrupted {
		return false
	}

	return s.streams.Subscribe(s.ctx, convID, msgID, taskID)
}

// ResumePending reconnects every assistant message still waiting on a job
// and returns how many streams were started.
func (s *Service) ResumePending() int {
	n := 0
	for _, conv := range s.repo.Snapshot().Conversations {
		for _, msg := range conv.Messages {
			if !msg.Resumable() {
				continue
			}
			if s.Reconnect(conv.ID, msg.ID, msg.TaskID) {
				n++
			}
		}
	}
	if n > 0 {
		s.logger.Info("resumed pending jobs", "count", n)
	}
	return n
}

// RunningJobs returns how many jobs are being followed right now.
func (s *Service) RunningJobs() int {
	return s.streams.Active()
}

// Conversations lists conversations newest first.
func (s *Service) Conversations() []*conversation.Conversation {
	return s.repo.Conversations()
}

// Active returns a copy of the selected conversation, or nil.
func (s *Service) Active() *conversation.Conversation {
	return s.repo.Active()
}

// Snapshot returns the full state.
func (s *Service) Snapshot() conversation.State {
	return s.repo.Snapshot()
}

// Changes subscribes to repository changes; an empty conversationID
// receives all of them.
func (s *Service) Changes(ctx context.Context, conversationID string) (<-chan conversation.Change, string) {
	return s.repo.Changes(ctx, conversationID)
}

// Close stops all streams and releases registered resources. It is safe to
// call more than once.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := slices.Clone(s.closers)
	s.mu.Unlock()

	s.cancel()

	var result error
	if err := s.streams.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	s.repo.Close()

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
