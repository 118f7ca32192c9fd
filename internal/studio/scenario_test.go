// ABOUTME: End-to-end scenario over HTTP: submit, stream progress, persist, restore
// ABOUTME: Wires the real video client, stream client, repository, and memory store

package studio

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/video-studio/internal/conversation"
	"github.com/2389/video-studio/internal/store"
	"github.com/2389/video-studio/internal/taskstream"
	"github.com/2389/video-studio/internal/videoapi"
)

// videoService is an httptest stand-in that forwards published events to
// every open stream for the task.
type videoService struct {
	mu   sync.Mutex
	subs map[string][]chan string
	next int
}

func newVideoService() *videoService {
	return &videoService{subs: make(map[string][]chan string)}
}

func (v *videoService) publish(taskID, event string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, ch := range v.subs[taskID] {
		ch <- event
	}
}

func (v *videoService) connections(taskID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs[taskID])
}

func (v *videoService) submitted() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.next
}

func (v *videoService) subscribe(taskID string) chan string {
	v.mu.Lock()
	defer v.mu.Unlock()
	ch := make(chan string, 16)
	v.subs[taskID] = append(v.subs[taskID], ch)
	return ch
}

func (v *videoService) unsubscribe(taskID string, ch chan string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	subs := v.subs[taskID]
	for i, c := range subs {
		if c == ch {
			v.subs[taskID] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (v *videoService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/video/generate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"detail":[{"msg":"field required"}]}`))
			return
		}
		v.mu.Lock()
		v.next++
		taskID := fmt.Sprintf("task-%d", v.next)
		v.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"task_id": taskID, "status": "pending"})
	})
	mux.HandleFunc("GET /api/v1/video/stream/{task}", func(w http.ResponseWriter, r *http.Request) {
		taskID := r.PathValue("task")
		ch := v.subscribe(taskID)
		defer v.unsubscribe(taskID, ch)

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		flusher.Flush()
		for {
			select {
			case <-r.Context().Done():
				return
			case ev := <-ch:
				fmt.Fprintf(w, "data: %s\n\n", ev)
				flusher.Flush()
			}
		}
	})
	return mux
}

func waitConnections(t *testing.T, v *videoService, taskID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return v.connections(taskID) == n }, 2*time.Second, 5*time.Millisecond)
}

func TestScenario_DraftAPlan(t *testing.T) {
	svcHTTP := newVideoService()
	srv := httptest.NewServer(svcHTTP.handler())
	defer srv.Close()

	mem := store.NewMemoryStore()
	repo := conversation.NewRepository(mem, nil)
	api := videoapi.New(videoapi.Options{BaseURL: srv.URL + "/api/v1"}, nil)
	streams := taskstream.NewClient(taskstream.HTTPSource{Opener: api}, repo, nil)
	svc := New(repo, api, streams, nil)
	defer svc.Close()

	res, err := svc.SendMessage(t.Context(), "Draft a plan")
	require.NoError(t, err)
	require.NoError(t, res.SubmitErr)
	assert.Equal(t, "task-1", res.TaskID)

	conv := svc.Active()
	require.NotNil(t, conv)
	assert.Equal(t, "Draft a plan", conv.Title)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, conversation.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "Draft a plan", conv.Messages[0].Content)
	assert.Equal(t, conversation.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, conversation.StatusPending, conv.Messages[1].Status)
	assert.Equal(t, 0, *conv.Messages[1].Progress)

	message := func() conversation.Message {
		msg, _ := repo.Message(res.ConversationID, res.AssistantMessageID)
		return msg
	}

	waitConnections(t, svcHTTP, "task-1", 1)
	svcHTTP.publish("task-1", `{"status":"processing","progress":40,"message":"Rendering..."}`)
	assert.Eventually(t, func() bool { return message().Status == conversation.StatusProcessing }, 2*time.Second, 5*time.Millisecond)
	msg := message()
	assert.Equal(t, 40, *msg.Progress)
	assert.Equal(t, "Rendering...", msg.Content)

	svcHTTP.publish("task-1", `{"status":"completed","data":{"video_url":"https://x/v.mp4"}}`)
	assert.Eventually(t, func() bool { return message().Status == conversation.StatusCompleted }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return streams.Active() == 0 }, 2*time.Second, 5*time.Millisecond, "stream closes on completion")

	msg = message()
	assert.Equal(t, "https://x/v.mp4", msg.VideoURL)
	assert.Equal(t, 100, *msg.Progress)

	// the persisted slot reproduces the same state
	restored := conversation.NewRepository(nil, nil)
	defer restored.Close()
	restored.Restore(store.LoadOrEmpty(t.Context(), mem, nil))
	assert.Equal(t, repo.Snapshot(), restored.Snapshot())
	assert.Equal(t, res.ConversationID, restored.ActiveID())
}

func TestScenario_ResumeAfterRestart(t *testing.T) {
	svcHTTP := newVideoService()
	srv := httptest.NewServer(svcHTTP.handler())
	defer srv.Close()
	api := videoapi.New(videoapi.Options{BaseURL: srv.URL + "/api/v1"}, nil)

	mem := store.NewMemoryStore()

	// first run: submit, see one progress event, shut down
	repo := conversation.NewRepository(mem, nil)
	streams := taskstream.NewClient(taskstream.HTTPSource{Opener: api}, repo, nil)
	svc := New(repo, api, streams, nil)

	res, err := svc.SendMessage(t.Context(), "Launch teaser")
	require.NoError(t, err)
	waitConnections(t, svcHTTP, res.TaskID, 1)
	svcHTTP.publish(res.TaskID, `{"status":"processing","progress":20}`)
	assert.Eventually(t, func() bool {
		msg, _ := repo.Message(res.ConversationID, res.AssistantMessageID)
		return msg.Status == conversation.StatusProcessing
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Close())
	waitConnections(t, svcHTTP, res.TaskID, 0)

	// second run: restore and resume without resubmitting
	repo2 := conversation.NewRepository(mem, nil)
	repo2.Restore(store.LoadOrEmpty(t.Context(), mem, nil))
	streams2 := taskstream.NewClient(taskstream.HTTPSource{Opener: api}, repo2, nil)
	svc2 := New(repo2, api, streams2, nil)
	defer svc2.Close()

	assert.Equal(t, 1, svc2.ResumePending())
	waitConnections(t, svcHTTP, res.TaskID, 1)
	svcHTTP.publish(res.TaskID, `{"status":"completed","progress":100,"message":"Done","data":{"video_url":"/v.mp4","thumbnail_url":"/t.jpg"}}`)

	assert.Eventually(t, func() bool {
		msg, _ := repo2.Message(res.ConversationID, res.AssistantMessageID)
		return msg.Status == conversation.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, svcHTTP.submitted(), "job was not resubmitted")
}

func TestScenario_StreamNotFoundInterrupts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/video/generate", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"task_id":"gone"}`))
	})
	mux.HandleFunc("GET /api/v1/video/stream/{task}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Task not found"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	repo := conversation.NewRepository(nil, nil)
	api := videoapi.New(videoapi.Options{BaseURL: srv.URL + "/api/v1"}, nil)
	streams := taskstream.NewClient(taskstream.HTTPSource{Opener: api}, repo, nil)
	svc := New(repo, api, streams, nil)
	defer svc.Close()

	res, err := svc.SendMessage(t.Context(), "hello")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return streams.Active() == 0 }, 2*time.Second, 5*time.Millisecond)

	msg, ok := repo.Message(res.ConversationID, res.AssistantMessageID)
	require.True(t, ok)
	assert.Equal(t, conversation.StatusFailed, msg.Status)
	assert.Equal(t, taskstream.LostConnectionContent, msg.Content)
	assert.True(t, msg.Interrupted)
}
