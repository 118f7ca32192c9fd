// ABOUTME: In-memory job pipeline and HTTP handlers for the fake video service
// ABOUTME: Streams each task's progress as SSE from its full event history

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// progressEvent matches the payload the real worker publishes.
type progressEvent struct {
	TaskID   string            `json:"task_id"`
	Status   string            `json:"status"`
	Progress int               `json:"progress"`
	Message  string            `json:"message"`
	Data     map[string]string `json:"data"`
}

func (e progressEvent) terminal() bool {
	return e.Status == "completed" || e.Status == "failed"
}

type stage struct {
	progress int
	message  string
}

var pipeline = []stage{
	{10, "Generating script..."},
	{20, "Generating voiceover..."},
	{40, "Fetching visual assets..."},
	{60, "Assembling video (rendering)..."},
	{80, "Optimizing and uploading..."},
}

type task struct {
	mu      sync.Mutex
	events  []progressEvent
	changed chan struct{}
}

type service struct {
	ctx      context.Context
	step     time.Duration
	failWord string
	redis    *redis.Client
	logger   *slog.Logger

	mu    sync.Mutex
	tasks map[string]*task
}

func newService(ctx context.Context, step time.Duration, failWord string, rdb *redis.Client, logger *slog.Logger) *service {
	return &service{
		ctx:      ctx,
		step:     step,
		failWord: failWord,
		redis:    rdb,
		logger:   logger.With("component", "fake-videoapi"),
		tasks:    make(map[string]*task),
	}
}

func (s *service) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/video/generate", s.handleGenerate)
	mux.HandleFunc("GET /api/v1/video/stream/{task_id}", s.handleStream)
	return mux
}

func (s *service) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt        string `json:"prompt"`
		AspectRatio   string `json:"aspect_ratio"`
		VoiceProvider string `json:"voice_provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{"loc": []string{"body", "prompt"}, "msg": "field required", "type": "value_error.missing"}},
		})
		return
	}

	taskID := uuid.New().String()
	t := &task{changed: make(chan struct{})}
	s.mu.Lock()
	s.tasks[taskID] = t
	s.mu.Unlock()

	s.logger.Info("job accepted", "task_id", taskID, "aspect_ratio", req.AspectRatio, "voice_provider", req.VoiceProvider)
	s.publish(taskID, t, progressEvent{Status: "pending", Progress: 0, Message: "Queued"})
	go s.runPipeline(taskID, t, req.Prompt)

	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "status": "pending"})
}

func (s *service) runPipeline(taskID string, t *task, prompt string) {
	fail := s.failWord != "" && strings.Contains(strings.ToLower(prompt), strings.ToLower(s.failWord))

	for i, st := range pipeline {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.step):
		}
		if fail && i == 2 {
			s.publish(taskID, t, progressEvent{Status: "failed", Progress: 0, Message: "Voice Error: provider unavailable"})
			return
		}
		ev := progressEvent{Status: "processing", Progress: st.progress, Message: st.message}
		if i == 1 {
			ev.Data = map[string]string{"title": titleFor(prompt)}
		}
		s.publish(taskID, t, ev)
	}

	select {
	case <-s.ctx.Done():
		return
	case <-time.After(s.step):
	}
	s.publish(taskID, t, progressEvent{
		Status:   "completed",
		Progress: 100,
		Message:  "Video generated successfully!",
		Data: map[string]string{
			"video_url":     fmt.Sprintf("https://cdn.example.com/videos/%s_final.mp4", taskID),
			"thumbnail_url": fmt.Sprintf("https://cdn.example.com/thumbs/%s_thumb.jpg", taskID),
		},
	})
}

func (s *service) publish(taskID string, t *task, ev progressEvent) {
	ev.TaskID = taskID
	if ev.Data == nil {
		ev.Data = map[string]string{}
	}

	t.mu.Lock()
	t.events = append(t.events, ev)
	close(t.changed)
	t.changed = make(chan struct{})
	t.mu.Unlock()

	if s.redis != nil {
		payload, _ := json.Marshal(ev)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.redis.Set(ctx, "task:"+taskID, payload, time.Hour).Err(); err != nil {
			s.logger.Warn("redis set failed", "task_id", taskID, "error", err)
		}
		if err := s.redis.Publish(ctx, "stream:"+taskID, payload).Err(); err != nil {
			s.logger.Warn("redis publish failed", "task_id", taskID, "error", err)
		}
	}
	s.logger.Info("progress", "task_id", taskID, "status", ev.Status, "progress", ev.Progress)
}

func (s *service) handleStream(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Task not found"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "streaming unsupported"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sent := 0
	for {
		t.mu.Lock()
		pending := append([]progressEvent(nil), t.events[sent:]...)
		changed := t.changed
		t.mu.Unlock()

		for _, ev := range pending {
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "data: %s\n\n", data)
			sent++
			if ev.terminal() {
				flusher.Flush()
				return
			}
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-changed:
		}
	}
}

func titleFor(prompt string) string {
	runes := []rune(strings.TrimSpace(prompt))
	if len(runes) > 60 {
		runes = runes[:60]
	}
	return string(runes)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
