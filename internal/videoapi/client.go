// ABOUTME: HTTP client for job submission and progress streams on the video service
// ABOUTME: Adds the bearer token, bounds submission time, and maps error bodies to APIError

package videoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Defaults applied by New for zero Options fields.
const (
	DefaultBaseURL       = "http://localhost:8000/api/v1"
	DefaultSubmitTimeout = 30 * time.Second
	DefaultAspectRatio   = "16:9"
	DefaultVoiceProvider = "edge-tts"
)

// ErrMissingTaskID is returned when the service accepts a job but names no task.
var ErrMissingTaskID = errors.New("response missing task_id")

// Options configures a Client.
type Options struct {
	BaseURL       string
	Token         string
	SubmitTimeout time.Duration
	AspectRatio   string
	VoiceProvider string

	// HTTPClient is used for submission; StreamClient for progress streams.
	// StreamClient must not set a Timeout.
	HTTPClient   *http.Client
	StreamClient *http.Client
}

// Client talks to the video service.
type Client struct {
	baseURL       string
	token         string
	submitTimeout time.Duration
	aspectRatio   string
	voiceProvider string
	http          *http.Client
	stream        *http.Client
	logger        *slog.Logger
}

// generateRequest is the JSON body sent to POST /video/generate.
type generateRequest struct {
	Prompt        string `json:"prompt"`
	AspectRatio   string `json:"aspect_ratio,omitempty"`
	VoiceProvider string `json:"voice_provider,omitempty"`
}

// generateResponse accepts both the task-queue shape and the older inline shape.
type generateResponse struct {
	TaskID string `json:"task_id"`
	ID     string `json:"id"`
}

// New creates a Client, filling defaults for zero fields.
func New(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		token:         opts.Token,
		submitTimeout: opts.SubmitTimeout,
		aspectRatio:   opts.AspectRatio,
		voiceProvider: opts.VoiceProvider,
		http:          opts.HTTPClient,
		stream:        opts.StreamClient,
		logger:        logger.With("component", "videoapi"),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.submitTimeout <= 0 {
		c.submitTimeout = DefaultSubmitTimeout
	}
	if c.aspectRatio == "" {
		c.aspectRatio = DefaultAspectRatio
	}
	if c.voiceProvider == "" {
		c.voiceProvider = DefaultVoiceProvider
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.stream == nil {
		c.stream = &http.Client{}
	}
	return c
}

// SubmitJob starts a generation job for prompt and returns its task id.
func (c *Client) SubmitJob(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	bodyBytes, err := json.Marshal(generateRequest{
		Prompt:        prompt,
		AspectRatio:   c.aspectRatio,
		VoiceProvider: c.voiceProvider,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/video/generate", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", newAPIError(resp)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	taskID := out.TaskID
	if taskID == "" {
		taskID = out.ID
	}
	if taskID == "" {
		return "", ErrMissingTaskID
	}

	c.logger.Info("job submitted", "task_id", taskID)
	return taskID, nil
}

// OpenStream opens the progress stream for taskID. The caller owns the
// returned body; cancelling ctx aborts any pending read.
func (c *Client) OpenStream(ctx context.Context, taskID string) (io.ReadCloser, error) {
	if taskID == "" {
		return nil, fmt.Errorf("task id required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.StreamURL(taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.authorize(req)

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, newAPIError(resp)
	}

	c.logger.Debug("stream opened", "task_id", taskID)
	return resp.Body, nil
}

// StreamURL returns the progress stream location for taskID.
func (c *Client) StreamURL(taskID string) string {
	return c.baseURL + "/video/stream/" + url.PathEscape(taskID)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
