// ABOUTME: Source and Feed abstractions plus the HTTP-backed source
// ABOUTME: Frames stream bodies as SSE data records or newline-delimited JSON

package taskstream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// maxLineSize bounds a single framed line.
const maxLineSize = 1 << 20

// Source opens the progress feed for one task.
type Source interface {
	Open(ctx context.Context, taskID string) (Feed, error)
}

// Feed yields raw event payloads in arrival order. Next returns io.EOF when
// the feed ends cleanly.
type Feed interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// StreamOpener opens a raw progress body. *videoapi.Client implements it.
type StreamOpener interface {
	OpenStream(ctx context.Context, taskID string) (io.ReadCloser, error)
}

// HTTPSource adapts a StreamOpener into a Source.
type HTTPSource struct {
	Opener StreamOpener
}

// Open implements Source.
func (s HTTPSource) Open(ctx context.Context, taskID string) (Feed, error) {
	body, err := s.Opener.OpenStream(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return NewLineFeed(body), nil
}

// LineFeed frames a byte stream into event payloads. It accepts SSE (data
// lines accumulated until a blank line) and bare JSON lines; event, id,
// retry and comment lines are skipped.
type LineFeed struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	data    []string
}

// NewLineFeed wraps body. Closing the feed closes body.
func NewLineFeed(body io.ReadCloser) *LineFeed {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &LineFeed{body: body, scanner: scanner}
}

// Next returns the next payload. A pending SSE record is flushed at end of
// input. Reads are unblocked by cancelling the context the body was opened
// with, or by Close.
func (f *LineFeed) Next(ctx context.Context) ([]byte, error) {
	for f.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line := strings.TrimSuffix(f.scanner.Text(), "\r")

		// Empty line signals end of an SSE record
		if line == "" {
			if payload := f.flush(); payload != nil {
				return payload, nil
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "data:"):
			f.data = append(f.data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			continue
		case strings.HasPrefix(line, "event:"), strings.HasPrefix(line, "id:"), strings.HasPrefix(line, "retry:"):
			continue
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		return []byte(trimmed), nil
	}

	if err := f.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}
	if payload := f.flush(); payload != nil {
		return payload, nil
	}
	return nil, io.EOF
}

func (f *LineFeed) flush() []byte {
	if len(f.data) == 0 {
		return nil
	}
	payload := strings.Join(f.data, "\n")
	f.data = nil
	return []byte(payload)
}

// Close closes the underlying body.
func (f *LineFeed) Close() error {
	return f.body.Close()
}
