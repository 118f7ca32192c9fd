// ABOUTME: Tests for stream framing of SSE and newline-delimited JSON bodies
// ABOUTME: Uses in-memory readers in place of HTTP bodies

package taskstream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, body string) []string {
	t.Helper()
	feed := NewLineFeed(io.NopCloser(strings.NewReader(body)))
	defer feed.Close()

	var out []string
	for {
		payload, err := feed.Next(t.Context())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, string(payload))
	}
}

func TestLineFeed_SSE(t *testing.T) {
	body := ": keepalive\n" +
		"event: message\n" +
		"id: 1\n" +
		"retry: 3000\n" +
		"data: {\"status\":\"processing\",\"progress\":20}\n" +
		"\n" +
		"data: {\"status\":\"completed\",\n" +
		"data: \"progress\":100}\n" +
		"\n"

	assert.Equal(t, []string{
		`{"status":"processing","progress":20}`,
		"{\"status\":\"completed\",\n\"progress\":100}",
	}, readAll(t, body))
}

func TestLineFeed_CRLF(t *testing.T) {
	body := "data: {\"status\":\"pending\"}\r\n\r\n"
	assert.Equal(t, []string{`{"status":"pending"}`}, readAll(t, body))
}

func TestLineFeed_NDJSON(t *testing.T) {
	body := "{\"status\":\"pending\"}\n\n  {\"status\":\"processing\"}  \n{\"status\":\"completed\"}"
	assert.Equal(t, []string{
		`{"status":"pending"}`,
		`{"status":"processing"}`,
		`{"status":"completed"}`,
	}, readAll(t, body))
}

func TestLineFeed_FlushesAtEOF(t *testing.T) {
	assert.Equal(t, []string{`{"status":"failed"}`}, readAll(t, "data:{\"status\":\"failed\"}"))
}

func TestLineFeed_Empty(t *testing.T) {
	assert.Empty(t, readAll(t, ""))
	assert.Empty(t, readAll(t, "\n\n: ping\n\n"))
}

func TestLineFeed_ReadError(t *testing.T) {
	boom := errors.New("connection reset")
	feed := NewLineFeed(io.NopCloser(io.MultiReader(
		strings.NewReader("data: {\"status\":\"pending\"}\n\n"),
		errReader{boom},
	)))

	payload, err := feed.Next(t.Context())
	require.NoError(t, err)
	assert.Equal(t, `{"status":"pending"}`, string(payload))

	_, err = feed.Next(t.Context())
	assert.ErrorIs(t, err, boom)
}

func TestLineFeed_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	feed := NewLineFeed(io.NopCloser(strings.NewReader("{\"status\":\"pending\"}\n")))
	_, err := feed.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeOpener struct {
	body string
	err  error
}

func (o fakeOpener) OpenStream(_ context.Context, _ string) (io.ReadCloser, error) {
	if o.err != nil {
		return nil, o.err
	}
	return io.NopCloser(strings.NewReader(o.body)), nil
}

func TestHTTPSource(t *testing.T) {
	src := HTTPSource{Opener: fakeOpener{body: "data: {\"status\":\"completed\"}\n\n"}}
	feed, err := src.Open(t.Context(), "t1")
	require.NoError(t, err)
	defer feed.Close()

	payload, err := feed.Next(t.Context())
	require.NoError(t, err)
	assert.Equal(t, `{"status":"completed"}`, string(payload))

	_, err = HTTPSource{Opener: fakeOpener{err: errors.New("refused")}}.Open(t.Context(), "t1")
	assert.EqualError(t, err, "refused")
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
