package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Darkweaver2535/scrapewatch/internal/client"
	"github.com/Darkweaver2535/scrapewatch/internal/mock"
	"github.com/Darkweaver2535/scrapewatch/internal/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventually = 3 * time.Second

// lockedBuffer is an io.Writer the test can read while runHeadless writes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) count(sub string) int {
	return bytes.Count([]byte(b.String()), []byte(sub))
}

type result struct {
	final session.Session
	err   error
}

// headless runs runHeadless against handler in the background. It returns
// the output buffer, the writer feeding stdin and the result channel.
func headless(t *testing.T, ctx context.Context, handler http.Handler) (*lockedBuffer, *io.PipeWriter, <-chan result) {
	t.Helper()
	ts := httptest.NewServer(handler)
	api := client.NewHTTPClient(ts.URL+"/api", "tok", time.Second)
	stream := client.NewSSEStream(api.EventsURL, "tok", zerolog.Nop())
	ctrl := session.NewController(api, stream)

	stdin, stdinW := io.Pipe()
	out := &lockedBuffer{}
	done := make(chan result, 1)
	go func() {
		final, err := runHeadless(ctx, ctrl, "77", stdin, out, zerolog.Nop())
		done <- result{final, err}
	}()

	t.Cleanup(func() {
		stdinW.Close()
		ctrl.Close()
		ts.Close()
	})
	return out, stdinW, done
}

func mockAPI(t *testing.T, scenario mock.Scenario) (*mock.Server, http.Handler) {
	t.Helper()
	srv := mock.NewServer(scenario, time.Millisecond, "tok", zerolog.Nop())
	t.Cleanup(srv.Shutdown)
	mux := http.NewServeMux()
	srv.SetupRoutes(mux, "/api")
	return srv, mux
}

func wait(t *testing.T, done <-chan result) result {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(eventually):
		t.Fatal("runHeadless did not return")
	}
	return result{}
}

func TestRunHeadlessContinuesAtCheckpoint(t *testing.T) {
	srv, handler := mockAPI(t, mock.ScenarioCheckpoint)
	out, stdin, done := headless(t, context.Background(), handler)

	require.Eventually(t, func() bool { return out.count("Press Enter") == 1 }, eventually, 5*time.Millisecond)
	assert.Contains(t, out.String(), "captcha")
	_, err := io.WriteString(stdin, "\n")
	require.NoError(t, err)

	r := wait(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, session.Complete, r.final.Status)
	assert.Equal(t, 1, srv.ContinueCalls(r.final.SessionID))
	assert.Contains(t, out.String(), "completed: 3/3 items, 25/25 comments, 0 errors")
	assert.NoError(t, exitFor(r.final.Status))
}

func TestRunHeadlessCancelFromPrompt(t *testing.T) {
	srv, handler := mockAPI(t, mock.ScenarioCheckpoint)
	out, stdin, done := headless(t, context.Background(), handler)

	require.Eventually(t, func() bool { return out.count("Press Enter") == 1 }, eventually, 5*time.Millisecond)
	_, err := io.WriteString(stdin, "  CANCEL \n")
	require.NoError(t, err)

	r := wait(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, session.Idle, r.final.Status)
	assert.Empty(t, r.final.ErrorMessage)
	assert.Contains(t, out.String(), "cancelled")
	assert.Equal(t, 0, srv.ContinueCalls(r.final.SessionID))

	var exit *exitError
	require.True(t, errors.As(exitFor(r.final.Status), &exit))
	assert.Equal(t, exitCancelled, exit.code)
}

func TestRunHeadlessContextCancels(t *testing.T) {
	_, handler := mockAPI(t, mock.ScenarioCheckpoint)
	ctx, cancel := context.WithCancel(context.Background())
	out, _, done := headless(t, ctx, handler)

	require.Eventually(t, func() bool { return out.count("Press Enter") == 1 }, eventually, 5*time.Millisecond)
	cancel()

	r := wait(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, session.Idle, r.final.Status)
}

func TestRunHeadlessFailure(t *testing.T) {
	_, handler := mockAPI(t, mock.ScenarioFailure)
	out, _, done := headless(t, context.Background(), handler)

	r := wait(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, session.Error, r.final.Status)
	assert.Contains(t, out.String(), "failed: Browser crashed")
	assert.Zero(t, out.count("Press Enter"))

	var exit *exitError
	require.True(t, errors.As(exitFor(r.final.Status), &exit))
	assert.Equal(t, exitFailed, exit.code)
}

func TestRunHeadlessClosedStdinContinues(t *testing.T) {
	srv, handler := mockAPI(t, mock.ScenarioCheckpoint)
	_, stdin, done := headless(t, context.Background(), handler)
	stdin.Close()

	r := wait(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, session.Complete, r.final.Status)
	assert.Equal(t, 1, srv.ContinueCalls(r.final.SessionID))
}

// twoCheckpoints serves a session whose first checkpoint the server resolves
// by itself and whose second one waits for a continue call.
type twoCheckpoints struct {
	continued chan struct{}
	mu        sync.Mutex
	calls     int
}

func (s *twoCheckpoints) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/scraping/start/77":
		fmt.Fprint(w, `{"session_id":"s1"}`)
	case "/api/scraping/continue/s1":
		s.mu.Lock()
		s.calls++
		s.mu.Unlock()
		select {
		case s.continued <- struct{}{}:
		default:
		}
		w.WriteHeader(http.StatusNoContent)
	case "/api/scraping/events/s1":
		w.Header().Set("Content-Type", "text/event-stream")
		send := func(frame string) {
			fmt.Fprintf(w, "data: %s\n\n", frame)
			w.(http.Flusher).Flush()
			time.Sleep(20 * time.Millisecond)
		}
		send(`{"type":"started"}`)
		send(`{"type":"captcha_detected","message":"first checkpoint"}`)
		send(`{"type":"captcha_resolved"}`)
		send(`{"type":"waiting_user","message":"second checkpoint"}`)
		select {
		case <-s.continued:
		case <-r.Context().Done():
			return
		}
		send(`{"type":"completed"}`)
	default:
		http.NotFound(w, r)
	}
}

func TestRunHeadlessPromptsForEveryCheckpoint(t *testing.T) {
	api := &twoCheckpoints{continued: make(chan struct{}, 1)}
	out, stdin, done := headless(t, context.Background(), api)

	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("second checkpoint"))
	}, eventually, 5*time.Millisecond)
	assert.Contains(t, out.String(), "first checkpoint")
	assert.Equal(t, 2, out.count("Press Enter"))

	_, err := io.WriteString(stdin, "\n")
	require.NoError(t, err)

	r := wait(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, session.Complete, r.final.Status)
	api.mu.Lock()
	assert.Equal(t, 1, api.calls)
	api.mu.Unlock()
}

func TestReadLinesStopsAfterDone(t *testing.T) {
	r, w := io.Pipe()
	done := make(chan struct{})
	lines := readLines(r, done, zerolog.Nop())

	go io.WriteString(w, "one\n")
	assert.Equal(t, "one", <-lines)

	close(done)
	// The write returns once the reader has consumed the line; nobody is
	// receiving, so the reader must take the done path and close lines.
	_, err := io.WriteString(w, "two\n")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	select {
	case line, ok := <-lines:
		assert.False(t, ok, "reader delivered %q after done", line)
	case <-time.After(eventually):
		t.Fatal("reader did not close its channel")
	}
}
