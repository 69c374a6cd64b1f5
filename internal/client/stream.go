package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/Darkweaver2535/scrapewatch/internal/recovery"
	"github.com/rs/zerolog"
)

// ErrStreamEnded is reported when the server closes the stream.
var ErrStreamEnded = errors.New("event stream ended")

// maxFrameSize bounds a single stream line; browser_opening payloads can list
// hundreds of items.
const maxFrameSize = 1 << 20

// Handlers receive stream output. Both callbacks run on the stream's reader
// goroutine, in frame order. Cancellation is checked before each callback, so
// one already in flight may still run after Close returns; consumers that
// replace streams must tag or otherwise discard late deliveries.
type Handlers struct {
	OnEvent          func(Event)
	OnTransportError func(error)
}

// EventStream is a session-scoped one-way event connection.
type EventStream interface {
	// Open starts delivery for sessionID, replacing any connection already open.
	Open(ctx context.Context, sessionID string, h Handlers)
	// Close tears the connection down. It is idempotent.
	Close()
}

// SSEStream reads Server-Sent Events (or bare NDJSON lines) over HTTP.
type SSEStream struct {
	urlFor func(sessionID string) string
	token  string
	client *http.Client
	log    zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewSSEStream creates a stream that connects to urlFor(sessionID).
func NewSSEStream(urlFor func(string) string, token string, log zerolog.Logger) *SSEStream {
	return &SSEStream{
		urlFor: urlFor,
		token:  token,
		// No timeout: the stream lives for the whole session.
		client: &http.Client{},
		log:    log,
	}
}

func (s *SSEStream) Open(ctx context.Context, sessionID string, h Handlers) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	streamCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	log := s.log.With().Str("session", sessionID).Logger()
	recovery.SafeGo(log, "sse-reader", func() {
		err := s.read(streamCtx, s.urlFor(sessionID), h, log)
		if streamCtx.Err() != nil {
			return
		}
		log.Debug().Err(err).Msg("stream dropped")
		if h.OnTransportError != nil {
			h.OnTransportError(err)
		}
	})
}

func (s *SSEStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *SSEStream) read(ctx context.Context, url string, h Handlers, log zerolog.Logger) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream connection failed: %s", resp.Status)
	}
	log.Debug().Str("url", url).Msg("stream connected")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	var data strings.Builder

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case line == "":
			if data.Len() > 0 {
				deliver(ctx, []byte(data.String()), h, log)
				data.Reset()
			}
		case strings.HasPrefix(line, "{"):
			// NDJSON framing: one object per line.
			deliver(ctx, []byte(line), h, log)
		default:
			// Comments (": keep-alive") and event:/id:/retry: fields.
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	if data.Len() > 0 {
		deliver(ctx, []byte(data.String()), h, log)
	}
	return ErrStreamEnded
}

// deliver decodes one frame and hands it to OnEvent. Undecodable frames are
// heartbeats and are dropped here.
func deliver(ctx context.Context, frame []byte, h Handlers, log zerolog.Logger) {
	if len(bytes.TrimSpace(frame)) == 0 {
		return
	}
	ev, err := DecodeEvent(frame)
	if err != nil {
		log.Debug().Err(err).Int("bytes", len(frame)).Msg("dropping frame")
		return
	}
	if ctx.Err() != nil || h.OnEvent == nil {
		return
	}
	h.OnEvent(ev)
}
