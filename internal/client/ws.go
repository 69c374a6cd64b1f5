package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Darkweaver2535/scrapewatch/internal/recovery"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// WSStream receives session events over a WebSocket. Every text message is
// one frame; the decode and drop rules are the same as for SSEStream.
type WSStream struct {
	urlFor func(sessionID string) string
	token  string
	dialer *websocket.Dialer
	log    zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewWSStream creates a stream that dials urlFor(sessionID). http(s) URLs
// are rewritten to ws(s).
func NewWSStream(urlFor func(string) string, token string, log zerolog.Logger) *WSStream {
	return &WSStream{
		urlFor: urlFor,
		token:  token,
		dialer: websocket.DefaultDialer,
		log:    log,
	}
}

func (s *WSStream) Open(ctx context.Context, sessionID string, h Handlers) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	streamCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	log := s.log.With().Str("session", sessionID).Logger()
	recovery.SafeGo(log, "ws-reader", func() {
		err := s.read(streamCtx, toWebSocketURL(s.urlFor(sessionID)), h, log)
		if streamCtx.Err() != nil {
			return
		}
		log.Debug().Err(err).Msg("stream dropped")
		if h.OnTransportError != nil {
			h.OnTransportError(err)
		}
	})
}

func (s *WSStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *WSStream) read(ctx context.Context, target string, h Handlers, log zerolog.Logger) error {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	conn, _, err := s.dialer.DialContext(ctx, target, header)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}
	log.Debug().Str("url", target).Msg("stream connected")

	var writeMu sync.Mutex
	done := make(chan struct{})
	defer close(done)

	// Closing the conn is what unblocks ReadMessage on cancellation.
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		conn.Close()
	}()
	go pingLoop(ctx, done, conn, &writeMu)

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(pongTimeout))

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrStreamEnded
			}
			return fmt.Errorf("reading stream: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		deliver(ctx, data, h, log)
	}
}

func pingLoop(ctx context.Context, done <-chan struct{}, conn *websocket.Conn, writeMu *sync.Mutex) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// toWebSocketURL converts http://host/x to ws://host/x; ws URLs pass through.
func toWebSocketURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String()
}
