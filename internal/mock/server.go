// Package mock serves a scripted scraping job API: the start/continue/cancel
// endpoints and the per-session event stream (SSE or WebSocket).
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Darkweaver2535/scrapewatch/internal/client"
	"github.com/Darkweaver2535/scrapewatch/internal/recovery"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const keepAliveInterval = 15 * time.Second

// CancelledMessage is the error text sent when a run is cancelled.
const CancelledMessage = "Scraping cancelled by user"

// run is one scripted session. Frames accumulate in history so a stream that
// connects late still sees every event from the start.
type run struct {
	id         string
	resourceID string

	mu        sync.Mutex
	history   []string
	notify    chan struct{}
	finished  bool
	continued chan struct{}
	cancelled chan struct{}
	cancelOne sync.Once
	contCalls int
}

func newRun(resourceID string) *run {
	return &run{
		id:         uuid.NewString(),
		resourceID: resourceID,
		notify:     make(chan struct{}),
		continued:  make(chan struct{}, 1),
		cancelled:  make(chan struct{}),
	}
}

func (r *run) emit(frame string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, frame)
	close(r.notify)
	r.notify = make(chan struct{})
}

func (r *run) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true
	close(r.notify)
	r.notify = make(chan struct{})
}

// since returns frames after idx, the channel to wait on for more, and
// whether the run has ended.
func (r *run) since(idx int) ([]string, <-chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	frames := append([]string(nil), r.history[idx:]...)
	return frames, r.notify, r.finished
}

// Server implements the job API over the scripted runs.
type Server struct {
	tick      time.Duration
	scenario  Scenario
	authToken string
	log       zerolog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	runs map[string]*run
}

func NewServer(scenario Scenario, tick time.Duration, authToken string, log zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		tick:      tick,
		scenario:  scenario,
		authToken: authToken,
		log:       log,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		runs:      make(map[string]*run),
	}
}

// Shutdown stops every scripted run.
func (s *Server) Shutdown() {
	s.cancel()
}

// SetupRoutes mounts the API under prefix (e.g. "/api").
func (s *Server) SetupRoutes(mux *http.ServeMux, prefix string) {
	prefix = strings.TrimRight(prefix, "/")
	mux.HandleFunc("POST "+prefix+"/scraping/start/{resourceId}", s.handleStart)
	mux.HandleFunc("POST "+prefix+"/scraping/continue/{sessionId}", s.handleContinue)
	mux.HandleFunc("POST "+prefix+"/scraping/cancel/{sessionId}", s.handleCancel)
	mux.HandleFunc("GET "+prefix+"/scraping/events/{sessionId}", s.handleEvents)
}

// ContinueCalls reports how many continue requests a session received.
func (s *Server) ContinueCalls(sessionID string) int {
	r, ok := s.lookup(sessionID)
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contCalls
}

func (s *Server) lookup(id string) (*run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	return r, ok
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	resourceID := r.PathValue("resourceId")
	// Resource ids starting with "missing" simulate an unknown resource.
	if strings.HasPrefix(resourceID, "missing") {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Resource %s not found", resourceID))
		return
	}

	rn := newRun(resourceID)
	s.mu.Lock()
	s.runs[rn.id] = rn
	s.mu.Unlock()

	s.log.Info().Str("session", rn.id).Str("resource", resourceID).Str("scenario", string(s.scenario)).Msg("run started")
	recovery.SafeGo(s.log, "mock-run", func() { s.play(rn) })

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"session_id": rn.id})
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	rn, ok := s.lookup(r.PathValue("sessionId"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	rn.mu.Lock()
	rn.contCalls++
	rn.mu.Unlock()
	select {
	case rn.continued <- struct{}{}:
	default:
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	rn, ok := s.lookup(r.PathValue("sessionId"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	rn.cancelOne.Do(func() { close(rn.cancelled) })
	w.WriteHeader(http.StatusNoContent)
}

// play walks the script, pausing tick between events and blocking at the
// checkpoint until continue or cancel arrives.
func (s *Server) play(rn *run) {
	defer rn.finish()
	log := s.log.With().Str("session", rn.id).Logger()

	for _, st := range buildScript(s.scenario, rn.resourceID) {
		if s.tick > 0 {
			select {
			case <-time.After(s.tick):
			case <-rn.cancelled:
				s.emitCancelled(rn)
				return
			case <-s.ctx.Done():
				return
			}
		}

		switch {
		case st.checkpoint:
			log.Info().Msg("waiting at checkpoint")
			select {
			case <-rn.continued:
			case <-rn.cancelled:
				s.emitCancelled(rn)
				return
			case <-s.ctx.Done():
				return
			}
		case st.malformed != "":
			rn.emit(st.malformed)
		default:
			rn.emit(s.encode(st.event))
		}
	}
	log.Info().Msg("run finished")
}

func (s *Server) emitCancelled(rn *run) {
	rn.emit(s.encode(client.Event{Type: client.EventError, Message: CancelledMessage}))
}

func (s *Server) encode(ev client.Event) string {
	frame := map[string]interface{}{
		"type":      ev.Type,
		"message":   ev.Message,
		"timestamp": s.now().UTC().Format("2006-01-02T15:04:05.000000"),
	}
	if len(ev.Data) > 0 {
		frame["data"] = ev.Data
	} else {
		frame["data"] = map[string]interface{}{}
	}
	data, _ := json.Marshal(frame)
	return string(data)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	rn, ok := s.lookup(r.PathValue("sessionId"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if websocket.IsWebSocketUpgrade(r) {
		s.serveWebSocket(w, r, rn)
		return
	}
	s.serveSSE(w, r, rn)
}

func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, rn *run) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	s.follow(r.Context(), rn, func(frame string) error {
		_, err := fmt.Fprintf(w, "data: %s\n\n", frame)
		flusher.Flush()
		return err
	}, func() error {
		_, err := fmt.Fprint(w, ": keep-alive\n\n")
		flusher.Flush()
		return err
	})
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request, rn *run) {
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Reads only detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.follow(ctx, rn, func(frame string) error {
		return conn.WriteMessage(websocket.TextMessage, []byte(frame))
	}, func() error {
		return conn.WriteMessage(websocket.TextMessage, []byte(""))
	})
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished"),
		time.Now().Add(time.Second))
}

// follow writes every frame of rn, then new ones as they arrive, until the run
// finishes or ctx ends.
func (s *Server) follow(ctx context.Context, rn *run, write func(string) error, keepAlive func() error) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	idx := 0
	for {
		frames, notify, finished := rn.since(idx)
		for _, f := range frames {
			if err := write(f); err != nil {
				return
			}
		}
		idx += len(frames)
		if finished {
			return
		}
		select {
		case <-notify:
		case <-ticker.C:
			if err := keepAlive(); err != nil {
				return
			}
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.authToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1")
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

// ListenAndServe serves the mock API on host:port under /api until ctx ends.
func ListenAndServe(ctx context.Context, s *Server, host string, port int) error {
	mux := http.NewServeMux()
	s.SetupRoutes(mux, "/api")
	srv := &http.Server{Addr: fmt.Sprintf("%s:%d", host, port), Handler: mux}

	go func() {
		<-ctx.Done()
		s.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", srv.Addr).Msg("mock server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
