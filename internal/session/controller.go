package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Darkweaver2535/scrapewatch/internal/client"
	"github.com/Darkweaver2535/scrapewatch/internal/recovery"
	"github.com/rs/zerolog"
)

var (
	// ErrControllerClosed is returned by commands issued after Close.
	ErrControllerClosed = errors.New("session controller closed")
	// ErrSessionActive is returned by Start while a session is still running.
	ErrSessionActive = errors.New("a session is already active")
)

// cancelCallTimeout bounds the best-effort cancel request.
const cancelCallTimeout = 10 * time.Second

// JobAPI is the remote job service. *client.HTTPClient implements it.
type JobAPI interface {
	StartSession(ctx context.Context, resourceID string) (string, error)
	ContinueSession(ctx context.Context, sessionID string) error
	CancelSession(ctx context.Context, sessionID string) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller owns the Session and serialises every change to it on a single
// goroutine. Commands block only until their local state change is applied;
// network calls run in the background and report back through the same queue.
type Controller struct {
	api    JobAPI
	stream client.EventStream
	bc     *Broadcaster
	log    zerolog.Logger
	now    func() time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	actions   chan func()
	done      chan struct{}
	closeOnce sync.Once
	// pending tracks cancel requests that outlive the loop.
	pending sync.WaitGroup

	// Owned by the loop goroutine.
	state      Session
	generation uint64
	streamOpen bool

	snapMu sync.RWMutex
	snap   Session
}

// NewController starts the controller loop. Call Close to release it.
func NewController(api JobAPI, stream client.EventStream, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		api:     api,
		stream:  stream,
		bc:      NewBroadcaster(),
		log:     zerolog.Nop(),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		actions: make(chan func(), 64),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.loop()
	return c
}

func (c *Controller) loop() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.actions:
			fn()
		case <-c.ctx.Done():
			c.closeStream()
			c.bc.Close()
			return
		}
	}
}

// do runs fn on the loop and waits for it.
func (c *Controller) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case c.actions <- func() { fn(); close(ran) }:
	case <-c.done:
		return ErrControllerClosed
	}
	select {
	case <-ran:
		return nil
	case <-c.done:
		return ErrControllerClosed
	}
}

// post queues fn on the loop without waiting. It is dropped after Close.
func (c *Controller) post(fn func()) {
	select {
	case c.actions <- fn:
	case <-c.done:
	}
}

// Snapshot returns a deep copy of the current session.
func (c *Controller) Snapshot() Session {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap.Clone()
}

// Subscribe returns a channel of snapshots, starting with the current one.
// The channel is closed by the returned func or by Close.
func (c *Controller) Subscribe() (<-chan Session, func()) {
	return c.bc.Subscribe()
}

// Start begins a fresh session for resourceID. All previous state is reset
// before the create call is made. Starting while a session is active is
// rejected; the caller has to Cancel first.
func (c *Controller) Start(resourceID string) error {
	var result error
	err := c.do(func() {
		if c.state.Status.IsActive() {
			result = ErrSessionActive
			c.log.Warn().Str("status", c.state.Status.String()).Msg("start ignored: session active")
			return
		}
		c.closeStream()
		c.generation++
		gen := c.generation
		now := c.now()
		c.state = Session{
			Status:     Starting,
			ResourceID: resourceID,
			Items:      []ItemProgress{},
			Log:        []client.Event{},
			StartedAt:  now,
			UpdatedAt:  now,
		}
		c.publish()
		c.log.Info().Str("resource", resourceID).Msg("starting session")

		recovery.SafeGo(c.log, "start-session", func() {
			sessionID, err := c.api.StartSession(c.ctx, resourceID)
			c.post(func() { c.onCreated(gen, sessionID, err) })
		})
	})
	if err != nil {
		return err
	}
	return result
}

func (c *Controller) onCreated(gen uint64, sessionID string, err error) {
	if gen != c.generation || c.state.Status != Starting {
		if err == nil && sessionID != "" {
			// Cancelled while the create call was in flight; the remote job
			// exists now, so ask it to stop too.
			c.log.Info().Str("session", sessionID).Msg("cancelling orphaned session")
			c.cancelRemote(sessionID)
		}
		return
	}
	if err != nil {
		c.state.Status = Error
		c.state.ErrorMessage = createErrorMessage(err)
		now := c.now()
		c.state.UpdatedAt = now
		c.state.FinishedAt = &now
		c.log.Error().Err(err).Str("resource", c.state.ResourceID).Msg("session create failed")
		c.publish()
		return
	}

	c.state.SessionID = sessionID
	c.state.UpdatedAt = c.now()
	c.publish()
	c.openStream(sessionID)
}

func (c *Controller) openStream(sessionID string) {
	gen := c.generation
	c.streamOpen = true
	c.log.Debug().Str("session", sessionID).Msg("opening stream")
	c.stream.Open(c.ctx, sessionID, client.Handlers{
		OnEvent: func(ev client.Event) {
			c.post(func() { c.onEvent(gen, ev) })
		},
		OnTransportError: func(err error) {
			c.post(func() { c.onTransportError(gen, err) })
		},
	})
}

// closeStream releases the stream if one is open. Bumping the generation
// makes any event already queued from it stale.
func (c *Controller) closeStream() {
	if !c.streamOpen {
		return
	}
	c.stream.Close()
	c.streamOpen = false
	c.generation++
}

func (c *Controller) onEvent(gen uint64, ev client.Event) {
	if gen != c.generation || !c.streamOpen {
		c.log.Debug().Str("type", string(ev.Type)).Msg("dropping event from closed stream")
		return
	}
	prev := c.state.Status
	c.state = Reduce(c.state, ev)
	if c.state.Status != prev {
		c.log.Info().
			Str("session", c.state.SessionID).
			Str("from", prev.String()).
			Str("to", c.state.Status.String()).
			Str("event", string(ev.Type)).
			Msg("status changed")
	}
	if !c.state.Status.IsActive() {
		c.closeStream()
	}
	c.publish()
}

func (c *Controller) onTransportError(gen uint64, err error) {
	if gen != c.generation || !c.streamOpen {
		return
	}
	if !c.state.Status.IsActive() {
		c.closeStream()
		return
	}
	c.log.Error().Err(err).Str("session", c.state.SessionID).Msg("stream lost")
	c.state = ConnectionLost(c.state, c.now())
	c.closeStream()
	c.publish()
}

// ContinueAfterCheckpoint resumes a session paused for manual action. It is a
// no-op unless the session is WaitingForCheckpoint, so duplicate triggers make
// a single API call.
func (c *Controller) ContinueAfterCheckpoint() error {
	return c.do(func() {
		if c.state.Status != WaitingForCheckpoint {
			c.log.Debug().Str("status", c.state.Status.String()).Msg("continue ignored")
			return
		}
		sessionID := c.state.SessionID
		c.state.Status = Running
		c.state.CheckpointMessage = ""
		c.state.UpdatedAt = c.now()
		c.publish()

		log := c.log.With().Str("session", sessionID).Logger()
		recovery.SafeGo(log, "continue-session", func() {
			if err := c.api.ContinueSession(c.ctx, sessionID); err != nil {
				log.Warn().Err(err).Msg("continue request failed")
			}
		})
	})
}

// Cancel stops the active session. State becomes Idle before Cancel returns,
// whatever the outcome of the remote cancel request.
func (c *Controller) Cancel() error {
	return c.do(func() {
		if !c.state.Status.IsActive() {
			c.log.Debug().Str("status", c.state.Status.String()).Msg("cancel ignored")
			return
		}
		sessionID := c.state.SessionID
		c.closeStream()
		c.generation++
		c.state.Status = Idle
		c.state.CheckpointMessage = ""
		c.state.ErrorMessage = ""
		c.state.UpdatedAt = c.now()
		c.publish()
		c.log.Info().Str("session", sessionID).Msg("session cancelled")

		if sessionID != "" {
			c.cancelRemote(sessionID)
		}
	})
}

func (c *Controller) cancelRemote(sessionID string) {
	log := c.log.With().Str("session", sessionID).Logger()
	c.pending.Add(1)
	recovery.SafeGoWithCleanup(log, "cancel-session", func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), cancelCallTimeout)
		defer cancel()
		if err := c.api.CancelSession(ctx, sessionID); err != nil {
			log.Warn().Err(err).Msg("cancel request failed")
		}
	}, c.pending.Done)
}

// Close releases the stream and stops the controller. Subscriber channels are
// closed. Close returns once any cancel request already issued has finished
// or timed out. It is safe to call more than once.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		c.pending.Wait()
	})
}

func (c *Controller) publish() {
	snap := c.state.Clone()
	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()
	c.bc.Publish(snap)
}

// createErrorMessage prefers the server's own message over the transport
// wrapping.
func createErrorMessage(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
