package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/agentuity/go-sessions/eventing"
	"github.com/agentuity/go-sessions/logger"
	"github.com/agentuity/go-sessions/sys"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultCloseConcurrency bounds the parallel close calls made by CloseAll.
const DefaultCloseConcurrency = 4

type config struct {
	events           eventing.Client
	subject          string
	closeConcurrency int
}

// Option configures a Manager.
type Option func(*config)

// WithEventClient publishes lifecycle events to the given client.
func WithEventClient(client eventing.Client) Option {
	return func(c *config) { c.events = client }
}

// WithEventSubject overrides DefaultEventSubject.
func WithEventSubject(subject string) Option {
	return func(c *config) { c.subject = subject }
}

// WithCloseConcurrency sets how many sessions CloseAll closes at once.
func WithCloseConcurrency(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.closeConcurrency = n
		}
	}
}

// CloseResult is the outcome of Manager.Close. Ok reports whether the session
// was removed from the cache; Err holds the silenced transport failure, if any.
type CloseResult = sys.Result[bool]

// pending is a creation that may or may not have settled yet. Once done is
// closed handle and err never change.
type pending struct {
	def    Definition
	done   chan struct{}
	handle *Handle
	err    error
}

func newPending(def Definition) *pending {
	return &pending{def: def, done: make(chan struct{})}
}

func (p *pending) resolve(handle *Handle, err error) {
	p.handle = handle
	p.err = err
	close(p.done)
}

func (p *pending) wait(ctx context.Context) (*Handle, error) {
	select {
	case <-p.done:
		return p.handle, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// settled returns the handle if the creation finished successfully.
func (p *pending) settled() (*Handle, bool) {
	select {
	case <-p.done:
		return p.handle, p.err == nil
	default:
		return nil, false
	}
}

// Manager caches at most one backend session per engine type and makes sure
// concurrent callers asking for the same type share a single creation call.
// The host application creates one Manager and passes it to whatever needs
// session access.
type Manager struct {
	logger    logger.Logger
	transport Transport
	cfg       config

	mu      sync.Mutex
	tracked map[string]*pending
	order   []string
}

// New returns a Manager that issues its backend calls through transport.
func New(log logger.Logger, transport Transport, opts ...Option) *Manager {
	cfg := config{
		subject:          DefaultEventSubject,
		closeConcurrency: DefaultCloseConcurrency,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{
		logger:    log.With(map[string]interface{}{"component": "session"}),
		transport: transport,
		cfg:       cfg,
		tracked:   make(map[string]*pending),
	}
}

// must hold m.mu
func (m *Manager) track(sessionType string, p *pending) {
	if _, ok := m.tracked[sessionType]; !ok {
		m.order = append(m.order, sessionType)
	}
	m.tracked[sessionType] = p
}

// must hold m.mu
func (m *Manager) untrack(sessionType string) {
	delete(m.tracked, sessionType)
	if i := slices.Index(m.order, sessionType); i >= 0 {
		m.order = slices.Delete(m.order, i, i+1)
	}
}

// Has returns true if a session for the type is tracked, whether or not its
// creation has finished.
func (m *Manager) Has(sessionType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tracked[sessionType]
	return ok
}

// Types returns the tracked engine types in the order they were first requested.
func (m *Manager) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.order)
}

// All returns the tracked sessions in insertion order. The set of entries is
// taken when All is called; creations still in flight are waited for and the
// ones that fail are left out.
func (m *Manager) All(ctx context.Context) ([]*Handle, error) {
	m.mu.Lock()
	entries := make([]*pending, 0, len(m.order))
	for _, t := range m.order {
		entries = append(entries, m.tracked[t])
	}
	m.mu.Unlock()

	handles := make([]*Handle, 0, len(entries))
	for _, p := range entries {
		handle, err := p.wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		handles = append(handles, handle)
	}
	return handles, nil
}

// CreateDetached always creates a new session. The session is not tracked and
// closing it is up to the caller.
func (m *Manager) CreateDetached(ctx context.Context, def Definition) (*Handle, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "session.CreateDetached", typeAttr(def.Type))
	handle, err := m.createSession(ctx, def)
	endSpan(span, err)
	if err != nil {
		m.logger.Error("failed to create detached %s session: %s", def.Type, err)
		m.publish(ctx, Event{Kind: EventFailed, Type: def.Type, Detached: true, Error: err.Error()})
		return nil, err
	}
	m.logger.Debug("created detached session %s", handle)
	m.publish(ctx, Event{Kind: EventCreated, Type: def.Type, SessionID: handle.ID, Detached: true})
	return handle, nil
}

// Get returns the tracked session for def.Type, creating it if needed. Only
// the first caller for a type causes a creation call, everyone else waits for
// the same result. def.Properties are only used when a session is created.
//
// Cancelling ctx stops the wait but not the creation: the session is still
// tracked once the backend answers.
func (m *Manager) Get(ctx context.Context, def Definition) (*Handle, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "session.Get", typeAttr(def.Type))
	m.mu.Lock()
	p, ok := m.tracked[def.Type]
	if !ok {
		p = newPending(def)
		m.track(def.Type, p)
		go m.create(ctx, p, nil)
	}
	m.mu.Unlock()
	if ok {
		m.logger.Trace("reusing %s session", def.Type)
	}
	handle, err := p.wait(ctx)
	endSpan(span, err)
	return handle, err
}

// Close closes the session on the backend. Transport failures are silenced:
// they are logged and reported in the result, never returned. The cache entry
// for the type is removed only if it still holds this session, so closing a
// handle that a restart already replaced leaves the new one alone.
func (m *Manager) Close(ctx context.Context, handle *Handle) CloseResult {
	if handle == nil || handle.Type == "" {
		return sys.Err[bool](ErrMissingType)
	}
	ctx, span := tracer.Start(ctx, "session.Close", typeAttr(handle.Type))
	defer span.End()

	err := m.closeSession(ctx, handle)

	var evicted bool
	m.mu.Lock()
	if p, ok := m.tracked[handle.Type]; ok {
		if current, ok := p.settled(); ok && current.Same(handle) {
			m.untrack(handle.Type)
			evicted = true
		}
	}
	m.mu.Unlock()

	ev := Event{Kind: EventClosed, Type: handle.Type, SessionID: handle.ID}
	if err != nil {
		ev.Error = err.Error()
	}
	m.publish(ctx, ev)
	return CloseResult{Ok: evicted, Err: err}
}

// Restart closes the session and creates a replacement of the same type,
// which becomes the tracked session. From the moment Restart is called the
// type stays tracked, and concurrent Get calls wait for the replacement.
//
// Restarting a handle that is no longer the tracked session for its type
// returns ErrStaleSession without touching the backend.
func (m *Manager) Restart(ctx context.Context, handle *Handle) (*Handle, error) {
	if handle == nil || handle.Type == "" {
		return nil, ErrMissingType
	}
	ctx, span := tracer.Start(ctx, "session.Restart", typeAttr(handle.Type))
	m.mu.Lock()
	if p, ok := m.tracked[handle.Type]; ok {
		if current, ok := p.settled(); !ok || !current.Same(handle) {
			m.mu.Unlock()
			err := errors.Wrapf(ErrStaleSession, "restarting %s", handle)
			endSpan(span, err)
			return nil, err
		}
	}
	p := newPending(handle.Definition())
	m.track(handle.Type, p)
	m.mu.Unlock()

	go m.create(ctx, p, handle)
	newHandle, err := p.wait(ctx)
	endSpan(span, err)
	return newHandle, err
}

// CloseAll closes every tracked session and is meant for application
// shutdown. Close failures are silenced as in Close.
func (m *Manager) CloseAll(ctx context.Context) error {
	handles, err := m.All(ctx)
	if err != nil {
		return err
	}
	var g errgroup.Group
	g.SetLimit(m.cfg.closeConcurrency)
	for _, handle := range handles {
		g.Go(func() error {
			m.Close(ctx, handle)
			return nil
		})
	}
	g.Wait()
	m.logger.Debug("closed %d sessions", len(handles))
	return nil
}

// Reset forgets every tracked session without calling the backend.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.tracked = make(map[string]*pending)
	m.order = nil
	m.mu.Unlock()
}

// create settles p. When previous is set this is a restart and previous is
// closed before the new session is requested.
func (m *Manager) create(ctx context.Context, p *pending, previous *Handle) {
	ctx = context.WithoutCancel(ctx)
	if previous != nil {
		m.closeSession(ctx, previous)
	}
	handle, err := m.createSession(ctx, p.def)
	if err != nil {
		m.mu.Lock()
		if m.tracked[p.def.Type] == p {
			m.untrack(p.def.Type)
		}
		m.mu.Unlock()
		p.resolve(nil, err)
		m.logger.Error("failed to create %s session: %s", p.def.Type, err)
		m.publish(ctx, Event{Kind: EventFailed, Type: p.def.Type, Error: err.Error()})
		return
	}
	p.resolve(handle, nil)
	if previous != nil {
		m.logger.Info("restarted %s session %s as %s", handle.Type, previous.ID, handle.ID)
		m.publish(ctx, Event{Kind: EventRestarted, Type: handle.Type, SessionID: handle.ID, PreviousID: previous.ID})
		return
	}
	m.logger.Info("created %s session %s", handle.Type, handle.ID)
	m.publish(ctx, Event{Kind: EventCreated, Type: handle.Type, SessionID: handle.ID})
}

func (m *Manager) createSession(ctx context.Context, def Definition) (*Handle, error) {
	handle, err := m.transport.CreateSession(context.WithoutCancel(ctx), def)
	if err == nil && handle == nil {
		err = errors.New("transport returned no session")
	}
	if err != nil {
		return nil, &CreationError{Type: def.Type, Err: err}
	}
	return handle, nil
}

func (m *Manager) closeSession(ctx context.Context, handle *Handle) error {
	err := m.transport.CloseSession(context.WithoutCancel(ctx), handle, CloseOptions{SilenceErrors: true})
	if err != nil {
		m.logger.Warn("ignoring error closing session %s: %s", handle, err)
		return &CloseError{Type: handle.Type, ID: handle.ID, Err: err}
	}
	m.logger.Debug("closed session %s", handle)
	return nil
}

func (m *Manager) publish(ctx context.Context, ev Event) {
	if m.cfg.events == nil {
		return
	}
	ev.Timestamp = time.Now()
	buf, err := ev.Encode()
	if err != nil {
		m.logger.Warn("failed to encode %s event: %s", ev.Kind, err)
		return
	}
	if err := m.cfg.events.Publish(ctx, m.cfg.subject, buf, eventing.WithHeader("session-type", ev.Type)); err != nil {
		m.logger.Warn("failed to publish %s event for %s session: %s", ev.Kind, ev.Type, err)
	}
}
