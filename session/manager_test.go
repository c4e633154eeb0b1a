package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agentuity/go-sessions/eventing"
	"github.com/agentuity/go-sessions/logger"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu       sync.Mutex
	counts   map[string]int
	creates  []Definition
	closes   []*Handle
	closeOpt []CloseOptions
	gate     chan struct{}
	started  chan string
	createFn func(def Definition) error
	closeErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{counts: make(map[string]int)}
}

func (f *fakeTransport) CreateSession(ctx context.Context, def Definition) (*Handle, error) {
	if f.started != nil {
		f.started <- def.Type
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, def)
	if f.createFn != nil {
		if err := f.createFn(def); err != nil {
			return nil, err
		}
	}
	n := f.counts[def.Type]
	f.counts[def.Type]++
	return &Handle{
		Type:  def.Type,
		ID:    fmt.Sprintf("%s_%d", def.Type, n),
		Extra: map[string]any{"properties": []any{map[string]any{"key": "someKey", "value": "someValue"}}},
	}, nil
}

func (f *fakeTransport) CloseSession(ctx context.Context, handle *Handle, opts CloseOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, handle)
	f.closeOpt = append(f.closeOpt, opts)
	return f.closeErr
}

func (f *fakeTransport) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates)
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.closes)
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	return New(logger.NewTestLogger(), transport, opts...), transport
}

func allSessions(t *testing.T, m *Manager) []*Handle {
	t.Helper()
	handles, err := m.All(context.Background())
	require.NoError(t, err)
	return handles
}

func TestCreateDetachedSession(t *testing.T) {
	m, transport := newTestManager(t)
	ctx := context.Background()
	def := Definition{Type: "impala", Properties: []Property{{Key: "someKey", Value: "someValue"}}}

	assert.Len(t, allSessions(t, m), 0)

	handle, err := m.CreateDetached(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, "impala_0", handle.ID)

	assert.Len(t, allSessions(t, m), 0)
	assert.False(t, m.Has("impala"))
	require.Len(t, transport.creates, 1)
	assert.Equal(t, def, transport.creates[0])

	// a second detached session is a new backend session
	other, err := m.CreateDetached(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, "impala_1", other.ID)
	assert.False(t, m.Has("impala"))
}

func TestOneSessionPerType(t *testing.T) {
	m, transport := newTestManager(t)
	ctx := context.Background()

	handle, err := m.Get(ctx, Definition{Type: "impala"})
	require.NoError(t, err)
	assert.Equal(t, "impala_0", handle.ID)

	again, err := m.Get(ctx, Definition{Type: "impala"})
	require.NoError(t, err)
	assert.Equal(t, "impala_0", again.ID)
	assert.Same(t, handle, again)

	assert.Len(t, allSessions(t, m), 1)
	assert.True(t, m.Has("impala"))
	assert.Equal(t, 1, transport.createCount())
}

func TestMultipleTypes(t *testing.T) {
	m, transport := newTestManager(t)
	ctx := context.Background()

	impala, err := m.Get(ctx, Definition{Type: "impala"})
	require.NoError(t, err)
	assert.Equal(t, "impala_0", impala.ID)

	hive, err := m.Get(ctx, Definition{Type: "hive"})
	require.NoError(t, err)
	assert.Equal(t, "hive_0", hive.ID)

	all := allSessions(t, m)
	require.Len(t, all, 2)
	assert.Same(t, impala, all[0])
	assert.Same(t, hive, all[1])
	assert.True(t, m.Has("impala"))
	assert.True(t, m.Has("hive"))
	assert.Equal(t, []string{"impala", "hive"}, m.Types())
	assert.Equal(t, 2, transport.createCount())
}

func TestConcurrentGetSharesCreation(t *testing.T) {
	m, transport := newTestManager(t)
	transport.gate = make(chan struct{})
	transport.started = make(chan string, 1)
	ctx := context.Background()

	const callers = 20
	results := make([]*Handle, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle, err := m.Get(ctx, Definition{Type: "impala"})
			assert.NoError(t, err)
			results[i] = handle
		}()
	}

	assert.Equal(t, "impala", <-transport.started)
	assert.True(t, m.Has("impala"))
	close(transport.gate)
	wg.Wait()

	assert.Equal(t, 1, transport.createCount())
	for _, handle := range results {
		assert.Same(t, results[0], handle)
	}
}

func TestStopTrackingWhenClosed(t *testing.T) {
	m, transport := newTestManager(t)
	ctx := context.Background()

	handle, err := m.Get(ctx, Definition{Type: "impala"})
	require.NoError(t, err)
	assert.True(t, m.Has("impala"))

	res := m.Close(ctx, handle)
	assert.True(t, res.IsOk())
	assert.True(t, res.Ok)

	assert.False(t, m.Has("impala"))
	assert.Equal(t, 1, transport.createCount())
	require.Equal(t, 1, transport.closeCount())
	assert.Same(t, handle, transport.closes[0])
	assert.True(t, transport.closeOpt[0].SilenceErrors)
	assert.Len(t, allSessions(t, m), 0)
}

func TestCloseErrorIsSilenced(t *testing.T) {
	m, transport := newTestManager(t)
	transport.closeErr = errors.New("connection refused")
	ctx := context.Background()

	handle, err := m.Get(ctx, Definition{Type: "impala"})
	require.NoError(t, err)

	res := m.Close(ctx, handle)
	assert.True(t, res.Ok)
	assert.True(t, res.IsErr(ErrClose))
	var closeErr *CloseError
	require.True(t, errors.As(res.Err, &closeErr))
	assert.Equal(t, "impala_0", closeErr.ID)
	assert.False(t, m.Has("impala"))
}

func TestCloseDetachedSession(t *testing.T) {
	m, transport := newTestManager(t)
	ctx := context.Background()

	tracked, err := m.Get(ctx, Definition{Type: "impala"})
	require.NoError(t, err)
	detached, err := m.CreateDetached(ctx, Definition{Type: "impala"})
	require.NoError(t, err)

	res := m.Close(ctx, detached)
	assert.False(t, res.Ok)
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, transport.closeCount())

	current, err := m.Get(ctx, Definition{Type: "impala"})
	require.NoError(t, err)
	assert.Same(t, tracked, current)
}

func TestRestartSession(t *testing.T) {
	m, transport := newTestManager(t)
	ctx := context.Background()

	handle, err := m.Get(ctx, Definition{Type: "impala"})
	require.NoError(t, err)
	assert.Equal(t, "impala_0", handle.ID)

	restarted, err := m.Restart(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, "impala_1", restarted.ID)
	assert.True(t, m.Has("impala"))
	assert.Equal(t, 2, transport.createCount())
	assert.Equal(t, 1, transport.closeCount())
	assert.True(t, transport.closeOpt[0].SilenceErrors)

	// the replacement is created with the properties of the old session
	assert.Equal(t, []Property{{Key: "someKey", Value: "someValue"}}, transport.creates[1].Properties)

	current, err := m.Get(ctx, Definition{Type: "impala"})
	require.NoError(t, err)
	assert.Same(t, restarted, current)
	assert.Equal(t, 2, transport.createCount())
	assert.Len(t, allSessions(t, m), 1)
}

func TestRestartKeepsTypeTracked(t *testing.T) {
	m, transport := newTestManager(t)
	ctx := context.Background()

	handle, err := m.Get(ctx, Definition{Type: "impala"})
	require.NoError(t, err)

	transport.gate = make(chan struct{})
	transport.started = make(chan string, 1)
	done := make(chan *Handle, 1)
	go func() {
		restarted, err := m.Restart(ctx, handle)
		assert.NoError(t, err)
		done <- restarted
	}()

	<-transport.started
	assert.True(t, m.Has("impala"))

	waiter := make(chan *Handle, 1)
	go func() {
		current, err := m.Get(ctx, Definition{Type: "impala"})
		assert.NoError(t, err)
		waiter <- current
	}()

	close(transport.gate)
	restarted := <-done
	assert.Same(t, restarted, <-waiter)
	assert.Equal(t, 2, transport.createCount())
}

func TestRestartStaleSession(t *testing.T) {
	m, transport := newTestManager(t)
	ctx := context.Background()

	old, err := m.Get(ctx, Definition{Type: "impala"})
	require.NoError(t, err)
	current, err := m.Restart(ctx, old)
	require.NoError(t, err)

	_, err = m.Restart(ctx, old)
	assert.ErrorIs(t, err, ErrStaleSession)
	assert.Equal(t, 2, transport.createCount())
	assert.Equal(t, 1, transport.closeCount())

	// closing the stale handle must not evict its replacement
	res := m.Close(ctx, old)
	assert.False(t, res.Ok)
	assert.True(t, m.Has("impala"))
	again, err := m.Get(ctx, Definition{Type: "impala"})
	require.NoError(t, err)
	assert.Same(t, current, again)
}

func TestCloseThenRestart(t *testing.T) {
	m, transport := newTestManager(t)
	ctx := context.Background()

	handle, err := m.Get(ctx, Definition{Type: "impala"})
	require.NoError(t, err)
	m.Close(ctx, handle)
	assert.False(t, m.Has("impala"))

	restarted, err := m.Restart(ctx, handle)
	require.NoError(t, err)
	assert.NotEqual(t, handle.ID, restarted.ID)
	assert.True(t, m.Has("impala"))
	assert.Equal(t, 2, transport.createCount())
}

func TestCreationFailureIsRetried(t *testing.T) {
	m, transport := newTestManager(t)
	ctx := context.Background()
	fail := true
	transport.createFn = func(def Definition) error {
		if fail {
			return errors.New("engine unavailable")
		}
		return nil
	}

	_, err := m.Get(ctx, Definition{Type: "hive"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCreation)
	var creationErr *CreationError
	require.True(t, errors.As(err, &creationErr))
	assert.Equal(t, "hive", creationErr.Type)
	assert.False(t, m.Has("hive"))

	fail = false
	handle, err := m.Get(ctx, Definition{Type: "hive"})
	require.NoError(t, err)
	assert.Equal(t, "hive_0", handle.ID)
	assert.Equal(t, 2, transport.createCount())
}

func TestCreationFailureReachesAllWaiters(t *testing.T) {
	m, transport := newTestManager(t)
	transport.gate = make(chan struct{})
	transport.started = make(chan string, 1)
	transport.createFn = func(def Definition) error { return errors.New("boom") }
	ctx := context.Background()

	const callers = 5
	errs := make(chan error, callers)
	for range callers {
		go func() {
			_, err := m.Get(ctx, Definition{Type: "impala"})
			errs <- err
		}()
	}
	<-transport.started
	time.Sleep(50 * time.Millisecond) // let the other callers reach the pending entry
	close(transport.gate)
	for range callers {
		assert.ErrorIs(t, <-errs, ErrCreation)
	}
	assert.Equal(t, 1, transport.createCount())
	assert.False(t, m.Has("impala"))
	assert.Len(t, allSessions(t, m), 0)
}

func TestGetCancelledWaitKeepsSession(t *testing.T) {
	m, transport := newTestManager(t)
	transport.gate = make(chan struct{})
	transport.started = make(chan string, 1)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := m.Get(ctx, Definition{Type: "impala"})
		errs <- err
	}()
	<-transport.started
	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)

	close(transport.gate)
	handle, err := m.Get(context.Background(), Definition{Type: "impala"})
	require.NoError(t, err)
	assert.Equal(t, "impala_0", handle.ID)
	assert.Equal(t, 1, transport.createCount())
}

func TestMissingType(t *testing.T) {
	m, transport := newTestManager(t)
	ctx := context.Background()

	_, err := m.Get(ctx, Definition{})
	assert.ErrorIs(t, err, ErrMissingType)
	_, err = m.CreateDetached(ctx, Definition{})
	assert.ErrorIs(t, err, ErrMissingType)
	_, err = m.Restart(ctx, &Handle{})
	assert.ErrorIs(t, err, ErrMissingType)
	assert.True(t, m.Close(ctx, nil).IsErr(ErrMissingType))
	assert.Equal(t, 0, transport.createCount())
}

func TestCloseAllAndReset(t *testing.T) {
	m, transport := newTestManager(t, WithCloseConcurrency(2))
	ctx := context.Background()

	for _, typ := range []string{"impala", "hive", "spark"} {
		_, err := m.Get(ctx, Definition{Type: typ})
		require.NoError(t, err)
	}
	require.NoError(t, m.CloseAll(ctx))
	assert.Equal(t, 3, transport.closeCount())
	assert.Empty(t, m.Types())

	_, err := m.Get(ctx, Definition{Type: "impala"})
	require.NoError(t, err)
	m.Reset()
	assert.False(t, m.Has("impala"))
	assert.Equal(t, 3, transport.closeCount())
}

type recordingEvents struct {
	mu       sync.Mutex
	subjects []string
	events   []*Event
}

var _ eventing.Client = (*recordingEvents)(nil)

func (r *recordingEvents) Publish(ctx context.Context, subject string, data []byte, opts ...eventing.PublishOption) error {
	ev, err := DecodeEvent(data)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEvents) Subscribe(ctx context.Context, subject string, cb eventing.MessageCallback) (eventing.Subscriber, error) {
	return nil, errors.New("not supported")
}

func (r *recordingEvents) Close() error { return nil }

func (r *recordingEvents) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func TestLifecycleEvents(t *testing.T) {
	events := &recordingEvents{}
	m, _ := newTestManager(t, WithEventClient(events), WithEventSubject("test.sessions"))
	ctx := context.Background()

	handle, err := m.Get(ctx, Definition{Type: "impala"})
	require.NoError(t, err)
	// the created event is published after waiters are released
	assert.Eventually(t, func() bool { return len(events.kinds()) == 1 }, time.Second, time.Millisecond)

	restarted, err := m.Restart(ctx, handle)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(events.kinds()) == 2 }, time.Second, time.Millisecond)

	m.Close(ctx, restarted)
	assert.Equal(t, []EventKind{EventCreated, EventRestarted, EventClosed}, events.kinds())

	events.mu.Lock()
	defer events.mu.Unlock()
	assert.Equal(t, "impala_1", events.events[1].SessionID)
	assert.Equal(t, "impala_0", events.events[1].PreviousID)
	for _, subject := range events.subjects {
		assert.Equal(t, "test.sessions", subject)
	}
}
