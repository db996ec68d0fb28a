package pool_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkeLLLa/chrome-pool/pkg/pool"
)

type fakeSession struct {
	id string

	mu     sync.Mutex
	navs   []string
	navErr error
	closed bool

	navStarted chan struct{} // non-nil: signalled when Navigate begins
	navGate    chan struct{} // non-nil: Navigate blocks until closed
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	if s.navStarted != nil {
		select {
		case s.navStarted <- struct{}{}:
		default:
		}
	}
	if s.navGate != nil {
		<-s.navGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.navErr != nil {
		return s.navErr
	}
	s.navs = append(s.navs, url)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.navs))
	copy(out, s.navs)
	return out
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeProtocol struct {
	mu            sync.Mutex
	existing      []pool.Target
	listErr       error
	nextID        int
	newCalls      int
	sessions      map[string]*fakeSession
	connects      []string
	closed        bool
	newTargetHook func(call int) error
	connectHook   func(id string) error
}

func newFakeProtocol(existing ...pool.Target) *fakeProtocol {
	return &fakeProtocol{
		existing: existing,
		sessions: make(map[string]*fakeSession),
	}
}

func (f *fakeProtocol) ListTargets(_ context.Context, _ int) ([]pool.Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]pool.Target, len(f.existing))
	copy(out, f.existing)
	return out, nil
}

func (f *fakeProtocol) NewTarget(_ context.Context, _ int) (pool.Target, error) {
	f.mu.Lock()
	f.newCalls++
	call := f.newCalls
	hook := f.newTargetHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(call); err != nil {
			return pool.Target{}, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return pool.Target{ID: fmt.Sprintf("tab-%d", f.nextID), Type: pool.TargetTypePage}, nil
}

func (f *fakeProtocol) Connect(_ context.Context, _ int, id string) (*fakeSession, error) {
	f.mu.Lock()
	f.connects = append(f.connects, id)
	hook := f.connectHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(id); err != nil {
			return nil, err
		}
	}

	s := &fakeSession{id: id}
	f.mu.Lock()
	f.sessions[id] = s
	f.mu.Unlock()
	return s, nil
}

func (f *fakeProtocol) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeProtocol) session(id string) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id]
}

func (f *fakeProtocol) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeProtocol) connectedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.connects))
	copy(out, f.connects)
	return out
}

func (f *fakeProtocol) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeProcess struct {
	mu      sync.Mutex
	kills   int
	killErr error
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kills++
	return p.killErr
}

func (p *fakeProcess) killCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

type fakeLauncher struct {
	err  error
	proc *fakeProcess
	port int
}

func (l *fakeLauncher) Launch(_ context.Context, port int) (pool.Process, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.port = port
	return l.proc, nil
}

type fakePorts struct {
	port int
	err  error
}

func (f *fakePorts) Allocate() (int, error) { return f.port, f.err }

type fixture struct {
	protocol *fakeProtocol
	launcher *fakeLauncher
	pool     *pool.Pool[*fakeSession]
}

func newTestPool(t *testing.T, capacity int, existing ...pool.Target) *fixture {
	t.Helper()
	f := &fixture{
		protocol: newFakeProtocol(existing...),
		launcher: &fakeLauncher{proc: &fakeProcess{}},
	}
	p, err := pool.New(context.Background(), pool.Options[*fakeSession]{
		Capacity:    capacity,
		Provisioner: &fakePorts{port: 9222},
		Launcher:    f.launcher,
		Protocol:    f.protocol,
	})
	require.NoError(t, err)
	f.pool = p
	t.Cleanup(func() { _ = p.Destroy() })
	return f
}

type acquireResult struct {
	tab *pool.Tab[*fakeSession]
	err error
}

func acquireAsync(p *pool.Pool[*fakeSession], ctx context.Context) chan acquireResult {
	ch := make(chan acquireResult, 1)
	go func() {
		tab, err := p.Acquire(ctx)
		ch <- acquireResult{tab: tab, err: err}
	}()
	return ch
}

func waitQueued(t *testing.T, p *pool.Pool[*fakeSession], n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return p.Stats().Waiting == n
	}, time.Second, time.Millisecond)
}

func TestNewAdoptsExistingPages(t *testing.T) {
	t.Parallel()

	f := newTestPool(t, 0,
		pool.Target{ID: "page-1", Type: "page"},
		pool.Target{ID: "bg-1", Type: "background_page"},
		pool.Target{ID: "page-2", Type: "page"},
		pool.Target{ID: "sw-1", Type: "service_worker"},
	)

	st := f.pool.Stats()
	assert.Equal(t, 2, st.Sessions)
	assert.Equal(t, 2, st.Free)
	assert.Zero(t, st.Busy)
	assert.ElementsMatch(t, []string{"page-1", "page-2"}, f.protocol.connectedIDs())
	assert.Equal(t, 9222, f.pool.Endpoint())
	assert.Equal(t, 9222, f.launcher.port)
}

func TestNewProvisionerFailure(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{proc: &fakeProcess{}}
	_, err := pool.New(context.Background(), pool.Options[*fakeSession]{
		Provisioner: &fakePorts{err: errors.New("no free port")},
		Launcher:    launcher,
		Protocol:    newFakeProtocol(),
	})
	require.ErrorContains(t, err, "allocate debugging endpoint")
	assert.Zero(t, launcher.port, "browser must not launch without an endpoint")
}

func TestNewLaunchFailure(t *testing.T) {
	t.Parallel()

	_, err := pool.New(context.Background(), pool.Options[*fakeSession]{
		Provisioner: &fakePorts{port: 9222},
		Launcher:    &fakeLauncher{err: errors.New("executable missing")},
		Protocol:    newFakeProtocol(),
	})
	require.ErrorContains(t, err, "launch browser on port 9222")
}

func TestNewEnumerationFailureKillsBrowser(t *testing.T) {
	t.Parallel()

	protocol := newFakeProtocol(
		pool.Target{ID: "page-1", Type: "page"},
		pool.Target{ID: "page-2", Type: "page"},
	)
	protocol.connectHook = func(id string) error {
		if id == "page-2" {
			return errors.New("domain enable refused")
		}
		return nil
	}
	proc := &fakeProcess{}
	_, err := pool.New(context.Background(), pool.Options[*fakeSession]{
		Provisioner: &fakePorts{port: 9222},
		Launcher:    &fakeLauncher{proc: proc},
		Protocol:    protocol,
	})
	require.ErrorContains(t, err, "connect target page-2")
	assert.Equal(t, 1, proc.killCount(), "failed construction must kill the launched browser")
	assert.True(t, protocol.isClosed())
	if s := protocol.session("page-1"); s != nil {
		assert.True(t, s.isClosed(), "adopted sessions must be closed on construction failure")
	}
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	t.Parallel()

	_, err := pool.New(context.Background(), pool.Options[*fakeSession]{})
	require.Error(t, err)

	_, err = pool.New(context.Background(), pool.Options[*fakeSession]{
		Capacity:    -1,
		Provisioner: &fakePorts{port: 9222},
		Launcher:    &fakeLauncher{proc: &fakeProcess{}},
		Protocol:    newFakeProtocol(),
	})
	require.ErrorContains(t, err, "negative capacity")
}

func TestAcquireCreatesUpToCapacity(t *testing.T) {
	t.Parallel()

	f := newTestPool(t, 2)
	ctx := context.Background()

	first, err := f.pool.Acquire(ctx)
	require.NoError(t, err)
	second, err := f.pool.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	st := f.pool.Stats()
	assert.Equal(t, 2, st.Sessions)
	assert.Equal(t, 2, st.Busy)

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = f.pool.Acquire(shortCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, f.pool.Stats().Waiting, "cancelled waiter must leave the queue")
}

func TestAcquireReusesReleasedSession(t *testing.T) {
	t.Parallel()

	f := newTestPool(t, 1)
	ctx := context.Background()

	tab, err := f.pool.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, f.pool.Release(ctx, tab.ID))

	again, err := f.pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, tab.ID, again.ID)

	// One blank-page reset per release, none on acquire.
	assert.Equal(t, []string{pool.BlankURL}, tab.Session.navigations())
}

func TestAcquireUnboundedNeverQueues(t *testing.T) {
	t.Parallel()

	f := newTestPool(t, 0)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		tab, err := f.pool.Acquire(ctx)
		require.NoError(t, err)
		seen[tab.ID] = true
	}
	assert.Len(t, seen, 5)
	assert.Equal(t, 5, f.pool.Stats().Sessions)
	assert.Zero(t, f.pool.Stats().Waiting)
}

func TestWaitQueueIsFIFO(t *testing.T) {
	t.Parallel()

	f := newTestPool(t, 1, pool.Target{ID: "page-1", Type: "page"})
	ctx := context.Background()

	holder, err := f.pool.Acquire(ctx)
	require.NoError(t, err)

	order := make(chan int, 2)
	firstWaiter := make(chan acquireResult, 1)
	go func() {
		tab, aerr := f.pool.Acquire(ctx)
		order <- 1
		firstWaiter <- acquireResult{tab: tab, err: aerr}
	}()
	waitQueued(t, f.pool, 1)

	secondWaiter := make(chan acquireResult, 1)
	go func() {
		tab, aerr := f.pool.Acquire(ctx)
		order <- 2
		secondWaiter <- acquireResult{tab: tab, err: aerr}
	}()
	waitQueued(t, f.pool, 2)

	require.NoError(t, f.pool.Release(ctx, holder.ID))
	select {
	case got := <-order:
		assert.Equal(t, 1, got, "oldest waiter must be resolved first")
	case <-time.After(time.Second):
		t.Fatal("no waiter resolved after release")
	}
	res1 := <-firstWaiter
	require.NoError(t, res1.err)
	assert.Equal(t, holder.ID, res1.tab.ID)

	require.NoError(t, f.pool.Release(ctx, res1.tab.ID))
	select {
	case got := <-order:
		assert.Equal(t, 2, got)
	case <-time.After(time.Second):
		t.Fatal("second waiter never resolved")
	}
	res2 := <-secondWaiter
	require.NoError(t, res2.err)
	assert.Equal(t, holder.ID, res2.tab.ID)
}

func TestReleaseHandsOverWithoutFreeState(t *testing.T) {
	t.Parallel()

	f := newTestPool(t, 1)
	ctx := context.Background()

	tab, err := f.pool.Acquire(ctx)
	require.NoError(t, err)

	waiting := acquireAsync(f.pool, ctx)
	waitQueued(t, f.pool, 1)

	require.NoError(t, f.pool.Release(ctx, tab.ID))

	// The handoff happens inside Release, so the session must never be
	// observable as free while a waiter exists.
	st := f.pool.Stats()
	assert.Zero(t, st.Free)
	assert.Equal(t, 1, st.Busy)

	res := <-waiting
	require.NoError(t, res.err)
	assert.Equal(t, tab.ID, res.tab.ID)
}

func TestReleaseUnknownSession(t *testing.T) {
	t.Parallel()

	f := newTestPool(t, 1, pool.Target{ID: "page-1", Type: "page"})
	before := f.pool.Stats()

	err := f.pool.Release(context.Background(), "nope")
	require.ErrorIs(t, err, pool.ErrUnknownSession)
	assert.Equal(t, before, f.pool.Stats(), "failed release must not mutate state")
}

func TestReleaseTwice(t *testing.T) {
	t.Parallel()

	f := newTestPool(t, 1)
	ctx := context.Background()

	tab, err := f.pool.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, f.pool.Release(ctx, tab.ID))

	err = f.pool.Release(ctx, tab.ID)
	require.ErrorIs(t, err, pool.ErrDoubleRelease)
}

func TestReleaseDuringInFlightReset(t *testing.T) {
	t.Parallel()

	f := newTestPool(t, 1)
	ctx := context.Background()

	tab, err := f.pool.Acquire(ctx)
	require.NoError(t, err)

	sess := tab.Session
	sess.navStarted = make(chan struct{}, 1)
	sess.navGate = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- f.pool.Release(ctx, tab.ID) }()
	<-sess.navStarted

	// The reset is still running; a second release of the same id must be
	// rejected rather than dispatching the entry twice.
	err = f.pool.Release(ctx, tab.ID)
	require.ErrorIs(t, err, pool.ErrDoubleRelease)

	close(sess.navGate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.pool.Stats().Free)
}

func TestReleaseResetFailureStillRecycles(t *testing.T) {
	t.Parallel()

	f := newTestPool(t, 1)
	ctx := context.Background()

	tab, err := f.pool.Acquire(ctx)
	require.NoError(t, err)

	tab.Session.mu.Lock()
	tab.Session.navErr = errors.New("target crashed")
	tab.Session.mu.Unlock()

	err = f.pool.Release(ctx, tab.ID)
	require.ErrorIs(t, err, pool.ErrResetFailed)

	// Free-with-warning: the slot is not lost.
	again, err := f.pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, tab.ID, again.ID)
}

func TestResetFailureHandsOverToWaiter(t *testing.T) {
	t.Parallel()

	f := newTestPool(t, 1)
	ctx := context.Background()

	tab, err := f.pool.Acquire(ctx)
	require.NoError(t, err)

	waiting := acquireAsync(f.pool, ctx)
	waitQueued(t, f.pool, 1)

	tab.Session.mu.Lock()
	tab.Session.navErr = errors.New("target crashed")
	tab.Session.mu.Unlock()

	err = f.pool.Release(ctx, tab.ID)
	require.ErrorIs(t, err, pool.ErrResetFailed)

	res := <-waiting
	require.NoError(t, res.err)
	assert.Equal(t, tab.ID, res.tab.ID)
}

func TestCreateSession(t *testing.T) {
	t.Parallel()

	f := newTestPool(t, 2, pool.Target{ID: "page-1", Type: "page"})
	ctx := context.Background()

	id, err := f.pool.CreateSession(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	st := f.pool.Stats()
	assert.Equal(t, 2, st.Sessions)
	assert.Equal(t, 2, st.Free)

	_, err = f.pool.CreateSession(ctx)
	require.ErrorIs(t, err, pool.ErrNoCapacity)
	assert.Equal(t, 2, f.pool.Stats().Sessions)
}

func TestCreateFailureWakesOldestWaiter(t *testing.T) {
	t.Parallel()

	f := newTestPool(t, 1)
	ctx := context.Background()

	entered := make(chan struct{})
	gate := make(chan struct{})
	f.protocol.mu.Lock()
	f.protocol.newTargetHook = func(call int) error {
		if call == 1 {
			close(entered)
			<-gate
			return errors.New("browser refused target")
		}
		return nil
	}
	f.protocol.mu.Unlock()

	creator := acquireAsync(f.pool, ctx)
	<-entered // creator holds the only creation slot mid-flight

	waiting := acquireAsync(f.pool, ctx)
	waitQueued(t, f.pool, 1)

	close(gate)
	res := <-creator
	require.ErrorContains(t, res.err, "browser refused target")

	// The freed slot must reach the parked waiter, not strand it.
	res = <-waiting
	require.NoError(t, res.err)
	assert.NotNil(t, res.tab)
}

func TestAcquireCancelWhileParked(t *testing.T) {
	t.Parallel()

	f := newTestPool(t, 1)
	ctx := context.Background()

	tab, err := f.pool.Acquire(ctx)
	require.NoError(t, err)

	waitCtx, cancel := context.WithCancel(ctx)
	waiting := acquireAsync(f.pool, waitCtx)
	waitQueued(t, f.pool, 1)

	cancel()
	res := <-waiting
	require.ErrorIs(t, res.err, context.Canceled)
	assert.Zero(t, f.pool.Stats().Waiting)

	// The queue stays consistent: a later release frees the session for
	// the next acquirer.
	require.NoError(t, f.pool.Release(ctx, tab.ID))
	again, err := f.pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, tab.ID, again.ID)
}

func TestDestroyFailsParkedWaiters(t *testing.T) {
	t.Parallel()

	f := newTestPool(t, 1)
	ctx := context.Background()

	tab, err := f.pool.Acquire(ctx)
	require.NoError(t, err)

	waiting := acquireAsync(f.pool, ctx)
	waitQueued(t, f.pool, 1)

	require.NoError(t, f.pool.Destroy())

	res := <-waiting
	require.ErrorIs(t, res.err, pool.ErrPoolClosed)

	_, err = f.pool.Acquire(ctx)
	require.ErrorIs(t, err, pool.ErrPoolClosed)
	err = f.pool.Release(ctx, tab.ID)
	require.ErrorIs(t, err, pool.ErrPoolClosed)
	require.ErrorIs(t, f.pool.Destroy(), pool.ErrPoolClosed)

	assert.Equal(t, 1, f.launcher.proc.killCount())
	assert.True(t, f.protocol.isClosed())
	assert.True(t, tab.Session.isClosed())
}

func TestDestroySurfacesKillFailure(t *testing.T) {
	t.Parallel()

	f := newTestPool(t, 1)
	f.launcher.proc.killErr = errors.New("process already gone")

	err := f.pool.Destroy()
	require.ErrorContains(t, err, "process already gone")

	// State is cleared regardless of the kill failure.
	_, err = f.pool.Acquire(context.Background())
	require.ErrorIs(t, err, pool.ErrPoolClosed)
}

func TestHandlesNeverShared(t *testing.T) {
	t.Parallel()

	f := newTestPool(t, 3)
	ctx := context.Background()

	var (
		mu        sync.Mutex
		held      = make(map[string]bool)
		violation atomic.Bool
		overCap   atomic.Bool
	)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tab, err := f.pool.Acquire(ctx)
				if err != nil {
					violation.Store(true)
					return
				}
				mu.Lock()
				if held[tab.ID] {
					violation.Store(true)
				}
				held[tab.ID] = true
				mu.Unlock()

				if f.pool.Stats().Sessions > 3 {
					overCap.Store(true)
				}

				mu.Lock()
				held[tab.ID] = false
				mu.Unlock()
				if err := f.pool.Release(ctx, tab.ID); err != nil {
					violation.Store(true)
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.False(t, violation.Load(), "a session was held by two callers or an op failed")
	assert.False(t, overCap.Load(), "registered sessions exceeded capacity")
	assert.LessOrEqual(t, f.protocol.sessionCount(), 3)
}

func TestEndToEndCapacityTwo(t *testing.T) {
	t.Parallel()

	f := newTestPool(t, 2)
	ctx := context.Background()

	first, err := f.pool.Acquire(ctx)
	require.NoError(t, err)
	second, err := f.pool.Acquire(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	third := acquireAsync(f.pool, ctx)
	waitQueued(t, f.pool, 1)
	select {
	case <-third:
		t.Fatal("third acquire must block while the pool is saturated")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, f.pool.Release(ctx, first.ID))
	res := <-third
	require.NoError(t, res.err)
	assert.Equal(t, first.ID, res.tab.ID, "waiter must receive the freed session")
}
