// Package pool manages a bounded or unbounded set of reusable browser
// sessions ("tabs") hosted inside a single externally launched browser
// process.
//
// Callers Acquire a connected session, drive it through its capability
// handle and Release it back; released sessions are navigated to a blank
// page and recycled instead of being torn down. When every session is busy
// and the capacity ceiling is reached, acquirers park on a FIFO wait queue
// and are resolved strictly in arrival order, each release handing its
// session directly to the oldest waiter.
//
// The pool does not talk to the browser itself; port allocation, process
// launch and the DevTools wire protocol are supplied through the
// Provisioner, Launcher and Protocol interfaces.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// entry is one registered session with its availability state.
type entry[S Session] struct {
	id        string
	busy      bool
	resetting bool
	sess      S
}

// grant resolves one parked waiter: a session handed over by a release, a
// freed creation slot (nil entry), or a teardown error.
type grant[S Session] struct {
	entry *entry[S]
	err   error
}

type waiter[S Session] struct {
	ch chan grant[S]
}

// Pool owns one browser process and the sessions opened inside it.
type Pool[S Session] struct {
	endpoint int
	proc     Process
	protocol Protocol[S]
	capacity int
	resetURL string
	log      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*entry[S]
	waiters  []*waiter[S]
	creating int
	closed   bool
}

// New provisions a debugging endpoint, launches the browser on it and
// adopts every already-open page target as a free session. Construction is
// all or nothing: a failure while enumerating or connecting targets kills
// the launched browser and returns the error.
func New[S Session](ctx context.Context, opts Options[S]) (*Pool[S], error) {
	if opts.Provisioner == nil || opts.Launcher == nil || opts.Protocol == nil {
		return nil, errors.New("pool: provisioner, launcher and protocol are all required")
	}
	if opts.Capacity < 0 {
		return nil, fmt.Errorf("pool: negative capacity %d", opts.Capacity)
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	resetURL := opts.ResetURL
	if resetURL == "" {
		resetURL = BlankURL
	}

	port, err := opts.Provisioner.Allocate()
	if err != nil {
		return nil, fmt.Errorf("allocate debugging endpoint: %w", err)
	}

	proc, err := opts.Launcher.Launch(ctx, port)
	if err != nil {
		return nil, fmt.Errorf("launch browser on port %d: %w", port, err)
	}

	p := &Pool[S]{
		endpoint: port,
		proc:     proc,
		protocol: opts.Protocol,
		capacity: opts.Capacity,
		resetURL: resetURL,
		log:      logger,
		sessions: make(map[string]*entry[S]),
	}

	if err := p.adoptExisting(ctx); err != nil {
		return nil, errors.Join(err, p.protocol.Close(), proc.Kill())
	}

	p.log.Info().
		Str("event", "pool_created").
		Int("endpoint", port).
		Int("capacity", opts.Capacity).
		Int("sessions", len(p.sessions)).
		Msg("session pool ready")

	return p, nil
}

// adoptExisting connects every open page target and registers it as free.
// Background pages and service workers are skipped.
func (p *Pool[S]) adoptExisting(ctx context.Context) error {
	targets, err := p.protocol.ListTargets(ctx, p.endpoint)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}

	var (
		mu      sync.Mutex
		adopted []S
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		if t.Type != TargetTypePage {
			continue
		}
		g.Go(func() error {
			s, err := p.protocol.Connect(gctx, p.endpoint, t.ID)
			if err != nil {
				return fmt.Errorf("connect target %s: %w", t.ID, err)
			}
			mu.Lock()
			adopted = append(adopted, s)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, s := range adopted {
			_ = s.Close()
		}
		return err
	}

	for _, s := range adopted {
		p.sessions[s.ID()] = &entry[S]{id: s.ID(), sess: s}
	}
	return nil
}

// Acquire returns a session for the caller's exclusive use. It hands out a
// free session when one exists, opens a new one while below capacity, and
// otherwise parks the caller on the wait queue until a release resolves it.
// Parked callers are resolved strictly in arrival order. Cancelling ctx
// while parked removes the caller from the queue.
func (p *Pool[S]) Acquire(ctx context.Context) (*Tab[S], error) {
	senior := false
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if e := p.takeFreeLocked(); e != nil {
			p.mu.Unlock()
			p.log.Debug().
				Str("event", "session_acquired").
				Str("session_id", e.id).
				Msg("free session handed out")
			return &Tab[S]{ID: e.id, Session: e.sess}, nil
		}
		if p.roomLocked() {
			p.creating++
			p.mu.Unlock()

			e, err := p.openSession(ctx, true)
			if err != nil {
				return nil, err
			}
			p.log.Debug().
				Str("event", "session_created").
				Str("session_id", e.id).
				Msg("new session handed out")
			return &Tab[S]{ID: e.id, Session: e.sess}, nil
		}

		w := &waiter[S]{ch: make(chan grant[S], 1)}
		if senior {
			// Woken for a creation slot another caller claimed first; keep
			// queue seniority instead of re-parking at the back.
			p.waiters = append([]*waiter[S]{w}, p.waiters...)
		} else {
			p.waiters = append(p.waiters, w)
		}
		queued := len(p.waiters)
		p.mu.Unlock()
		p.log.Debug().
			Str("event", "waiter_parked").
			Int("queue_length", queued).
			Msg("pool saturated, caller queued")

		select {
		case g := <-w.ch:
			if g.err != nil {
				return nil, g.err
			}
			if g.entry != nil {
				p.log.Debug().
					Str("event", "session_handed_over").
					Str("session_id", g.entry.id).
					Msg("released session handed to waiter")
				return &Tab[S]{ID: g.entry.id, Session: g.entry.sess}, nil
			}
			// A creation slot opened up; go around again.
			senior = true
		case <-ctx.Done():
			p.abandon(w)
			return nil, ctx.Err()
		}
	}
}

// CreateSession opens a new tab below the capacity ceiling and registers it
// as free. It returns ErrNoCapacity once the ceiling is reached; that is
// the expected saturation signal, not a failure.
func (p *Pool[S]) CreateSession(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrPoolClosed
	}
	if !p.roomLocked() {
		p.mu.Unlock()
		return "", ErrNoCapacity
	}
	p.creating++
	p.mu.Unlock()

	e, err := p.openSession(ctx, false)
	if err != nil {
		return "", err
	}
	return e.id, nil
}

// openSession performs the suspending NewTarget and Connect round trips for
// one reserved creation slot and registers the result. With acquired set
// the entry is registered busy and belongs to the caller; otherwise it is
// registered free (or handed straight to the oldest waiter). On failure the
// reservation is returned and the oldest waiter is woken so the slot is not
// lost.
func (p *Pool[S]) openSession(ctx context.Context, acquired bool) (*entry[S], error) {
	t, err := p.protocol.NewTarget(ctx, p.endpoint)
	if err == nil {
		var sess S
		sess, err = p.protocol.Connect(ctx, p.endpoint, t.ID)
		if err == nil {
			p.mu.Lock()
			p.creating--
			if p.closed {
				p.mu.Unlock()
				_ = sess.Close()
				return nil, ErrPoolClosed
			}
			e := &entry[S]{id: t.ID, busy: acquired, sess: sess}
			p.sessions[e.id] = e
			if !acquired && p.handoffLocked(e) {
				// Never surface a free session past parked waiters.
				e.busy = true
			}
			p.mu.Unlock()
			return e, nil
		}
		err = fmt.Errorf("connect target %s: %w", t.ID, err)
	} else {
		err = fmt.Errorf("open target: %w", err)
	}

	p.mu.Lock()
	p.creating--
	p.dispatchSlotLocked()
	p.mu.Unlock()
	return nil, err
}

// Release returns a session to the pool. The session is reset by navigating
// it to the pool's blank page before it becomes available again, then
// handed directly to the oldest parked waiter, or marked free when nobody
// is waiting. A failed reset still recycles the session; the returned error
// wraps ErrResetFailed so callers can observe the degraded hand-back.
func (p *Pool[S]) Release(ctx context.Context, id string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	e, ok := p.sessions[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("release session %q: %w", id, ErrUnknownSession)
	}
	if !e.busy || e.resetting {
		// A second release racing an in-flight reset must fail here, not
		// dispatch the same entry twice.
		p.mu.Unlock()
		return fmt.Errorf("release session %q: %w", id, ErrDoubleRelease)
	}
	e.resetting = true
	p.mu.Unlock()

	// The entry stays busy for the duration of the reset, so no other
	// caller can take it before the blank page is loaded.
	resetErr := e.sess.Navigate(ctx, p.resetURL)

	p.mu.Lock()
	e.resetting = false
	if p.closed {
		// The pool was destroyed mid-reset; the entry is gone already.
		p.mu.Unlock()
		return ErrPoolClosed
	}
	handedOver := p.handoffLocked(e)
	if !handedOver {
		e.busy = false
	}
	waiting := len(p.waiters)
	p.mu.Unlock()

	if resetErr != nil {
		p.log.Warn().
			Str("event", "session_reset_failed").
			Str("session_id", id).
			Err(resetErr).
			Msg("session returned to service without a clean reset")
		return fmt.Errorf("release session %q: %w: %w", id, ErrResetFailed, resetErr)
	}
	p.log.Debug().
		Str("event", "session_released").
		Str("session_id", id).
		Bool("handed_over", handedOver).
		Int("waiting", waiting).
		Msg("session released")
	return nil
}

// Destroy tears the pool down: every parked waiter fails with
// ErrPoolClosed, every session handle is closed, the protocol client is
// closed and the browser process is killed. State is cleared even when
// closing or killing fails; those errors are joined into the return value.
// Destroy is one-shot, a second call returns ErrPoolClosed.
func (p *Pool[S]) Destroy() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	entries := make([]*entry[S], 0, len(p.sessions))
	for _, e := range p.sessions {
		entries = append(entries, e)
	}
	p.sessions = make(map[string]*entry[S])
	p.mu.Unlock()

	for _, w := range waiters {
		w.ch <- grant[S]{err: ErrPoolClosed}
	}

	var errs []error
	for _, e := range entries {
		if err := e.sess.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", e.id, err))
		}
	}
	if err := p.protocol.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close protocol client: %w", err))
	}
	if err := p.proc.Kill(); err != nil {
		errs = append(errs, fmt.Errorf("kill browser: %w", err))
	}

	p.log.Info().
		Str("event", "pool_destroyed").
		Int("sessions", len(entries)).
		Int("waiters_failed", len(waiters)).
		Msg("session pool destroyed")

	return errors.Join(errs...)
}

// Stats reports current pool occupancy.
func (p *Pool[S]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Stats{
		Capacity: p.capacity,
		Sessions: len(p.sessions),
		Waiting:  len(p.waiters),
	}
	for _, e := range p.sessions {
		if e.busy {
			st.Busy++
		} else {
			st.Free++
		}
	}
	return st
}

// Endpoint returns the debugging port the browser was launched on.
func (p *Pool[S]) Endpoint() int {
	return p.endpoint
}

// takeFreeLocked claims an arbitrary free session, if any.
func (p *Pool[S]) takeFreeLocked() *entry[S] {
	for _, e := range p.sessions {
		if !e.busy {
			e.busy = true
			return e
		}
	}
	return nil
}

// roomLocked reports whether a new session may be opened. In-flight
// creations count against the ceiling so concurrent acquires cannot
// overshoot it while their protocol round trips run outside the lock.
func (p *Pool[S]) roomLocked() bool {
	return p.capacity == 0 || len(p.sessions)+p.creating < p.capacity
}

// handoffLocked passes a busy entry to the oldest parked waiter.
func (p *Pool[S]) handoffLocked(e *entry[S]) bool {
	if len(p.waiters) == 0 {
		return false
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	w.ch <- grant[S]{entry: e}
	return true
}

// dispatchSlotLocked wakes the oldest parked waiter after a creation slot
// opened up without a session to hand over.
func (p *Pool[S]) dispatchSlotLocked() {
	if len(p.waiters) == 0 {
		return
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	w.ch <- grant[S]{}
}

// abandon unlinks a parked waiter whose context ended. When the grant has
// already been dispatched it is re-routed so the session or creation slot
// is not leaked.
func (p *Pool[S]) abandon(w *waiter[S]) {
	p.mu.Lock()
	for i, q := range p.waiters {
		if q == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return
		}
	}
	p.mu.Unlock()

	// Not in the queue: a dispatcher resolved this waiter before the
	// cancellation won. The grant is already buffered.
	g := <-w.ch
	switch {
	case g.err != nil:
	case g.entry != nil:
		p.recycle(g.entry)
	default:
		p.mu.Lock()
		p.dispatchSlotLocked()
		p.mu.Unlock()
	}
}

// recycle puts an already-reset entry back into circulation after its
// grant was abandoned.
func (p *Pool[S]) recycle(e *entry[S]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		// Destroy already closed every registered session.
		return
	}
	if !p.handoffLocked(e) {
		e.busy = false
	}
}
