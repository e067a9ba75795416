package nanosync

import (
	"context"
	"sync"

	"github.com/arthur-debert/nanosync/nanosync/remote"
)

// State is the lifecycle of a subscription session
type State int

const (
	StateIdle State = iota
	StateSubscribing
	StateActive
	StateUnsubscribed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	case StateUnsubscribed:
		return "unsubscribed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// firstSnapshot resolves once, with the first snapshot or listener error
type firstSnapshot struct {
	once sync.Once
	ch   chan error
}

func newFirstSnapshot() *firstSnapshot {
	return &firstSnapshot{ch: make(chan error, 1)}
}

func (f *firstSnapshot) resolve(err error) {
	f.once.Do(func() {
		f.ch <- err
	})
}

func (f *firstSnapshot) wait(ctx context.Context) error {
	select {
	case err := <-f.ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lifecycle tracks the one live listener of a session. Every listener gets a
// generation; callbacks carrying an older generation are ignored, so a late
// snapshot from a torn-down listener never reaches the cache.
type lifecycle struct {
	mu     sync.Mutex
	state  State
	err    error
	gen    uint64
	unsub  remote.Unsubscribe
	closed bool
}

// next starts a new generation and hands back the previous listener's
// unsubscribe, which the caller runs after releasing mu. Caller holds mu.
func (l *lifecycle) next() (uint64, remote.Unsubscribe) {
	old := l.unsub
	l.unsub = nil
	l.gen++
	l.state = StateSubscribing
	l.err = nil
	return l.gen, old
}

// attach records the listener of gen, or reports false when gen is stale
func (l *lifecycle) attach(gen uint64, unsub remote.Unsubscribe) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen || l.closed {
		return false
	}
	l.unsub = unsub
	return true
}

func (l *lifecycle) current(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return gen == l.gen && !l.closed
}

func (l *lifecycle) markActive(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen == l.gen && !l.closed {
		l.state = StateActive
		l.err = nil
	}
}

func (l *lifecycle) markError(gen uint64, err error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen || l.closed {
		return false
	}
	l.state = StateError
	l.err = err
	return true
}

// close ends the session and returns the listener to stop
func (l *lifecycle) close() (remote.Unsubscribe, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, false
	}
	old := l.unsub
	l.unsub = nil
	l.gen++
	l.closed = true
	l.state = StateUnsubscribed
	return old, true
}

func (l *lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func stop(unsub remote.Unsubscribe) {
	if unsub != nil {
		unsub()
	}
}
