// Package eventpair provides the user-space signaling primitive used
// to notify PTY peers about readiness. An endpoint pair shares one
// signal word: the side that owns the state asserts and deasserts
// bits, while waiters on either end observe transitions. Signal bits
// carry no data, only readiness.
package eventpair

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Signals is a bitmask of readiness conditions on an endpoint.
type Signals uint32

const (
	// Readable means buffered bytes (or EOF) can be read from this side.
	Readable Signals = 1 << 0
	// Writable means the peer has buffer space for more bytes.
	Writable Signals = 1 << 1
	// Hangup means the peer is gone and will not come back.
	Hangup Signals = 1 << 2
	// Event means pending out-of-band events await a drain. Only
	// asserted on the control client's endpoint.
	Event Signals = 1 << 3
)

// String renders the mask for logs, e.g. "readable|hangup".
func (s Signals) String() string {
	if s == 0 {
		return "none"
	}
	names := []string{}
	for _, b := range []struct {
		bit  Signals
		name string
	}{
		{Readable, "readable"},
		{Writable, "writable"},
		{Hangup, "hangup"},
		{Event, "event"},
	} {
		if s&b.bit != 0 {
			names = append(names, b.name)
		}
	}
	return strings.Join(names, "|")
}

// ErrPeerTaken is returned by TakePeer after the remote endpoint has
// already been handed out.
var ErrPeerTaken = errors.New("eventpair: peer endpoint already taken")

// shared is the state common to both ends of a pair.
type shared struct {
	mu   sync.Mutex
	bits Signals
	ch   chan struct{} // closed and replaced on every transition
	peer *Endpoint     // nil once taken
}

// Endpoint is one side of a signaling pair. All methods are safe for
// concurrent use.
type Endpoint struct {
	s *shared
}

// New creates a linked endpoint pair and returns the local side. The
// remote side is retrieved exactly once via TakePeer.
func New() *Endpoint {
	s := &shared{ch: make(chan struct{})}
	local := &Endpoint{s: s}
	s.peer = &Endpoint{s: s}
	return local
}

// TakePeer transfers the remote endpoint to the caller. Subsequent
// calls fail with ErrPeerTaken.
func (e *Endpoint) TakePeer() (*Endpoint, error) {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if e.s.peer == nil {
		return nil, ErrPeerTaken
	}
	p := e.s.peer
	e.s.peer = nil
	return p, nil
}

// Assert raises the given signal bits.
func (e *Endpoint) Assert(mask Signals) {
	e.update(func(bits Signals) Signals { return bits | mask })
}

// Deassert lowers the given signal bits.
func (e *Endpoint) Deassert(mask Signals) {
	e.update(func(bits Signals) Signals { return bits &^ mask })
}

func (e *Endpoint) update(f func(Signals) Signals) {
	e.s.mu.Lock()
	next := f(e.s.bits)
	if next == e.s.bits {
		e.s.mu.Unlock()
		return
	}
	e.s.bits = next
	// Wake every waiter; they re-check under the lock.
	close(e.s.ch)
	e.s.ch = make(chan struct{})
	e.s.mu.Unlock()
}

// Observed returns the currently asserted signal bits.
func (e *Endpoint) Observed() Signals {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	return e.s.bits
}

// Wait blocks until at least one bit in mask is asserted, then returns
// the full signal word. It returns ctx.Err() if the context ends first.
func (e *Endpoint) Wait(ctx context.Context, mask Signals) (Signals, error) {
	for {
		e.s.mu.Lock()
		if e.s.bits&mask != 0 {
			bits := e.s.bits
			e.s.mu.Unlock()
			return bits, nil
		}
		ch := e.s.ch
		e.s.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ch:
		}
	}
}

// WaitChange blocks until the signal word differs from prev and
// returns the new value. Used by observers that mirror every
// transition rather than waiting for a particular bit.
func (e *Endpoint) WaitChange(ctx context.Context, prev Signals) (Signals, error) {
	for {
		e.s.mu.Lock()
		if e.s.bits != prev {
			bits := e.s.bits
			e.s.mu.Unlock()
			return bits, nil
		}
		ch := e.s.ch
		e.s.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ch:
		}
	}
}
