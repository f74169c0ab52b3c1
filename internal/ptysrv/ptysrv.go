// Package ptysrv implements the pseudo-terminal multiplexer core: a
// Server hub that fans a single server-side byte stream out to a set
// of Clients, exactly one of which is active at a time. The server
// side is where a shell or application sits; clients are terminal
// endpoints. The control client (id 0) additionally receives
// out-of-band events and may issue administrative operations.
//
// Every operation is synchronous and non-blocking. Callers that see
// ErrShouldWait are expected to wait for the relevant signal bit on
// the matching eventpair endpoint and retry; the core never suspends.
// All state is guarded by one mutex per server, so operations from
// any goroutine observe a consistent view.
package ptysrv

import (
	"errors"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// FifoCapacity is the size in bytes of every stream fifo. It doubles
// as the maximum line length in cooked mode: Send caps each call at
// this many bytes before scanning for control characters.
const FifoCapacity = 4096

// Events is the bitmask of pending out-of-band events, drained by the
// control client. Bits are additive and cleared only by DrainEvents.
type Events uint32

const (
	// EventInterrupt records a Ctrl-C observed on the cooked-mode
	// server-to-client path.
	EventInterrupt Events = 1 << 0
	// EventWindowSize records a window size change.
	EventWindowSize Events = 1 << 1
	// EventHangup is synthesized at drain time while no client is
	// active; it is never stored.
	EventHangup Events = 1 << 2
)

// String renders the event mask for logs.
func (e Events) String() string {
	if e == 0 {
		return "none"
	}
	names := []string{}
	if e&EventInterrupt != 0 {
		names = append(names, "interrupt")
	}
	if e&EventWindowSize != 0 {
		names = append(names, "window-size")
	}
	if e&EventHangup != 0 {
		names = append(names, "hangup")
	}
	return strings.Join(names, "|")
}

// Features is the per-client feature bitmask. FeatureRaw is the only
// recognized bit; unknown bits are ignored.
type Features uint32

// FeatureRaw disables cooked-mode processing on the server-to-client
// path for the client that carries it.
const FeatureRaw Features = 1 << 0

// WindowSize is the terminal geometry shared by all clients of a
// server.
type WindowSize struct {
	Cols uint32
	Rows uint32
}

// Sentinel errors returned by core operations. Transient conditions
// use ErrShouldWait; terminal ones use ErrPeerClosed or io.EOF; the
// remaining three report a malformed request.
var (
	ErrShouldWait   = errors.New("ptysrv: operation would block")
	ErrPeerClosed   = errors.New("ptysrv: peer closed")
	ErrInvalidArg   = errors.New("ptysrv: invalid argument")
	ErrNotFound     = errors.New("ptysrv: client not found")
	ErrNotPermitted = errors.New("ptysrv: not permitted")
)

// EOF is re-exported so callers can match end-of-stream without
// importing io alongside this package.
var EOF = io.EOF

// noopLogger discards all output; shared so a nil logger option does
// not allocate per server.
var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()
