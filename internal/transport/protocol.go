// Package transport exposes a ptysrv.Server over websockets. Each
// connection binds either the server side of the stream (at /server)
// or one client (at /client/{id}); every operation is a single JSON
// message with a single reply, and signal transitions are pushed to
// the peer as unsolicited "signal" messages.
package transport

import (
	"errors"
	"io"

	"github.com/srg/ptymux/internal/ptysrv"
)

// Operation names. Anything else is answered with StatusNotSupported
// and must not mutate state.
const (
	OpOpenClient    = "open_client"
	OpRead          = "read"
	OpWrite         = "write"
	OpMakeActive    = "make_active"
	OpClrSetFeature = "clr_set_feature"
	OpGetWindowSize = "get_window_size"
	OpSetWindowSize = "set_window_size"
	OpReadEvents    = "read_events"
	OpDescribe      = "describe"

	// OpSignal is server-to-peer only: it mirrors every signal word
	// transition on the connection's endpoint.
	OpSignal = "signal"
)

// Reply statuses.
const (
	StatusOK           = "ok"
	StatusShouldWait   = "should_wait"
	StatusPeerClosed   = "peer_closed"
	StatusInvalidArgs  = "invalid_args"
	StatusNotFound     = "not_found"
	StatusNotPermitted = "not_permitted"
	StatusNotSupported = "not_supported"
)

// Request is the client-to-service message. Unused fields are omitted
// on the wire; Data is base64-encoded by encoding/json.
type Request struct {
	Op   string `json:"op"`
	Seq  uint64 `json:"seq,omitempty"`
	ID   uint32 `json:"id,omitempty"`
	Max  uint32 `json:"max,omitempty"`
	Data []byte `json:"data,omitempty"`
	Clr  uint32 `json:"clr,omitempty"`
	Set  uint32 `json:"set,omitempty"`
	Cols uint32 `json:"cols,omitempty"`
	Rows uint32 `json:"rows,omitempty"`
}

// Response is the service-to-client message, both for op replies
// (echoing Seq) and for pushed signal transitions (Op == OpSignal).
type Response struct {
	Op       string `json:"op"`
	Seq      uint64 `json:"seq,omitempty"`
	Status   string `json:"status,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Written  uint32 `json:"written,omitempty"`
	Features uint32 `json:"features,omitempty"`
	Events   uint32 `json:"events,omitempty"`
	Cols     uint32 `json:"cols,omitempty"`
	Rows     uint32 `json:"rows,omitempty"`
	Signals  uint32 `json:"signals,omitempty"`
}

// statusOf translates core errors to wire statuses. io.EOF maps to OK:
// end of stream is an empty successful read.
func statusOf(err error) string {
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return StatusOK
	case errors.Is(err, ptysrv.ErrShouldWait):
		return StatusShouldWait
	case errors.Is(err, ptysrv.ErrPeerClosed):
		return StatusPeerClosed
	case errors.Is(err, ptysrv.ErrInvalidArg):
		return StatusInvalidArgs
	case errors.Is(err, ptysrv.ErrNotFound):
		return StatusNotFound
	case errors.Is(err, ptysrv.ErrNotPermitted):
		return StatusNotPermitted
	default:
		return StatusPeerClosed
	}
}
