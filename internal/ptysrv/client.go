package ptysrv

import (
	"io"

	"github.com/srg/ptymux/internal/eventpair"
	"github.com/srg/ptymux/internal/fifo"
)

// Client is one terminal endpoint of a server. Its receive fifo holds
// bytes sent by the server side; writes flow the other way and are
// only honored while the client is active. After RemoveClient the
// record stays safe to use through lingering references: reads drain
// and then report io.EOF, writes fail with ErrPeerClosed.
type Client struct {
	server *Server
	id     uint32

	rx       *fifo.Fifo
	features Features
	ep       *eventpair.Endpoint
	removed  bool
}

// ID returns the client's identity, unique within its server.
func (c *Client) ID() uint32 { return c.id }

// Endpoint returns the client's signaling endpoint. The remote side,
// taken via TakePeer, is what gets published to the user.
func (c *Client) Endpoint() *eventpair.Endpoint { return c.ep }

// Read drains bytes the server sent to this client. Once the server
// has shut down or the client has been removed, an empty fifo reports
// io.EOF; with a live client and nothing buffered it reports
// ErrShouldWait.
func (c *Client) Read(p []byte) (int, error) {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.rx.IsEmpty() {
		if s.closed || c.removed {
			return 0, io.EOF
		}
		return 0, ErrShouldWait
	}

	wasFull := c.rx.IsFull()
	n := c.rx.Read(p)
	if c.rx.IsEmpty() {
		c.ep.Deassert(eventpair.Readable)
	}
	if wasFull && s.active == c {
		// Space opened up for the server-side writer.
		s.ep.Assert(eventpair.Writable)
	}
	return n, nil
}

// Write sends bytes toward the server side. Only the active client
// may write; everyone else gets ErrShouldWait and retries after a
// Writable transition (the stream is not broken, merely parked).
func (c *Client) Write(p []byte) (int, error) {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.removed {
		return 0, ErrPeerClosed
	}
	if s.active != c {
		return 0, ErrShouldWait
	}
	n, full, err := s.recvLocked(p)
	if full {
		c.ep.Deassert(eventpair.Writable)
	}
	return n, err
}

// SetFeatures clears then sets feature bits and returns the resulting
// mask. FeatureRaw is the only recognized bit; everything else is
// dropped from both masks.
func (c *Client) SetFeatures(clr, set Features) Features {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	c.features = (c.features &^ (clr & FeatureRaw)) | (set & FeatureRaw)
	return c.features
}

// Features returns the current feature mask.
func (c *Client) Features() Features {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.features
}

// IsActive reports whether this client currently receives the
// server-side byte stream.
func (c *Client) IsActive() bool {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active == c
}

// IsControl reports whether this client is the control client.
func (c *Client) IsControl() bool {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.control == c
}

// Close removes the client from its server. Equivalent to the
// transport dropping the client's last binding.
func (c *Client) Close() {
	c.server.RemoveClient(c)
}

// adjustSignalsLocked recomputes the client's Readable and Writable
// bits from fifo and active state. Callers hold the server mutex.
func (c *Client) adjustSignalsLocked() {
	s := c.server
	if c.rx.IsEmpty() {
		c.ep.Deassert(eventpair.Readable)
	} else {
		c.ep.Assert(eventpair.Readable)
	}
	if s.active == c && !s.rx.IsFull() {
		c.ep.Assert(eventpair.Writable)
	} else {
		c.ep.Deassert(eventpair.Writable)
	}
}
