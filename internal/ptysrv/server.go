package ptysrv

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/ptymux/internal/eventpair"
	"github.com/srg/ptymux/internal/fifo"
)

// Server is the multiplexer hub. It owns the client set, the active
// and control designations, the server-side receive fifo, the pending
// event mask, and the window size. A single mutex serializes every
// operation, including those invoked through Client.
type Server struct {
	mu  sync.Mutex
	log *logrus.Logger

	clients *orderedmap.OrderedMap[uint32, *Client]
	active  *Client // nil when no client is active
	control *Client // nil when no control client exists

	rx *fifo.Fifo // bytes written by clients, awaiting server-side readout
	ep *eventpair.Endpoint

	events Events
	size   WindowSize
	closed bool // set by Shutdown
}

// NewServer creates a server with no clients. The server endpoint
// starts with Readable and Hangup asserted: with an empty client set,
// a server-side read reports EOF. A nil logger disables logging.
func NewServer(log *logrus.Logger, size WindowSize) *Server {
	if log == nil {
		log = noopLogger
	}
	s := &Server{
		log:     log,
		clients: orderedmap.New[uint32, *Client](),
		rx:      fifo.New(FifoCapacity),
		ep:      eventpair.New(),
		size:    size,
	}
	s.ep.Assert(eventpair.Readable | eventpair.Hangup)
	return s
}

// Endpoint returns the server-side signaling endpoint. Waiters use it
// to observe Readable/Writable/Hangup transitions for the server side
// of the stream.
func (s *Server) Endpoint() *eventpair.Endpoint { return s.ep }

// CreateClient registers a new client under id. The first client
// becomes active; id 0 becomes the control client. A duplicate id
// fails with ErrInvalidArg.
func (s *Server) CreateClient(id uint32) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrPeerClosed
	}
	if _, exists := s.clients.Get(id); exists {
		return nil, ErrInvalidArg
	}

	c := &Client{
		server: s,
		id:     id,
		rx:     fifo.New(FifoCapacity),
		ep:     eventpair.New(),
	}
	first := s.clients.Len() == 0
	s.clients.Set(id, c)

	if s.active == nil {
		s.active = c
	}
	if id == 0 {
		s.control = c
		if s.events != 0 {
			c.ep.Assert(eventpair.Event)
		}
	}
	if first {
		// Leaving the no-clients state: reads stop reporting EOF.
		s.ep.Deassert(eventpair.Readable | eventpair.Hangup)
	}
	c.adjustSignalsLocked()

	s.log.WithFields(logrus.Fields{
		"client":  id,
		"active":  s.active == c,
		"control": s.control == c,
	}).Debug("Created PTY client")
	return c, nil
}

// RemoveClient detaches c from the server. If c was the control
// client, control is cleared. If c was active, the control client (if
// any) is notified with Hangup and Event; the Hangup stays asserted
// until the control client itself goes away. When the last client is
// removed the server endpoint flips to EOF semantics.
func (s *Server) RemoveClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c == nil || c.server != s {
		return
	}
	if _, exists := s.clients.Get(c.id); !exists {
		return
	}
	c.removed = true

	if s.control == c {
		s.control = nil
	}
	if s.active == c {
		s.active = nil
		if s.control != nil {
			s.control.ep.Assert(eventpair.Hangup | eventpair.Event)
		}
	}
	s.clients.Delete(c.id)

	if s.clients.Len() == 0 {
		s.ep.Deassert(eventpair.Writable)
		s.ep.Assert(eventpair.Readable | eventpair.Hangup)
	}

	s.log.WithField("client", c.id).Debug("Removed PTY client")
}

// Read drains bytes that clients wrote toward the server side. With
// no clients it reports io.EOF; with clients but nothing buffered it
// reports ErrShouldWait.
func (s *Server) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rx.IsEmpty() {
		if s.clients.Len() == 0 {
			return 0, io.EOF
		}
		return 0, ErrShouldWait
	}

	wasFull := s.rx.IsFull()
	n := s.rx.Read(p)
	if s.rx.IsEmpty() && s.clients.Len() > 0 {
		s.ep.Deassert(eventpair.Readable)
	}
	if wasFull && s.active != nil {
		s.active.ep.Assert(eventpair.Writable)
	}
	return n, nil
}

// Write sends bytes toward the active client. It is the server-side
// write entry point and applies cooked-mode processing; see Send.
func (s *Server) Write(p []byte) (int, error) {
	return s.Send(p)
}

// Send moves bytes into the active client's fifo. In cooked mode the
// input is capped at one fifo capacity and scanned for Ctrl-C (0x03):
// the bytes before it are delivered, the Ctrl-C itself is consumed
// and surfaces as EventInterrupt, and scanning stops there. With no
// active client Send fails with ErrPeerClosed; with the active fifo
// full it fails with ErrShouldWait.
func (s *Server) Send(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.active
	if a == nil {
		return 0, ErrPeerClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if a.rx.IsFull() {
		return 0, ErrShouldWait
	}

	wasEmpty := a.rx.IsEmpty()
	var written int
	if a.features&FeatureRaw != 0 {
		written = a.rx.Write(p, false)
	} else {
		if len(p) > FifoCapacity {
			p = p[:FifoCapacity]
		}
		interrupted := false
		end := len(p)
		for i, b := range p {
			if b == 0x03 { // Ctrl-C
				interrupted = true
				end = i
				break
			}
		}
		written = a.rx.Write(p[:end], false)
		if written == end && interrupted {
			// The whole prefix fit; count the consumed Ctrl-C too.
			written++
			s.events |= EventInterrupt
			if s.control != nil {
				s.control.ep.Assert(eventpair.Event)
			}
		}
	}

	if wasEmpty && written > 0 {
		a.ep.Assert(eventpair.Readable)
	}
	if a.rx.IsFull() {
		s.ep.Deassert(eventpair.Writable)
	}
	return written, nil
}

// recvLocked is the client-to-server direction: it appends to the
// server fifo without any control-character processing and reports
// whether the fifo is full afterwards. Callers hold s.mu.
func (s *Server) recvLocked(p []byte) (n int, full bool, err error) {
	if len(p) == 0 {
		return 0, false, nil
	}
	wasEmpty := s.rx.IsEmpty()
	n = s.rx.Write(p, false)
	if wasEmpty && n > 0 {
		s.ep.Assert(eventpair.Readable)
	}
	full = s.rx.IsFull()
	if n == 0 {
		return 0, full, ErrShouldWait
	}
	return n, full, nil
}

// MakeActive routes subsequent server-side writes to the client with
// the given id. Unknown ids fail with ErrNotFound; re-activating the
// current active client changes nothing.
func (s *Server) MakeActive(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients.Get(id)
	if !ok {
		return ErrNotFound
	}
	s.makeActiveLocked(c)
	return nil
}

func (s *Server) makeActiveLocked(c *Client) {
	if s.active == c {
		return
	}
	if s.active != nil {
		s.active.ep.Deassert(eventpair.Writable)
	}
	s.active = c
	c.ep.Assert(eventpair.Writable)

	s.ep.Deassert(eventpair.Hangup)
	if c.rx.IsFull() {
		s.ep.Deassert(eventpair.Writable)
	} else {
		s.ep.Assert(eventpair.Writable)
	}

	s.log.WithField("client", c.id).Debug("Activated PTY client")
}

// Shutdown hangs up every client and clears the active designation.
// Client reads drain whatever is buffered and then report io.EOF.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for pair := s.clients.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value.ep.Assert(eventpair.Hangup)
	}
	s.active = nil

	s.log.Debug("PTY server shut down")
}

// DrainEvents returns the pending event mask and clears it. While no
// client is active, EventHangup is included in the result without
// being stored. The transport must only route this to the control
// client.
func (s *Server) DrainEvents() Events {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := s.events
	s.events = 0
	if s.active == nil {
		result |= EventHangup
	}
	if s.control != nil {
		s.control.ep.Deassert(eventpair.Event)
	}
	return result
}

// SetWindowSize records the new geometry and queues EventWindowSize.
func (s *Server) SetWindowSize(size WindowSize) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.size = size
	s.events |= EventWindowSize
	if s.control != nil {
		s.control.ep.Assert(eventpair.Event)
	}

	s.log.WithFields(logrus.Fields{
		"cols": size.Cols,
		"rows": size.Rows,
	}).Debug("Window size changed")
}

// WindowSize returns the current geometry.
func (s *Server) WindowSize() WindowSize {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// HasControl reports whether a control client currently exists. The
// transport consults it before honoring administrative operations.
func (s *Server) HasControl() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.control != nil
}

// ClientCount returns the number of registered clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients.Len()
}

// ClientIDs returns the ids of all registered clients in creation
// order.
func (s *Server) ClientIDs() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint32, 0, s.clients.Len())
	for pair := s.clients.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}
	return ids
}

// Client returns the client registered under id, or nil.
func (s *Server) Client(id uint32) *Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, _ := s.clients.Get(id)
	return c
}
