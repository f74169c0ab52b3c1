package transport

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/srg/ptymux/internal/ptysrv"
)

// Service accepts websocket connections and routes their operations
// into one ptysrv.Server. At most one connection may hold the server
// side at a time; each client id likewise has at most one binding.
type Service struct {
	log *logrus.Logger
	srv *ptysrv.Server

	upgrader websocket.Upgrader

	// bindings tracks which client ids have a live connection. Client
	// connections come and go concurrently, hence the lock-free map.
	bindings *hashmap.Map[uint32, *conn]

	mu          sync.Mutex
	serverBound bool
}

// NewService wraps srv. A nil logger disables logging.
func NewService(srv *ptysrv.Server, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.PanicLevel)
	}
	return &Service{
		log:      log,
		srv:      srv,
		bindings: hashmap.New[uint32, *conn](),
	}
}

// Handler returns the HTTP handler serving /server and /client/{id}.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/server", s.handleServer)
	mux.HandleFunc("/client/", s.handleClient)
	return mux
}

// Close shuts the underlying server down; connected clients observe
// Hangup and drain to EOF.
func (s *Service) Close() {
	s.srv.Shutdown()
}

func (s *Service) handleServer(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.serverBound {
		s.mu.Unlock()
		http.Error(w, "server side already bound", http.StatusConflict)
		return
	}
	s.serverBound = true
	s.mu.Unlock()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.mu.Lock()
		s.serverBound = false
		s.mu.Unlock()
		s.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	c := newConn(s, ws, nil)
	c.run(r.Context())

	s.mu.Lock()
	s.serverBound = false
	s.mu.Unlock()
}

func (s *Service) handleClient(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/client/")
	id64, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		http.Error(w, "invalid client id", http.StatusBadRequest)
		return
	}
	id := uint32(id64)

	client := s.srv.Client(id)
	if client == nil {
		http.Error(w, "no such client; open_client first", http.StatusNotFound)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	c := newConn(s, ws, client)
	if _, loaded := s.bindings.GetOrInsert(id, c); loaded {
		s.log.WithField("client", id).Warn("Client already bound, rejecting connection")
		_ = ws.Close()
		return
	}

	c.run(r.Context())

	// Dropping the binding destroys the client: the transport holds
	// the client's only handle.
	s.bindings.Del(id)
	client.Close()
}

// pumpSignals mirrors every transition of ep onto the connection until
// ctx ends. It runs on its own goroutine per connection.
func (s *Service) pumpSignals(ctx context.Context, c *conn) {
	ep := s.srv.Endpoint()
	if c.client != nil {
		ep = c.client.Endpoint()
	}

	prev := ep.Observed()
	c.send(Response{Op: OpSignal, Signals: uint32(prev)})
	for {
		bits, err := ep.WaitChange(ctx, prev)
		if err != nil {
			return
		}
		prev = bits
		if !c.send(Response{Op: OpSignal, Signals: uint32(bits)}) {
			return
		}
	}
}

// maxReadChunk bounds a single read reply. Larger requests are
// truncated, matching the fifo capacity.
const maxReadChunk = ptysrv.FifoCapacity
