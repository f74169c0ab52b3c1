package transport

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/srg/ptymux/internal/groutine"
	"github.com/srg/ptymux/internal/ptysrv"
)

// conn is one websocket binding: the server side when client is nil,
// otherwise the given client.
type conn struct {
	svc    *Service
	ws     *websocket.Conn
	client *ptysrv.Client
	log    *logrus.Entry

	// writeMu serializes op replies with pushed signal messages;
	// gorilla permits one concurrent writer.
	writeMu sync.Mutex
}

func newConn(svc *Service, ws *websocket.Conn, client *ptysrv.Client) *conn {
	fields := logrus.Fields{"conn": uuid.New().String()[:8], "role": "server"}
	if client != nil {
		fields["role"] = "client"
		fields["client"] = client.ID()
	}
	return &conn{
		svc:    svc,
		ws:     ws,
		client: client,
		log:    svc.log.WithFields(fields),
	}
}

// run drives the connection until the peer disconnects.
func (c *conn) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer c.ws.Close()

	groutine.Go(ctx, "transport-signal-pump", func(ctx context.Context) {
		c.svc.pumpSignals(ctx, c)
	})

	c.log.Debug("Connection bound")
	for {
		var req Request
		if err := c.ws.ReadJSON(&req); err != nil {
			c.log.WithError(err).Debug("Connection closed")
			return
		}
		resp := c.handle(req)
		resp.Op = req.Op
		resp.Seq = req.Seq
		if !c.send(resp) {
			return
		}
	}
}

// send writes one message, reporting false once the socket is dead.
func (c *conn) send(resp Response) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(resp); err != nil {
		return false
	}
	return true
}

// handle executes one operation and builds the reply. Permission
// checks live here so rejected requests never touch the core.
func (c *conn) handle(req Request) Response {
	isServer := c.client == nil
	isControl := c.client != nil && c.client.IsControl()

	switch req.Op {
	case OpOpenClient:
		// Honored on the server side and on the control client only.
		if !isServer && !isControl {
			return Response{Status: StatusNotPermitted}
		}
		_, err := c.svc.srv.CreateClient(req.ID)
		return Response{Status: statusOf(err)}

	case OpRead:
		max := int(req.Max)
		if max <= 0 || max > maxReadChunk {
			max = maxReadChunk
		}
		buf := make([]byte, max)
		var (
			n   int
			err error
		)
		if isServer {
			n, err = c.svc.srv.Read(buf)
		} else {
			n, err = c.client.Read(buf)
		}
		// io.EOF arrives here as StatusOK with no data.
		return Response{Status: statusOf(err), Data: buf[:n]}

	case OpWrite:
		var (
			n   int
			err error
		)
		if isServer {
			n, err = c.svc.srv.Write(req.Data)
		} else {
			n, err = c.client.Write(req.Data)
		}
		// Partial writes are normal successes; the count tells the
		// caller what to resubmit.
		return Response{Status: statusOf(err), Written: uint32(n)}

	case OpMakeActive:
		if !isControl {
			return Response{Status: StatusNotPermitted}
		}
		return Response{Status: statusOf(c.svc.srv.MakeActive(req.ID))}

	case OpClrSetFeature:
		if isServer {
			return Response{Status: StatusNotSupported}
		}
		got := c.client.SetFeatures(ptysrv.Features(req.Clr), ptysrv.Features(req.Set))
		return Response{Status: StatusOK, Features: uint32(got)}

	case OpGetWindowSize:
		size := c.svc.srv.WindowSize()
		return Response{Status: StatusOK, Cols: size.Cols, Rows: size.Rows}

	case OpSetWindowSize:
		if !isControl {
			return Response{Status: StatusNotPermitted}
		}
		c.svc.srv.SetWindowSize(ptysrv.WindowSize{Cols: req.Cols, Rows: req.Rows})
		return Response{Status: StatusOK}

	case OpReadEvents:
		if !isControl {
			return Response{Status: StatusNotPermitted}
		}
		return Response{Status: StatusOK, Events: uint32(c.svc.srv.DrainEvents())}

	case OpDescribe:
		ep := c.svc.srv.Endpoint()
		if c.client != nil {
			ep = c.client.Endpoint()
		}
		return Response{Status: StatusOK, Signals: uint32(ep.Observed())}

	default:
		c.log.WithField("op", req.Op).Debug("Unsupported operation")
		return Response{Status: StatusNotSupported}
	}
}
