// Package ptybridge connects the server side of a ptysrv.Server to a
// real OS pseudo-terminal. A program attached to the slave device
// (e.g. a shell run by a terminal emulator) becomes the server-side
// writer and reader of the multiplexer, so remote clients see its
// byte stream without the program knowing about the transport.
//
// The bridge runs two pump goroutines: one moves bytes from the OS
// master into Server.Write (subject to the core's cooked-mode
// processing and backpressure), the other drains Server.Read into the
// OS master. The master FD stays in nonblocking mode; readiness is
// observed with poll(2) on the OS side and with eventpair signals on
// the core side.
package ptybridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/ptymux/internal/eventpair"
	"github.com/srg/ptymux/internal/groutine"
	"github.com/srg/ptymux/internal/ptysrv"
)

// DefaultPollTimeoutMs bounds how long a pump waits for FD readiness
// before rechecking context cancellation.
const DefaultPollTimeoutMs = 50

// Options configures a bridge. Zero values pick defaults.
type Options struct {
	Logger        *logrus.Logger // nil = no-op logger
	PollTimeoutMs int            // 0 = DefaultPollTimeoutMs
	OnError       func(error)    // invoked at most once per pump on a fatal error
}

// Bridge owns the OS pty pair and the two pump goroutines.
type Bridge struct {
	log *logrus.Logger
	srv *ptysrv.Server

	master  *os.File
	slave   *os.File
	ttyName string

	pollTimeoutMs int
	onError       func(error)
	errorOnce     sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed uint32
}

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// New opens a pty pair, puts the slave in raw mode and the master in
// nonblocking mode, and starts pumping against srv. The caller hands
// the slave path (TTYName) to whatever program should sit on the
// server side.
func New(srv *ptysrv.Server, opts *Options) (*Bridge, error) {
	if opts == nil {
		opts = &Options{}
	}
	log := opts.Logger
	if log == nil {
		log = noopLogger
	}
	pollTimeout := opts.PollTimeoutMs
	if pollTimeout == 0 {
		pollTimeout = DefaultPollTimeoutMs
	}

	master, slave, err := openPTY()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		log:           log,
		srv:           srv,
		master:        master,
		slave:         slave,
		ttyName:       slave.Name(),
		pollTimeoutMs: pollTimeout,
		onError:       opts.OnError,
		ctx:           ctx,
		cancel:        cancel,
	}

	if size := srv.WindowSize(); size.Cols > 0 && size.Rows > 0 {
		_ = pty.Setsize(master, &pty.Winsize{
			Cols: uint16(size.Cols),
			Rows: uint16(size.Rows),
		})
	}

	b.wg.Add(2)
	groutine.Go(ctx, "ptybridge-master-read", func(context.Context) { b.masterReadLoop() })
	groutine.Go(ctx, "ptybridge-master-write", func(context.Context) { b.masterWriteLoop() })

	log.WithField("tty", b.ttyName).Info("Created PTY bridge")
	return b, nil
}

// TTYName returns the slave device path, e.g. "/dev/pts/5".
func (b *Bridge) TTYName() string { return b.ttyName }

// masterReadLoop moves bytes typed into the OS pty toward the active
// client via Server.Write.
func (b *Bridge) masterReadLoop() {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorf("master read loop panicked (recovered): %v", r)
		}
		b.wg.Done()
	}()

	// Capture the FD once; Close() nils the field only after the
	// pumps exit.
	master := b.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, ptysrv.FifoCapacity)

	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		nReady, err := unix.Poll(pollFd, b.pollTimeoutMs)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			b.log.Warnf("master read poll error: %v", err)
		}
		if nReady == 0 {
			continue
		}

		n, err := master.Read(buf)
		if n > 0 {
			if !b.sendToCore(buf[:n]) {
				return
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
				continue
			case errors.Is(err, syscall.EBADF), errors.Is(err, io.EOF):
				b.log.Debug("master read loop exiting: pty closed")
				return
			default:
				b.fatal(fmt.Errorf("master read: %w", err))
				return
			}
		}
	}
}

// sendToCore pushes p into the server with backpressure: whenever the
// core reports it would block (full client fifo or no active client),
// the pump waits for the next server-endpoint transition and retries.
// Returns false when the bridge is shutting down.
func (b *Bridge) sendToCore(p []byte) bool {
	ep := b.srv.Endpoint()
	for len(p) > 0 {
		// Snapshot before writing so a transition that lands during
		// the write is not missed below.
		prev := ep.Observed()
		n, err := b.srv.Write(p)
		p = p[n:]
		if len(p) == 0 {
			return true
		}
		if err != nil && !errors.Is(err, ptysrv.ErrShouldWait) && !errors.Is(err, ptysrv.ErrPeerClosed) {
			b.fatal(fmt.Errorf("core write: %w", err))
			return false
		}
		// Blocked on a full fifo or no active client; progress always
		// comes with a signal transition (drain, activation, client
		// creation), so wait for the next one and retry.
		if _, werr := ep.WaitChange(b.ctx, prev); werr != nil {
			return false
		}
	}
	return true
}

// masterWriteLoop drains bytes the clients wrote (Server.Read) into
// the OS pty.
func (b *Bridge) masterWriteLoop() {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorf("master write loop panicked (recovered): %v", r)
		}
		b.wg.Done()
	}()

	master := b.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, ptysrv.FifoCapacity)
	ep := b.srv.Endpoint()

	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		n, err := b.srv.Read(buf)
		switch {
		case errors.Is(err, ptysrv.ErrShouldWait):
			if _, werr := ep.Wait(b.ctx, eventpair.Readable); werr != nil {
				return
			}
			continue
		case errors.Is(err, io.EOF):
			// No clients: Readable stays asserted for EOF semantics,
			// so wait for the hangup to clear instead of spinning.
			if !b.waitForClients(ep) {
				return
			}
			continue
		case err != nil:
			b.fatal(fmt.Errorf("core read: %w", err))
			return
		}

		if !b.writeToMaster(master, pollFd, buf[:n]) {
			return
		}
	}
}

// waitForClients blocks until the server leaves the no-clients state.
// Returns false on shutdown.
func (b *Bridge) waitForClients(ep *eventpair.Endpoint) bool {
	prev := ep.Observed()
	for prev&eventpair.Hangup != 0 {
		bits, err := ep.WaitChange(b.ctx, prev)
		if err != nil {
			return false
		}
		prev = bits
	}
	return true
}

// writeToMaster writes p fully to the nonblocking master, polling for
// POLLOUT on EAGAIN. Returns false when the bridge is shutting down.
func (b *Bridge) writeToMaster(master *os.File, pollFd []unix.PollFd, p []byte) bool {
	offset := 0
	for offset < len(p) {
		select {
		case <-b.ctx.Done():
			return false
		default:
		}

		n, err := master.Write(p[offset:])
		if n > 0 {
			offset += n
		}
		if err != nil {
			switch {
			case errors.Is(err, syscall.EINTR):
				continue
			case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EWOULDBLOCK):
				if _, perr := unix.Poll(pollFd, b.pollTimeoutMs); perr != nil && !errors.Is(perr, syscall.EINTR) {
					b.log.Warnf("master write poll error: %v", perr)
				}
				continue
			case errors.Is(err, syscall.EBADF):
				b.log.Debug("master write loop exiting: pty closed")
				return false
			default:
				b.fatal(fmt.Errorf("master write: %w", err))
				return false
			}
		}
	}
	return true
}

func (b *Bridge) fatal(err error) {
	b.log.Warnf("bridge pump exiting on error: %v", err)
	if b.onError != nil {
		b.errorOnce.Do(func() { b.onError(err) })
	}
}

// Close stops the pumps and closes both pty FDs. Safe to call more
// than once.
func (b *Bridge) Close() error {
	if !atomic.CompareAndSwapUint32(&b.closed, 0, 1) {
		return nil
	}

	b.cancel()
	if b.master != nil {
		_ = b.master.Close()
	}
	if b.slave != nil {
		_ = b.slave.Close()
	}

	done := make(chan struct{})
	groutine.Go(context.Background(), "ptybridge-wait-close", func(context.Context) {
		b.wg.Wait()
		close(done)
	})

	timeout := time.Duration(b.pollTimeoutMs)*time.Millisecond*2 + time.Second
	select {
	case <-done:
	case <-time.After(timeout):
		b.log.Errorf("Close timed out after %v waiting for bridge pumps", timeout)
	}

	b.master = nil
	b.slave = nil
	return nil
}

// openPTY creates the pair, makes the slave raw and the master
// nonblocking, cleaning up both FDs on any failure.
func openPTY() (*os.File, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	cleanup := func() {
		_ = master.Close()
		_ = slave.Close()
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		name := slave.Name()
		cleanup()
		return nil, nil, fmt.Errorf("failed to set %s to raw mode: %w", name, err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		name := slave.Name()
		cleanup()
		return nil, nil, fmt.Errorf("failed to set master of %s to nonblocking mode: %w", name, err)
	}
	return master, slave, nil
}
