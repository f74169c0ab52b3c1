// Package fifo implements the fixed-capacity byte buffer that backs
// every PTY stream. Reads and writes never block and never allocate;
// callers that get a short count are expected to wait on the matching
// signal bit and retry.
package fifo

import (
	"errors"

	"github.com/smallnest/ringbuffer"
)

// Fifo is a bounded byte buffer with non-blocking semantics. It is not
// safe for concurrent use; the owning server serializes access.
type Fifo struct {
	rb *ringbuffer.RingBuffer
}

// New creates a Fifo holding at most capacity bytes.
func New(capacity int) *Fifo {
	return &Fifo{rb: ringbuffer.New(capacity)}
}

// Write copies bytes from p into the buffer and returns how many were
// stored. With atomic set, a p that does not fit entirely is rejected
// and 0 is returned with the buffer untouched; otherwise the write is
// truncated to the remaining space.
func (f *Fifo) Write(p []byte, atomic bool) int {
	if len(p) == 0 {
		return 0
	}
	if atomic && len(p) > f.rb.Free() {
		return 0
	}
	// In non-blocking mode the ring buffer truncates oversized writes
	// and reports ErrTooMuchDataToWrite alongside the partial count;
	// both partial-write errors carry a valid n.
	n, err := f.rb.Write(p)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) &&
		!errors.Is(err, ringbuffer.ErrTooMuchDataToWrite) {
		return 0
	}
	return n
}

// Read copies up to len(p) buffered bytes into p and returns the count.
func (f *Fifo) Read(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	n, err := f.rb.TryRead(p)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0
	}
	return n
}

// IsEmpty reports whether the buffer holds no bytes.
func (f *Fifo) IsEmpty() bool { return f.rb.IsEmpty() }

// IsFull reports whether the buffer has no remaining space.
func (f *Fifo) IsFull() bool { return f.rb.IsFull() }

// Len returns the number of buffered bytes.
func (f *Fifo) Len() int { return f.rb.Length() }

// Cap returns the fixed capacity.
func (f *Fifo) Cap() int { return f.rb.Capacity() }
