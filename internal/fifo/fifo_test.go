package fifo

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	f := New(16)

	n := f.Write([]byte("hello"), false)
	require.Equal(t, 5, n)
	assert.Equal(t, 5, f.Len())
	assert.False(t, f.IsEmpty())

	buf := make([]byte, 16)
	n = f.Read(buf)
	require.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.True(t, f.IsEmpty())
}

func TestPartialWriteWhenNearlyFull(t *testing.T) {
	f := New(8)

	n := f.Write([]byte("abcdef"), false)
	require.Equal(t, 6, n)

	// Only 2 bytes of space remain; non-atomic write truncates.
	n = f.Write([]byte("ghij"), false)
	assert.Equal(t, 2, n)
	assert.True(t, f.IsFull())

	// Full buffer accepts nothing more.
	assert.Equal(t, 0, f.Write([]byte("x"), false))

	buf := make([]byte, 16)
	n = f.Read(buf)
	require.Equal(t, 8, n)
	assert.Equal(t, "abcdefgh", string(buf[:n]))
}

func TestOversizedWriteFillsEmptyBuffer(t *testing.T) {
	f := New(16)

	// One write larger than the whole capacity truncates to exactly
	// the free space and reports the truncated count.
	n := f.Write(bytes.Repeat([]byte{'a'}, 100), false)
	require.Equal(t, 16, n)
	assert.True(t, f.IsFull())
	assert.Equal(t, 16, f.Len())

	buf := make([]byte, 32)
	n = f.Read(buf)
	require.Equal(t, 16, n)
	assert.Equal(t, bytes.Repeat([]byte{'a'}, 16), buf[:n])
}

func TestAtomicWriteAllOrNothing(t *testing.T) {
	f := New(8)
	require.Equal(t, 5, f.Write([]byte("12345"), true))

	// 3 bytes free: a 4-byte atomic write must not partially land.
	assert.Equal(t, 0, f.Write([]byte("abcd"), true))
	assert.Equal(t, 5, f.Len())

	// An atomic write that fits exactly is accepted.
	assert.Equal(t, 3, f.Write([]byte("abc"), true))
	assert.True(t, f.IsFull())
}

func TestWrapAroundPreservesOrder(t *testing.T) {
	f := New(8)
	buf := make([]byte, 8)

	// Push the internal cursors past the wrap point several times.
	for i := 0; i < 10; i++ {
		chunk := []byte{byte(i), byte(i + 1), byte(i + 2)}
		require.Equal(t, 3, f.Write(chunk, false))
		n := f.Read(buf)
		require.Equal(t, 3, n)
		require.True(t, bytes.Equal(chunk, buf[:n]), "iteration %d", i)
	}
}

func TestLenStaysWithinCapacity(t *testing.T) {
	f := New(8)
	buf := make([]byte, 3)
	for i := 0; i < 100; i++ {
		f.Write([]byte("abcde"), false)
		require.GreaterOrEqual(t, f.Len(), 0)
		require.LessOrEqual(t, f.Len(), f.Cap())
		f.Read(buf)
	}
}

func TestZeroLengthOperations(t *testing.T) {
	f := New(8)
	assert.Equal(t, 0, f.Write(nil, false))
	assert.Equal(t, 0, f.Write(nil, true))
	assert.Equal(t, 0, f.Read(nil))
	assert.True(t, f.IsEmpty())
}
