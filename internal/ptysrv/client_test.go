package ptysrv

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/ptymux/internal/eventpair"
)

func TestInactiveClientWriteParks(t *testing.T) {
	srv := NewServer(nil, WindowSize{})
	_, err := srv.CreateClient(0)
	require.NoError(t, err)
	c1, err := srv.CreateClient(1)
	require.NoError(t, err)

	// Not peer-closed: the client may become active later and retry.
	_, err = c1.Write([]byte("queued"))
	assert.ErrorIs(t, err, ErrShouldWait)

	require.NoError(t, srv.MakeActive(1))
	n, err := c1.Write([]byte("queued"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestSetFeaturesRecognizesOnlyRaw(t *testing.T) {
	srv := NewServer(nil, WindowSize{})
	c, err := srv.CreateClient(0)
	require.NoError(t, err)

	got := c.SetFeatures(0, FeatureRaw|0xF0)
	assert.Equal(t, FeatureRaw, got)

	got = c.SetFeatures(0xF0, 0)
	assert.Equal(t, FeatureRaw, got, "unknown clear bits must be ignored")

	got = c.SetFeatures(FeatureRaw, 0)
	assert.Equal(t, Features(0), got)
}

func TestClientReadableSignalTracksFifo(t *testing.T) {
	srv := NewServer(nil, WindowSize{})
	c, err := srv.CreateClient(0)
	require.NoError(t, err)
	assert.Zero(t, c.Endpoint().Observed()&eventpair.Readable)

	_, err = srv.Write([]byte("abc"))
	require.NoError(t, err)
	assert.NotZero(t, c.Endpoint().Observed()&eventpair.Readable)

	buf := make([]byte, 2)
	_, err = c.Read(buf)
	require.NoError(t, err)
	// Still a byte left.
	assert.NotZero(t, c.Endpoint().Observed()&eventpair.Readable)

	_, err = c.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, c.Endpoint().Observed()&eventpair.Readable)
}

func TestClientWritableFollowsActivation(t *testing.T) {
	srv := NewServer(nil, WindowSize{})
	c0, err := srv.CreateClient(0)
	require.NoError(t, err)
	c1, err := srv.CreateClient(1)
	require.NoError(t, err)

	assert.NotZero(t, c0.Endpoint().Observed()&eventpair.Writable)
	assert.Zero(t, c1.Endpoint().Observed()&eventpair.Writable)

	require.NoError(t, srv.MakeActive(1))
	assert.Zero(t, c0.Endpoint().Observed()&eventpair.Writable)
	assert.NotZero(t, c1.Endpoint().Observed()&eventpair.Writable)
}

func TestServerReadableSignalOnClientWrite(t *testing.T) {
	srv := NewServer(nil, WindowSize{})
	c, err := srv.CreateClient(0)
	require.NoError(t, err)
	assert.Zero(t, srv.Endpoint().Observed()&eventpair.Readable)

	_, err = c.Write([]byte("ping"))
	require.NoError(t, err)
	assert.NotZero(t, srv.Endpoint().Observed()&eventpair.Readable)

	buf := make([]byte, 8)
	n, err := srv.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
	assert.Zero(t, srv.Endpoint().Observed()&eventpair.Readable)
}

func TestRemovedClientDrainsToEOF(t *testing.T) {
	srv := NewServer(nil, WindowSize{})
	c0, err := srv.CreateClient(0)
	require.NoError(t, err)
	c1, err := srv.CreateClient(1)
	require.NoError(t, err)

	require.NoError(t, srv.MakeActive(1))
	_, err = srv.Write([]byte("bye"))
	require.NoError(t, err)

	// A reference held across removal (a filesystem node, say) drains
	// the leftover bytes and then sees end of stream, not a retry.
	c1.Close()
	buf := make([]byte, 8)
	n, err := c1.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(buf[:n]))
	_, err = c1.Read(buf)
	assert.ErrorIs(t, err, io.EOF)

	_, err = c1.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrPeerClosed)

	// The surviving client is untouched.
	_, err = c0.Read(buf)
	assert.ErrorIs(t, err, ErrShouldWait)
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := NewServer(nil, WindowSize{})
	c, err := srv.CreateClient(0)
	require.NoError(t, err)

	c.Close()
	c.Close() // second close must be a no-op
	assert.Equal(t, 0, srv.ClientCount())
}
