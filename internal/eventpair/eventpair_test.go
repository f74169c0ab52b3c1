package eventpair

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertDeassertObserved(t *testing.T) {
	ep := New()
	assert.Equal(t, Signals(0), ep.Observed())

	ep.Assert(Readable | Writable)
	assert.Equal(t, Readable|Writable, ep.Observed())

	ep.Deassert(Readable)
	assert.Equal(t, Writable, ep.Observed())

	// Deasserting a clear bit is a no-op.
	ep.Deassert(Hangup)
	assert.Equal(t, Writable, ep.Observed())
}

func TestPeerSeesSameSignals(t *testing.T) {
	local := New()
	remote, err := local.TakePeer()
	require.NoError(t, err)

	local.Assert(Hangup)
	assert.Equal(t, Hangup, remote.Observed())
}

func TestTakePeerExactlyOnce(t *testing.T) {
	local := New()
	_, err := local.TakePeer()
	require.NoError(t, err)

	_, err = local.TakePeer()
	assert.ErrorIs(t, err, ErrPeerTaken)
}

func TestWaitWakesOnAssert(t *testing.T) {
	local := New()
	remote, err := local.TakePeer()
	require.NoError(t, err)

	done := make(chan Signals, 1)
	go func() {
		bits, err := remote.Wait(context.Background(), Readable)
		if err == nil {
			done <- bits
		}
	}()

	// Unrelated bit must not wake the Readable waiter.
	local.Assert(Writable)
	select {
	case <-done:
		t.Fatal("waiter woke on unrelated signal")
	case <-time.After(50 * time.Millisecond):
	}

	local.Assert(Readable)
	select {
	case bits := <-done:
		assert.Equal(t, Readable|Writable, bits)
	case <-time.After(time.Second):
		t.Fatal("waiter did not wake on Readable")
	}
}

func TestWaitHonorsContext(t *testing.T) {
	ep := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := ep.Wait(ctx, Readable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitChangeSeesEveryTransition(t *testing.T) {
	ep := New()

	ep.Assert(Readable)
	bits, err := ep.WaitChange(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, Readable, bits)

	go func() {
		time.Sleep(10 * time.Millisecond)
		ep.Deassert(Readable)
	}()
	bits, err = ep.WaitChange(context.Background(), bits)
	require.NoError(t, err)
	assert.Equal(t, Signals(0), bits)
}

func TestSignalsString(t *testing.T) {
	assert.Equal(t, "none", Signals(0).String())
	assert.Equal(t, "readable|hangup", (Readable | Hangup).String())
	assert.Equal(t, "event", Event.String())
}
