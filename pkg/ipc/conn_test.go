package ipc

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltbot/pool/pkg/types"
)

// pipe returns two Conns wired back to back, simulating a child's
// stdin/stdout pair as seen from both ends.
func pipe() (*Conn, *Conn) {
	aR, bW := io.Pipe()
	bR, aW := io.Pipe()
	return NewConn(aR, aW), NewConn(bR, bW)
}

func TestSendReceiveRoundTrip(t *testing.T) {
	a, b := pipe()

	ch, unsub := b.Subscribe(TypeReady)
	defer unsub()

	require.NoError(t, a.SendType(TypeReady, ReadyPayload{WorkerID: "worker-0"}))

	select {
	case env := <-ch:
		var p ReadyPayload
		require.NoError(t, env.Decode(&p))
		assert.Equal(t, "worker-0", p.WorkerID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestWaitForMessageResolvesOnMatch(t *testing.T) {
	a, b := pipe()

	go func() {
		_ = a.SendType(TypeHealthCheck, nil)
		_ = a.SendType(TypeRequest, RequestPayload{Request: types.WorkerRequest{RequestID: "r1"}})
	}()

	env, err := b.WaitForMessage(context.Background(), TypeRequest, time.Second)
	require.NoError(t, err)

	var p RequestPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, "r1", p.Request.RequestID)
}

func TestWaitForMessageTimesOut(t *testing.T) {
	_, b := pipe()

	_, err := b.WaitForMessage(context.Background(), TypeReady, 20*time.Millisecond)
	assert.Error(t, err)
}

func TestWaitForMessageListenerRemovedAfterTimeout(t *testing.T) {
	a, b := pipe()

	_, err := b.WaitForMessage(context.Background(), TypeReady, 10*time.Millisecond)
	require.Error(t, err)

	// A later send of the same type must not panic or deadlock, and a
	// fresh wait must still be able to observe it: the stale listener
	// from the timed-out call was removed. The send is delayed so that it
	// arrives after the fresh wait has subscribed.
	sendErr := make(chan error, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		sendErr <- a.SendType(TypeReady, ReadyPayload{WorkerID: "worker-1"})
	}()

	env, err := b.WaitForMessage(context.Background(), TypeReady, time.Second)
	require.NoError(t, <-sendErr)
	require.NoError(t, err)
	var p ReadyPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, "worker-1", p.WorkerID)
}

func TestUnknownEnvelopeTypeIsIgnoredNotFatal(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	b := NewConn(r, io.Discard)
	a := NewConn(strings.NewReader(""), w)

	ch, unsub := b.Subscribe(TypeReady)
	defer unsub()

	// A malformed line and an envelope of an unknown type are injected
	// directly; readLoop must skip both and keep processing subsequent
	// well-formed envelopes.
	_, err := io.WriteString(w, "not json\n{\"type\":\"bogus\",\"ts\":1}\n")
	require.NoError(t, err)
	require.NoError(t, a.SendType(TypeReady, ReadyPayload{WorkerID: "worker-2"}))

	select {
	case env := <-ch:
		var p ReadyPayload
		require.NoError(t, env.Decode(&p))
		assert.Equal(t, "worker-2", p.WorkerID)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestConnClosesOnEOF(t *testing.T) {
	r, w := io.Pipe()
	c := NewConn(r, io.Discard)

	require.NoError(t, w.Close())

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() never closed after EOF")
	}
}
