package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lotstream/errors"
	"github.com/c360/lotstream/protocol"
	"github.com/c360/lotstream/transport"
)

const (
	reqTopic  = "vehicle.entry.permission.request"
	respTopic = "vehicle.entry.permission.response"
)

// echoAuthority answers every request on reqTopic with the given
// decision, echoing the correlation ID.
func echoAuthority(t *testing.T, ch *transport.MemChannel, approved bool) {
	t.Helper()
	require.NoError(t, ch.Subscribe(context.Background(), reqTopic, func(_ string, payload []byte) {
		req, err := protocol.DecodeRequest(payload)
		require.NoError(t, err)
		data, err := protocol.Response{ID: req.ID, Approved: approved}.Encode()
		require.NoError(t, err)
		require.NoError(t, ch.Publish(context.Background(), respTopic, data))
	}))
}

func newTestBridge(t *testing.T) (*Bridge, *transport.MemChannel) {
	t.Helper()
	ch := transport.NewMemChannel()
	require.NoError(t, ch.Connect(context.Background()))
	t.Cleanup(func() { ch.Close(context.Background()) })

	b := New(ch, nil)
	require.NoError(t, b.Listen(context.Background(), respTopic))
	return b, ch
}

func TestCall_Approved(t *testing.T) {
	b, ch := newTestBridge(t)
	echoAuthority(t, ch, true)

	approved, err := b.Call(context.Background(), reqTopic, protocol.NewRequest("ABC123"), time.Second, nil)
	require.NoError(t, err)
	assert.True(t, approved)
}

func TestCall_Denied(t *testing.T) {
	b, ch := newTestBridge(t)
	echoAuthority(t, ch, false)

	approved, err := b.Call(context.Background(), reqTopic, protocol.NewRequest("ABC123"), time.Second, nil)
	require.NoError(t, err)
	assert.False(t, approved)
}

func TestCall_Timeout(t *testing.T) {
	b, _ := newTestBridge(t) // nothing answers

	start := time.Now()
	approved, err := b.Call(context.Background(), reqTopic, protocol.NewRequest("ABC123"), 50*time.Millisecond, nil)
	assert.ErrorIs(t, err, errors.ErrRequestTimeout)
	assert.False(t, approved)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCall_ResetUnblocksImmediately(t *testing.T) {
	b, _ := newTestBridge(t)

	reset := make(chan struct{})
	done := make(chan struct{})

	var approved bool
	var err error
	go func() {
		defer close(done)
		approved, err = b.Call(context.Background(), reqTopic, protocol.NewRequest("ABC123"), 10*time.Second, reset)
	}()

	time.Sleep(20 * time.Millisecond)
	close(reset)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reset did not unblock the call")
	}

	assert.ErrorIs(t, err, errors.ErrCallCanceled)
	assert.False(t, approved)
}

func TestCall_MismatchedCorrelationDropped(t *testing.T) {
	b, ch := newTestBridge(t)

	// Answer with the wrong correlation ID, then the right one.
	require.NoError(t, ch.Subscribe(context.Background(), reqTopic, func(_ string, payload []byte) {
		req, err := protocol.DecodeRequest(payload)
		require.NoError(t, err)

		wrong, _ := protocol.Response{ID: "not-the-request", Approved: true}.Encode()
		require.NoError(t, ch.Publish(context.Background(), respTopic, wrong))

		right, _ := protocol.Response{ID: req.ID, Approved: false}.Encode()
		require.NoError(t, ch.Publish(context.Background(), respTopic, right))
	}))

	approved, err := b.Call(context.Background(), reqTopic, protocol.NewRequest("ABC123"), time.Second, nil)
	require.NoError(t, err)
	assert.False(t, approved, "decision must come from the correlated response")
}

func TestCall_LegacyTokenMatchesAnyPending(t *testing.T) {
	b, ch := newTestBridge(t)

	require.NoError(t, ch.Subscribe(context.Background(), reqTopic, func(string, []byte) {
		require.NoError(t, ch.Publish(context.Background(), respTopic, []byte("true")))
	}))

	approved, err := b.Call(context.Background(), reqTopic, protocol.NewRequest("ABC123"), time.Second, nil)
	require.NoError(t, err)
	assert.True(t, approved)
}

func TestHandleResponse_StrayWithoutPendingIsDropped(t *testing.T) {
	b, ch := newTestBridge(t)
	_ = b

	// No call pending; a stray response must be a silent no-op.
	data, _ := protocol.Response{ID: "stale", Approved: true}.Encode()
	require.NoError(t, ch.Publish(context.Background(), respTopic, data))

	// A later call must not be resolved by the stray response.
	approved, err := b.Call(context.Background(), reqTopic, protocol.NewRequest("ABC123"), 50*time.Millisecond, nil)
	assert.ErrorIs(t, err, errors.ErrRequestTimeout)
	assert.False(t, approved)
}

func TestCall_FirstResponseWins(t *testing.T) {
	b, ch := newTestBridge(t)

	// Duplicate delivery of the same response: first resolves, second is
	// dropped because no call is pending anymore.
	require.NoError(t, ch.Subscribe(context.Background(), reqTopic, func(_ string, payload []byte) {
		req, err := protocol.DecodeRequest(payload)
		require.NoError(t, err)
		data, _ := protocol.Response{ID: req.ID, Approved: true}.Encode()
		require.NoError(t, ch.Publish(context.Background(), respTopic, data))
		require.NoError(t, ch.Publish(context.Background(), respTopic, data))
	}))

	approved, err := b.Call(context.Background(), reqTopic, protocol.NewRequest("ABC123"), time.Second, nil)
	require.NoError(t, err)
	assert.True(t, approved)
}

func TestNotify_FireAndForget(t *testing.T) {
	b, ch := newTestBridge(t)

	var mu sync.Mutex
	var got protocol.Request
	received := make(chan struct{})
	require.NoError(t, ch.Subscribe(context.Background(), "vehicle.entry.confirm.request",
		func(_ string, payload []byte) {
			req, err := protocol.DecodeRequest(payload)
			require.NoError(t, err)
			mu.Lock()
			got = req
			mu.Unlock()
			close(received)
		}))

	req := protocol.NewRequest("ABC123")
	require.NoError(t, b.Notify(context.Background(), "vehicle.entry.confirm.request", req))

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, req, got)
}
