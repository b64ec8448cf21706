package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lotstream/errors"
)

func TestConnectionStatus_String(t *testing.T) {
	tests := []struct {
		status   ConnectionStatus
		expected string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{ConnectionStatus(99), "unknown"},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, test.status.String())
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("nats://localhost:4222")

	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Equal(t, DefaultStreamName, c.streamName)
	assert.Equal(t, -1, c.maxReconnects)
}

func TestNewClient_Options(t *testing.T) {
	c := NewClient("nats://localhost:4222",
		WithClientName("gatectl-entry"),
		WithCredentials("lot", "secret"),
		WithConnectTimeout(time.Second),
		WithReconnectWait(500*time.Millisecond),
		WithMaxReconnects(3),
		WithPresence("gatectl-entry"),
		WithStreamName("TESTSTREAM"),
	)

	assert.Equal(t, "gatectl-entry", c.clientName)
	assert.Equal(t, "lot", c.username)
	assert.Equal(t, "secret", c.password)
	assert.Equal(t, time.Second, c.timeout)
	assert.Equal(t, 500*time.Millisecond, c.reconnectWait)
	assert.Equal(t, 3, c.maxReconnects)
	assert.Equal(t, "gatectl-entry", c.presenceName)
	assert.Equal(t, "TESTSTREAM", c.streamName)
}

func TestClient_OperationsRequireConnection(t *testing.T) {
	ctx := context.Background()
	c := NewClient("nats://localhost:4222")

	err := c.Publish(ctx, "vehicle.entry.permission.request", []byte("x"))
	assert.ErrorIs(t, err, errors.ErrNotConnected)

	err = c.PublishRetained(ctx, "system.status", []byte("x"))
	assert.ErrorIs(t, err, errors.ErrNotConnected)

	err = c.Subscribe(ctx, "system.status", func(string, []byte) {})
	assert.ErrorIs(t, err, errors.ErrNotConnected)
}

func TestClient_CloseIdempotent(t *testing.T) {
	ctx := context.Background()
	c := NewClient("nats://localhost:4222")

	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))

	// A closed client refuses to connect.
	err := c.Connect(ctx)
	assert.ErrorIs(t, err, errors.ErrShuttingDown)
}

func TestBuildConnectionOptions(t *testing.T) {
	c := NewClient("nats://localhost:4222",
		WithClientName("lotauthd"),
		WithToken("tok"),
	)

	opts := c.buildConnectionOptions()
	assert.NotEmpty(t, opts)
}
