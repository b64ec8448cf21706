package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/c360/lotstream/protocol"
)

// startNATSContainer starts a NATS server with JetStream enabled.
func startNATSContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "nats:latest",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp"),
		Cmd:          []string{"-js"},
	}

	natsContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := natsContainer.Host(ctx)
	require.NoError(t, err)

	port, err := natsContainer.MappedPort(ctx, "4222")
	require.NoError(t, err)

	natsURL := fmt.Sprintf("nats://%s:%s", host, port.Port())

	// Give the server a beat to finish JetStream init.
	time.Sleep(200 * time.Millisecond)

	return natsContainer, natsURL
}

func TestIntegration_PublishSubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer func() { _ = natsContainer.Terminate(ctx) }()

	client := NewClient(natsURL)
	require.NoError(t, client.Connect(ctx))
	defer func() { _ = client.Close(ctx) }()

	assert.True(t, client.IsHealthy())

	received := make(chan []byte, 1)
	topic := protocol.Topics(protocol.RoleEntry).PermissionRequest
	require.NoError(t, client.Subscribe(ctx, topic, func(_ string, payload []byte) {
		received <- payload
	}))

	require.NoError(t, client.Publish(ctx, topic, []byte(`{"id":"r-1","uid":"ABC123"}`)))

	select {
	case payload := <-received:
		assert.JSONEq(t, `{"id":"r-1","uid":"ABC123"}`, string(payload))
	case <-time.After(5 * time.Second):
		t.Fatal("message never delivered")
	}
}

func TestIntegration_RetainedReplayedToLateSubscriber(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer func() { _ = natsContainer.Terminate(ctx) }()

	client := NewClient(natsURL)
	require.NoError(t, client.Connect(ctx))
	defer func() { _ = client.Close(ctx) }()

	record := protocol.NewStatusRecord(time.Now(), 2, 4)
	data, err := record.Encode()
	require.NoError(t, err)
	require.NoError(t, client.PublishRetained(ctx, protocol.TopicStatus, data))

	// A subscriber arriving after the publish still sees the snapshot.
	received := make(chan []byte, 2)
	require.NoError(t, client.Subscribe(ctx, protocol.TopicStatus, func(_ string, payload []byte) {
		received <- payload
	}))

	select {
	case payload := <-received:
		got, err := protocol.DecodeStatusRecord(payload)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Occupancy)
		assert.Equal(t, 2, got.Available)
	case <-time.After(5 * time.Second):
		t.Fatal("retained value never replayed")
	}
}

func TestIntegration_PresenceLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer func() { _ = natsContainer.Terminate(ctx) }()

	announcer := NewClient(natsURL, WithPresence("gatectl-entry"), WithClientName("gatectl-entry"))
	require.NoError(t, announcer.Connect(ctx))

	watcher := NewClient(natsURL)
	require.NoError(t, watcher.Connect(ctx))
	defer func() { _ = watcher.Close(ctx) }()

	topic := protocol.PresenceTopic("gatectl-entry")
	presence := make(chan string, 4)
	require.NoError(t, watcher.Subscribe(ctx, topic, func(_ string, payload []byte) {
		presence <- string(payload)
	}))

	// The retained announcement from Connect is replayed immediately.
	select {
	case p := <-presence:
		assert.Equal(t, protocol.PayloadOnline, p)
	case <-time.After(5 * time.Second):
		t.Fatal("presence announcement never seen")
	}

	// Clean shutdown publishes the retraction.
	require.NoError(t, announcer.Close(ctx))
	select {
	case p := <-presence:
		assert.Equal(t, protocol.PayloadOffline, p)
	case <-time.After(5 * time.Second):
		t.Fatal("presence retraction never seen")
	}
}
