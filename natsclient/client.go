// Package natsclient implements the transport channel on NATS
// JetStream. Protocol traffic flows through a single stream so
// delivery is at-least-once, and retained values (lot status, process
// presence) live in a key-value bucket replayed to late subscribers.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/lotstream/errors"
	"github.com/c360/lotstream/protocol"
	"github.com/c360/lotstream/transport"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Defaults for stream and bucket naming.
const (
	DefaultStreamName     = "LOTSTREAM"
	retainedBucket        = "lotstream_retained"
	defaultConnectTimeout = 5 * time.Second
	defaultReconnectWait  = 2 * time.Second
	defaultDrainTimeout   = 5 * time.Second
)

// streamSubjects covers every protocol topic family.
var streamSubjects = []string{
	"vehicle.>",
	"gate.>",
	"billing.>",
	"system.>",
	"sensors.>",
	"status.>",
}

// Client manages a NATS connection and implements transport.Channel.
type Client struct {
	url    string
	logger *slog.Logger
	status atomic.Value // stores ConnectionStatus

	conn     *nats.Conn
	js       jetstream.JetStream
	retained jetstream.KeyValue

	consumers []jetstream.ConsumeContext

	// Connection options
	clientName    string
	username      string
	password      string
	token         string
	presenceName  string
	streamName    string
	timeout       time.Duration
	reconnectWait time.Duration
	maxReconnects int

	mu     sync.RWMutex
	closed atomic.Bool
}

// NewClient creates a NATS client for the given server URL.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:           url,
		logger:        slog.Default().With("component", "natsclient"),
		streamName:    DefaultStreamName,
		timeout:       defaultConnectTimeout,
		reconnectWait: defaultReconnectWait,
		maxReconnects: -1,
	}
	c.status.Store(StatusDisconnected)

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the configured server URL.
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	return c.status.Load().(ConnectionStatus)
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.status.Store(s)
}

// IsHealthy reports whether the connection is established.
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

func (c *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(defaultDrainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
	}

	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}

	return opts
}

// Connect establishes the connection, provisions the stream and the
// retained-value bucket, and announces presence.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.ErrShuttingDown
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("connecting to NATS", "url", c.url)

	conn, err := nats.Connect(c.url, c.buildConnectionOptions()...)
	if err != nil {
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "establish connection")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "initialize JetStream")
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     c.streamName,
		Subjects: streamSubjects,
		MaxAge:   24 * time.Hour,
	})
	if err != nil {
		conn.Close()
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "provision stream")
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: retainedBucket,
	})
	if err != nil {
		conn.Close()
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "provision retained bucket")
	}

	c.mu.Lock()
	c.conn = conn
	c.js = js
	c.retained = kv
	c.mu.Unlock()

	c.setStatus(StatusConnected)
	c.logger.Info("connected to NATS",
		"url", c.url, "stream", stream.CachedInfo().Config.Name)

	if c.presenceName != "" {
		topic := protocol.PresenceTopic(c.presenceName)
		if err := c.PublishRetained(ctx, topic, []byte(protocol.PayloadOnline)); err != nil {
			c.logger.Warn("presence announcement failed", "topic", topic, "error", err)
		}
	}

	return nil
}

// Publish publishes through the stream, so delivery to durable
// subscribers is at-least-once.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()

	if js == nil || c.Status() != StatusConnected {
		return errors.ErrNotConnected
	}

	if _, err := js.Publish(ctx, topic, payload); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish "+topic)
	}
	return nil
}

// PublishRetained stores the payload as the topic's last known value
// and publishes it to live subscribers.
func (c *Client) PublishRetained(ctx context.Context, topic string, payload []byte) error {
	c.mu.RLock()
	kv := c.retained
	c.mu.RUnlock()

	if kv == nil || c.Status() != StatusConnected {
		return errors.ErrNotConnected
	}

	if _, err := kv.Put(ctx, topic, payload); err != nil {
		return errors.WrapTransient(err, "Client", "PublishRetained", "store retained value")
	}
	return c.Publish(ctx, topic, payload)
}

// Subscribe attaches a handler to a topic. The topic's retained value,
// if any, is delivered first; subsequent messages arrive through an
// ephemeral stream consumer with explicit acks.
func (c *Client) Subscribe(ctx context.Context, topic string, handler transport.Handler) error {
	c.mu.RLock()
	js := c.js
	kv := c.retained
	c.mu.RUnlock()

	if js == nil || c.Status() != StatusConnected {
		return errors.ErrNotConnected
	}

	if entry, err := kv.Get(ctx, topic); err == nil {
		handler(topic, entry.Value())
	} else if !stderrors.Is(err, jetstream.ErrKeyNotFound) {
		c.logger.Warn("retained value lookup failed", "topic", topic, "error", err)
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, c.streamName, jetstream.ConsumerConfig{
		FilterSubject: topic,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return errors.WrapTransient(
			fmt.Errorf("create consumer for %s: %w", topic, err),
			"Client", "Subscribe", "create consumer")
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		handler(msg.Subject(), msg.Data())
		if err := msg.Ack(); err != nil {
			c.logger.Warn("ack failed", "topic", msg.Subject(), "error", err)
		}
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "start consumer")
	}

	c.mu.Lock()
	c.consumers = append(c.consumers, cons)
	c.mu.Unlock()
	return nil
}

// Close retracts presence, stops consumers, and drains the connection.
// Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	if c.presenceName != "" && c.Status() == StatusConnected {
		topic := protocol.PresenceTopic(c.presenceName)
		if err := c.PublishRetained(ctx, topic, []byte(protocol.PayloadOffline)); err != nil {
			c.logger.Warn("presence retraction failed", "topic", topic, "error", err)
		}
	}

	c.mu.Lock()
	consumers := c.consumers
	c.consumers = nil
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.retained = nil
	c.mu.Unlock()

	for _, cons := range consumers {
		cons.Stop()
	}

	c.setStatus(StatusDisconnected)
	if conn != nil {
		if err := conn.Drain(); err != nil {
			conn.Close()
			return errors.WrapTransient(err, "Client", "Close", "drain connection")
		}
	}

	c.logger.Info("disconnected from NATS", "url", c.url)
	return nil
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	if err != nil {
		c.logger.Warn("NATS connection lost", "error", err)
	}
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	c.setStatus(StatusConnected)
	c.logger.Info("NATS connection restored", "url", conn.ConnectedUrl())

	// The retained presence value survives the outage in the bucket, so
	// only the live announcement needs repeating.
	if c.presenceName != "" {
		topic := protocol.PresenceTopic(c.presenceName)
		if err := conn.Publish(topic, []byte(protocol.PayloadOnline)); err != nil {
			c.logger.Warn("presence re-announcement failed", "topic", topic, "error", err)
		}
	}
}

func (c *Client) handleClosed(_ *nats.Conn) {
	if !c.closed.Load() {
		c.logger.Error("NATS connection closed permanently")
	}
	c.setStatus(StatusDisconnected)
}
