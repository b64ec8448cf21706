// Package transport defines the messaging channel contract consumed by
// the gate controller and the occupancy authority.
//
// A Channel provides topic-based publish/subscribe with at-least-once
// delivery and retained last-known-value topics. The production
// implementation lives in the natsclient package; MemChannel backs the
// tests. Consumers must tolerate redelivery: the authority deduplicates
// inbound requests and the gate controller's bridge drops stray
// responses.
package transport

import "context"

// Handler processes one inbound message. Handlers for a given
// subscription are invoked sequentially from the channel's dispatch
// context, never from the subscriber's own goroutine.
type Handler func(topic string, payload []byte)

// Channel is the narrow transport interface consumed by the protocol
// endpoints. Implementations are safe for concurrent use.
type Channel interface {
	// Connect establishes the channel. A process must not enter its
	// control loop unless Connect succeeded.
	Connect(ctx context.Context) error

	// Publish sends a payload to a topic with at-least-once delivery.
	Publish(ctx context.Context, topic string, payload []byte) error

	// PublishRetained publishes a payload that the channel keeps as the
	// topic's last known value (presence, status snapshots). New
	// observers of a retained topic see the sticky value.
	PublishRetained(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic. Messages published
	// after subscription are delivered to the handler on the channel's
	// dispatch context.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close tears the channel down, publishing any configured offline
	// presence first.
	Close(ctx context.Context) error
}
