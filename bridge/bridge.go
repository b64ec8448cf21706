// Package bridge presents an asynchronous publish/subscribe exchange as
// a bounded synchronous call.
//
// A Bridge owns at most one outstanding call. Issuing a new call before
// a prior one resolves overwrites the pending correlation; this is
// acceptable only because the owning gate controller processes one
// vehicle at a time. Responses are matched by correlation ID; a response
// with no pending call, or with a mismatched ID, is dropped.
package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/lotstream/errors"
	"github.com/c360/lotstream/protocol"
	"github.com/c360/lotstream/transport"
)

// Bridge converts request/response topic pairs into bounded synchronous
// calls for a single caller.
type Bridge struct {
	channel transport.Channel
	logger  *slog.Logger

	pending chan *pendingCall // 1-slot mailbox holding the pending correlation
}

type pendingCall struct {
	id     string
	result chan bool
}

// New creates a bridge over the given channel.
func New(channel transport.Channel, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default().With("component", "bridge")
	}

	b := &Bridge{
		channel: channel,
		logger:  logger,
		pending: make(chan *pendingCall, 1),
	}
	b.pending <- nil
	return b
}

// Listen subscribes the bridge to a response topic. Call once per topic
// the bridge is expected to resolve responses from.
func (b *Bridge) Listen(ctx context.Context, responseTopic string) error {
	if err := b.channel.Subscribe(ctx, responseTopic, b.handleResponse); err != nil {
		return errors.WrapTransient(err, "Bridge", "Listen", "subscribe response topic")
	}
	return nil
}

// takePending swaps the stored pending call for repl and returns the
// previous value. The 1-slot channel serializes access between the
// caller's goroutine and the dispatch path.
func (b *Bridge) takePending(repl *pendingCall) *pendingCall {
	prev := <-b.pending
	b.pending <- repl
	return prev
}

// handleResponse runs on the channel's dispatch context. It must never
// block: results are delivered over a buffered channel and stray or
// duplicate responses are dropped.
func (b *Bridge) handleResponse(topic string, payload []byte) {
	resp, err := protocol.DecodeResponse(payload)
	if err != nil {
		b.logger.Warn("undecodable response dropped", "topic", topic, "error", err)
		return
	}

	p := b.takePending(nil)
	if p == nil {
		b.logger.Debug("stray response dropped, no call pending", "topic", topic, "id", resp.ID)
		return
	}

	// A legacy response carries no ID and matches any pending call.
	if resp.ID != "" && p.id != "" && resp.ID != p.id {
		b.logger.Debug("response correlation mismatch, dropped",
			"topic", topic, "want", p.id, "got", resp.ID)
		b.takePending(p)
		return
	}

	p.result <- resp.Approved
}

// clear removes p from the pending slot if it is still the pending call.
func (b *Bridge) clear(p *pendingCall) {
	prev := b.takePending(nil)
	if prev != nil && prev != p {
		// A newer call overwrote us; put it back.
		b.takePending(prev)
	}
}

// Call publishes a request and blocks until the correlated response
// arrives, the timeout elapses, the reset signal fires, or ctx is done.
// A denial, a timeout, and a cancellation all yield approved == false;
// the error distinguishes them (nil, ErrRequestTimeout, ErrCallCanceled).
func (b *Bridge) Call(
	ctx context.Context,
	requestTopic string,
	req protocol.Request,
	timeout time.Duration,
	reset <-chan struct{},
) (bool, error) {
	data, err := req.Encode()
	if err != nil {
		return false, errors.WrapInvalid(err, "Bridge", "Call", "encode request")
	}

	p := &pendingCall{
		id:     req.ID,
		result: make(chan bool, 1),
	}

	// Register before publishing so a fast response cannot be missed.
	if prev := b.takePending(p); prev != nil {
		b.logger.Warn("overwrote pending call", "previous_id", prev.id, "id", req.ID)
	}

	if err := b.channel.Publish(ctx, requestTopic, data); err != nil {
		b.clear(p)
		return false, errors.WrapTransient(err, "Bridge", "Call", "publish request")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case approved := <-p.result:
		return approved, nil
	case <-reset:
		b.clear(p)
		return false, errors.ErrCallCanceled
	case <-timer.C:
		b.clear(p)
		return false, errors.ErrRequestTimeout
	case <-ctx.Done():
		b.clear(p)
		return false, errors.WrapTransient(ctx.Err(), "Bridge", "Call", "await response")
	}
}

// Notify publishes a request without waiting for any response. Used for
// the passage confirmation at the end of a gate cycle.
func (b *Bridge) Notify(ctx context.Context, requestTopic string, req protocol.Request) error {
	data, err := req.Encode()
	if err != nil {
		return errors.WrapInvalid(err, "Bridge", "Notify", "encode request")
	}
	if err := b.channel.Publish(ctx, requestTopic, data); err != nil {
		return errors.WrapTransient(err, "Bridge", "Notify", "publish request")
	}
	return nil
}
