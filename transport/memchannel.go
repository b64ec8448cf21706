package transport

import (
	"context"
	"sync"

	"github.com/c360/lotstream/errors"
)

// MemChannel is an in-process Channel used by tests. Each subscription
// gets its own dispatch goroutine so handlers run off the publisher's
// goroutine, matching the production channel's threading model.
type MemChannel struct {
	mu        sync.RWMutex
	connected bool
	closed    bool
	subs      map[string][]*memSubscription
	retained  map[string][]byte
	wg        sync.WaitGroup
}

type memSubscription struct {
	handler Handler
	queue   chan memDelivery
}

type memDelivery struct {
	topic   string
	payload []byte
}

// subscription queue depth; tests never come close to filling it
const memQueueDepth = 256

// NewMemChannel creates an in-memory channel.
func NewMemChannel() *MemChannel {
	return &MemChannel{
		subs:     make(map[string][]*memSubscription),
		retained: make(map[string][]byte),
	}
}

// Connect marks the channel connected.
func (m *MemChannel) Connect(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.ErrShuttingDown
	}
	m.connected = true
	return nil
}

// Publish delivers the payload to every subscription on the topic.
func (m *MemChannel) Publish(_ context.Context, topic string, payload []byte) error {
	return m.deliver(topic, payload, false)
}

// PublishRetained delivers the payload and keeps it as the topic's last
// known value.
func (m *MemChannel) PublishRetained(_ context.Context, topic string, payload []byte) error {
	return m.deliver(topic, payload, true)
}

func (m *MemChannel) deliver(topic string, payload []byte, retain bool) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return errors.ErrNotConnected
	}

	data := make([]byte, len(payload))
	copy(data, payload)

	if retain {
		m.retained[topic] = data
	}
	subs := make([]*memSubscription, len(m.subs[topic]))
	copy(subs, m.subs[topic])
	m.mu.Unlock()

	for _, sub := range subs {
		sub.queue <- memDelivery{topic: topic, payload: data}
	}
	return nil
}

// Subscribe registers a handler. If the topic has a retained value, the
// handler receives it first, before any new publications.
func (m *MemChannel) Subscribe(_ context.Context, topic string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return errors.ErrNotConnected
	}

	sub := &memSubscription{
		handler: handler,
		queue:   make(chan memDelivery, memQueueDepth),
	}
	m.subs[topic] = append(m.subs[topic], sub)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for d := range sub.queue {
			sub.handler(d.topic, d.payload)
		}
	}()

	if last, ok := m.retained[topic]; ok {
		sub.queue <- memDelivery{topic: topic, payload: last}
	}

	return nil
}

// Retained returns the last retained value for a topic, if any.
func (m *MemChannel) Retained(topic string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.retained[topic]
	return v, ok
}

// Close stops all dispatch goroutines. Pending queued messages are
// delivered before the handlers stop.
func (m *MemChannel) Close(_ context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.connected = false
	for _, subs := range m.subs {
		for _, sub := range subs {
			close(sub.queue)
		}
	}
	m.subs = make(map[string][]*memSubscription)
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}
