package bus

import (
	"context"
	"strings"
	"sync"
)

const defaultBufferSize = 100

// Event is a message published on the bus.
type Event struct {
	Topic   string
	Payload interface{}
}

// Subscription represents an active subscription.
type Subscription struct {
	id     int
	prefix string
	ch     chan Event

	// done closes on Unsubscribe and releases blocked Deliver calls.
	done   chan struct{}
	sendMu sync.RWMutex
	closed bool
}

// Ch returns the channel to receive events on.
func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Bus is a simple in-process pub/sub message bus with topic prefix matching.
// It carries the core's inbound messages to the mounted surface.
type Bus struct {
	mu         sync.RWMutex
	subs       map[int]*Subscription
	nextID     int
	bufferSize int
}

// New creates a new Bus.
func New() *Bus {
	return NewWithBuffer(defaultBufferSize)
}

// NewWithBuffer creates a Bus whose subscriptions buffer n events.
func NewWithBuffer(n int) *Bus {
	if n <= 0 {
		n = defaultBufferSize
	}
	return &Bus{
		subs:       make(map[int]*Subscription),
		bufferSize: n,
	}
}

// Subscribe creates a subscription for events matching the given topic prefix.
// An empty prefix matches all topics.
// Slow consumers miss events once their buffer is full (non-blocking send).
func (b *Bus) Subscribe(topicPrefix string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		prefix: topicPrefix,
		ch:     make(chan Event, b.bufferSize),
		done:   make(chan struct{}),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	_, ok := b.subs[sub.id]
	delete(b.subs, sub.id)
	b.mu.Unlock()
	if !ok {
		return
	}

	close(sub.done)
	sub.sendMu.Lock()
	sub.closed = true
	close(sub.ch)
	sub.sendMu.Unlock()
}

// Publish sends an event to all matching subscribers and reports how many
// received it. Delivery is non-blocking: a full buffer drops the event for
// that subscriber.
func (b *Bus) Publish(topic string, payload interface{}) int {
	event := Event{
		Topic:   topic,
		Payload: payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, sub := range b.subs {
		if sub.matches(topic) && sub.offer(event) {
			delivered++
		}
	}
	return delivered
}

// Deliver sends an event to all matching subscribers, waiting for buffer
// space. It gives up on a subscriber when ctx ends or the subscriber
// unsubscribes, and reports how many received the event.
func (b *Bus) Deliver(ctx context.Context, topic string, payload interface{}) int {
	event := Event{
		Topic:   topic,
		Payload: payload,
	}

	b.mu.RLock()
	var targets []*Subscription
	for _, sub := range b.subs {
		if sub.matches(topic) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if sub.send(ctx, event) {
			delivered++
		}
	}
	return delivered
}

func (s *Subscription) matches(topic string) bool {
	return s.prefix == "" || strings.HasPrefix(topic, s.prefix)
}

func (s *Subscription) offer(event Event) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

func (s *Subscription) send(ctx context.Context, event Event) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- event:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
