// Package bus is the in-process fan-out the task runner publishes log
// entries on. Delivery is best effort: a subscriber that falls behind loses
// messages and must recover from the task store.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 64

// Event is one published message.
type Event struct {
	Topic   string
	Payload any
}

// Subscription receives the events that match its topic prefix and filter.
type Subscription struct {
	id      uint64
	prefix  string
	accept  func(Event) bool
	ch      chan Event
	dropped atomic.Uint64
}

// Ch is closed when the subscription is removed or the bus is closed.
func (s *Subscription) Ch() <-chan Event { return s.ch }

// Dropped counts events lost because the subscriber's buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) matches(ev Event) bool {
	if s.prefix != "" && !strings.HasPrefix(ev.Topic, s.prefix) {
		return false
	}
	return s.accept == nil || s.accept(ev)
}

type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

func New() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscribe matches every topic starting with prefix; "" matches all.
func (b *Bus) Subscribe(prefix string) *Subscription {
	return b.SubscribeFunc(prefix, nil)
}

// SubscribeFunc is Subscribe with a payload filter that runs on the
// publisher's goroutine. A nil filter accepts everything. Subscribing to a
// closed bus yields an already-closed subscription.
func (b *Bus) SubscribeFunc(prefix string, accept func(Event) bool) *Subscription {
	sub := &Subscription{prefix: prefix, accept: accept, ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

// SubscribeTask receives the log entries of one task, terminal ones
// included.
func (b *Bus) SubscribeTask(taskID string) *Subscription {
	return b.SubscribeFunc(TopicTaskEvent, func(ev Event) bool {
		te, ok := ev.Payload.(TaskEvent)
		return ok && te.TaskID == taskID
	})
}

// Unsubscribe removes sub and closes its channel. It is safe to call more
// than once and after Close.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish never blocks. A full subscriber misses the event and its Dropped
// count goes up.
func (b *Bus) Publish(topic string, payload any) {
	ev := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Close ends every subscription. Later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
