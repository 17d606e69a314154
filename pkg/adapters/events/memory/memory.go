package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/showwhy/discoverd/internal/domain"
	"github.com/showwhy/discoverd/internal/ports"
)

const subscriberBuffer = 256

// InMemoryEventBus implements ports.EventBus using in-process subscribers.
// Each subscriber receives events in publish order on its own goroutine.
type InMemoryEventBus struct {
	subscribers map[string]map[uint64]*subscription
	nextID      uint64
	dropped     atomic.Int64
	mu          sync.RWMutex
}

type subscription struct {
	events  chan domain.Event
	handler ports.EventHandler
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make(map[string]map[uint64]*subscription),
	}
}

// Publish delivers an event to all subscribers of a topic.
// Non-blocking: events for a subscriber whose buffer is full are dropped.
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, sub := range e.subscribers[topic] {
		select {
		case sub.events <- event:
		default:
			e.dropped.Add(1)
		}
	}

	return nil
}

// Subscribe subscribes to events on a topic until ctx is done
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	sub := &subscription{
		events:  make(chan domain.Event, subscriberBuffer),
		handler: handler,
		done:    make(chan struct{}),
	}

	e.mu.Lock()
	e.nextID++
	id := e.nextID
	if e.subscribers[topic] == nil {
		e.subscribers[topic] = make(map[uint64]*subscription)
	}
	e.subscribers[topic][id] = sub
	e.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				e.unsubscribe(topic, id)
				return
			case <-sub.done:
				return
			case event := <-sub.events:
				// Handler errors are the subscriber's concern
				_ = sub.handler(ctx, event)
			}
		}
	}()

	return nil
}

// Dropped returns the number of events dropped because a subscriber was full
func (e *InMemoryEventBus) Dropped() int64 {
	return e.dropped.Load()
}

// Close removes all subscribers
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, subs := range e.subscribers {
		for _, sub := range subs {
			sub.stop()
		}
	}
	e.subscribers = make(map[string]map[uint64]*subscription)
	return nil
}

// unsubscribe removes a subscription from a topic
func (e *InMemoryEventBus) unsubscribe(topic string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sub, ok := e.subscribers[topic][id]; ok {
		sub.stop()
		delete(e.subscribers[topic], id)
	}
	if len(e.subscribers[topic]) == 0 {
		delete(e.subscribers, topic)
	}
}
