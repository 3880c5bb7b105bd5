package store

import "sync"

// EventBus provides pub/sub for request events. Subscribers receive events
// published after they subscribe; missed history comes from the Store.
type EventBus struct {
	mu   sync.RWMutex
	subs map[string][]chan *StoredEvent
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[string][]chan *StoredEvent),
	}
}

// Subscribe creates a channel that receives events for a request.
func (b *EventBus) Subscribe(requestID string) chan *StoredEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *StoredEvent, 64)
	b.subs[requestID] = append(b.subs[requestID], ch)
	return ch
}

// Unsubscribe removes a channel from the request's subscribers.
func (b *EventBus) Unsubscribe(requestID string, ch chan *StoredEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[requestID]
	for i, s := range subs {
		if s == ch {
			b.subs[requestID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish sends an event to all subscribers for a request.
func (b *EventBus) Publish(requestID string, event *StoredEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[requestID] {
		select {
		case ch <- event:
		default:
			// Drop event if subscriber is too slow.
		}
	}
}
