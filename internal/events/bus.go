package events

import (
	"sync"
	"time"
)

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]chan Envelope
	now  func() time.Time
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan Envelope), now: time.Now}
}

// Subscribe registers a listener for the given events (all events when
// none are named) and returns the channel and an unsubscribe function.
// Unsubscribe closes the channel.
func (b *Bus) Subscribe(buffer int, topics ...Event) (<-chan Envelope, func()) {
	if len(topics) == 0 {
		topics = All
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Envelope, buffer)
	for _, e := range topics {
		b.subs[e] = append(b.subs[e], ch)
	}

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, e := range topics {
				subs := b.subs[e]
				for i, c := range subs {
					if c == ch {
						b.subs[e] = append(subs[:i:i], subs[i+1:]...)
						break
					}
				}
			}
			close(ch)
		})
	}
	return ch, unsub
}

// Publish fans the payload out to subscribers without blocking.
func (b *Bus) Publish(e Event, payload any) {
	if b == nil {
		return
	}
	env := Envelope{Type: e, Time: b.now().UTC(), Payload: payload}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- env:
		default:
			// drop if subscriber is slow; keep broker non-blocking
		}
	}
}
