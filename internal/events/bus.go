package events

import (
	"sync"
)

// Bus is the in-process broker connecting pipeline stages to their
// consumers. Publish never blocks: a subscriber that falls behind loses
// messages, and the loss is counted per topic so backpressure is visible
// instead of silent.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]chan any
	dropped map[Event]uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[Event][]chan any),
		dropped: make(map[Event]uint64),
	}
}

// Subscribe registers a buffered listener on one topic. The returned
// cancel function detaches and closes the channel; calling it more than
// once is safe.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	ch := make(chan any, buffer)

	b.mu.Lock()
	b.subs[e] = append(b.subs[e], ch)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[e]
			for i, c := range subs {
				if c == ch {
					b.subs[e] = append(subs[:i], subs[i+1:]...)
					close(ch)
					break
				}
			}
		})
	}
	return ch, cancel
}

// Publish delivers the payload to every subscriber whose buffer has room
// and counts the ones it could not reach.
func (b *Bus) Publish(e Event, payload any) {
	var lost uint64

	b.mu.RLock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			lost++
		}
	}
	b.mu.RUnlock()

	if lost > 0 {
		b.mu.Lock()
		b.dropped[e] += lost
		b.mu.Unlock()
	}
}

// Dropped returns how many payloads were discarded on a topic because
// subscriber buffers were full.
func (b *Bus) Dropped(e Event) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped[e]
}
