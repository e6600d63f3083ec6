package service

import (
	"sync"

	"lucciole/backend/internal/domain"
)

// Feed fans item snapshots out to live subscribers. Every mutation publishes
// a full snapshot, mirroring the push model the UI drives all state from.
// Sends never block a mutator: a subscriber that has fallen behind has its
// stale snapshot replaced rather than queued.
type Feed struct {
	mu          sync.Mutex
	subscribers map[chan []domain.Item]struct{}
}

func NewFeed() *Feed {
	return &Feed{subscribers: make(map[chan []domain.Item]struct{})}
}

// Subscribe registers a listener. The returned cancel func must be called
// when the listener goes away; the channel is closed by cancel.
func (f *Feed) Subscribe() (<-chan []domain.Item, func()) {
	ch := make(chan []domain.Item, 1)

	f.mu.Lock()
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subscribers[ch]; ok {
			delete(f.subscribers, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

func (f *Feed) Publish(items []domain.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for ch := range f.subscribers {
		select {
		case ch <- items:
		default:
			// Drain the stale snapshot and replace it with the fresh one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- items:
			default:
			}
		}
	}
}

func (f *Feed) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}
