// Package notify broadcasts coarse "something changed" signals to live
// subscribers. Signals carry no payload; receivers re-read their authorized
// view. Backpressure is resolved by coalescing: a slow subscriber collapses
// pending signals into a single wake-up and never blocks a publisher.
package notify

import "sync"

type subscriber struct {
	ch chan struct{}
}

// Broadcaster fans a refresh signal out to every subscriber in-process.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a new subscriber. The returned channel has capacity one
// so consecutive publishes coalesce while the receiver is busy. The cancel
// function must be called when the subscriber goes away.
func (b *Broadcaster) Subscribe() (<-chan struct{}, func()) {
	sub := &subscriber{ch: make(chan struct{}, 1)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish wakes every subscriber. Non-blocking: if a subscriber already has a
// pending signal the new one folds into it.
func (b *Broadcaster) Publish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- struct{}{}:
		default:
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
