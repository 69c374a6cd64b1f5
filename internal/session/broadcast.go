package session

import (
	"sync"
)

type subscriber struct {
	ch chan Session
}

// Broadcaster fans session snapshots out to observers. Each subscriber holds
// at most one pending snapshot; a subscriber that has not read the previous
// one gets it replaced by the newer one, so a slow observer never blocks the
// controller and always ends up with the latest state.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*subscriber]bool
	last   Session
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[*subscriber]bool),
	}
}

// Subscribe registers an observer. The channel immediately holds the current
// snapshot. The returned func unsubscribes and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Session, func()) {
	sub := &subscriber{ch: make(chan Session, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[sub] = true
	sub.ch <- b.last.Clone()
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { b.remove(sub) })
	}
}

func (b *Broadcaster) remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish delivers s to every subscriber without blocking.
func (b *Broadcaster) Publish(s Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.last = s.Clone()
	for sub := range b.subs {
		snap := s.Clone()
		select {
		case sub.ch <- snap:
		default:
			// Replace the stale pending snapshot.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- snap:
			default:
			}
		}
	}
}

// Close closes every subscriber channel. Later Publish calls are dropped and
// later Subscribe calls get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
