package queue

import (
	"sync"
	"sync/atomic"
)

// DefaultSubscriberBuffer is used when Subscribe is given a non-positive size
const DefaultSubscriberBuffer = 64

// broker fans notifications out to subscribers without ever blocking the
// publisher. A subscriber whose buffer is full misses the notification.
type broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Notification

	published atomic.Int64
	dropped   atomic.Int64
}

func newBroker() *broker {
	return &broker{subs: make(map[int]chan Notification)}
}

func (b *broker) subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan Notification, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}

func (b *broker) publish(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.published.Add(1)
	for _, ch := range b.subs {
		select {
		case ch <- n:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// BrokerStats reports notification counters
type BrokerStats struct {
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
}

func (b *broker) stats() BrokerStats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return BrokerStats{
		Subscribers: n,
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
	}
}
