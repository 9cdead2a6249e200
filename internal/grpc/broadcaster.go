package grpc

import (
	"sync"
	"sync/atomic"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

// EventFilter narrows a subscription. Zero fields match everything.
type EventFilter struct {
	AlertID     string
	MinSeverity models.AlertSeverity
}

func (f EventFilter) Match(e *models.AlertEvent) bool {
	if f.AlertID != "" && e.AlertID != f.AlertID {
		return false
	}
	if f.MinSeverity != "" && e.Severity.PriorityScore() < f.MinSeverity.PriorityScore() {
		return false
	}
	return true
}

type subscriber struct {
	ch      chan *models.AlertEvent
	filter  EventFilter
	dropped atomic.Uint64
}

// Broadcaster fans lifecycle events out to stream subscribers. A subscriber
// that falls behind loses its oldest buffered event, so the latest state of
// an alert (a cancellation, an expiry) always reaches it.
type Broadcaster struct {
	subscribers map[uint64]*subscriber
	nextID      atomic.Uint64
	mu          sync.RWMutex
}

const subscriberBuffer = 100

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]*subscriber),
	}
}

func (b *Broadcaster) Subscribe(f EventFilter) (uint64, <-chan *models.AlertEvent) {
	id := b.nextID.Add(1)
	sub := &subscriber{
		ch:     make(chan *models.AlertEvent, subscriberBuffer),
		filter: f,
	}

	b.mu.Lock()
	b.subscribers[id] = sub
	b.mu.Unlock()

	return id, sub.ch
}

// Unsubscribe closes the subscriber's channel and reports how many events it
// lost to a full buffer.
func (b *Broadcaster) Unsubscribe(id uint64) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[id]
	if !ok {
		return 0
	}
	close(sub.ch)
	delete(b.subscribers, id)
	return sub.dropped.Load()
}

func (b *Broadcaster) Broadcast(e *models.AlertEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.filter.Match(e) {
			continue
		}
		sub.deliver(e)
	}
}

func (s *subscriber) deliver(e *models.AlertEvent) {
	for {
		select {
		case s.ch <- e:
			return
		default:
		}
		// full: evict the oldest and retry
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels, causing streams to exit gracefully
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
