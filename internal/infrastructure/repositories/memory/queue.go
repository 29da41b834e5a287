package memory

import (
	"sort"
	"sync"
	"time"

	"babaphone/internal/core/domain"
)

// envelope is the bookkeeping shared by queued signals and relay packets.
type envelope struct {
	to          domain.DeviceID
	timestamp   time.Time
	delivered   bool
	deliveredAt time.Time
}

type queued[T any] struct {
	envelope
	item T
}

// deliveryQueue keeps items per recipient. Items are handed out once and
// kept, marked delivered, until they age out.
type deliveryQueue[T any] struct {
	mu    sync.Mutex
	items map[string]*queued[T]
}

func newDeliveryQueue[T any]() *deliveryQueue[T] {
	return &deliveryQueue[T]{items: make(map[string]*queued[T])}
}

func (q *deliveryQueue[T]) put(id string, to domain.DeviceID, ts time.Time, item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items[id] = &queued[T]{
		envelope: envelope{to: to, timestamp: ts},
		item:     item,
	}
}

// take returns the undelivered items for to, oldest first, and marks them.
func (q *deliveryQueue[T]) take(to domain.DeviceID, at time.Time) []*queued[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*queued[T]
	for _, it := range q.items {
		if it.to != to || it.delivered {
			continue
		}
		it.delivered = true
		it.deliveredAt = at
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].timestamp.Before(out[j].timestamp)
	})
	return out
}

func (q *deliveryQueue[T]) removeOlderThan(before time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, it := range q.items {
		if it.timestamp.Before(before) {
			delete(q.items, id)
			removed++
		}
	}
	return removed
}

func (q *deliveryQueue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
