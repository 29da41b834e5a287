package distributed

import (
	"context"
	"sync"

	"babaphone/internal/core/domain"
)

// LocalNotifier fans wake-ups out to in-process subscribers. Each
// subscription channel holds at most one pending wake-up; extra notifies
// coalesce.
type LocalNotifier struct {
	mu   sync.RWMutex
	subs map[domain.DeviceID]map[chan struct{}]struct{}
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{
		subs: make(map[domain.DeviceID]map[chan struct{}]struct{}),
	}
}

func (n *LocalNotifier) Notify(ctx context.Context, id domain.DeviceID) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for ch := range n.subs[id] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (n *LocalNotifier) Subscribe(id domain.DeviceID) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	if n.subs[id] == nil {
		n.subs[id] = make(map[chan struct{}]struct{})
	}
	n.subs[id][ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs[id], ch)
			if len(n.subs[id]) == 0 {
				delete(n.subs, id)
			}
		})
	}
}

// Subscribers returns the number of live subscriptions for id.
func (n *LocalNotifier) Subscribers(id domain.DeviceID) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs[id])
}
