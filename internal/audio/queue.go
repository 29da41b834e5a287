package audio

import (
	"sync"
	"sync/atomic"
)

// Queue is a bounded frame hand-off between goroutines. When full, Push
// drops the oldest queued frame so a slow consumer never stalls the
// producer.
type Queue struct {
	ch      chan Frame
	mu      sync.Mutex
	dropped atomic.Uint64
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{ch: make(chan Frame, size)}
}

// Push enqueues f and reports whether an older frame had to be dropped.
func (q *Queue) Push(f Frame) bool {
	// serialise producers so the drop-then-send pair cannot interleave
	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case q.ch <- f:
		return false
	default:
	}

	dropped := false
	select {
	case <-q.ch:
		dropped = true
		q.dropped.Add(1)
	default:
	}
	// only consumers remove, so there is room now
	q.ch <- f
	return dropped
}

// C is the receive side.
func (q *Queue) C() <-chan Frame { return q.ch }

func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) Cap() int { return cap(q.ch) }

// Dropped is the number of frames discarded by overflow.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Drain discards every queued frame.
func (q *Queue) Drain() {
	for {
		select {
		case <-q.ch:
		default:
			return
		}
	}
}
