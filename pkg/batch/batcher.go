package batch

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Processor handles one batch. The slice is owned by the processor.
type Processor[T any] func(ctx context.Context, items []T) error

// Batcher collects items and hands them to a Processor when the batch is
// full or the interval elapses, whichever comes first.
type Batcher[T any] struct {
	batchSize     int
	batchInterval time.Duration
	processor     Processor[T]
	onError       func(error)

	mu      sync.Mutex
	pending []T

	flushChan chan struct{}
	stopOnce  sync.Once
	stopChan  chan struct{}
	done      chan struct{}
}

// NewBatcher starts a batcher. onError receives processor errors from
// background flushes and may be nil.
func NewBatcher[T any](batchSize int, batchInterval time.Duration, processor Processor[T], onError func(error)) *Batcher[T] {
	if batchSize <= 0 {
		batchSize = 1
	}
	if batchInterval <= 0 {
		batchInterval = time.Second
	}
	b := &Batcher[T]{
		batchSize:     batchSize,
		batchInterval: batchInterval,
		processor:     processor,
		onError:       onError,
		pending:       make([]T, 0, batchSize),
		flushChan:     make(chan struct{}, 1),
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}

	go b.run()

	return b
}

// Add queues an item, waking the flusher once the batch is full.
func (b *Batcher[T]) Add(item T) {
	b.mu.Lock()
	b.pending = append(b.pending, item)
	shouldFlush := len(b.pending) >= b.batchSize
	b.mu.Unlock()

	if shouldFlush {
		select {
		case b.flushChan <- struct{}{}:
		default:
		}
	}
}

// Flush immediately processes all pending items, at most batchSize per
// processor call.
func (b *Batcher[T]) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	items := b.pending
	b.pending = make([]T, 0, b.batchSize)
	b.mu.Unlock()

	var errs []error
	for len(items) > 0 {
		n := min(b.batchSize, len(items))
		if err := b.processor(ctx, items[:n:n]); err != nil {
			errs = append(errs, err)
		}
		items = items[n:]
	}
	return errors.Join(errs...)
}

func (b *Batcher[T]) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flushBackground()
		case <-b.flushChan:
			b.flushBackground()
		case <-b.stopChan:
			b.flushBackground()
			return
		}
	}
}

func (b *Batcher[T]) flushBackground() {
	if err := b.Flush(context.Background()); err != nil && b.onError != nil {
		b.onError(err)
	}
}

// Stop flushes what is left and waits for the flusher to exit.
func (b *Batcher[T]) Stop() {
	b.stopOnce.Do(func() { close(b.stopChan) })
	<-b.done
}

// PendingCount returns the number of queued items.
func (b *Batcher[T]) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
