package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]int
}

func (r *recorder) process(_ context.Context, items []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, items)
	return nil
}

func (r *recorder) snapshot() [][]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]int(nil), r.batches...)
}

func TestBatcher_FlushesWhenFull(t *testing.T) {
	r := &recorder{}
	b := NewBatcher(3, time.Hour, r.process, nil)
	defer b.Stop()

	for i := 1; i <= 3; i++ {
		b.Add(i)
	}

	require.Eventually(t, func() bool { return len(r.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{1, 2, 3}, r.snapshot()[0])
	assert.Zero(t, b.PendingCount())
}

func TestBatcher_FlushesOnInterval(t *testing.T) {
	r := &recorder{}
	b := NewBatcher(100, 20*time.Millisecond, r.process, nil)
	defer b.Stop()

	b.Add(7)
	require.Eventually(t, func() bool { return len(r.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{7}, r.snapshot()[0])
}

func TestBatcher_FlushSplitsIntoBatches(t *testing.T) {
	r := &recorder{}
	b := NewBatcher(2, time.Hour, r.process, nil)
	defer b.Stop()

	b.mu.Lock()
	b.pending = append(b.pending, 1, 2, 3, 4, 5)
	b.mu.Unlock()

	require.NoError(t, b.Flush(context.Background()))
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, r.snapshot())
}

func TestBatcher_StopFlushesRemainder(t *testing.T) {
	r := &recorder{}
	b := NewBatcher(100, time.Hour, r.process, nil)

	b.Add(1)
	b.Add(2)
	b.Stop()
	b.Stop()

	assert.Equal(t, [][]int{{1, 2}}, r.snapshot())
}

func TestBatcher_ReportsErrors(t *testing.T) {
	boom := errors.New("boom")
	errs := make(chan error, 1)
	b := NewBatcher(1, time.Hour, func(context.Context, []string) error { return boom }, func(err error) { errs <- err })
	defer b.Stop()

	b.Add("x")
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("error not reported")
	}
}
