package backup

import (
	"context"
	"testing"
	"time"

	"babaphone/internal/core/domain"
	"babaphone/internal/infrastructure/repositories/memory"
	"babaphone/pkg/backup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestScheduler(t *testing.T, dir string) (*Scheduler, *backup.Service) {
	t.Helper()
	storage, err := backup.NewFileStorage(dir)
	require.NoError(t, err)
	svc := backup.NewService(storage, "test")
	s := NewScheduler(svc, memory.NewMemoryDeviceRepository(), Config{
		Interval:      time.Hour,
		Retention:     time.Hour,
		DeviceTimeout: 5 * time.Minute,
	}, zaptest.NewLogger(t).Sugar())
	return s, svc
}

func TestScheduler_SnapshotThenRestore(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	now := time.Now()

	before, _ := newTestScheduler(t, dir)
	for _, d := range []*domain.Device{
		{ID: "child-1", Type: domain.DeviceTypeChild, Name: "Nursery", LastSeen: now},
		{ID: "parent-1", Type: domain.DeviceTypeParent, Name: "Kitchen", LastSeen: now},
		{ID: "stale", Type: domain.DeviceTypeChild, Name: "Old", LastSeen: now.Add(-time.Hour)},
	} {
		require.NoError(t, before.devices.Save(ctx, d))
	}
	_, err := before.Snapshot(ctx)
	require.NoError(t, err)

	// a fresh process with an empty registry
	after, _ := newTestScheduler(t, dir)
	require.NoError(t, after.devices.Save(ctx, &domain.Device{ID: "parent-1", Type: domain.DeviceTypeParent, Name: "Renamed", LastSeen: now}))

	n, err := after.RestoreLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	child, err := after.devices.GetByID(ctx, "child-1")
	require.NoError(t, err)
	assert.Equal(t, "Nursery", child.Name)

	parent, err := after.devices.GetByID(ctx, "parent-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", parent.Name)

	_, err = after.devices.GetByID(ctx, "stale")
	assert.ErrorIs(t, err, domain.ErrDeviceNotFound)
}

func TestScheduler_RestoreWithoutSnapshot(t *testing.T) {
	s, _ := newTestScheduler(t, t.TempDir())
	n, err := s.RestoreLatest(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScheduler_RunStopsWithContext(t *testing.T) {
	s, svc := newTestScheduler(t, t.TempDir())
	s.cfg.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		names, err := svc.List(context.Background())
		return err == nil && len(names) > 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
