package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	storage, err := NewFileStorage(dir)
	require.NoError(t, err)
	return NewService(storage, "1.0.0"), dir
}

// stepClock returns a clock that advances by step on every call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(step)
		return now
	}
}

func TestService_CreateAndRestore(t *testing.T) {
	svc, dir := newTestService(t)
	ctx := context.Background()

	snap := &Snapshot{Metadata: map[string]interface{}{"device_count": 1}}
	require.NoError(t, snap.Put("devices", []entry{{ID: "child-1", Name: "Nursery"}}))

	name, err := svc.Create(ctx, snap)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "snapshot-"))
	_, err = os.Stat(filepath.Join(dir, name))
	require.NoError(t, err)

	restored, err := svc.Restore(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", restored.Version)

	var devices []entry
	ok, err := restored.Get("devices", &devices)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []entry{{ID: "child-1", Name: "Nursery"}}, devices)

	ok, err = restored.Get("pairings", &devices)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_LatestAndPrune(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = stepClock(start, time.Hour)
	var names []string
	for i := 0; i < 3; i++ {
		name, err := svc.Create(ctx, &Snapshot{})
		require.NoError(t, err)
		names = append(names, name)
	}

	latest, err := svc.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, names[2], latest)

	removed, err := svc.Prune(ctx, start.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	left, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, names[2:], left)

	// the newest snapshot survives any cutoff
	removed, err = svc.Prune(ctx, start.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestService_RestoreRejectsGarbage(t *testing.T) {
	svc, dir := newTestService(t)
	name := "snapshot-20260301-120000.000.json"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{"), 0o644))

	_, err := svc.Restore(context.Background(), name)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`{"sections":{}}`), 0o644))
	_, err = svc.Restore(context.Background(), name)
	assert.ErrorContains(t, err, "missing version")
}

func TestFileStorage(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewFileStorage(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, storage.Save(ctx, "test.txt", strings.NewReader("test data")))

	loaded, err := storage.Load(ctx, "test.txt")
	require.NoError(t, err)
	loaded.Close()

	files, err := storage.List(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, []string{"test.txt"}, files)

	// no temporary files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, storage.Delete(ctx, "test.txt"))
	_, err = storage.Load(ctx, "test.txt")
	assert.Error(t, err)
}
