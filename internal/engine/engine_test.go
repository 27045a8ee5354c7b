package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/mirror-go/internal/watch"
)

func newTestEngine(t *testing.T, cfg DispatcherConfig, tr *fakeTransport, debounce time.Duration) *Engine {
	t.Helper()

	stats := &Stats{}
	coal := NewCoalescer(nil, testLogger(t))
	disp := NewDispatcher(cfg, tr, stats, testLogger(t))

	return New(coal, disp, stats, debounce, testLogger(t))
}

// A create followed by a delete within one debounce window dispatches a
// single delete work item; the intermediate upload never runs.
func TestEngine_CreateThenDeleteCollapsesToDelete(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	eng := newTestEngine(t, DispatcherConfig{
		Workers:      2,
		SourceRoot:   "/src",
		RemoteRoot:   "/var/www/app",
		DeleteRemote: true,
	}, tr, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan watch.Event)

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx, events) }()

	events <- watch.Event{Type: watch.Create, Path: "/src/a/b.txt"}
	events <- watch.Event{Type: watch.Remove, Path: "/src/a/b.txt"}

	require.Eventually(t, func() bool {
		return eng.Stats().Deleted == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Empty(t, tr.uploads, "the stale create must never be dispatched")
	assert.Equal(t, []string{"/var/www/app/a/b.txt"}, tr.deletes)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tr.closes), "transport closed exactly once on shutdown")
}

func TestEngine_FullScanEnqueuesTree(t *testing.T) {
	t.Parallel()

	sourceRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(sourceRoot, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sourceRoot, "sub", "f.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(sourceRoot, "g.txt"), []byte("y"), 0o600))

	tr := &fakeTransport{}
	eng := newTestEngine(t, DispatcherConfig{
		Workers:    2,
		SourceRoot: sourceRoot,
		RemoteRoot: "/dst",
	}, tr, time.Hour)

	require.NoError(t, eng.FullScan(context.Background(), sourceRoot))

	batch := eng.coalescer.Drain()
	require.Len(t, batch, 3)

	actions := map[string]Action{}
	for _, item := range batch {
		rel, err := filepath.Rel(sourceRoot, item.LocalPath)
		require.NoError(t, err)
		actions[filepath.ToSlash(rel)] = item.Action
	}

	assert.Equal(t, ActionMkdir, actions["sub"])
	assert.Equal(t, ActionUpload, actions["sub/f.txt"])
	assert.Equal(t, ActionUpload, actions["g.txt"])
}

// A startup scan enqueues before Run starts the debounce loop; its batch must
// still dispatch after one debounce window, without any watcher event to nudge
// the timer.
func TestEngine_FullScanDispatchesWithoutEvents(t *testing.T) {
	t.Parallel()

	sourceRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(sourceRoot, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sourceRoot, "sub", "f.txt"), []byte("x"), 0o600))

	tr := &fakeTransport{}
	eng := newTestEngine(t, DispatcherConfig{
		Workers:    2,
		SourceRoot: sourceRoot,
		RemoteRoot: "/dst",
	}, tr, 20*time.Millisecond)

	require.NoError(t, eng.FullScan(context.Background(), sourceRoot))

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan watch.Event)

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx, events) }()

	require.Eventually(t, func() bool {
		snap := eng.Stats()
		return snap.Uploaded == 1 && snap.DirsCreated == 1
	}, 2*time.Second, 10*time.Millisecond, "scanned tree never dispatched")

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"/dst/sub/f.txt"}, tr.uploads)
}

// Shutdown drains pending work: events that arrived but whose debounce timer
// had not yet fired are still dispatched before Run returns.
func TestEngine_ShutdownDrainsPending(t *testing.T) {
	t.Parallel()

	sourceRoot, localPath := writeLocalFile(t, "late.txt", 8)

	tr := &fakeTransport{}
	eng := newTestEngine(t, DispatcherConfig{
		Workers:    1,
		SourceRoot: sourceRoot,
		RemoteRoot: "/dst",
	}, tr, time.Hour) // debounce never fires on its own

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan watch.Event)

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx, events) }()

	events <- watch.Event{Type: watch.Write, Path: localPath}

	// Give the ingest goroutine time to move the event into the pending map.
	require.Eventually(t, func() bool {
		return eng.coalescer.Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int64(1), eng.Stats().Uploaded)
	assert.Equal(t, []string{"/dst/late.txt"}, tr.uploads)
}
