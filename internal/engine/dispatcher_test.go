package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/mirror-go/internal/remote"
)

// fakeTransport records calls and tracks concurrent operation count.
// opDelay simulates network latency so concurrency limits are observable.
type fakeTransport struct {
	mu       sync.Mutex
	uploads  []string
	deletes  []string
	mkdirs   []string
	rmdirs   []string
	connects int32
	closes   int32

	opDelay   time.Duration
	active    atomic.Int32
	maxActive atomic.Int32

	connectErr error
	uploadErr  error
	deleteErr  error
	mkdirErr   error
	rmdirErr   error
}

func (f *fakeTransport) enter() {
	n := f.active.Add(1)

	for {
		prev := f.maxActive.Load()
		if n <= prev || f.maxActive.CompareAndSwap(prev, n) {
			break
		}
	}

	if f.opDelay > 0 {
		time.Sleep(f.opDelay)
	}
}

func (f *fakeTransport) exit() { f.active.Add(-1) }

func (f *fakeTransport) Connect(context.Context) error {
	atomic.AddInt32(&f.connects, 1)
	return f.connectErr
}

func (f *fakeTransport) UploadFile(_ context.Context, localPath, remotePath string) error {
	f.enter()
	defer f.exit()

	if f.uploadErr != nil {
		return f.uploadErr
	}

	f.mu.Lock()
	f.uploads = append(f.uploads, remotePath)
	f.mu.Unlock()

	return nil
}

func (f *fakeTransport) UploadBytes(_ context.Context, r io.Reader, _ int64, remotePath string) error {
	_, _ = io.Copy(io.Discard, r)

	f.mu.Lock()
	f.uploads = append(f.uploads, remotePath)
	f.mu.Unlock()

	return nil
}

func (f *fakeTransport) Delete(_ context.Context, remotePath string) error {
	f.enter()
	defer f.exit()

	if f.deleteErr != nil {
		return f.deleteErr
	}

	f.mu.Lock()
	f.deletes = append(f.deletes, remotePath)
	f.mu.Unlock()

	return nil
}

func (f *fakeTransport) Mkdir(_ context.Context, remotePath string, _ bool) error {
	if f.mkdirErr != nil {
		return f.mkdirErr
	}

	f.mu.Lock()
	f.mkdirs = append(f.mkdirs, remotePath)
	f.mu.Unlock()

	return nil
}

func (f *fakeTransport) Rmdir(_ context.Context, remotePath string, _ bool) error {
	if f.rmdirErr != nil {
		return f.rmdirErr
	}

	f.mu.Lock()
	f.rmdirs = append(f.rmdirs, remotePath)
	f.mu.Unlock()

	return nil
}

func (f *fakeTransport) List(context.Context, string) []remote.Entry { return nil }

func (f *fakeTransport) Close() error {
	atomic.AddInt32(&f.closes, 1)
	return nil
}

func newTestDispatcher(t *testing.T, cfg DispatcherConfig, tr remote.Transport) (*Dispatcher, *Stats) {
	t.Helper()

	stats := &Stats{}

	return NewDispatcher(cfg, tr, stats, testLogger(t)), stats
}

// writeLocalFile creates a file under a temp source root and returns both.
func writeLocalFile(t *testing.T, name string, size int) (sourceRoot, localPath string) {
	t.Helper()

	sourceRoot = t.TempDir()
	localPath = filepath.Join(sourceRoot, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(localPath), 0o755))
	require.NoError(t, os.WriteFile(localPath, make([]byte, size), 0o600))

	return sourceRoot, localPath
}

func TestDispatcher_EmptyBatchNoWork(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	d, stats := newTestDispatcher(t, DispatcherConfig{Workers: 2, SourceRoot: "/src", RemoteRoot: "/dst"}, tr)

	d.Dispatch(context.Background(), nil)

	assert.Zero(t, atomic.LoadInt32(&tr.connects), "empty batch must not even connect")
	assert.Equal(t, StatsSnapshot{}, stats.Snapshot())
}

func TestDispatcher_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{opDelay: 30 * time.Millisecond}

	sourceRoot, _ := writeLocalFile(t, "f0.bin", 10)
	for i := 1; i < 5; i++ {
		require.NoError(t, os.WriteFile(
			filepath.Join(sourceRoot, filepath.Base("f"+string(rune('0'+i))+".bin")),
			make([]byte, 10), 0o600))
	}

	d, stats := newTestDispatcher(t, DispatcherConfig{
		Workers:    2,
		SourceRoot: sourceRoot,
		RemoteRoot: "/dst",
	}, tr)

	entries, err := os.ReadDir(sourceRoot)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	batch := make([]WorkItem, 0, 5)
	for _, e := range entries {
		batch = append(batch, WorkItem{
			LocalPath: filepath.Join(sourceRoot, e.Name()),
			Action:    ActionUpload,
		})
	}

	d.Dispatch(context.Background(), batch)

	assert.LessOrEqual(t, tr.maxActive.Load(), int32(2), "at most C workers at any instant")
	assert.Equal(t, int64(5), stats.Snapshot().Uploaded)
	assert.Len(t, tr.uploads, 5)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tr.connects), "one shared connection")
}

func TestDispatcher_UploadComputesRemotePath(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	sourceRoot, localPath := writeLocalFile(t, filepath.Join("a", "b.txt"), 4)

	d, stats := newTestDispatcher(t, DispatcherConfig{
		Workers:    1,
		SourceRoot: sourceRoot,
		RemoteRoot: "/var/www/app",
	}, tr)

	d.Dispatch(context.Background(), []WorkItem{{LocalPath: localPath, Action: ActionUpload}})

	require.Len(t, tr.uploads, 1)
	assert.Equal(t, "/var/www/app/a/b.txt", tr.uploads[0])
	assert.Equal(t, []string{"/var/www/app/a"}, tr.mkdirs, "parent dir ensured before upload")
	assert.Equal(t, int64(1), stats.Snapshot().Uploaded)
}

func TestDispatcher_SkipsLargeFiles(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	sourceRoot, localPath := writeLocalFile(t, "big.bin", 2048)

	d, stats := newTestDispatcher(t, DispatcherConfig{
		Workers:     1,
		SourceRoot:  sourceRoot,
		RemoteRoot:  "/dst",
		MaxFileSize: 1024,
	}, tr)

	d.Dispatch(context.Background(), []WorkItem{{LocalPath: localPath, Action: ActionUpload}})

	snap := stats.Snapshot()
	assert.Equal(t, int64(1), snap.SkippedLarge)
	assert.Zero(t, snap.Uploaded)
	assert.Zero(t, snap.Errors)
	assert.Empty(t, tr.uploads, "no transport call for oversized files")
}

func TestDispatcher_DeleteDisabledMakesNoCall(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	d, stats := newTestDispatcher(t, DispatcherConfig{
		Workers:      1,
		SourceRoot:   "/src",
		RemoteRoot:   "/var/www/app",
		DeleteRemote: false,
	}, tr)

	d.Dispatch(context.Background(), []WorkItem{{LocalPath: "/src/a/b.txt", Action: ActionDelete}})

	assert.Empty(t, tr.deletes)
	assert.Equal(t, StatsSnapshot{}, stats.Snapshot(), "no counter changes when deletion is disabled")
}

func TestDispatcher_DeleteNotFoundIsSuccess(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{deleteErr: remote.NewOpError("delete", "/dst/x", remote.ErrNotFound, os.ErrNotExist)}
	d, stats := newTestDispatcher(t, DispatcherConfig{
		Workers:      1,
		SourceRoot:   "/src",
		RemoteRoot:   "/dst",
		DeleteRemote: true,
	}, tr)

	d.Dispatch(context.Background(), []WorkItem{{LocalPath: "/src/x", Action: ActionDelete}})

	snap := stats.Snapshot()
	assert.Zero(t, snap.Errors, "not-found delete must not count as an error")
	assert.Equal(t, int64(1), snap.Deleted)
}

func TestDispatcher_SafetyViolationSkipsUpload(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	d, stats := newTestDispatcher(t, DispatcherConfig{
		Workers:    1,
		SourceRoot: "/src",
		RemoteRoot: "/dst/app",
	}, tr)

	// A local path outside the source root computes a remote path that
	// climbs above the remote root.
	d.Dispatch(context.Background(), []WorkItem{{LocalPath: "/etc/passwd", Action: ActionUpload}})

	snap := stats.Snapshot()
	assert.Equal(t, int64(1), snap.SafetyViolations)
	assert.Zero(t, snap.Uploaded)
	assert.Empty(t, tr.uploads)
}

func TestDispatcher_StrictDeleteViolationIsFatal(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}

	var fatalPath atomic.Value

	d, stats := newTestDispatcher(t, DispatcherConfig{
		Workers:      1,
		SourceRoot:   "/src",
		RemoteRoot:   "/dst/app",
		DeleteRemote: true,
		Strict:       true,
		OnStrictViolation: func(p string) {
			fatalPath.Store(p)
		},
	}, tr)

	d.Dispatch(context.Background(), []WorkItem{{LocalPath: "/outside/file", Action: ActionDelete}})

	assert.NotNil(t, fatalPath.Load(), "strict delete violation must invoke the fatal handler")
	assert.Equal(t, int64(1), stats.Snapshot().SafetyViolations)
	assert.Empty(t, tr.deletes)
}

func TestDispatcher_StrictUploadViolationIsNotFatal(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}

	fatalCalled := false

	d, stats := newTestDispatcher(t, DispatcherConfig{
		Workers:           1,
		SourceRoot:        "/src",
		RemoteRoot:        "/dst/app",
		Strict:            true,
		OnStrictViolation: func(string) { fatalCalled = true },
	}, tr)

	d.Dispatch(context.Background(), []WorkItem{{LocalPath: "/outside/file", Action: ActionUpload}})

	assert.False(t, fatalCalled, "upload violations skip-and-count even under strict mode")
	assert.Equal(t, int64(1), stats.Snapshot().SafetyViolations)
}

func TestDispatcher_MkdirAlreadyExistsNotCounted(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{mkdirErr: remote.NewOpError("mkdir", "/dst/d", remote.ErrAlreadyExists, os.ErrExist)}
	d, stats := newTestDispatcher(t, DispatcherConfig{
		Workers:    1,
		SourceRoot: "/src",
		RemoteRoot: "/dst",
	}, tr)

	d.Dispatch(context.Background(), []WorkItem{{LocalPath: "/src/d", Action: ActionMkdir}})

	snap := stats.Snapshot()
	assert.Zero(t, snap.DirsCreated, "an existing directory is not a creation")
	assert.Zero(t, snap.Errors)
}

func TestDispatcher_RmdirBestEffort(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{rmdirErr: remote.NewOpError("rmdir", "/dst/d", remote.ErrTransfer, os.ErrInvalid)}
	d, stats := newTestDispatcher(t, DispatcherConfig{
		Workers:    1,
		SourceRoot: "/src",
		RemoteRoot: "/dst",
	}, tr)

	d.Dispatch(context.Background(), []WorkItem{{LocalPath: "/src/d", Action: ActionRmdir}})

	snap := stats.Snapshot()
	assert.Zero(t, snap.Errors, "rmdir failures are best-effort")
	assert.Zero(t, snap.DirsRemoved)
}

func TestDispatcher_FailureIsolation(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{uploadErr: remote.NewOpError("upload", "", remote.ErrTransfer, os.ErrInvalid)}

	sourceRoot, localPath := writeLocalFile(t, "f.txt", 4)
	require.NoError(t, os.WriteFile(filepath.Join(sourceRoot, "g.txt"), []byte("x"), 0o600))

	d, stats := newTestDispatcher(t, DispatcherConfig{
		Workers:      2,
		SourceRoot:   sourceRoot,
		RemoteRoot:   "/dst",
		DeleteRemote: true,
	}, tr)

	// The failing upload must not prevent the sibling delete from running.
	d.Dispatch(context.Background(), []WorkItem{
		{LocalPath: localPath, Action: ActionUpload},
		{LocalPath: filepath.Join(sourceRoot, "gone.txt"), Action: ActionDelete},
	})

	snap := stats.Snapshot()
	assert.Equal(t, int64(1), snap.Errors)
	assert.Equal(t, int64(1), snap.Deleted)
}

func TestDispatcher_ConnectFailureCountsPerItem(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{connectErr: remote.NewOpError("connect", "", remote.ErrAuth, os.ErrPermission)}
	d, stats := newTestDispatcher(t, DispatcherConfig{
		Workers:      2,
		SourceRoot:   "/src",
		RemoteRoot:   "/dst",
		DeleteRemote: true,
	}, tr)

	d.Dispatch(context.Background(), []WorkItem{
		{LocalPath: "/src/a", Action: ActionDelete},
		{LocalPath: "/src/b", Action: ActionDelete},
	})

	assert.Equal(t, int64(2), stats.Snapshot().Errors)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tr.connects), "connect attempted exactly once")
}

func TestDispatcher_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	d, _ := newTestDispatcher(t, DispatcherConfig{Workers: 1, SourceRoot: "/src", RemoteRoot: "/dst"}, tr)

	d.Close()
	d.Close()

	assert.Equal(t, int32(1), atomic.LoadInt32(&tr.closes))
}
