package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/tonimelisma/mirror-go/internal/remote"
	"github.com/tonimelisma/mirror-go/internal/safepath"
)

// DispatcherConfig carries the dispatch policy resolved from configuration.
type DispatcherConfig struct {
	// Workers is the concurrency limit C. At most C operations execute at
	// any instant.
	Workers int

	// SourceRoot is the watched local directory; RemoteRoot is the safety
	// boundary every computed remote path must stay within.
	SourceRoot string
	RemoteRoot string

	// MaxFileSize skips uploads of files larger than this many bytes.
	// Zero means no limit. Size is re-read at dispatch time because the
	// file may grow or shrink during the debounce window.
	MaxFileSize int64

	// DeleteRemote enables remote deletion. When false, delete work items
	// complete without any transport call.
	DeleteRemote bool

	// Strict makes a safety violation on delete or rmdir terminate the
	// process via OnStrictViolation. Upload and mkdir violations are
	// skip-and-count under every policy; the asymmetry is deliberate.
	Strict bool

	// OnStrictViolation is invoked for a strict-mode violation; the run
	// command wires it to process exit. Nil means count-and-continue.
	OnStrictViolation func(remotePath string)
}

const defaultWorkers = 2

// Dispatcher drains coalesced batches into a bounded pool of workers, each
// performing one remote operation. A work-item failure increments a counter
// and produces a log line; it never aborts sibling items or the dispatcher.
type Dispatcher struct {
	cfg       DispatcherConfig
	transport remote.Transport
	stats     *Stats
	logger    *slog.Logger

	// connOnce guards the single shared connection: concurrent workers
	// arriving during establishment all block on the same in-flight
	// connect instead of racing to dial.
	connOnce  sync.Once
	connErr   error
	closeOnce sync.Once
}

// NewDispatcher creates a Dispatcher. The transport is not connected yet;
// the first worker (or an explicit EnsureConnected at startup) dials it.
func NewDispatcher(cfg DispatcherConfig, transport remote.Transport, stats *Stats, logger *slog.Logger) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = defaultWorkers
	}

	return &Dispatcher{
		cfg:       cfg,
		transport: transport,
		stats:     stats,
		logger:    logger,
	}
}

// EnsureConnected lazily establishes the shared transport connection exactly
// once. Safe for concurrent use; every caller observes the same result.
func (d *Dispatcher) EnsureConnected(ctx context.Context) error {
	d.connOnce.Do(func() {
		d.connErr = d.transport.Connect(ctx)
	})

	return d.connErr
}

// Close tears down the shared transport connection exactly once.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		if err := d.transport.Close(); err != nil {
			d.logger.Warn("transport close failed", slog.String("error", err.Error()))
		}
	})
}

// Dispatch executes one batch on up to cfg.Workers concurrent workers and
// returns when every item has completed. An empty batch starts no workers.
// Items are fed in order through an unbuffered channel, so the queue is FIFO
// and a finishing worker immediately picks up the next item — saturation
// without a polling loop.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []WorkItem) {
	if len(batch) == 0 {
		return
	}

	workers := d.cfg.Workers
	if workers > len(batch) {
		workers = len(batch)
	}

	queue := make(chan WorkItem)

	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for item := range queue {
				d.process(ctx, item)
			}
		}()
	}

	for _, item := range batch {
		queue <- item
	}

	close(queue)
	wg.Wait()
}

// process executes a single work item. All failures are converted into one
// counter increment plus one log line at this boundary.
func (d *Dispatcher) process(ctx context.Context, item WorkItem) {
	if err := d.EnsureConnected(ctx); err != nil {
		d.stats.errors.Add(1)
		d.logger.Error("transport connect failed",
			slog.String("path", item.LocalPath),
			slog.String("action", item.Action.String()),
			slog.String("error", err.Error()),
		)

		return
	}

	remotePath, err := safepath.RemotePath(d.cfg.RemoteRoot, d.cfg.SourceRoot, item.LocalPath)
	if err != nil {
		d.stats.errors.Add(1)
		d.logger.Error("cannot compute remote path",
			slog.String("path", item.LocalPath),
			slog.String("error", err.Error()),
		)

		return
	}

	switch item.Action {
	case ActionUpload:
		d.processUpload(ctx, item.LocalPath, remotePath)
	case ActionDelete:
		d.processDelete(ctx, item.LocalPath, remotePath)
	case ActionMkdir:
		d.processMkdir(ctx, remotePath)
	case ActionRmdir:
		d.processRmdir(ctx, remotePath)
	}
}

// checkSafety verifies the remote path stays within the configured root.
// fatalOnStrict is set for the delete and rmdir paths only.
func (d *Dispatcher) checkSafety(remotePath string, fatalOnStrict bool) bool {
	if safepath.WithinRoot(d.cfg.RemoteRoot, remotePath) {
		return true
	}

	d.stats.safetyViolations.Add(1)
	d.logger.Error("remote path escapes configured root, skipping",
		slog.String("remote", remotePath),
		slog.String("root", d.cfg.RemoteRoot),
		slog.Bool("strict", d.cfg.Strict),
	)

	if fatalOnStrict && d.cfg.Strict && d.cfg.OnStrictViolation != nil {
		d.cfg.OnStrictViolation(remotePath)
	}

	return false
}

func (d *Dispatcher) processUpload(ctx context.Context, localPath, remotePath string) {
	if !d.checkSafety(remotePath, false) {
		return
	}

	info, err := os.Stat(localPath)
	if err != nil {
		d.stats.errors.Add(1)
		d.logger.Error("stat failed at dispatch time",
			slog.String("path", localPath),
			slog.String("error", err.Error()),
		)

		return
	}

	if d.cfg.MaxFileSize > 0 && info.Size() > d.cfg.MaxFileSize {
		d.stats.skippedLarge.Add(1)
		d.logger.Warn("file exceeds size limit, skipping",
			slog.String("path", localPath),
			slog.String("size", humanize.IBytes(uint64(info.Size()))),
			slog.String("limit", humanize.IBytes(uint64(d.cfg.MaxFileSize))),
		)

		return
	}

	// Best-effort parent creation: already-exists failures (and everything
	// else) are swallowed, the upload itself reports real problems.
	if parent := path.Dir(remotePath); parent != d.cfg.RemoteRoot {
		if mkErr := d.transport.Mkdir(ctx, parent, true); mkErr != nil &&
			!errors.Is(mkErr, remote.ErrAlreadyExists) {
			d.logger.Debug("parent mkdir failed",
				slog.String("remote", parent),
				slog.String("error", mkErr.Error()),
			)
		}
	}

	if err := d.transport.UploadFile(ctx, localPath, remotePath); err != nil {
		d.stats.errors.Add(1)
		d.logger.Error("upload failed",
			slog.String("path", localPath),
			slog.String("remote", remotePath),
			slog.String("error", err.Error()),
		)

		return
	}

	d.stats.uploaded.Add(1)
	d.logger.Info("uploaded",
		slog.String("path", localPath),
		slog.String("remote", remotePath),
		slog.String("size", humanize.IBytes(uint64(info.Size()))),
	)
}

func (d *Dispatcher) processDelete(ctx context.Context, localPath, remotePath string) {
	if !d.checkSafety(remotePath, true) {
		return
	}

	if !d.cfg.DeleteRemote {
		d.logger.Debug("remote deletion disabled, skipping",
			slog.String("remote", remotePath),
		)

		return
	}

	if err := d.transport.Delete(ctx, remotePath); err != nil && !errors.Is(err, remote.ErrNotFound) {
		d.stats.errors.Add(1)
		d.logger.Error("delete failed",
			slog.String("remote", remotePath),
			slog.String("error", err.Error()),
		)

		return
	}

	d.stats.deleted.Add(1)
	d.logger.Info("deleted",
		slog.String("path", localPath),
		slog.String("remote", remotePath),
	)
}

func (d *Dispatcher) processMkdir(ctx context.Context, remotePath string) {
	if !d.checkSafety(remotePath, false) {
		return
	}

	err := d.transport.Mkdir(ctx, remotePath, true)
	if errors.Is(err, remote.ErrAlreadyExists) {
		d.logger.Debug("directory already present", slog.String("remote", remotePath))
		return
	}

	if err != nil {
		d.stats.errors.Add(1)
		d.logger.Error("mkdir failed",
			slog.String("remote", remotePath),
			slog.String("error", err.Error()),
		)

		return
	}

	d.stats.dirsCreated.Add(1)
	d.logger.Info("directory created", slog.String("remote", remotePath))
}

func (d *Dispatcher) processRmdir(ctx context.Context, remotePath string) {
	if !d.checkSafety(remotePath, true) {
		return
	}

	// Best-effort under every policy: a non-empty or missing directory is
	// not worth an error counter.
	if err := d.transport.Rmdir(ctx, remotePath, false); err != nil {
		d.logger.Warn("rmdir failed (best-effort)",
			slog.String("remote", remotePath),
			slog.String("error", err.Error()),
		)

		return
	}

	d.stats.dirsRemoved.Add(1)
	d.logger.Info("directory removed", slog.String("remote", remotePath))
}
