package engine

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/mirror-go/internal/watch"
)

// Engine connects the raw event stream to the coalescer and the coalescer's
// flushes to the dispatcher. It owns no goroutines outside Run.
type Engine struct {
	coalescer  *Coalescer
	dispatcher *Dispatcher
	stats      *Stats
	debounce   time.Duration
	logger     *slog.Logger
}

// New assembles an Engine from its parts.
func New(
	coalescer *Coalescer, dispatcher *Dispatcher, stats *Stats,
	debounce time.Duration, logger *slog.Logger,
) *Engine {
	return &Engine{
		coalescer:  coalescer,
		dispatcher: dispatcher,
		stats:      stats,
		debounce:   debounce,
		logger:     logger,
	}
}

// Stats returns the engine's counters for the shutdown summary.
func (e *Engine) Stats() StatsSnapshot {
	return e.stats.Snapshot()
}

// Run consumes raw events until ctx is canceled, then drains pending work,
// lets in-flight operations finish, and closes the transport exactly once.
func (e *Engine) Run(ctx context.Context, events <-chan watch.Event) error {
	defer e.dispatcher.Close()

	flushes := e.coalescer.Flushes(ctx, e.debounce)

	// In-flight and final-drain operations are not forcibly canceled on
	// shutdown; the signal stops intake, not work already accepted.
	dispatchCtx := context.WithoutCancel(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}

				e.coalescer.Add(ev.Path, actionFor(ev.Type))
			}
		}
	})

	g.Go(func() error {
		for batch := range flushes {
			e.dispatcher.Dispatch(dispatchCtx, batch)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	return nil
}

// actionFor maps a raw event type to its pending action.
func actionFor(t watch.EventType) Action {
	switch t {
	case watch.Create, watch.Write:
		return ActionUpload
	case watch.Remove:
		return ActionDelete
	case watch.DirCreate:
		return ActionMkdir
	case watch.DirRemove:
		return ActionRmdir
	default:
		return ActionUpload
	}
}

// FullScan walks the source tree and enqueues an upload for every file and a
// mkdir for every directory. Used at startup to push state that changed
// while the daemon was down; the debounce window batches the whole scan into
// one flush.
func (e *Engine) FullScan(ctx context.Context, sourceRoot string) error {
	count := 0

	err := filepath.WalkDir(sourceRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			e.logger.Warn("scan error", slog.String("path", p), slog.String("error", err.Error()))
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if p == sourceRoot {
			return nil
		}

		if d.IsDir() {
			e.coalescer.Add(p, ActionMkdir)
		} else {
			e.coalescer.Add(p, ActionUpload)
		}

		count++

		return nil
	})
	if err != nil {
		return fmt.Errorf("engine: full scan of %s: %w", sourceRoot, err)
	}

	e.logger.Info("full scan enqueued", slog.Int("entries", count))

	return nil
}
