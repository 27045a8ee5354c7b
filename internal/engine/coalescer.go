package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Coalescer merges raw filesystem events into at most one pending action per
// absolute local path. Every insertion restarts a single shared debounce
// timer; when it fires, the entire pending map is drained into one batch.
// One timer (not one per path) bounds worst-case latency to a single debounce
// interval regardless of burst size — unrelated paths coalesce into the same
// flush, which is fine because dispatch is concurrent.
//
// All methods are safe for concurrent use, though in practice only the event
// ingestion path mutates the pending map.
type Coalescer struct {
	mu      sync.Mutex
	pending map[string]Action
	notify  chan struct{} // signaled on Add while Flushes is active; nil otherwise
	ignore  func(path string) bool
	logger  *slog.Logger
}

// NewCoalescer creates an empty Coalescer. ignore may be nil; when set, paths
// it matches are dropped before they ever enter the pending map.
func NewCoalescer(ignore func(string) bool, logger *slog.Logger) *Coalescer {
	return &Coalescer{
		pending: make(map[string]Action),
		ignore:  ignore,
		logger:  logger,
	}
}

// Add records an action for a path, replacing any action already pending for
// it per mergeAction, and restarts the debounce timer.
func (c *Coalescer) Add(path string, action Action) {
	if c.ignore != nil && c.ignore(path) {
		c.logger.Debug("event ignored", slog.String("path", path))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.pending[path]; ok {
		action = mergeAction(old, action)
	}

	c.pending[path] = action

	c.logger.Debug("event coalesced",
		slog.String("path", path),
		slog.String("action", action.String()),
	)

	c.signalNew()
}

// Len returns the number of distinct paths currently pending.
func (c *Coalescer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// Drain atomically empties the pending map into a batch of immutable work
// items sorted by path. Returns nil when nothing is pending.
func (c *Coalescer) Drain() []WorkItem {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return nil
	}

	batch := make([]WorkItem, 0, len(c.pending))
	for path, action := range c.pending {
		batch = append(batch, WorkItem{LocalPath: path, Action: action})
	}

	sort.Slice(batch, func(i, j int) bool {
		return batch[i].LocalPath < batch[j].LocalPath
	})

	c.pending = make(map[string]Action)

	c.logger.Info("pending changes flushed", slog.Int("paths", len(batch)))

	return batch
}

// Flushes returns a channel emitting one batch each time the debounce window
// elapses with no new events. The timer restarts on every Add, and arms
// immediately for work already pending when the loop starts. When ctx is
// canceled the remaining events are drained into a final batch and the
// channel is closed.
func (c *Coalescer) Flushes(ctx context.Context, debounce time.Duration) <-chan []WorkItem {
	out := make(chan []WorkItem, 1)

	c.mu.Lock()
	c.notify = make(chan struct{}, 1)

	// Work enqueued before the loop started (a startup scan) must still arm
	// the timer.
	if len(c.pending) > 0 {
		c.notify <- struct{}{}
	}
	c.mu.Unlock()

	go c.debounceLoop(ctx, debounce, out)

	return out
}

// debounceLoop waits for new-event signals, restarts the debounce timer, and
// flushes when the timer expires.
func (c *Coalescer) debounceLoop(ctx context.Context, debounce time.Duration, out chan<- []WorkItem) {
	defer close(out)

	timer := time.NewTimer(debounce)
	timer.Stop() // start idle — no events yet
	defer timer.Stop()

	timerActive := false

	for {
		select {
		case <-ctx.Done():
			// Final drain. The consumer reads until the channel closes, so
			// the send completes even when a timer-fired batch still occupies
			// the buffer.
			if batch := c.Drain(); batch != nil {
				out <- batch
			}

			return

		case <-c.notify:
			if !timer.Stop() && timerActive {
				<-timer.C
			}

			timer.Reset(debounce)
			timerActive = true

		case <-timer.C:
			timerActive = false

			// Same contract as the final drain: once Drain has emptied the
			// pending map the batch must reach the consumer.
			if batch := c.Drain(); batch != nil {
				out <- batch
			}
		}
	}
}

// signalNew nudges the debounce goroutine. Called with the mutex held; the
// notify channel is nil until Flushes is called, so direct Drain users pay
// no cost.
func (c *Coalescer) signalNew() {
	if c.notify == nil {
		return
	}

	select {
	case c.notify <- struct{}{}:
	default:
		// Already signaled — the debounce goroutine hasn't consumed yet.
	}
}
