package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/mirror-go/internal/config"
	"github.com/tonimelisma/mirror-go/internal/engine"
	"github.com/tonimelisma/mirror-go/internal/remote"
	"github.com/tonimelisma/mirror-go/internal/watch"
)

// eventBuffer absorbs short bursts between the watcher and the coalescer so
// the watcher goroutine rarely blocks on delivery.
const eventBuffer = 256

func newRunCmd() *cobra.Command {
	var flagFullScan bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch the source tree and mirror changes to the remote",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			return runDaemon(cmd.Context(), cfg, flagFullScan)
		},
	}

	cmd.Flags().String("source", "", "source directory to watch (overrides config)")
	cmd.Flags().Bool("strict", false, "treat delete-side path-safety violations as fatal")
	cmd.Flags().Int("workers", 0, "concurrent remote operations (overrides config)")
	cmd.Flags().BoolVar(&flagFullScan, "full-scan", false, "enqueue the whole tree at startup")

	return cmd
}

func runDaemon(parent context.Context, cfg *config.Config, fullScan bool) error {
	logger := buildLogger(cfg)
	start := time.Now()

	sourceRoot, err := filepath.Abs(cfg.Source.Root)
	if err != nil {
		return fmt.Errorf("resolving source root: %w", err)
	}

	if info, err := os.Stat(sourceRoot); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: source root %s is not a directory", config.ErrInvalid, sourceRoot)
	}

	cleanup, err := writePIDFile(filepath.Join(cfg.StateDir(), "mirror-go.pid"))
	if err != nil {
		return err
	}
	defer cleanup()

	opts := cfg.RemoteOptions()
	opts.Logger = logger

	transport, err := remote.New(remote.Kind(cfg.Remote.Backend), opts)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}

	matcher, err := watch.NewMatcher(sourceRoot, cfg.Watch.Ignore)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}

	stats := &engine.Stats{}
	coalescer := engine.NewCoalescer(matcher.Ignored, logger)
	dispatcher := engine.NewDispatcher(engine.DispatcherConfig{
		Workers:      cfg.Transfers.Workers,
		SourceRoot:   sourceRoot,
		RemoteRoot:   cfg.Remote.Root,
		MaxFileSize:  cfg.MaxFileSizeBytes(),
		DeleteRemote: cfg.Safety.DeleteRemote,
		Strict:       cfg.Safety.Strict,
		OnStrictViolation: func(remotePath string) {
			logger.Error("strict mode: destructive operation outside remote root, terminating",
				slog.String("remote", remotePath),
			)
			os.Exit(exitStrictViolation)
		},
	}, transport, stats, logger)

	eng := engine.New(coalescer, dispatcher, stats, cfg.Debounce(), logger)

	ctx := shutdownContext(parent, logger)

	// Fail fast on unreachable or misconfigured backends before any watch
	// starts; the same shared connection serves the whole run.
	if err := dispatcher.EnsureConnected(ctx); err != nil {
		return fmt.Errorf("%w: connecting to %s backend: %w", errStartup, cfg.Remote.Backend, err)
	}

	watcher, err := watch.New(sourceRoot, matcher, logger)
	if err != nil {
		return err
	}

	logger.Info("mirroring started",
		slog.String("source", sourceRoot),
		slog.String("backend", cfg.Remote.Backend),
		slog.String("remote_root", cfg.Remote.Root),
		slog.Duration("debounce", cfg.Debounce()),
		slog.Int("workers", cfg.Transfers.Workers),
		slog.Bool("strict", cfg.Safety.Strict),
	)

	if fullScan {
		if err := eng.FullScan(ctx, sourceRoot); err != nil {
			return err
		}
	}

	events := make(chan watch.Event, eventBuffer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watcher.Run(gctx, events) })
	g.Go(func() error { return eng.Run(gctx, events) })

	runErr := g.Wait()

	logSummary(logger, eng.Stats(), time.Since(start))

	return runErr
}

// logSummary emits the shutdown statistics line.
func logSummary(logger *slog.Logger, s engine.StatsSnapshot, elapsed time.Duration) {
	logger.Info("mirroring stopped",
		slog.String("uptime", elapsed.Round(time.Second).String()),
		slog.Int64("uploaded", s.Uploaded),
		slog.Int64("deleted", s.Deleted),
		slog.Int64("dirs_created", s.DirsCreated),
		slog.Int64("dirs_removed", s.DirsRemoved),
		slog.Int64("errors", s.Errors),
		slog.Int64("skipped_large", s.SkippedLarge),
		slog.Int64("safety_violations", s.SafetyViolations),
	)
}

// fmtBytes is a shorthand used by the check command's report.
func fmtBytes(n int64) string {
	return humanize.IBytes(uint64(n))
}
