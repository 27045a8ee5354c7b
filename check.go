package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/mirror-go/internal/chunker"
	"github.com/tonimelisma/mirror-go/internal/config"
	"github.com/tonimelisma/mirror-go/internal/remote"
)

// newCheckCmd builds the preflight command: it validates the configuration,
// connects to the backend, lists the remote root, and reports checkpoints of
// interrupted uploads waiting to be resumed.
func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and verify the remote is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			return runCheck(cmd, cfg)
		},
	}

	cmd.Flags().String("source", "", "source directory to watch (overrides config)")
	cmd.Flags().Bool("strict", false, "treat delete-side path-safety violations as fatal")
	cmd.Flags().Int("workers", 0, "concurrent remote operations (overrides config)")

	return cmd
}

func runCheck(cmd *cobra.Command, cfg *config.Config) error {
	logger := buildLogger(cfg)
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "config:    OK (backend %s)\n", cfg.Remote.Backend)

	opts := cfg.RemoteOptions()
	opts.Logger = logger

	transport, err := remote.New(remote.Kind(cfg.Remote.Backend), opts)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	defer transport.Close()

	if err := transport.Connect(cmd.Context()); err != nil {
		return fmt.Errorf("%w: connecting to %s backend: %w", errStartup, cfg.Remote.Backend, err)
	}

	fmt.Fprintf(out, "connect:   OK\n")

	entries := transport.List(cmd.Context(), cfg.Remote.Root)

	var total int64
	for _, e := range entries {
		total += e.Size
	}

	fmt.Fprintf(out, "remote:    %d entries under %s (%s)\n",
		len(entries), cfg.Remote.Root, fmtBytes(total))

	store := chunker.NewStore(cfg.StateDir(), logger)

	if pending := store.List(); len(pending) > 0 {
		fmt.Fprintf(out, "resumable: %d interrupted upload(s) will resume on next run\n", len(pending))

		logger.Debug("pending upload checkpoints", slog.Int("count", len(pending)))
	} else {
		fmt.Fprintf(out, "resumable: none pending\n")
	}

	return nil
}
