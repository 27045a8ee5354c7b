package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/mirror-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Process exit codes. Strict-mode safety violations exit directly from the
// dispatcher callback with exitStrictViolation.
const (
	exitUsage           = 2
	exitStrictViolation = 3
	exitStartup         = 4
)

// errStartup marks failures before the watch loop started (transport connect,
// authentication). main maps it to exitStartup.
var errStartup = errors.New("startup failed")

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// newRootCmd builds the fully-assembled root command. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mirror-go",
		Short:   "Directory push-mirror daemon",
		Long: "mirror-go watches a local directory tree and pushes every change " +
			"to a remote backend (S3, SFTP, or a local directory), coalescing " +
			"bursts of events and resuming interrupted large uploads.",
		Version: version,
		// Cobra's default error/usage printing is handled in main.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "log in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newCheckCmd())

	return cmd
}

// buildLogger creates the process logger from the resolved config and flags.
// Format "auto" picks a colored tint handler when stderr is a terminal and
// plain text otherwise; --json forces the JSON handler for log shippers.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	// CLI flags override config.
	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	format := "auto"
	if cfg != nil {
		format = cfg.Logging.LogFormat
	}

	if flagJSON {
		format = "json"
	}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	case "text":
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, NoColor: true}))
	default:
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:   level,
			NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
		}))
	}
}

// resolveConfig applies the override chain for the current invocation.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	if cmd.Flags().Changed("source") {
		v, _ := cmd.Flags().GetString("source")
		cli.SourceRoot = &v
	}

	if cmd.Flags().Changed("strict") {
		v, _ := cmd.Flags().GetBool("strict")
		cli.Strict = &v
	}

	if cmd.Flags().Changed("workers") {
		v, _ := cmd.Flags().GetInt("workers")
		cli.Workers = &v
	}

	return config.Resolve(cli)
}
