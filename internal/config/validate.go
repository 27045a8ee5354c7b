package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tonimelisma/mirror-go/internal/remote"
)

// ErrInvalid wraps all validation failures so callers can map them to the
// usage exit code with errors.Is.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks the merged configuration. The backend kind is resolved
// against the compiled-in registry here, before any watch starts, so a typo
// in the backend name can never surface mid-run.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Source.Root == "" {
		errs = append(errs, fmt.Errorf("source.root is required"))
	}

	if cfg.Remote.Backend == "" {
		errs = append(errs, fmt.Errorf("remote.backend is required"))
	} else if !remote.ValidKind(remote.Kind(cfg.Remote.Backend)) {
		errs = append(errs, fmt.Errorf(
			"remote.backend %q is not a known backend (valid: %v)", cfg.Remote.Backend, remote.Kinds()))
	}

	if cfg.Transfers.Workers < 1 {
		errs = append(errs, fmt.Errorf("transfers.workers must be at least 1, got %d", cfg.Transfers.Workers))
	}

	if _, err := time.ParseDuration(cfg.Watch.Debounce); err != nil {
		errs = append(errs, fmt.Errorf("watch.debounce: %w", err))
	}

	for _, key := range []struct{ name, value string }{
		{"transfers.part_size", cfg.Transfers.PartSize},
		{"transfers.chunk_threshold", cfg.Transfers.ChunkThreshold},
		{"transfers.max_file_size", cfg.Transfers.MaxFileSize},
	} {
		if _, err := parseSize(key.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key.name, err))
		}
	}

	for _, pattern := range cfg.Watch.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			errs = append(errs, fmt.Errorf("watch.ignore: bad pattern %q", pattern))
		}
	}

	switch cfg.Logging.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf(
			"logging.log_level %q is not one of debug, info, warn, error", cfg.Logging.LogLevel))
	}

	switch cfg.Logging.LogFormat {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf(
			"logging.log_format %q is not one of auto, text, json", cfg.Logging.LogFormat))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	return nil
}

// Debounce returns the parsed coalescing window. Validate guarantees the
// string parses.
func (c *Config) Debounce() time.Duration {
	d, _ := time.ParseDuration(c.Watch.Debounce)
	return d
}

// PartSizeBytes returns the parsed chunked-upload part size in bytes.
func (c *Config) PartSizeBytes() int64 {
	n, _ := parseSize(c.Transfers.PartSize)
	return n
}

// ChunkThresholdBytes returns the file size above which uploads switch to
// the chunked protocol.
func (c *Config) ChunkThresholdBytes() int64 {
	n, _ := parseSize(c.Transfers.ChunkThreshold)
	return n
}

// MaxFileSizeBytes returns the skip threshold in bytes; 0 means unlimited.
func (c *Config) MaxFileSizeBytes() int64 {
	n, _ := parseSize(c.Transfers.MaxFileSize)
	return n
}

// StateDir returns the configured state directory or the platform default.
func (c *Config) StateDir() string {
	if c.Source.StateDir != "" {
		return c.Source.StateDir
	}

	return DefaultStateDir()
}

// RemoteOptions maps the remote section onto the adapter options.
func (c *Config) RemoteOptions() remote.Options {
	return remote.Options{
		Bucket:    c.Remote.Bucket,
		Region:    c.Remote.Region,
		Endpoint:  c.Remote.Endpoint,
		AccessKey: c.Remote.AccessKey,
		SecretKey: c.Remote.SecretKey,

		Host:     c.Remote.Host,
		Port:     c.Remote.Port,
		User:     c.Remote.User,
		Password: c.Remote.Password,
		KeyFile:  c.Remote.KeyFile,

		Dir: c.Remote.Dir,

		PartSize:       c.PartSizeBytes(),
		ChunkThreshold: c.ChunkThresholdBytes(),
		CheckpointDir:  c.StateDir(),
	}
}
