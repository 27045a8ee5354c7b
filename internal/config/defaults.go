package config

import (
	"os"
	"path/filepath"
)

// Default values for configuration options. Chosen so a config file naming
// only the source root and the backend works out of the box.
const (
	defaultDebounce       = "2s"
	defaultWorkers        = 2
	defaultPartSize       = "5MiB"
	defaultChunkThreshold = "5MiB"
	defaultMaxFileSize    = "0" // unlimited
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
)

// DefaultConfig returns a Config populated with all default values. Used as
// the starting point for TOML decoding so unset fields retain defaults, and
// as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Watch: WatchConfig{
			Debounce: defaultDebounce,
		},
		Transfers: TransfersConfig{
			Workers:        defaultWorkers,
			PartSize:       defaultPartSize,
			ChunkThreshold: defaultChunkThreshold,
			MaxFileSize:    defaultMaxFileSize,
		},
		Safety: SafetyConfig{
			DeleteRemote: true,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}

// DefaultConfigPath returns the platform config file location,
// $XDG_CONFIG_HOME/mirror-go/config.toml or the os.UserConfigDir equivalent.
func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}

	return filepath.Join(base, "mirror-go", "config.toml")
}

// DefaultStateDir returns where checkpoints and the PID file live when
// state_dir is not configured.
func DefaultStateDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".cache")
	}

	return filepath.Join(base, "mirror-go")
}
