package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// EnvConfigPath is the environment variable overriding the config file
// location, below the --config flag in precedence.
const EnvConfigPath = "MIRROR_CONFIG"

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal with "did you mean?" suggestions;
// a silently ignored typo in a mirroring config risks the wrong tree being
// pushed.
func Load(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validating %s: %w", path, err)
	}

	return cfg, nil
}

// decodeFile parses the file over the defaults without validating, so
// callers can apply overrides first.
func decodeFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Resolve applies the override chain (defaults -> file -> environment -> CLI
// flags) and validates the final result. A missing config file is not an
// error by itself; validation of the merged result decides whether enough
// was specified.
func Resolve(cli CLIOverrides) (*Config, error) {
	cfgPath := DefaultConfigPath()
	if env := os.Getenv(EnvConfigPath); env != "" {
		cfgPath = env
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	var (
		cfg *Config
		err error
	)

	if _, statErr := os.Stat(cfgPath); errors.Is(statErr, os.ErrNotExist) {
		// Only tolerable when the path was never specified explicitly.
		if cli.ConfigPath != "" {
			return nil, fmt.Errorf("config: file not found: %s", cfgPath)
		}

		cfg = DefaultConfig()
	} else {
		cfg, err = decodeFile(cfgPath)
		if err != nil {
			return nil, err
		}
	}

	if cli.SourceRoot != nil {
		cfg.Source.Root = *cli.SourceRoot
	}

	if cli.Strict != nil {
		cfg.Safety.Strict = *cli.Strict
	}

	if cli.Workers != nil {
		cfg.Transfers.Workers = *cli.Workers
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}
