// Package config implements TOML configuration loading and validation for
// mirror-go. The override chain is defaults -> config file -> environment ->
// CLI flags; the file is strict, so an unknown key is a fatal error with a
// "did you mean?" suggestion rather than silently ignored.
package config

// Config is the top-level structure parsed from a TOML file.
type Config struct {
	Source    SourceConfig    `toml:"source"`
	Remote    RemoteConfig    `toml:"remote"`
	Watch     WatchConfig     `toml:"watch"`
	Transfers TransfersConfig `toml:"transfers"`
	Safety    SafetyConfig    `toml:"safety"`
	Logging   LoggingConfig   `toml:"logging"`
}

// SourceConfig identifies the local directory tree being mirrored.
type SourceConfig struct {
	Root     string `toml:"root"`
	StateDir string `toml:"state_dir"`
}

// RemoteConfig selects and parameterizes the backend. Only the fields for
// the chosen backend are consulted; the rest stay empty.
type RemoteConfig struct {
	Backend string `toml:"backend"`
	Root    string `toml:"root"`

	// S3 backend.
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`

	// SFTP backend.
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	KeyFile  string `toml:"key_file"`

	// Local directory backend.
	Dir string `toml:"dir"`
}

// WatchConfig controls event coalescing and which paths are ignored.
type WatchConfig struct {
	Debounce string   `toml:"debounce"`
	Ignore   []string `toml:"ignore"`
}

// TransfersConfig controls parallelism and the chunked upload protocol.
type TransfersConfig struct {
	Workers        int    `toml:"workers"`
	PartSize       string `toml:"part_size"`
	ChunkThreshold string `toml:"chunk_threshold"`
	MaxFileSize    string `toml:"max_file_size"`
}

// SafetyConfig controls destructive-operation behavior. delete_remote gates
// remote deletion entirely; strict turns delete-side path-safety violations
// into fatal errors instead of skips.
type SafetyConfig struct {
	DeleteRemote bool `toml:"delete_remote"`
	Strict       bool `toml:"strict"`
}

// LoggingConfig controls log output: level and format. Format "auto" picks
// colored text on a terminal and plain text otherwise; "json" is for log
// shippers.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds flag values that override file and environment settings.
// Pointer fields distinguish "not specified" (nil) from "explicitly set to
// the zero value".
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
	SourceRoot *string
	Strict     *bool
	Workers    *int
}
