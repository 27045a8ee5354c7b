package remote

import (
	"fmt"
	"log/slog"
)

// Kind identifies a backend adapter. The set is closed: adapters are compiled
// in and resolved at config-validation time, never lazily.
type Kind string

const (
	KindS3       Kind = "s3"
	KindSFTP     Kind = "sftp"
	KindLocalDir Kind = "localdir"
)

// Options carries backend-specific settings from configuration to the adapter
// constructors. Only the fields for the selected kind are consulted.
type Options struct {
	// S3.
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string

	// SFTP.
	Host     string
	Port     int
	User     string
	Password string
	KeyFile  string

	// Local directory backend.
	Dir string

	// Chunked upload tuning, consumed by adapters that support multipart.
	PartSize       int64
	ChunkThreshold int64
	CheckpointDir  string

	Logger *slog.Logger
}

// Factory constructs an unconnected Transport from options.
type Factory func(Options) (Transport, error)

// factories is populated by each adapter package via Register at init time.
var factories = make(map[Kind]Factory)

// Register installs a factory for a backend kind. Called from adapter
// package init functions; duplicate registration panics because it is a
// programming error, not a runtime condition.
func Register(kind Kind, f Factory) {
	if _, dup := factories[kind]; dup {
		panic(fmt.Sprintf("remote: duplicate factory for kind %q", kind))
	}

	factories[kind] = f
}

// ValidKind reports whether kind names a registered backend.
func ValidKind(kind Kind) bool {
	_, ok := factories[kind]
	return ok
}

// New resolves a backend kind to its adapter. Unknown kinds fail fast with
// the list of valid ones so a config typo is caught before any watch starts.
func New(kind Kind, opts Options) (Transport, error) {
	f, ok := factories[kind]
	if !ok {
		return nil, fmt.Errorf("remote: unknown backend kind %q (valid: %v)", kind, Kinds())
	}

	return f(opts)
}

// Kinds returns the registered backend kinds in deterministic order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(factories))
	for _, k := range []Kind{KindS3, KindSFTP, KindLocalDir} {
		if _, ok := factories[k]; ok {
			out = append(out, k)
		}
	}

	return out
}
