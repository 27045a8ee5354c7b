// Package remote defines the backend-agnostic transport contract that every
// storage adapter satisfies, the typed error taxonomy shared by all adapters,
// and the registry mapping backend kinds to constructors. The dispatch engine
// never branches on backend type; only adapters do.
package remote

import (
	"context"
	"io"
)

// Entry describes one remote object or directory entry returned by List.
type Entry struct {
	Name string
	Size int64
}

// Transport is the capability set any backend adapter must provide. All
// blocking operations take a context. Calls after Close have undefined
// behavior except Close itself, which is idempotent.
//
// Hierarchical backends (SFTP, local directories) and flat object stores
// (S3) are normalized behind this one interface: Mkdir and Rmdir are no-op
// successes for backends with no directory concept.
type Transport interface {
	// Connect establishes the backend session. Errors wrap ErrAuth for
	// credential failures and ErrNetwork for connectivity failures.
	Connect(ctx context.Context) error

	// UploadFile transfers a local file to remotePath. Adapters may switch
	// to the chunked resumable protocol for large files.
	UploadFile(ctx context.Context, localPath, remotePath string) error

	// UploadBytes transfers size bytes from r to remotePath. The reader is
	// a live stream, not a path on disk.
	UploadBytes(ctx context.Context, r io.Reader, size int64, remotePath string) error

	// Delete removes a remote file. Deleting a path that does not exist is
	// success, not an error.
	Delete(ctx context.Context, remotePath string) error

	// Mkdir creates a remote directory, with parents when recursive is set.
	// Flat object stores return nil without doing anything.
	Mkdir(ctx context.Context, remotePath string, recursive bool) error

	// Rmdir removes a remote directory. Best-effort: adapters swallow
	// non-empty-directory failures and report only transport-level errors.
	Rmdir(ctx context.Context, remotePath string, recursive bool) error

	// List returns the entries under a remote directory or key prefix.
	// Returns an empty slice on any error.
	List(ctx context.Context, prefix string) []Entry

	// Close tears down the session. Idempotent, never panics.
	Close() error
}

// MultipartBackend is the optional capability a Transport implements when the
// backend supports multipart upload semantics. The chunker package drives
// this interface; adapters only translate it to backend calls.
type MultipartBackend interface {
	// BeginMultipart starts a multipart session for key and returns the
	// backend's upload ID.
	BeginMultipart(ctx context.Context, key string) (string, error)

	// UploadPart sends one part (1-based index) and returns the backend's
	// opaque integrity tag for it.
	UploadPart(ctx context.Context, key, uploadID string, index int, r io.Reader, size int64) (string, error)

	// CompleteMultipart assembles the object from parts sorted by index.
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) error
}

// CompletedPart records one durably stored part of a multipart upload.
type CompletedPart struct {
	Index int
	ETag  string
}
