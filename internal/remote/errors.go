package remote

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying adapter failures. Check with errors.Is; the
// dispatch engine never inspects error strings.
var (
	ErrAuth          = errors.New("remote: authentication failed")
	ErrNetwork       = errors.New("remote: network failure")
	ErrTransfer      = errors.New("remote: transfer failed")
	ErrNotFound      = errors.New("remote: not found")
	ErrAlreadyExists = errors.New("remote: already exists")
)

// OpError wraps a sentinel with the operation name, the remote path, and the
// backend's underlying error for log lines and debugging.
type OpError struct {
	Op   string // "upload", "delete", "mkdir", "rmdir", "connect", "list"
	Path string
	Kind error // sentinel, for errors.Is
	Err  error // backend error
}

func (e *OpError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("remote: %s %s: %v", e.Op, e.Path, e.Err)
	}

	return fmt.Sprintf("remote: %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Kind
}

// NewOpError builds an OpError. kind must be one of the package sentinels.
func NewOpError(op, path string, kind, err error) *OpError {
	return &OpError{Op: op, Path: path, Kind: kind, Err: err}
}
