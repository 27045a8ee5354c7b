// Package localdir implements the transport contract against a directory on
// the local filesystem. It is the simplest hierarchical backend: useful for
// mirroring to a mounted network share and as the reference implementation
// the contract tests run against.
package localdir

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tonimelisma/mirror-go/internal/remote"
)

func init() {
	remote.Register(remote.KindLocalDir, func(opts remote.Options) (remote.Transport, error) {
		if opts.Dir == "" {
			return nil, fmt.Errorf("localdir: target directory not configured")
		}

		return &Transport{dir: opts.Dir, logger: opts.Logger}, nil
	})
}

// Transport mirrors into a local directory tree. Remote paths are used as
// filesystem paths directly (slash form converted for the host OS).
type Transport struct {
	dir    string
	logger *slog.Logger
}

// Connect ensures the target directory exists and is writable.
func (t *Transport) Connect(_ context.Context) error {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return remote.NewOpError("connect", t.dir, remote.ErrAuth, err)
	}

	return nil
}

func (t *Transport) UploadFile(ctx context.Context, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return remote.NewOpError("upload", remotePath, remote.ErrTransfer, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return remote.NewOpError("upload", remotePath, remote.ErrTransfer, err)
	}

	return t.UploadBytes(ctx, src, info.Size(), remotePath)
}

func (t *Transport) UploadBytes(_ context.Context, r io.Reader, _ int64, remotePath string) error {
	target := filepath.FromSlash(remotePath)

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return remote.NewOpError("upload", remotePath, remote.ErrTransfer, err)
	}

	// Write-to-temp plus rename so readers never observe a half-written
	// file at the target path.
	tmp, err := os.CreateTemp(filepath.Dir(target), ".mirror-*")
	if err != nil {
		return remote.NewOpError("upload", remotePath, remote.ErrTransfer, err)
	}

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return remote.NewOpError("upload", remotePath, remote.ErrTransfer, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return remote.NewOpError("upload", remotePath, remote.ErrTransfer, err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return remote.NewOpError("upload", remotePath, remote.ErrTransfer, err)
	}

	return nil
}

func (t *Transport) Delete(_ context.Context, remotePath string) error {
	err := os.Remove(filepath.FromSlash(remotePath))
	if err == nil {
		return nil
	}

	if errors.Is(err, os.ErrNotExist) {
		return remote.NewOpError("delete", remotePath, remote.ErrNotFound, err)
	}

	return remote.NewOpError("delete", remotePath, remote.ErrTransfer, err)
}

func (t *Transport) Mkdir(_ context.Context, remotePath string, recursive bool) error {
	target := filepath.FromSlash(remotePath)

	var err error
	if recursive {
		err = os.MkdirAll(target, 0o755)
	} else {
		err = os.Mkdir(target, 0o755)
	}

	if err == nil {
		return nil
	}

	if errors.Is(err, os.ErrExist) {
		return remote.NewOpError("mkdir", remotePath, remote.ErrAlreadyExists, err)
	}

	return remote.NewOpError("mkdir", remotePath, remote.ErrTransfer, err)
}

func (t *Transport) Rmdir(_ context.Context, remotePath string, recursive bool) error {
	target := filepath.FromSlash(remotePath)

	if recursive {
		if err := os.RemoveAll(target); err != nil {
			return remote.NewOpError("rmdir", remotePath, remote.ErrTransfer, err)
		}

		return nil
	}

	// Non-empty and already-missing directories are swallowed: removal is
	// best-effort by contract.
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		if t.logger != nil {
			t.logger.Debug("rmdir swallowed", slog.String("path", remotePath), slog.String("error", err.Error()))
		}
	}

	return nil
}

func (t *Transport) List(_ context.Context, prefix string) []remote.Entry {
	entries, err := os.ReadDir(filepath.FromSlash(prefix))
	if err != nil {
		return nil
	}

	out := make([]remote.Entry, 0, len(entries))

	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}

		out = append(out, remote.Entry{Name: e.Name(), Size: info.Size()})
	}

	return out
}

// Close is a no-op: there is no session to tear down.
func (t *Transport) Close() error { return nil }

var _ remote.Transport = (*Transport)(nil)
