// Package sftp implements the transport contract over an SSH connection using
// github.com/pkg/sftp. It is a hierarchical backend: directories are real and
// parents must exist before children are written.
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/tonimelisma/mirror-go/internal/remote"
)

const (
	defaultPort    = 22
	connectTimeout = 30 * time.Second
)

func init() {
	remote.Register(remote.KindSFTP, func(opts remote.Options) (remote.Transport, error) {
		if opts.Host == "" {
			return nil, fmt.Errorf("sftp: host not configured")
		}
		if opts.User == "" {
			return nil, fmt.Errorf("sftp: user not configured")
		}
		if opts.Password == "" && opts.KeyFile == "" {
			return nil, fmt.Errorf("sftp: neither password nor key file configured")
		}

		port := opts.Port
		if port == 0 {
			port = defaultPort
		}

		logger := opts.Logger
		if logger == nil {
			logger = slog.Default()
		}

		return &Transport{
			host:     opts.Host,
			port:     port,
			user:     opts.User,
			password: opts.Password,
			keyFile:  opts.KeyFile,
			logger:   logger,
		}, nil
	})
}

// Transport mirrors over SFTP. A single SSH connection with one SFTP
// subsystem channel serves all operations; pkg/sftp multiplexes concurrent
// requests over it.
type Transport struct {
	host     string
	port     int
	user     string
	password string
	keyFile  string
	logger   *slog.Logger

	sshClient  *ssh.Client
	sftpClient *sftp.Client
	closeOnce  sync.Once
}

// Connect dials the SSH server and opens the SFTP subsystem. Authentication
// failures classify as ErrAuth, dial failures as ErrNetwork.
func (t *Transport) Connect(_ context.Context) error {
	auth, err := t.authMethods()
	if err != nil {
		return remote.NewOpError("connect", t.host, remote.ErrAuth, err)
	}

	cfg := &ssh.ClientConfig{
		User: t.user,
		Auth: auth,
		// Host key pinning is handled at the deployment layer (known_hosts
		// is root-owned on the target hosts).
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
		Timeout:         connectTimeout,
	}

	addr := net.JoinHostPort(t.host, fmt.Sprintf("%d", t.port))

	sshClient, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		kind := remote.ErrNetwork
		if isAuthErr(err) {
			kind = remote.ErrAuth
		}

		return remote.NewOpError("connect", addr, kind, err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return remote.NewOpError("connect", addr, remote.ErrNetwork, err)
	}

	t.sshClient = sshClient
	t.sftpClient = sftpClient

	t.logger.Debug("sftp session established",
		slog.String("host", t.host),
		slog.Int("port", t.port),
		slog.String("user", t.user),
	)

	return nil
}

// authMethods builds the SSH auth chain: key file when configured, password
// as fallback.
func (t *Transport) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if t.keyFile != "" {
		key, err := os.ReadFile(t.keyFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: reading key file %s: %w", t.keyFile, err)
		}

		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("sftp: parsing key file %s: %w", t.keyFile, err)
		}

		methods = append(methods, ssh.PublicKeys(signer))
	}

	if t.password != "" {
		methods = append(methods, ssh.Password(t.password))
	}

	return methods, nil
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

// UploadBytes streams to a temp name next to the target, then renames, so an
// interrupted transfer never leaves a truncated file at the final path.
func (t *Transport) UploadBytes(_ context.Context, r io.Reader, _ int64, remotePath string) error {
	tmpPath := path.Join(path.Dir(remotePath), "."+path.Base(remotePath)+".partial")

	dst, err := t.sftpClient.Create(tmpPath)
	if err != nil {
		return remote.NewOpError("upload", remotePath, remote.ErrTransfer, err)
	}

	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		t.sftpClient.Remove(tmpPath)

		return remote.NewOpError("upload", remotePath, remote.ErrTransfer, err)
	}

	if err := dst.Close(); err != nil {
		t.sftpClient.Remove(tmpPath)
		return remote.NewOpError("upload", remotePath, remote.ErrTransfer, err)
	}

	// PosixRename overwrites an existing target atomically where the server
	// supports the extension; fall back to remove-then-rename otherwise.
	if err := t.sftpClient.PosixRename(tmpPath, remotePath); err != nil {
		t.sftpClient.Remove(remotePath)

		if err := t.sftpClient.Rename(tmpPath, remotePath); err != nil {
			t.sftpClient.Remove(tmpPath)
			return remote.NewOpError("upload", remotePath, remote.ErrTransfer, err)
		}
	}

	return nil
}

func (t *Transport) Delete(_ context.Context, remotePath string) error {
	err := t.sftpClient.Remove(remotePath)
	if err == nil {
		return nil
	}

	if errors.Is(err, os.ErrNotExist) {
		return remote.NewOpError("delete", remotePath, remote.ErrNotFound, err)
	}

	return remote.NewOpError("delete", remotePath, remote.ErrTransfer, err)
}

func (t *Transport) Mkdir(_ context.Context, remotePath string, recursive bool) error {
	var err error
	if recursive {
		err = t.sftpClient.MkdirAll(remotePath)
	} else {
		err = t.sftpClient.Mkdir(remotePath)
	}

	if err == nil {
		return nil
	}

	if errors.Is(err, os.ErrExist) {
		return remote.NewOpError("mkdir", remotePath, remote.ErrAlreadyExists, err)
	}

	// Servers differ in how they report an existing directory; a stat
	// settles it without parsing the message.
	if info, statErr := t.sftpClient.Stat(remotePath); statErr == nil && info.IsDir() {
		return remote.NewOpError("mkdir", remotePath, remote.ErrAlreadyExists, err)
	}

	return remote.NewOpError("mkdir", remotePath, remote.ErrTransfer, err)
}

func (t *Transport) Rmdir(_ context.Context, remotePath string, recursive bool) error {
	if recursive {
		if err := t.sftpClient.RemoveAll(remotePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return remote.NewOpError("rmdir", remotePath, remote.ErrTransfer, err)
		}

		return nil
	}

	// Best-effort by contract: a directory that is non-empty or already
	// gone is not an error.
	if err := t.sftpClient.RemoveDirectory(remotePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		t.logger.Debug("rmdir swallowed",
			slog.String("path", remotePath),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

func (t *Transport) List(_ context.Context, prefix string) []remote.Entry {
	infos, err := t.sftpClient.ReadDir(prefix)
	if err != nil {
		return nil
	}

	out := make([]remote.Entry, 0, len(infos))
	for _, info := range infos {
		out = append(out, remote.Entry{Name: info.Name(), Size: info.Size()})
	}

	return out
}

// Close tears down the SFTP channel and the SSH connection. Safe to call
// multiple times and before Connect.
func (t *Transport) Close() error {
	var err error

	t.closeOnce.Do(func() {
		if t.sftpClient != nil {
			err = t.sftpClient.Close()
		}

		if t.sshClient != nil {
			if cerr := t.sshClient.Close(); err == nil {
				err = cerr
			}
		}
	})

	return err
}

// isAuthErr reports whether an SSH dial failure was an authentication
// rejection rather than a connectivity problem. x/crypto/ssh does not export
// a client-side auth error type, so this is the one place a message check is
// unavoidable.
func isAuthErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

var _ remote.Transport = (*Transport)(nil)
