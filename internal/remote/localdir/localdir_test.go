package localdir

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/mirror-go/internal/remote"
)

func newTestTransport(t *testing.T) (*Transport, string) {
	t.Helper()

	dir := t.TempDir()

	tr, err := remote.New(remote.KindLocalDir, remote.Options{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, tr.Connect(context.Background()))

	lt, ok := tr.(*Transport)
	require.True(t, ok)

	return lt, dir
}

func TestRegistry_ResolvesLocalDir(t *testing.T) {
	t.Parallel()

	assert.True(t, remote.ValidKind(remote.KindLocalDir))

	_, err := remote.New(remote.KindLocalDir, remote.Options{})
	assert.Error(t, err, "missing target directory must fail at construction")
}

func TestRegistry_UnknownKindFailsFast(t *testing.T) {
	t.Parallel()

	_, err := remote.New(remote.Kind("carrier-pigeon"), remote.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend kind")
}

func TestTransport_UploadFileRoundtrip(t *testing.T) {
	t.Parallel()

	tr, dir := newTestTransport(t)

	src := filepath.Join(t.TempDir(), "in.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o600))

	target := filepath.ToSlash(filepath.Join(dir, "sub", "out.txt"))
	require.NoError(t, tr.UploadFile(context.Background(), src, target))

	got, err := os.ReadFile(filepath.FromSlash(target))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestTransport_UploadBytes(t *testing.T) {
	t.Parallel()

	tr, dir := newTestTransport(t)

	target := filepath.ToSlash(filepath.Join(dir, "stream.bin"))
	payload := []byte("streamed bytes")

	require.NoError(t, tr.UploadBytes(context.Background(), bytes.NewReader(payload), int64(len(payload)), target))

	got, err := os.ReadFile(filepath.FromSlash(target))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestTransport_DeleteNotFound(t *testing.T) {
	t.Parallel()

	tr, dir := newTestTransport(t)

	err := tr.Delete(context.Background(), filepath.ToSlash(filepath.Join(dir, "missing.txt")))
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestTransport_DeleteExisting(t *testing.T) {
	t.Parallel()

	tr, dir := newTestTransport(t)

	target := filepath.Join(dir, "victim.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o600))

	require.NoError(t, tr.Delete(context.Background(), filepath.ToSlash(target)))
	assert.NoFileExists(t, target)
}

func TestTransport_MkdirAlreadyExists(t *testing.T) {
	t.Parallel()

	tr, dir := newTestTransport(t)
	target := filepath.ToSlash(filepath.Join(dir, "d"))

	require.NoError(t, tr.Mkdir(context.Background(), target, false))

	err := tr.Mkdir(context.Background(), target, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrAlreadyExists)

	// Recursive mkdir of an existing tree succeeds.
	assert.NoError(t, tr.Mkdir(context.Background(), target, true))
}

func TestTransport_RmdirNonEmptySwallowed(t *testing.T) {
	t.Parallel()

	tr, dir := newTestTransport(t)

	sub := filepath.Join(dir, "full")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "f"), []byte("x"), 0o600))

	assert.NoError(t, tr.Rmdir(context.Background(), filepath.ToSlash(sub), false))
	assert.DirExists(t, sub, "non-empty directory is left in place")
}

func TestTransport_List(t *testing.T) {
	t.Parallel()

	tr, dir := newTestTransport(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("aa"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0o600))

	entries := tr.List(context.Background(), filepath.ToSlash(dir))
	require.Len(t, entries, 2)

	assert.Empty(t, tr.List(context.Background(), filepath.ToSlash(filepath.Join(dir, "nope"))),
		"list returns an empty sequence on error")
}

func TestTransport_CloseIdempotent(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTransport(t)

	assert.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())
}
