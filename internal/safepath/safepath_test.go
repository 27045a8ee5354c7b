package safepath

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemotePath_Basic(t *testing.T) {
	t.Parallel()

	local := filepath.Join("/src", "a", "b.txt")

	got, err := RemotePath("/var/www/app", "/src", local)
	require.NoError(t, err)
	assert.Equal(t, "/var/www/app/a/b.txt", got)
}

func TestRemotePath_SourceRootItself(t *testing.T) {
	t.Parallel()

	got, err := RemotePath("/var/www/app", "/src", "/src")
	require.NoError(t, err)
	assert.Equal(t, "/var/www/app", got)
}

func TestRemotePath_TrailingSlashRoot(t *testing.T) {
	t.Parallel()

	got, err := RemotePath("/var/www/app/", "/src", filepath.Join("/src", "x"))
	require.NoError(t, err)
	assert.Equal(t, "/var/www/app/x", got)
}

func TestRemotePath_DotSegmentsCleaned(t *testing.T) {
	t.Parallel()

	got, err := RemotePath("/remote", "/src", "/src/a/./b/../c.txt")
	require.NoError(t, err)
	assert.Equal(t, "/remote/a/c.txt", got)
}

func TestWithinRoot(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		root      string
		candidate string
		want      bool
	}{
		{"root itself", "/var/www/app", "/var/www/app", true},
		{"direct child", "/var/www/app", "/var/www/app/index.html", true},
		{"nested descendant", "/var/www/app", "/var/www/app/a/b/c", true},
		{"sibling with shared prefix", "/var/www/app", "/var/www/app2/file", false},
		{"parent", "/var/www/app", "/var/www", false},
		{"climb via dotdot", "/var/www/app", "/var/www/app/../../etc/passwd", false},
		{"dotdot that stays inside", "/var/www/app", "/var/www/app/a/../b", true},
		{"dotdot to exactly root", "/var/www/app", "/var/www/app/a/..", true},
		{"trailing slash candidate", "/var/www/app", "/var/www/app/dir/", true},
		{"trailing slash root", "/var/www/app/", "/var/www/app/dir", true},
		{"backslash separators", "/var/www/app", "\\var\\www\\app\\file", true},
		{"backslash climb", "/var/www/app", "/var/www/app\\..\\..\\x", false},
		{"unrelated path", "/var/www/app", "/etc/passwd", false},
		{"slash root accepts anything rooted", "/", "/anything/at/all", true},
		{"slash root rejects relative", "/", "relative/path", false},
		{"empty candidate", "/var/www/app", "", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, WithinRoot(tt.root, tt.candidate))
		})
	}
}

// Every path produced by RemotePath from a file under the source base must
// satisfy WithinRoot, including hostile relative segments in the input.
func TestRemotePath_AlwaysWithinRoot(t *testing.T) {
	t.Parallel()

	locals := []string{
		"/src/plain.txt",
		"/src/deep/nested/dir/file.bin",
		"/src/a/./b.txt",
		"/src/a/../a/b.txt",
	}

	for _, local := range locals {
		got, err := RemotePath("/remote/root", "/src", local)
		require.NoError(t, err)
		assert.True(t, WithinRoot("/remote/root", got), "path %q escaped root", got)
	}
}

// A local path outside the watched base produces a remote path that climbs
// above the root; WithinRoot must catch it.
func TestRemotePath_EscapeCaughtByWithinRoot(t *testing.T) {
	t.Parallel()

	got, err := RemotePath("/remote/root", "/src", "/etc/passwd")
	require.NoError(t, err)
	assert.False(t, WithinRoot("/remote/root", got))
}
