package trust

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAuthorized(t *testing.T) {
	s := NewMemoryStore()
	dir := t.TempDir()
	_, err := s.AddFolder(dir)
	require.NoError(t, err)

	auth := NewAuthorizer(s)

	assert.True(t, auth.IsAuthorized(dir))
	assert.True(t, auth.IsAuthorized(filepath.Join(dir, "new-file.txt")),
		"files that do not exist yet inside the folder are authorized")
	assert.True(t, auth.IsAuthorized(filepath.Join(dir, "a", "b", "c.txt")))
	assert.False(t, auth.IsAuthorized(t.TempDir()))
	assert.False(t, auth.IsAuthorized("/etc/passwd"))
	assert.False(t, auth.IsAuthorized(""))
}

func TestIsAuthorizedResolvesSymlinkEscape(t *testing.T) {
	authorized := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(authorized, "escape")
	require.NoError(t, os.Symlink(outside, link))

	s := NewMemoryStore()
	_, err := s.AddFolder(authorized)
	require.NoError(t, err)

	auth := NewAuthorizer(s)
	assert.False(t, auth.IsAuthorized(filepath.Join(link, "secret.txt")),
		"a symlink pointing outside the authorized folder must not pass")
}

func TestResolveNewFileUnderSymlinkedParent(t *testing.T) {
	real := t.TempDir()
	linkParent := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink(real, linkParent))

	auth := NewAuthorizer(NewMemoryStore())
	resolved, err := auth.Resolve(filepath.Join(linkParent, "new.txt"))
	require.NoError(t, err)

	// EvalSymlinks may itself resolve the temp dir, so compare against
	// the resolved real parent rather than the raw string.
	realResolved, err := filepath.EvalSymlinks(real)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(realResolved, "new.txt"), resolved)
}
