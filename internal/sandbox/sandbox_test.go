package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSandbox(t *testing.T) (*Sandbox, string) {
	t.Helper()
	root := t.TempDir()
	sb, err := New(root)
	require.NoError(t, err)
	return sb, sb.Root()
}

func TestResolveWithinRoot(t *testing.T) {
	sb, root := newTestSandbox(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "file.txt"), []byte("x"), 0o644))

	resolved, err := sb.Resolve("file.txt", true)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "file.txt"), resolved)
}

func TestResolveTraversalEscapes(t *testing.T) {
	sb, _ := newTestSandbox(t)
	_, err := sb.Resolve("../outside", false)
	require.Error(t, err)
}

func TestResolveAbsoluteOutsideRootEscapes(t *testing.T) {
	sb, _ := newTestSandbox(t)
	_, err := sb.Resolve("/etc/passwd", false)
	require.Error(t, err)
}

func TestResolveSymlinkEscapeIsRejected(t *testing.T) {
	sb, root := newTestSandbox(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "link.txt")))

	_, err := sb.Resolve("link.txt", true)
	require.Error(t, err)
}

func TestResolveRejectsNulByte(t *testing.T) {
	sb, _ := newTestSandbox(t)
	_, err := sb.Resolve("bad\x00name", false)
	require.Error(t, err)
}

func TestResolveRejectsWindowsReservedName(t *testing.T) {
	sb, _ := newTestSandbox(t)
	_, err := sb.Resolve("CON.txt", false)
	require.Error(t, err)
}

func TestResolveMissingFileWhenRequired(t *testing.T) {
	sb, _ := newTestSandbox(t)
	_, err := sb.Resolve("missing.txt", true)
	require.Error(t, err)
}

func TestResolveNewFileNotRequired(t *testing.T) {
	sb, root := newTestSandbox(t)
	resolved, err := sb.Resolve("newdir/new.txt", false)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "newdir", "new.txt"), resolved)
}
