package patch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"devit/internal/sandbox"
)

func newTestEngine(t *testing.T) (*Engine, *MemFS) {
	t.Helper()
	sb, err := sandbox.New(t.TempDir())
	require.NoError(t, err)
	fs := NewMemFS()
	return NewEngine(fs, sb), fs
}

const addWorldDiff = `--- a/hello.txt
+++ b/hello.txt
@@ -1,1 +1,2 @@
 hello
+world
`

func TestApplyThenRollbackRestoresByteForByte(t *testing.T) {
	e, fs := newTestEngine(t)
	target := e.sandbox.Root() + "/hello.txt"
	fs.Seed(target, "hello\n")

	summary, payload, err := e.Apply(addWorldDiff, false)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Files)
	require.Equal(t, 1, summary.Added)
	require.Equal(t, 0, summary.Removed)

	content, ok := fs.Content(target)
	require.True(t, ok)
	require.Equal(t, "hello\nworld\n", content)

	require.NoError(t, e.Rollback(payload))
	content, ok = fs.Content(target)
	require.True(t, ok)
	require.Equal(t, "hello\n", content)
}

func TestApplyIsNotIdempotent(t *testing.T) {
	e, fs := newTestEngine(t)
	target := e.sandbox.Root() + "/hello.txt"
	fs.Seed(target, "hello\n")

	_, _, err := e.Apply(addWorldDiff, false)
	require.NoError(t, err)

	_, _, err = e.Apply(addWorldDiff, false)
	require.Error(t, err)

	content, _ := fs.Content(target)
	require.Equal(t, "hello\nworld\n", content, "workspace must be unchanged by the failed re-application")
}

func TestApplyDryRunDoesNotWrite(t *testing.T) {
	e, fs := newTestEngine(t)
	target := e.sandbox.Root() + "/hello.txt"
	fs.Seed(target, "hello\n")

	summary, payload, err := e.Apply(addWorldDiff, true)
	require.NoError(t, err)
	require.Nil(t, payload)
	require.Equal(t, 1, summary.Files)

	content, _ := fs.Content(target)
	require.Equal(t, "hello\n", content)
}

func TestApplyContextMismatchLeavesWorkspaceUnchanged(t *testing.T) {
	e, fs := newTestEngine(t)
	target := e.sandbox.Root() + "/hello.txt"
	fs.Seed(target, "goodbye\n")

	_, _, err := e.Apply(addWorldDiff, false)
	require.Error(t, err)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)

	content, _ := fs.Content(target)
	require.Equal(t, "goodbye\n", content)
}

func TestApplyCreatesNewFile(t *testing.T) {
	e, fs := newTestEngine(t)

	diff := `--- /dev/null
+++ b/new.txt
@@ -0,0 +1,2 @@
+line one
+line two
`
	summary, _, err := e.Apply(diff, false)
	require.NoError(t, err)
	require.Equal(t, ActionCreate, summary.PerFile[0].Action)

	content, ok := fs.Content(e.sandbox.Root() + "/new.txt")
	require.True(t, ok)
	require.Equal(t, "line one\nline two\n", content)
}

func TestApplyRejectsPathEscape(t *testing.T) {
	e, _ := newTestEngine(t)
	diff := `--- a/../outside.txt
+++ b/../outside.txt
@@ -1,1 +1,1 @@
-x
+y
`
	_, _, err := e.Apply(diff, true)
	require.Error(t, err)
}

func TestApplyRejectsOversizeDiff(t *testing.T) {
	big := make([]byte, MaxDiffBytes+1)
	for i := range big {
		big[i] = 'x'
	}
	_, err := Parse(string(big))
	require.Error(t, err)
}
