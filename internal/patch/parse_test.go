package patch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSimpleHunk(t *testing.T) {
	files, err := Parse(addWorldDiff)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "hello.txt", files[0].OldPath)
	require.Equal(t, "hello.txt", files[0].NewPath)
	require.Len(t, files[0].Hunks, 1)
	require.Equal(t, 1, files[0].Hunks[0].OldStart)
	require.Equal(t, 1, files[0].Hunks[0].OldCount)
}

func TestParseRejectsBinaryDiff(t *testing.T) {
	_, err := Parse("Binary files a/x.png and b/x.png differ\n")
	require.Error(t, err)
}

func TestParseRejectsContextDiff(t *testing.T) {
	contextDiff := "*** old.txt\n--- new.txt\n***************\n*** 1 ****\n! old\n--- 1 ----\n! new\n"
	_, err := Parse(contextDiff)
	require.Error(t, err)
}

func TestParseMultipleFiles(t *testing.T) {
	diff := `diff --git a/one.txt b/one.txt
--- a/one.txt
+++ b/one.txt
@@ -1,1 +1,1 @@
-a
+b
diff --git a/two.txt b/two.txt
--- a/two.txt
+++ b/two.txt
@@ -1,1 +1,1 @@
-c
+d
`
	files, err := Parse(diff)
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "one.txt", files[0].NewPath)
	require.Equal(t, "two.txt", files[1].NewPath)
}

func TestParseDeletedFile(t *testing.T) {
	diff := `--- a/gone.txt
+++ /dev/null
@@ -1,1 +0,0 @@
-content
`
	files, err := Parse(diff)
	require.NoError(t, err)
	require.True(t, files[0].IsDelete)
}

func TestParseRejectsEmptyInput(t *testing.T) {
	_, err := Parse("")
	require.Error(t, err)
}
