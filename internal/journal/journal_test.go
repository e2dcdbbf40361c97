package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func TestAppendProducesContiguousChain(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, []byte("secret"), true, fixedClock{time.Unix(100, 0)})
	require.NoError(t, err)
	defer j.Close()

	r1, err := j.Append("session:a", "patch_apply", map[string]string{"file": "a.go"})
	require.NoError(t, err)
	require.Equal(t, uint64(0), r1.Sequence)

	r2, err := j.Append("session:a", "patch_apply", map[string]string{"file": "b.go"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), r2.Sequence)
	require.Equal(t, digest(r1), r2.PreviousDigest)

	brk, err := j.Verify(0, 0)
	require.NoError(t, err)
	require.Nil(t, brk)
}

func TestVerifyDetectsTamperedRecord(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, []byte("secret"), true, fixedClock{time.Unix(100, 0)})
	require.NoError(t, err)

	_, err = j.Append("session:a", "patch_apply", map[string]string{"file": "a.go"})
	require.NoError(t, err)
	_, err = j.Append("session:a", "patch_apply", map[string]string{"file": "b.go"})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	segPath := filepath.Join(dir, entries[0].Name())

	data, err := os.ReadFile(segPath)
	require.NoError(t, err)
	tampered := []byte(string(data)[:len(data)-1] + "X\n")
	// Only tamper the very last byte before trailing newline of the last
	// line if it's a quoted JSON string char; simplest robust tamper is
	// to corrupt the payload field of the raw bytes instead.
	tampered2 := []byte(replaceOnce(string(data), `"a.go"`, `"z.go"`))
	require.NoError(t, os.WriteFile(segPath, tampered2, 0o600))
	_ = tampered

	_, err = Open(dir, []byte("secret"), true, fixedClock{time.Unix(200, 0)})
	require.Error(t, err)
}

func replaceOnce(s, old, new string) string {
	idx := indexOf(s, old)
	if idx < 0 {
		return s
	}
	return s[:idx] + new + s[idx+len(old):]
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestOpenRebuildsStateAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, []byte("secret"), true, fixedClock{time.Unix(100, 0)})
	require.NoError(t, err)
	_, err = j.Append("session:a", "patch_apply", map[string]string{"file": "a.go"})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j2, err := Open(dir, []byte("secret"), true, fixedClock{time.Unix(200, 0)})
	require.NoError(t, err)
	defer j2.Close()

	r2, err := j2.Append("session:a", "patch_apply", map[string]string{"file": "b.go"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), r2.Sequence)
}

func TestTailReturnsLastN(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, []byte("secret"), true, fixedClock{time.Unix(100, 0)})
	require.NoError(t, err)
	defer j.Close()

	for i := 0; i < 5; i++ {
		_, err := j.Append("session:a", "event", map[string]int{"i": i})
		require.NoError(t, err)
	}

	tail, err := j.Tail(2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	require.Equal(t, uint64(4), tail[1].Sequence)
}
