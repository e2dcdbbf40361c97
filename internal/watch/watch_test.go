package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestWatcherFiresOnMatchingFile(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()
	w, err := New(zap.NewNop())
	require.NoError(t, err)
	go w.Run()
	defer w.Stop()

	fired := make(chan string, 1)
	require.NoError(t, w.Add("m1", &Match{
		Patterns: []string{"*.txt"},
		Root:     dir,
		OnFire:   func(path string) { fired <- path },
	}))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("watch callback did not fire")
	}
}

func TestMatchesAnyGlob(t *testing.T) {
	require.True(t, matchesAny("/a/b/c.go", []string{"*.go"}))
	require.False(t, matchesAny("/a/b/c.go", []string{"*.txt"}))
}
