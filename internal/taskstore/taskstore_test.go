package taskstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"devit/internal/task"
)

func TestSaveAndLoadAllRoundTrips(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	defer s.Close()

	want := task.Task{
		ID:             "t1",
		SessionID:      "s1",
		WorkerID:       "claude-cli",
		Prompt:         "fix the bug",
		ResolvedModel:  "sonnet",
		WatchPatterns:  []string{"**/*.go"},
		State:          task.StateRunning,
		CreatedAt:      time.Now().Truncate(time.Second),
		LeaseExpiresAt: time.Now().Add(time.Minute).Truncate(time.Second),
	}
	require.NoError(t, s.Save(want))

	got, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, want.ID, got[0].ID)
	require.Equal(t, want.State, got[0].State)
	require.Equal(t, want.WatchPatterns, got[0].WatchPatterns)
}

func TestSaveUpsertsExistingRow(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	defer s.Close()

	tk := task.Task{ID: "t1", SessionID: "s1", WorkerID: "w", Prompt: "p", State: task.StatePending, CreatedAt: time.Now()}
	require.NoError(t, s.Save(tk))

	tk.State = task.StateSucceeded
	tk.Result = "ok"
	require.NoError(t, s.Save(tk))

	got, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, task.StateSucceeded, got[0].State)
	require.Equal(t, "ok", got[0].Result)
}

func TestPruneRemovesOldTerminalTasks(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(task.Task{ID: "old", State: task.StateFailed, CreatedAt: time.Now()}))
	require.NoError(t, s.Save(task.Task{ID: "running", State: task.StateRunning, CreatedAt: time.Now()}))

	n, err := s.Prune(time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "running", got[0].ID)
}
