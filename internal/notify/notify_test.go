package notify

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFireNoCommandIsNoOp(t *testing.T) {
	h := New(zap.NewNop(), "", t.TempDir(), time.Second)
	require.NoError(t, h.Fire(context.Background(), Event{TaskID: "t1", Status: StatusCompleted}))
}

func TestFireAcknowledgesViaMarkerFile(t *testing.T) {
	dir := t.TempDir()
	h := New(zap.NewNop(), `touch "$ack_marker"`, dir, 2*time.Second)
	err := h.Fire(context.Background(), Event{TaskID: "t1", Status: StatusCompleted, Summary: "done"})
	require.NoError(t, err)
}

func TestFireTimesOutWithoutAck(t *testing.T) {
	dir := t.TempDir()
	h := New(zap.NewNop(), "true", dir, 100*time.Millisecond)
	err := h.Fire(context.Background(), Event{TaskID: "t1", Status: StatusFailed})
	require.Error(t, err)
}

func TestAckDirIsCreated(t *testing.T) {
	dir := t.TempDir() + "/nested"
	h := New(zap.NewNop(), `touch "$ack_marker"`, dir, 2*time.Second)
	require.NoError(t, h.Fire(context.Background(), Event{TaskID: "t1", Status: StatusCompleted}))
	_, err := os.Stat(dir)
	require.NoError(t, err)
}
