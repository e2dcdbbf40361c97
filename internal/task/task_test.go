package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSelectModelPrecedence(t *testing.T) {
	m, err := SelectModel("gpt-5", []string{"gpt-5", "gpt-4"}, "gpt-4")
	require.NoError(t, err)
	require.Equal(t, "gpt-5", m)

	m, err = SelectModel("", []string{"gpt-5", "gpt-4"}, "gpt-4")
	require.NoError(t, err)
	require.Equal(t, "gpt-4", m)

	m, err = SelectModel("", []string{"gpt-5", "gpt-4"}, "")
	require.NoError(t, err)
	require.Equal(t, "gpt-5", m)
}

func TestSelectModelRejectsDisallowed(t *testing.T) {
	_, err := SelectModel("claude", []string{"gpt-5"}, "gpt-4")
	require.Error(t, err)
}

func TestRegistryTransitionsFollowStateMachine(t *testing.T) {
	r := NewRegistry()
	r.Create(&Task{ID: "t1"})

	require.NoError(t, r.Transition("t1", StateRunning))
	require.NoError(t, r.Complete("t1", StateSucceeded, "ok", ""))

	tk, ok := r.Get("t1")
	require.True(t, ok)
	require.Equal(t, StateSucceeded, tk.State)

	require.Error(t, r.Transition("t1", StateRunning), "terminal state must reject further transitions")
}

func TestRegistryRejectsIllegalTransition(t *testing.T) {
	r := NewRegistry()
	r.Create(&Task{ID: "t1"})
	require.Error(t, r.Transition("t1", StateSucceeded))
}

func TestRegistryExpireLeases(t *testing.T) {
	r := NewRegistry()
	r.Create(&Task{ID: "t1"})
	require.NoError(t, r.Transition("t1", StateRunning))

	r.mu.Lock()
	r.tasks["t1"].LeaseExpiresAt = time.Now().Add(-time.Second)
	r.mu.Unlock()

	expired := r.ExpireLeases(time.Now())
	require.Equal(t, []string{"t1"}, expired)

	tk, _ := r.Get("t1")
	require.Equal(t, StateTimedOut, tk.State)
}

func TestRegistryBySession(t *testing.T) {
	r := NewRegistry()
	r.Create(&Task{ID: "t1", SessionID: "s1"})
	r.Create(&Task{ID: "t2", SessionID: "s2"})
	require.Len(t, r.BySession("s1"), 1)
}
