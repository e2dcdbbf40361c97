package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewVerbose(t *testing.T) {
	log, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, log)
	defer log.Sync()
}

func TestNamedSubsystems(t *testing.T) {
	log, err := New(true)
	require.NoError(t, err)
	defer log.Sync()

	sub := Named(log, Journal)
	require.Equal(t, Journal, sub.Name())
}

func TestTimerStop(t *testing.T) {
	log, err := New(true)
	require.NoError(t, err)
	defer log.Sync()

	timer := StartTimer(log, "unit-test")
	time.Sleep(time.Millisecond)
	elapsed := timer.Stop()
	require.Greater(t, elapsed, time.Duration(0))
}
