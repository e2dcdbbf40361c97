package daemon

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"devit/internal/config"
	"devit/internal/envelope"
	"devit/internal/transport"
)

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.WorkspaceRoot = t.TempDir()
	cfg.JournalDir = t.TempDir() + "/journal"
	cfg.ScreenshotEnabled = false

	d, err := New(cfg, []byte("test-secret"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestRegisterCreatesSession(t *testing.T) {
	d := newTestDaemon(t)
	auth := envelope.NewAuthenticator([]byte("test-secret"), d.cfg.ReplayWindow, d.cfg.ReplayMargin, envelope.SystemClock{}, envelope.CryptoRand{})
	dispatcher := transport.NewDispatcher(auth)
	d.RegisterDispatcher(dispatcher)

	req, err := auth.Issue(envelope.TypeReq, "m1", transport.RequestPayload{
		Method: "register",
		Params: marshalJSON(t, map[string]any{"capabilities": []string{"delegate"}, "pid": 123}),
	})
	require.NoError(t, err)

	resp := dispatcher.Dispatch(context.Background(), "s1", req)
	require.Equal(t, envelope.TypeResp, resp.Type)

	_, ok := d.sessions["s1"]
	require.True(t, ok)
}

func TestCapabilitiesGetReportsSandboxRoot(t *testing.T) {
	d := newTestDaemon(t)
	result, err := d.handleCapabilitiesGet(context.Background(), "s1", nil)
	require.NoError(t, err)
	body := result.(map[string]any)
	require.Equal(t, d.sandbox.Root(), body["sandbox_root"])
}

func marshalJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
