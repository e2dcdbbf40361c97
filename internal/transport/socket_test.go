package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"devit/internal/envelope"
)

func TestSocketServerRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	auth := newTestAuth()
	d := NewDispatcher(auth)
	d.Register("status", func(ctx context.Context, sessionID string, params json.RawMessage) (any, error) {
		return map[string]bool{"ok": true}, nil
	})

	sockPath := filepath.Join(t.TempDir(), "devit.sock")
	srv, err := NewSocketServer(zap.NewNop(), d, sockPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	var conn net.Conn
	require.Eventually(t, func() bool {
		c, dialErr := net.Dial("unix", sockPath)
		if dialErr != nil {
			return false
		}
		conn = c
		return true
	}, 2*time.Second, 10*time.Millisecond)
	defer conn.Close()

	req, err := auth.Issue(envelope.TypeReq, "m1", RequestPayload{Method: "status"})
	require.NoError(t, err)
	require.NoError(t, writeFrame(conn, req))

	resp, err := readFrame(bufio.NewReader(conn))
	require.NoError(t, err)
	require.Equal(t, envelope.TypeResp, resp.Type)
}
