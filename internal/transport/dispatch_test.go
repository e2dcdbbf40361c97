package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"devit/internal/envelope"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fixedRand struct{ n byte }

func (r *fixedRand) Nonce() []byte {
	r.n++
	return []byte{r.n, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
}

func newTestAuth() *envelope.Authenticator {
	clock := fixedClock{t: time.Unix(1000, 0)}
	return envelope.NewAuthenticator([]byte("secret"), 30*time.Second, 5*time.Second, clock, &fixedRand{})
}

func TestDispatchRoutesToRegisteredMethod(t *testing.T) {
	auth := newTestAuth()
	d := NewDispatcher(auth)
	d.Register("status", func(ctx context.Context, sessionID string, params json.RawMessage) (any, error) {
		return map[string]string{"ok": "yes"}, nil
	})

	env, err := auth.Issue(envelope.TypeReq, "m1", RequestPayload{Method: "status"})
	require.NoError(t, err)

	resp := d.Dispatch(context.Background(), "session1", env)
	require.Equal(t, envelope.TypeResp, resp.Type)

	var body Response
	require.NoError(t, resp.Decode(&body))
	require.True(t, body.OK)
}

func TestDispatchUnknownMethodReturnsErr(t *testing.T) {
	auth := newTestAuth()
	d := NewDispatcher(auth)

	env, err := auth.Issue(envelope.TypeReq, "m1", RequestPayload{Method: "bogus"})
	require.NoError(t, err)

	resp := d.Dispatch(context.Background(), "session1", env)
	require.Equal(t, envelope.TypeErr, resp.Type)

	var body Response
	require.NoError(t, resp.Decode(&body))
	require.False(t, body.OK)
	require.Equal(t, "worker_unknown", body.Error.Code)
}

func TestDispatchRejectsBadTag(t *testing.T) {
	auth := newTestAuth()
	d := NewDispatcher(auth)
	d.Register("status", func(ctx context.Context, sessionID string, params json.RawMessage) (any, error) {
		return nil, nil
	})

	env, err := auth.Issue(envelope.TypeReq, "m1", RequestPayload{Method: "status"})
	require.NoError(t, err)
	env.Tag[0] ^= 0xFF

	resp := d.Dispatch(context.Background(), "session1", env)
	require.Equal(t, envelope.TypeErr, resp.Type)
}
