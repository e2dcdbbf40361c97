package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

type fakeRand struct{ seq byte }

func (f *fakeRand) Nonce() []byte {
	f.seq++
	b := make([]byte, 16)
	b[0] = f.seq
	return b
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	secret := []byte("shared-secret")
	clock := &fakeClock{t: time.Unix(1000, 0)}
	rnd := &fakeRand{}

	auth := NewAuthenticator(secret, 30*time.Second, 5*time.Second, clock, rnd)
	env, err := auth.Issue(TypeReq, "m1", map[string]string{"method": "status"})
	require.NoError(t, err)

	require.NoError(t, auth.Verify(env))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	secret := []byte("shared-secret")
	clock := &fakeClock{t: time.Unix(1000, 0)}
	rnd := &fakeRand{}
	auth := NewAuthenticator(secret, 30*time.Second, 5*time.Second, clock, rnd)

	env, err := auth.Issue(TypeReq, "m1", map[string]string{"method": "status"})
	require.NoError(t, err)

	env.Payload = []byte(`{"method":"patch_apply"}`)
	require.Error(t, auth.Verify(env))
}

func TestVerifyRejectsOutsideSkewWindow(t *testing.T) {
	secret := []byte("shared-secret")
	clock := &fakeClock{t: time.Unix(1000, 0)}
	rnd := &fakeRand{}
	auth := NewAuthenticator(secret, 5*time.Second, time.Second, clock, rnd)

	env, err := auth.Issue(TypeReq, "m1", map[string]string{"method": "status"})
	require.NoError(t, err)

	clock.t = time.Unix(1100, 0)
	require.Error(t, auth.Verify(env))
}

func TestVerifyRejectsReplay(t *testing.T) {
	secret := []byte("shared-secret")
	clock := &fakeClock{t: time.Unix(1000, 0)}
	rnd := &fakeRand{}
	auth := NewAuthenticator(secret, 30*time.Second, 5*time.Second, clock, rnd)

	env, err := auth.Issue(TypeReq, "m1", map[string]string{"method": "status"})
	require.NoError(t, err)

	require.NoError(t, auth.Verify(env))
	require.Error(t, auth.Verify(env))
}

func TestReplayCacheEvictsAfterWindow(t *testing.T) {
	cache := NewReplayCache(10*time.Second, time.Second)
	nonce := []byte("0123456789abcdef")
	base := time.Unix(0, 0)

	require.False(t, cache.CheckAndInsert(nonce, base))
	require.True(t, cache.CheckAndInsert(nonce, base.Add(time.Second)))

	// past window+margin, should be evicted and treated as fresh
	require.False(t, cache.CheckAndInsert(nonce, base.Add(20*time.Second)))
}
