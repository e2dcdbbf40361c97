package envelope

import (
	"fmt"
	"time"

	"devit/internal/direrr"
)

// Authenticator verifies inbound envelopes and signs outbound ones
// under a single long-lived shared secret, held only in memory.
type Authenticator struct {
	secret []byte
	clock  Clock
	rand   Rand
	window time.Duration // W
	replay *ReplayCache
}

// NewAuthenticator builds an Authenticator. window is the timestamp
// skew tolerance ±W; margin extends the replay cache's retention past
// the acceptance window so a message can never be replayed once its
// window has closed.
func NewAuthenticator(secret []byte, window, margin time.Duration, clock Clock, rnd Rand) *Authenticator {
	return &Authenticator{
		secret: secret,
		clock:  clock,
		rand:   rnd,
		window: window,
		replay: NewReplayCache(window, margin),
	}
}

// Issue builds and signs a new outbound envelope.
func (a *Authenticator) Issue(typ Type, messageID string, payload any) (*Envelope, error) {
	env, err := New(typ, messageID, payload, a.clock, a.rand)
	if err != nil {
		return nil, err
	}
	env.Sign(a.secret)
	return env, nil
}

// Verify checks an inbound envelope's tag, timestamp skew, and replay
// status. It rejects a message whose tag does not verify, whose nonce
// was already seen within the replay window, or whose timestamp falls
// outside the configured skew window.
func (a *Authenticator) Verify(env *Envelope) error {
	if !env.VerifyTag(a.secret) {
		return direrr.New(direrr.Security, direrr.CodeAuthFailed, "authentication tag does not verify")
	}

	now := a.clock.Now()
	msgTime := time.Unix(env.Timestamp, 0)
	skew := now.Sub(msgTime)
	if skew < 0 {
		skew = -skew
	}
	if skew > a.window {
		return direrr.New(direrr.Security, direrr.CodeAuthFailed, fmt.Sprintf("timestamp skew %s exceeds window %s", skew, a.window))
	}

	if a.replay.CheckAndInsert(env.Nonce, now) {
		return direrr.New(direrr.Security, direrr.CodeReplay, "nonce already seen within replay window")
	}

	return nil
}
