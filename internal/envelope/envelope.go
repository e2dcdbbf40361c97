// Package envelope implements the authenticated message envelope that
// travels on every DevIt transport: framing type, nonce, timestamp,
// and a keyed authentication tag over the canonical payload.
package envelope

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"devit/internal/direrr"
)

// Type is the outer envelope kind.
type Type string

const (
	TypeRegister Type = "REGISTER"
	TypeReq      Type = "REQ"
	TypeResp     Type = "RESP"
	TypeNotify   Type = "NOTIFY"
	TypeAck      Type = "ACK"
	TypeErr      Type = "ERR"
	TypePing     Type = "PING"
	TypePong     Type = "PONG"
)

// Envelope is the outer authenticated record all wire payloads travel in.
type Envelope struct {
	Type      Type            `json:"type"`
	MessageID string          `json:"message_id"`
	Nonce     []byte          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Tag       []byte          `json:"tag"`
	Payload   json.RawMessage `json:"payload"`
}

// Clock abstracts wall-clock time so tests can inject a deterministic
// source.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Rand abstracts nonce generation.
type Rand interface {
	Nonce() []byte
}

// computeTag returns the HMAC-SHA256 under secret of the raw payload
// bytes (verbatim, not re-encoded), then the nonce, then the timestamp
// as a big-endian uint64. Sender and receiver must therefore use the
// same payload bytes.
func computeTag(secret []byte, payload []byte, nonce []byte, timestamp int64) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	mac.Write(nonce)
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(timestamp))
	mac.Write(tsBuf[:])
	return mac.Sum(nil)
}

// Sign computes and sets e.Tag over the current payload/nonce/timestamp.
func (e *Envelope) Sign(secret []byte) {
	e.Tag = computeTag(secret, e.Payload, e.Nonce, e.Timestamp)
}

// VerifyTag reports whether e.Tag matches the recomputed tag under secret.
func (e *Envelope) VerifyTag(secret []byte) bool {
	expected := computeTag(secret, e.Payload, e.Nonce, e.Timestamp)
	return hmac.Equal(expected, e.Tag)
}

// New builds an unsigned envelope with a fresh nonce and current timestamp.
func New(typ Type, messageID string, payload any, clock Clock, rnd Rand) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Envelope{
		Type:      typ,
		MessageID: messageID,
		Nonce:     rnd.Nonce(),
		Timestamp: clock.Now().Unix(),
		Payload:   raw,
	}, nil
}

// Decode unmarshals e.Payload into v.
func (e *Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return direrr.Wrap(direrr.Validation, direrr.CodeInvalidDiff, "malformed payload", err)
	}
	return nil
}
