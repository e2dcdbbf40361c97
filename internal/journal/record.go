// Package journal implements the tamper-evident, append-only event
// log: every record is hash-chained to its predecessor and carries a
// keyed authentication tag.
package journal

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
)

// Record is one journal entry.
type Record struct {
	Sequence       uint64          `json:"sequence"`
	Timestamp      int64           `json:"timestamp"`
	Actor          string          `json:"actor"`
	Kind           string          `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	PreviousDigest []byte          `json:"previous_digest"`
	Tag            []byte          `json:"tag"`
}

// genesisDigest is the constant previous-digest used by sequence 0.
var genesisDigest = sha256.Sum256([]byte("devit-journal-genesis"))

func tagInput(seq uint64, ts int64, kind string, payload, prevDigest []byte) []byte {
	var buf []byte
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	buf = append(buf, seqBuf[:]...)
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(ts))
	buf = append(buf, tsBuf[:]...)
	buf = append(buf, []byte(kind)...)
	buf = append(buf, payload...)
	buf = append(buf, prevDigest...)
	return buf
}

// tag computes the keyed authentication tag over
// {sequence, timestamp, event, previous-digest}.
func tag(secret []byte, seq uint64, ts int64, kind string, payload, prevDigest []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(tagInput(seq, ts, kind, payload, prevDigest))
	return mac.Sum(nil)
}

// digest computes the unkeyed chain digest of a complete record,
// linking it to the next record's PreviousDigest.
func digest(r Record) []byte {
	h := sha256.New()
	h.Write(tagInput(r.Sequence, r.Timestamp, r.Kind, r.Payload, r.PreviousDigest))
	h.Write(r.Tag)
	return h.Sum(nil)
}

func verifyTag(secret []byte, r Record) bool {
	expected := tag(secret, r.Sequence, r.Timestamp, r.Kind, r.Payload, r.PreviousDigest)
	return hmac.Equal(expected, r.Tag)
}
