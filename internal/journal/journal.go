package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"devit/internal/direrr"
)

// Clock abstracts wall-clock time for journal timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

const segmentMaxRecords = 10000

// Journal is a durable, hash-chained, append-only event log split into
// rotating segment files under dir.
type Journal struct {
	mu         sync.Mutex
	dir        string
	secret     []byte
	clock      Clock
	strict     bool
	segFile    *os.File
	segWriter  *bufio.Writer
	segRecords int
	nextSeq    uint64
	lastDigest []byte
}

// Break describes the first detected chain violation.
type Break struct {
	Sequence uint64
	Reason   string
}

func (b *Break) Error() string {
	return fmt.Sprintf("journal integrity break at sequence %d: %s", b.Sequence, b.Reason)
}

// Open scans dir for existing segments, verifies the chain, and
// prepares the journal for further appends. With strict, a broken chain
// makes Open return the *Break; without it the break is ignored (no
// warning is emitted) and appends continue from the last record read.
func Open(dir string, secret []byte, strict bool, clock Clock) (*Journal, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	j := &Journal{
		dir:        dir,
		secret:     secret,
		clock:      clock,
		strict:     strict,
		lastDigest: genesisDigest[:],
	}

	records, err := readAllSegments(dir)
	if err != nil {
		return nil, err
	}

	if brk := verifyChain(secret, genesisDigest[:], records); brk != nil {
		if strict {
			return nil, brk
		}
	}

	if len(records) > 0 {
		last := records[len(records)-1]
		j.nextSeq = last.Sequence + 1
		j.lastDigest = digest(last)
	}

	if err := j.openNewSegment(); err != nil {
		return nil, err
	}
	return j, nil
}

func segmentPath(dir string, firstSeq uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.journal", firstSeq))
}

func (j *Journal) openNewSegment() error {
	path := segmentPath(j.dir, j.nextSeq)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open journal segment: %w", err)
	}
	j.segFile = f
	j.segWriter = bufio.NewWriter(f)
	j.segRecords = 0
	return nil
}

// Append writes event atomically and synchronously: on return the
// record is on stable storage and its sequence number is final.
func (j *Journal) Append(actor, kind string, event any) (Record, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Record{}, fmt.Errorf("marshal journal event: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.segRecords >= segmentMaxRecords {
		if err := j.rotateLocked(); err != nil {
			return Record{}, err
		}
	}

	seq := j.nextSeq
	ts := j.clock.Now().Unix()
	r := Record{
		Sequence:       seq,
		Timestamp:      ts,
		Actor:          actor,
		Kind:           kind,
		Payload:        payload,
		PreviousDigest: j.lastDigest,
		Tag:            tag(j.secret, seq, ts, kind, payload, j.lastDigest),
	}

	line, err := json.Marshal(r)
	if err != nil {
		return Record{}, fmt.Errorf("marshal journal record: %w", err)
	}

	if _, err := j.segWriter.Write(append(line, '\n')); err != nil {
		return Record{}, direrr.Wrap(direrr.System, direrr.CodeInternal, "journal write failed", err)
	}
	if err := j.syncLocked(); err != nil {
		// A transient fsync failure gets one retry before the append
		// is reported as failed.
		if err2 := j.syncLocked(); err2 != nil {
			return Record{}, direrr.Wrap(direrr.System, direrr.CodeInternal, "journal fsync failed", err2)
		}
	}

	j.nextSeq++
	j.lastDigest = digest(r)
	j.segRecords++
	return r, nil
}

func (j *Journal) syncLocked() error {
	if err := j.segWriter.Flush(); err != nil {
		return err
	}
	if err := j.segFile.Sync(); err != nil {
		return err
	}
	dirF, err := os.Open(j.dir)
	if err != nil {
		return err
	}
	defer dirF.Close()
	return dirF.Sync()
}

func (j *Journal) rotateLocked() error {
	if err := j.syncLocked(); err != nil {
		return err
	}
	if err := j.segFile.Close(); err != nil {
		return err
	}
	return j.openNewSegment()
}

// Verify recomputes the chain over [from, to) and returns the first
// break, if any.
func (j *Journal) Verify(from, to uint64) (*Break, error) {
	records, err := readAllSegments(j.dir)
	if err != nil {
		return nil, err
	}
	var slice []Record
	prev := genesisDigest[:]
	for _, r := range records {
		if r.Sequence < from {
			prev = digest(r)
		}
		if r.Sequence >= from && (to == 0 || r.Sequence < to) {
			slice = append(slice, r)
		}
	}
	return verifyChain(j.secret, prev, slice), nil
}

// Tail returns the last n records, for debugging.
func (j *Journal) Tail(n int) ([]Record, error) {
	records, err := readAllSegments(j.dir)
	if err != nil {
		return nil, err
	}
	if n >= len(records) {
		return records, nil
	}
	return records[len(records)-n:], nil
}

// Close flushes and closes the active segment.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.syncLocked(); err != nil {
		return err
	}
	return j.segFile.Close()
}

func readAllSegments(dir string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read journal dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".journal" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	var records []Record
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read segment %s: %w", p, err)
		}
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}
			var r Record
			if err := json.Unmarshal(line, &r); err != nil {
				return nil, fmt.Errorf("decode record in %s: %w", p, err)
			}
			records = append(records, r)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("scan segment %s: %w", p, err)
		}
	}
	return records, nil
}

// verifyChain checks sequence contiguity, previous-digest linkage, and
// tag validity across records, returning the first violation. prev is
// the digest the first record must link to.
func verifyChain(secret, prev []byte, records []Record) *Break {
	expectedPrev := prev
	var expectedSeq uint64
	for i, r := range records {
		if i == 0 {
			expectedSeq = r.Sequence
		}
		if r.Sequence != expectedSeq {
			return &Break{Sequence: r.Sequence, Reason: "sequence number not contiguous"}
		}
		if string(r.PreviousDigest) != string(expectedPrev) {
			return &Break{Sequence: r.Sequence, Reason: "previous-digest mismatch"}
		}
		if !verifyTag(secret, r) {
			return &Break{Sequence: r.Sequence, Reason: "authentication tag does not verify"}
		}
		expectedPrev = digest(r)
		expectedSeq++
	}
	return nil
}
