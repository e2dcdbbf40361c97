// Package patch implements the unified-diff parser, pre-image
// verification, atomic application, and rollback generation used to
// apply patches inside a sandboxed workspace.
package patch

import (
	"strings"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineKind classifies one line within a hunk's body.
type LineKind int

const (
	LineContext LineKind = iota
	LineAdded
	LineRemoved
)

// StatLine is one line of a stat hunk, used only for the added/removed
// counts, not for the exact-match apply algorithm in apply.go.
type StatLine struct {
	LineNum int
	Content string
	Kind    LineKind
}

// StatHunk groups a run of changed lines with surrounding context for
// preview rendering.
type StatHunk struct {
	OldStart, OldCount int
	NewStart, NewCount int
	Lines              []StatLine
}

// FileStat is the stat summary for one file's change, from which the
// per-file added/removed counts of a patch Summary (applied or dry-run)
// are taken.
type FileStat struct {
	OldPath, NewPath string
	Hunks            []StatHunk
	IsNew, IsDelete  bool
}

// Added/Removed counts the total +/- lines across all hunks.
func (f *FileStat) Added() int {
	n := 0
	for _, h := range f.Hunks {
		n += h.NewCount - contextCount(h)
	}
	return n
}

func (f *FileStat) Removed() int {
	n := 0
	for _, h := range f.Hunks {
		n += h.OldCount - contextCount(h)
	}
	return n
}

func contextCount(h StatHunk) int {
	n := 0
	for _, l := range h.Lines {
		if l.Kind == LineContext {
			n++
		}
	}
	return n
}

// StatEngine computes a line-oriented stat summary between two full
// file contents using sergi/go-diff's DiffMatchPatch in line mode. Results
// are cached per (oldContent, newContent) pair since stat computation
// is pure of workspace state.
type StatEngine struct {
	dmp   *diffmatchpatch.DiffMatchPatch
	cache sync.Map
}

type statCacheKey struct {
	oldHash, newHash [32]byte
}

// NewStatEngine builds a StatEngine tuned for whole-file diffs (timeout
// disabled favors correctness over latency bounds for patch previews).
func NewStatEngine() *StatEngine {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	return &StatEngine{dmp: dmp}
}

// Stat computes the FileStat between oldContent and newContent.
func (e *StatEngine) Stat(oldPath, newPath, oldContent, newContent string) *FileStat {
	fs := &FileStat{OldPath: oldPath, NewPath: newPath}
	if oldContent == "" {
		fs.IsNew = true
	}
	if newContent == "" {
		fs.IsDelete = true
	}

	key := statCacheKey{sha256Of(oldContent), sha256Of(newContent)}
	if cached, ok := e.cache.Load(key); ok {
		if c, ok := cached.(*FileStat); ok {
			clone := *c
			clone.OldPath, clone.NewPath = oldPath, newPath
			return &clone
		}
	}

	a, b, lineArray := e.dmp.DiffLinesToChars(oldContent, newContent)
	diffs := e.dmp.DiffMain(a, b, false)
	diffs = e.dmp.DiffCleanupSemantic(diffs)
	diffs = e.dmp.DiffCharsToLines(diffs, lineArray)

	fs.Hunks = groupIntoHunks(diffsToOps(diffs), 3)
	e.cache.Store(key, fs)
	return fs
}

type op struct {
	kind             LineKind
	oldLine, newLine int
	content          string
}

func diffsToOps(diffs []diffmatchpatch.Diff) []op {
	var ops []op
	oldLine, newLine := 0, 0
	for _, d := range diffs {
		lines := strings.Split(d.Text, "\n")
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		for _, line := range lines {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				ops = append(ops, op{LineContext, oldLine, newLine, line})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				ops = append(ops, op{LineRemoved, oldLine, -1, line})
				oldLine++
			case diffmatchpatch.DiffInsert:
				ops = append(ops, op{LineAdded, -1, newLine, line})
				newLine++
			}
		}
	}
	return ops
}

func groupIntoHunks(ops []op, context int) []StatHunk {
	if len(ops) == 0 {
		return nil
	}
	var hunks []StatHunk
	var current *StatHunk
	lastChange := -1

	for i, o := range ops {
		if o.kind != LineContext {
			if current == nil {
				current = &StatHunk{}
				start := i - context
				if start < 0 {
					start = 0
				}
				for j := start; j < i; j++ {
					if ops[j].kind == LineContext {
						current.Lines = append(current.Lines, StatLine{ops[j].oldLine + 1, ops[j].content, LineContext})
					}
				}
				if start < len(ops) {
					current.OldStart = max0(ops[start].oldLine + 1)
					current.NewStart = max0(ops[start].newLine + 1)
				}
			}
			lastChange = i
		}
		if current != nil {
			lineNum := o.oldLine + 1
			if o.kind == LineAdded {
				lineNum = o.newLine + 1
			}
			current.Lines = append(current.Lines, StatLine{lineNum, o.content, o.kind})

			if o.kind == LineContext && i-lastChange > context {
				trimTo := len(current.Lines) - (i - lastChange - context)
				if trimTo > 0 && trimTo < len(current.Lines) {
					current.Lines = current.Lines[:trimTo]
				}
				computeCounts(current)
				hunks = append(hunks, *current)
				current = nil
			}
		}
	}
	if current != nil && len(current.Lines) > 0 {
		computeCounts(current)
		hunks = append(hunks, *current)
	}
	return hunks
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func computeCounts(h *StatHunk) {
	for _, l := range h.Lines {
		if l.Kind == LineRemoved || l.Kind == LineContext {
			h.OldCount++
		}
		if l.Kind == LineAdded || l.Kind == LineContext {
			h.NewCount++
		}
	}
}
