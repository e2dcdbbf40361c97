package patch

import (
	"fmt"
	"strconv"
	"strings"

	"devit/internal/direrr"
)

// MaxDiffBytes is the maximum accepted size of diff text, roughly 1 MiB.
const MaxDiffBytes = 1 << 20

// ParsedLine is one line within a hunk body.
type ParsedLine struct {
	Kind LineKind
	Text string
}

// ParsedHunk is one `@@ ... @@` hunk and its body lines.
type ParsedHunk struct {
	OldStart, OldCount int
	NewStart, NewCount int
	Lines              []ParsedLine
}

// ParsedFile is the parsed representation of one file's diff.
type ParsedFile struct {
	OldPath, NewPath string
	IsNew, IsDelete  bool
	Hunks            []ParsedHunk
}

var hunkHeaderPrefix = "@@ -"

// Parse parses unified-diff text (with or without `diff --git` headers)
// into one ParsedFile per touched file. It rejects context diffs and
// binary-blob diffs.
func Parse(diffText string) ([]ParsedFile, error) {
	if len(diffText) > MaxDiffBytes {
		return nil, direrr.New(direrr.Validation, direrr.CodeInvalidDiff, fmt.Sprintf("diff exceeds maximum size of %d bytes", MaxDiffBytes))
	}
	if strings.Contains(diffText, "***") && strings.Contains(diffText, "****") {
		return nil, direrr.New(direrr.Validation, direrr.CodeInvalidDiff, "context diffs are not supported")
	}

	normalized := strings.ReplaceAll(strings.ReplaceAll(diffText, "\r\n", "\n"), "\r", "\n")
	lines := strings.Split(normalized, "\n")
	// The newline that ends the last line is a terminator, not the start
	// of one more (blank) line.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	var files []ParsedFile
	var current *ParsedFile
	var hunk *ParsedHunk

	flushHunk := func() {
		if hunk != nil && current != nil {
			current.Hunks = append(current.Hunks, *hunk)
			hunk = nil
		}
	}
	flushFile := func() {
		flushHunk()
		if current != nil {
			files = append(files, *current)
			current = nil
		}
	}

	i := 0
	for i < len(lines) {
		line := lines[i]

		switch {
		case strings.HasPrefix(line, "diff --git "):
			flushFile()
			i++
			continue

		case strings.HasPrefix(line, "Binary files ") || strings.HasPrefix(line, "GIT binary patch"):
			return nil, direrr.New(direrr.Validation, direrr.CodeInvalidDiff, "binary diffs are not supported")

		case strings.HasPrefix(line, "--- "):
			flushFile()
			current = &ParsedFile{}
			old := strings.TrimPrefix(line, "--- ")
			old = stripTimestamp(old)
			if old == "/dev/null" {
				current.IsNew = true
				current.OldPath = ""
			} else {
				current.OldPath = stripGitPrefix(old)
			}
			i++
			continue

		case strings.HasPrefix(line, "+++ "):
			if current == nil {
				return nil, direrr.New(direrr.Validation, direrr.CodeInvalidDiff, "+++ header without preceding --- header")
			}
			newP := strings.TrimPrefix(line, "+++ ")
			newP = stripTimestamp(newP)
			if newP == "/dev/null" {
				current.IsDelete = true
				current.NewPath = ""
			} else {
				current.NewPath = stripGitPrefix(newP)
			}
			i++
			continue

		case strings.HasPrefix(line, hunkHeaderPrefix):
			if current == nil {
				return nil, direrr.New(direrr.Validation, direrr.CodeInvalidDiff, "hunk header without file header")
			}
			flushHunk()
			h, err := parseHunkHeader(line)
			if err != nil {
				return nil, err
			}
			hunk = h
			i++
			continue

		default:
			if hunk != nil && len(line) > 0 {
				kind, text, ok := classifyBodyLine(line)
				if ok {
					hunk.Lines = append(hunk.Lines, ParsedLine{Kind: kind, Text: text})
				}
			} else if hunk != nil && line == "" {
				// Blank context line inside a hunk body.
				hunk.Lines = append(hunk.Lines, ParsedLine{Kind: LineContext, Text: ""})
			}
			i++
		}
	}
	flushFile()

	if len(files) == 0 {
		return nil, direrr.New(direrr.Validation, direrr.CodeInvalidDiff, "no recognizable unified-diff headers found")
	}
	return files, nil
}

func classifyBodyLine(line string) (LineKind, string, bool) {
	if strings.HasPrefix(line, "\\ No newline at end of file") {
		return 0, "", false
	}
	switch line[0] {
	case '+':
		return LineAdded, line[1:], true
	case '-':
		return LineRemoved, line[1:], true
	case ' ':
		return LineContext, line[1:], true
	default:
		return LineContext, line, true
	}
}

func stripTimestamp(s string) string {
	if idx := strings.IndexByte(s, '\t'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func stripGitPrefix(p string) string {
	if strings.HasPrefix(p, "a/") || strings.HasPrefix(p, "b/") {
		return p[2:]
	}
	return p
}

func parseHunkHeader(line string) (*ParsedHunk, error) {
	// @@ -oldStart[,oldCount] +newStart[,newCount] @@ [section heading]
	body := strings.TrimPrefix(line, "@@ ")
	end := strings.Index(body, " @@")
	if end < 0 {
		return nil, direrr.New(direrr.Validation, direrr.CodeInvalidDiff, "malformed hunk header")
	}
	ranges := strings.Fields(body[:end])
	if len(ranges) != 2 {
		return nil, direrr.New(direrr.Validation, direrr.CodeInvalidDiff, "malformed hunk header ranges")
	}
	oldStart, oldCount, err := parseRange(ranges[0], '-')
	if err != nil {
		return nil, err
	}
	newStart, newCount, err := parseRange(ranges[1], '+')
	if err != nil {
		return nil, err
	}
	return &ParsedHunk{OldStart: oldStart, OldCount: oldCount, NewStart: newStart, NewCount: newCount}, nil
}

func parseRange(field string, prefix byte) (start, count int, err error) {
	if len(field) == 0 || field[0] != prefix {
		return 0, 0, direrr.New(direrr.Validation, direrr.CodeInvalidDiff, "malformed hunk range")
	}
	field = field[1:]
	parts := strings.SplitN(field, ",", 2)
	start, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, direrr.Wrap(direrr.Validation, direrr.CodeInvalidDiff, "malformed hunk start", err)
	}
	count = 1
	if len(parts) == 2 {
		count, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, direrr.Wrap(direrr.Validation, direrr.CodeInvalidDiff, "malformed hunk count", err)
		}
	}
	return start, count, nil
}
