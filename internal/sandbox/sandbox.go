// Package sandbox canonicalises externally supplied paths against a
// workspace root, resolving symlinks component by component and
// refusing any resolution that escapes the root.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"devit/internal/direrr"
)

// Sandbox enforces containment within a fixed workspace root.
type Sandbox struct {
	root string
}

// New canonicalises root itself and returns a Sandbox bound to it.
func New(root string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			resolved = abs
		} else {
			return nil, fmt.Errorf("resolve workspace root: %w", err)
		}
	}
	return &Sandbox{root: filepath.Clean(resolved)}, nil
}

// Root returns the canonical workspace root.
func (s *Sandbox) Root() string { return s.root }

var windowsReservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// Resolve canonicalises an externally supplied path (relative or
// absolute, possibly containing ".." or symlinks) against the
// workspace root. requireExists controls whether a missing final
// component is an error.
func (s *Sandbox) Resolve(input string, requireExists bool) (string, error) {
	if err := validateSegments(input); err != nil {
		return "", err
	}

	joined := input
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(s.root, joined)
	} else {
		joined = filepath.Clean(joined)
	}

	if !s.contains(joined) {
		return "", direrr.New(direrr.Security, direrr.CodeEscapeRoot, fmt.Sprintf("path %q escapes workspace root", input))
	}

	resolved, err := s.resolveSymlinks(joined)
	if err != nil {
		return "", err
	}

	if !s.contains(resolved) {
		return "", direrr.New(direrr.Security, direrr.CodeEscapeRoot, fmt.Sprintf("path %q resolves outside workspace root via symlink", input))
	}

	if requireExists {
		if _, err := os.Lstat(resolved); err != nil {
			return "", direrr.Wrap(direrr.Validation, direrr.CodeInvalidDiff, fmt.Sprintf("path %q does not exist", input), err)
		}
	}

	return resolved, nil
}

// contains reports whether candidate (already cleaned/absolute) lies
// at or under the workspace root.
func (s *Sandbox) contains(candidate string) bool {
	rel, err := filepath.Rel(s.root, candidate)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}

// resolveSymlinks walks joined component by component from the
// workspace root, re-checking containment after each symlink
// resolution so a symlink cannot redirect a later component outside
// the root.
func (s *Sandbox) resolveSymlinks(joined string) (string, error) {
	rel, err := filepath.Rel(s.root, joined)
	if err != nil {
		return "", direrr.New(direrr.Security, direrr.CodeEscapeRoot, "path escapes workspace root")
	}
	if rel == "." {
		return s.root, nil
	}

	current := s.root
	parts := strings.Split(rel, string(filepath.Separator))
	for i, part := range parts {
		if part == "" || part == "." {
			continue
		}
		parent := current
		current = filepath.Join(current, part)

		info, err := os.Lstat(current)
		if err != nil {
			if os.IsNotExist(err) {
				// Remaining components need not exist; containment was
				// already verified lexically for the tail.
				return filepath.Join(parent, filepath.Join(parts[i:]...)), nil
			}
			return "", fmt.Errorf("stat %s: %w", current, err)
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(current)
			if err != nil {
				return "", fmt.Errorf("readlink %s: %w", current, err)
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(current), target)
			}
			target = filepath.Clean(target)
			if !s.contains(target) {
				return "", direrr.New(direrr.Security, direrr.CodeEscapeRoot, fmt.Sprintf("symlink %s escapes workspace root via %s", current, target))
			}
			resolvedTarget, err := s.resolveSymlinks(target)
			if err != nil {
				return "", err
			}
			current = resolvedTarget
		}
	}
	return filepath.Clean(current), nil
}

// validateSegments rejects NUL/control characters, empty segments
// (a leading or trailing separator is allowed), and Windows reserved
// device names in any path component.
func validateSegments(input string) error {
	if strings.ContainsRune(input, 0) {
		return direrr.New(direrr.Validation, direrr.CodeInvalidDiff, "path contains NUL byte")
	}
	for _, r := range input {
		if r < 0x20 {
			return direrr.New(direrr.Validation, direrr.CodeInvalidDiff, "path contains control character")
		}
	}
	norm := strings.ReplaceAll(input, "\\", "/")
	segs := strings.Split(norm, "/")
	for i, seg := range segs {
		if seg == "" {
			if i == 0 || i == len(segs)-1 {
				continue
			}
			return direrr.New(direrr.Validation, direrr.CodeInvalidDiff, "path contains an empty segment")
		}
		if seg == "." {
			continue
		}
		base := seg
		if idx := strings.IndexByte(base, '.'); idx >= 0 {
			base = base[:idx]
		}
		if windowsReservedNames[strings.ToUpper(base)] {
			return direrr.New(direrr.Validation, direrr.CodeInvalidDiff, fmt.Sprintf("path segment %q is a reserved device name", seg))
		}
	}
	return nil
}
