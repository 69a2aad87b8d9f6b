// Package security validates user-supplied file paths for the replay and
// report commands.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideAllowed is returned when a path resolves outside every allowed root.
var ErrOutsideAllowed = errors.New("path outside allowed directories")

// canonical resolves symlinks in p. When p does not exist the nearest
// existing ancestor is resolved instead and the remainder re-attached, so
// a dangling name under a symlinked directory still maps to its real target.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", p, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rest, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rest), nil
		}
		if dir == filepath.Dir(dir) {
			return abs, nil
		}
	}
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Resolve returns the canonical form of path if it lies within one of roots.
func Resolve(path string, roots ...string) (string, error) {
	if len(roots) == 0 {
		return "", errors.New("no allowed directories specified")
	}
	p, err := canonical(path)
	if err != nil {
		return "", err
	}
	for _, root := range roots {
		r, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(r); err == nil {
			r = resolved
		}
		if within(p, r) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: %w %v", path, ErrOutsideAllowed, roots)
}

// DefaultRoots are the temp directory and the working directory.
func DefaultRoots() []string {
	roots := []string{os.TempDir()}
	if cwd, err := os.Getwd(); err == nil {
		roots = append(roots, cwd)
	}
	return roots
}

// ValidateInputPath resolves a capture file for reading. It must be a
// regular file inside one of roots (DefaultRoots when empty).
func ValidateInputPath(path string, roots ...string) (string, error) {
	if len(roots) == 0 {
		roots = DefaultRoots()
	}
	p, err := Resolve(path, roots...)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s: not a regular file", path)
	}
	return p, nil
}

// ValidateOutputPath resolves a destination for writing. The file need
// not exist but must land inside one of roots (DefaultRoots when empty).
func ValidateOutputPath(path string, roots ...string) (string, error) {
	if len(roots) == 0 {
		roots = DefaultRoots()
	}
	return Resolve(path, roots...)
}

// SanitizeFilename maps an arbitrary label such as a deck name to a safe
// file name stem. Runs of other characters collapse to one underscore.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	under := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
			under = false
		case !under:
			b.WriteByte('_')
			under = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
