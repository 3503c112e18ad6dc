// Package pathsafe decides whether a filesystem path, after canonicalization,
// lies within an allowed base directory. Watchers use it before opening any
// path a client or the filesystem handed them, so a malicious symlink or a
// cleverly named sibling directory (`~/.claude-malicious` vs `~/.claude`)
// can't escape the sandboxed roots.
package pathsafe

import (
	"os"
	"path/filepath"
	"strings"
)

// Normalize resolves p to a symlink-resolved absolute path. It returns false
// if p is empty, not already absolute, or cannot be resolved at all.
func Normalize(p string) (string, bool) {
	if p == "" || !filepath.IsAbs(p) {
		return "", false
	}
	resolved, ok := resolveSymlinks(p)
	if !ok {
		return "", false
	}
	return filepath.Clean(resolved), true
}

// resolveSymlinks realpath's p. If p itself doesn't exist, it realpath's the
// longest existing prefix and re-appends the missing tail, so a
// not-yet-created file under a symlinked directory still resolves correctly.
func resolveSymlinks(p string) (string, bool) {
	if real, err := filepath.EvalSymlinks(p); err == nil {
		return real, true
	}

	// Walk up collecting path components until we find an ancestor that
	// exists, then resolve that ancestor and re-append the missing tail.
	var tail []string
	cur := p
	for {
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", false
		}
		tail = append([]string{filepath.Base(cur)}, tail...)
		if _, err := os.Lstat(parent); err == nil {
			real, err := filepath.EvalSymlinks(parent)
			if err != nil {
				return "", false
			}
			return filepath.Join(append([]string{real}, tail...)...), true
		}
		cur = parent
	}
}

// Within reports whether p, once normalized, is equal to or a boundary-aware
// strict descendant of base.
func Within(p, base string) bool {
	normP, ok := Normalize(p)
	if !ok {
		return false
	}
	normBase, ok := Normalize(base)
	if !ok {
		return false
	}
	if normP == normBase {
		return true
	}
	prefix := normBase
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(normP, prefix)
}

// WithinAny reports whether p lies within at least one of bases.
func WithinAny(p string, bases []string) bool {
	for _, b := range bases {
		if Within(p, b) {
			return true
		}
	}
	return false
}
