// Package pathguard resolves an untrusted, client-supplied relative path
// against a session root and rejects anything that would resolve outside
// it. It is pure (no writes) and is used by the file CRUD endpoints. The
// WebDAV bridge serves paths through golang.org/x/net/webdav.Dir and does
// not route them through this package.
package pathguard

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sessiond/sessiond/internal/apierr"
)

// maxPathLen bounds the untrusted input before any filesystem touch.
const maxPathLen = 4096

// Resolve normalizes untrusted against root and returns the absolute path,
// or an error wrapping apierr.ErrPathRejected if the result would escape
// root. A leading separator on untrusted is treated as relative-to-root,
// not absolute.
//
// Resolution order:
//  1. reject null bytes and over-length input without touching disk
//  2. strip a leading separator, lexically join+clean against root
//  3. reject if the cleaned path already escapes root (catches "../" tricks
//     that Clean collapses down to outside root)
//  4. if the target exists, resolve symlinks and re-check containment,
//     since a symlink inside root can point outside it
func Resolve(root, untrusted string) (string, error) {
	if len(untrusted) > maxPathLen {
		return "", fmt.Errorf("pathguard: path exceeds %d bytes: %w", maxPathLen, apierr.ErrPathRejected)
	}
	if strings.IndexByte(untrusted, 0) >= 0 {
		return "", fmt.Errorf("pathguard: path contains a null byte: %w", apierr.ErrPathRejected)
	}

	root = filepath.Clean(root)
	rel := strings.TrimLeft(untrusted, "/\\")
	candidate := filepath.Join(root, rel)

	if !withinRoot(root, candidate) {
		return "", fmt.Errorf("pathguard: %q escapes root: %w", untrusted, apierr.ErrPathRejected)
	}

	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		// Target (or an ancestor) doesn't exist yet — that's fine for
		// create operations; the lexical check above already holds.
		return candidate, nil
	}
	rootResolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		rootResolved = root
	}
	if !withinRoot(rootResolved, resolved) {
		return "", fmt.Errorf("pathguard: %q resolves outside root via symlink: %w", untrusted, apierr.ErrPathRejected)
	}
	return resolved, nil
}

// withinRoot reports whether candidate is root itself or lies strictly
// beneath it, using filepath.Rel so the comparison is platform-correct
// and doesn't depend on trailing separators.
func withinRoot(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
