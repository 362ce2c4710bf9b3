package store

import (
	"path/filepath"
	"strings"

	"github.com/killianrms/vstore/internal/vserr"
)

// ValidatePath normalizes a POSIX-style logical relative path and rejects
// it, before any I/O, if it would resolve outside root. Every entry point
// that takes a caller-supplied path (save_version, delete_file,
// get_signature) must call this first.
func ValidatePath(root, relPath string) (string, error) {
	if relPath == "" || strings.TrimSpace(relPath) == "" {
		return "", vserr.ErrPathUnsafe
	}
	cleaned := filepath.Clean(relPath)
	if filepath.IsAbs(cleaned) {
		return "", vserr.ErrPathUnsafe
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", vserr.ErrPathUnsafe
	}
	joined := filepath.Join(absRoot, cleaned)

	rel, err := filepath.Rel(absRoot, joined)
	if err != nil {
		return "", vserr.ErrPathUnsafe
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", vserr.ErrPathUnsafe
	}

	return cleaned, nil
}
