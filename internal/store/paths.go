// Package store implements the on-disk object store layout: the
// content-addressed dedup tree, the non-dedup versions tree, and the
// plaintext current/ shadow, all rooted at one backup root directory.
package store

import (
	"path/filepath"
)

// Layout names the four subtrees of a backup root (§3).
type Layout struct {
	Root string
}

func NewLayout(root string) Layout {
	return Layout{Root: root}
}

func (l Layout) CurrentDir() string    { return filepath.Join(l.Root, "current") }
func (l Layout) VersionsDir() string   { return filepath.Join(l.Root, "versions") }
func (l Layout) DedupStoreDir() string { return filepath.Join(l.Root, "dedup_store") }
func (l Layout) CatalogPath() string   { return filepath.Join(l.Root, "catalog.db") }

// Abs resolves a root-relative path (as returned by DedupBlobPath,
// VersionBlobPath, or CurrentPath, and as stored verbatim in the catalog's
// blob_path columns) against this Layout's root. Blob paths are kept
// root-relative on disk and in the catalog so a backup root can be moved
// or reopened from a different absolute path without invalidating every
// stored path.
func (l Layout) Abs(relBlobPath string) string {
	return filepath.Join(l.Root, relBlobPath)
}

// DedupBlobPath computes the sharded dedup store path for hash, relative
// to the backup root, using 2-level sharding on the first four hex
// characters, capping per-directory fan-out the way a flat tree cannot.
func (l Layout) DedupBlobPath(hash string, compressed, encrypted bool) string {
	base := l.dedupBasePath(hash)
	return base + suffix(compressed, encrypted)
}

func (l Layout) dedupBasePath(hash string) string {
	if len(hash) < 4 {
		return filepath.Join("dedup_store", hash)
	}
	return filepath.Join("dedup_store", hash[0:2], hash[2:4], hash)
}

// VersionBlobPath computes the non-dedup blob path for one version,
// relative to the backup root.
func (l Layout) VersionBlobPath(timestamp, relPath string, compressed, encrypted bool) string {
	base := filepath.Join("versions", timestamp, relPath)
	return base + suffix(compressed, encrypted)
}

// CurrentPath computes the plaintext shadow path for relPath, relative to
// the backup root.
func (l Layout) CurrentPath(relPath string) string {
	return filepath.Join("current", relPath)
}

func suffix(compressed, encrypted bool) string {
	s := ""
	if compressed {
		s += ".gz"
	}
	if encrypted {
		s += ".enc"
	}
	return s
}
