package store

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// shardCount is the number of lock shards; a key is assigned to a shard by
// the CRC32 of the key modulo shardCount.
const shardCount = 256

// shardedLock gives concurrent blob writers/readers independent locks
// keyed by content hash, instead of one global mutex serializing all
// object-store I/O.
type shardedLock struct {
	locks [shardCount]sync.RWMutex
}

func (sl *shardedLock) index(key string) int {
	if key == "" {
		return 0
	}
	return int(crc32.ChecksumIEEE([]byte(key)) % shardCount)
}

func (sl *shardedLock) Lock(key string)    { sl.locks[sl.index(key)].Lock() }
func (sl *shardedLock) Unlock(key string)  { sl.locks[sl.index(key)].Unlock() }
func (sl *shardedLock) RLock(key string)   { sl.locks[sl.index(key)].RLock() }
func (sl *shardedLock) RUnlock(key string) { sl.locks[sl.index(key)].RUnlock() }

// BlobStore writes and reads the blob files that make up the dedup store,
// the non-dedup versions tree, and the current/ shadow, all rooted at one
// Layout.
type BlobStore struct {
	layout Layout
	shards shardedLock
	logger zerolog.Logger
}

func NewBlobStore(layout Layout, logger zerolog.Logger) (*BlobStore, error) {
	for _, dir := range []string{layout.CurrentDir(), layout.VersionsDir(), layout.DedupStoreDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", dir, err)
		}
	}
	return &BlobStore{layout: layout, logger: logger}, nil
}

// HealthCheck verifies the backup root's blob directories are still
// present and statable, for use by health checks.
func (bs *BlobStore) HealthCheck(ctx context.Context) error {
	for _, dir := range []string{bs.layout.CurrentDir(), bs.layout.VersionsDir(), bs.layout.DedupStoreDir()} {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("store: health check %s: %w", dir, err)
		}
	}
	return nil
}

// WriteBlob writes r to relPath (root-relative, per Layout.Abs) via a
// temp-file-then-rename, holding the shard lock for lockKey (typically the
// content hash) for the duration of the rename so concurrent writers
// targeting the same key never race.
func (bs *BlobStore) WriteBlob(ctx context.Context, relPath, lockKey string, r io.Reader) (int64, error) {
	finalPath := bs.layout.Abs(relPath)
	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("store: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("store: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("store: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("store: close temp file: %w", err)
	}

	bs.shards.Lock(lockKey)
	defer bs.shards.Unlock(lockKey)

	if err := os.Rename(tmpPath, finalPath); err != nil {
		if copyErr := copyFile(tmpPath, finalPath); copyErr != nil {
			return 0, fmt.Errorf("store: move blob into place: %w", err)
		}
		_ = os.Remove(tmpPath)
	}
	success = true

	bs.logger.Debug().Str("path", finalPath).Int64("size", written).Msg("blob stored")
	return written, nil
}

// OpenBlob opens relPath (root-relative) for reading, under the shard
// read lock for lockKey.
func (bs *BlobStore) OpenBlob(lockKey, relPath string) (io.ReadCloser, error) {
	bs.shards.RLock(lockKey)
	defer bs.shards.RUnlock(lockKey)
	f, err := os.Open(bs.layout.Abs(relPath))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// DeleteBlob removes relPath (root-relative) and prunes now-empty parent
// directories up to the dedup/versions root.
func (bs *BlobStore) DeleteBlob(lockKey, relPath string) error {
	bs.shards.Lock(lockKey)
	defer bs.shards.Unlock(lockKey)

	finalPath := bs.layout.Abs(relPath)
	if err := os.Remove(finalPath); err != nil {
		return err
	}
	bs.cleanupEmptyDirs(filepath.Dir(finalPath))
	return nil
}

// Exists reports whether relPath (root-relative) exists on disk.
func (bs *BlobStore) Exists(relPath string) (bool, error) {
	_, err := os.Stat(bs.layout.Abs(relPath))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Size returns the size in bytes of relPath (root-relative).
func (bs *BlobStore) Size(relPath string) (int64, error) {
	info, err := os.Stat(bs.layout.Abs(relPath))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (bs *BlobStore) cleanupEmptyDirs(dir string) {
	root := bs.layout.DedupStoreDir()
	for dir != root && dir != bs.layout.VersionsDir() && dir != bs.layout.Root && dir != "." && dir != "/" {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// WriteCurrent overwrites the current/<relPath> shadow with plaintext.
func (bs *BlobStore) WriteCurrent(ctx context.Context, relPath string, r io.Reader) error {
	finalPath := bs.layout.CurrentPath(relPath)
	_, err := bs.WriteBlob(ctx, finalPath, "current:"+relPath, r)
	return err
}

// RemoveCurrent deletes the current/<relPath> shadow if present. Missing
// is not an error.
func (bs *BlobStore) RemoveCurrent(relPath string) error {
	path := bs.layout.Abs(bs.layout.CurrentPath(relPath))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// OpenCurrent opens the current/<relPath> shadow, or (nil, os.ErrNotExist).
func (bs *BlobStore) OpenCurrent(relPath string) (io.ReadCloser, error) {
	return os.Open(bs.layout.Abs(bs.layout.CurrentPath(relPath)))
}
