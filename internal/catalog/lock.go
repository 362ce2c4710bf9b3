package catalog

import (
	"context"
	"fmt"

	"github.com/gofrs/flock"

	"github.com/killianrms/vstore/internal/vserr"
)

// AdvisoryLock is a cross-process lock on one backup root's catalog. Only
// the garbage collector takes it; retention pruning and pipeline commits
// run without it. The teacher's equivalent
// (internal/cache/redis/lock.go) coordinates across networked workers via
// Redis SETNX; a backup root is a local directory with no network peer,
// so the same advisory-lock shape is grounded on a local file lock
// instead (flock(2) via gofrs/flock, the same dependency the rest of the
// example corpus reaches for, e.g. erigon's go.mod).
type AdvisoryLock struct {
	fl *flock.Flock
}

// NewAdvisoryLock returns a lock keyed on a sidecar file next to the
// catalog ("<catalog>.lock"), never the catalog file itself, so plain
// readers never contend with the lock.
func NewAdvisoryLock(catalogPath string) *AdvisoryLock {
	return &AdvisoryLock{fl: flock.New(catalogPath + ".lock")}
}

// TryLock attempts to take the lock without blocking. If another writer
// holds it, it returns vserr.ErrCatalogLocked rather than waiting — §5
// says GC and retention "defer" rather than block when the lock is busy.
// This makes a single non-blocking attempt (flock.TryLock), unlike
// TryLockContext, which retries until ctx is done and so never reports
// contention as ErrCatalogLocked.
func (l *AdvisoryLock) TryLock(ctx context.Context) (func(), error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	ok, err := l.fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("catalog: acquire advisory lock: %w", err)
	}
	if !ok {
		return nil, vserr.ErrCatalogLocked
	}
	return func() { _ = l.fl.Unlock() }, nil
}
