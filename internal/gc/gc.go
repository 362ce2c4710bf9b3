// Package gc implements the deduplication store garbage collector
// described in §4.I: reconcile ref_count drift against the authoritative
// file_versions count, then delete blobs whose true reference count is
// zero — blob first, catalog record second, for crash safety.
package gc

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/killianrms/vstore/internal/catalog"
	"github.com/killianrms/vstore/internal/store"
)

// Report summarizes one collection run.
type Report struct {
	Scanned        int
	Repaired       int
	Removed        int
	ReclaimedBytes int64
}

type Collector struct {
	cat   *catalog.Catalog
	blobs *store.BlobStore
	lock  *catalog.AdvisoryLock
	log   zerolog.Logger
}

func New(cat *catalog.Catalog, blobs *store.BlobStore, lock *catalog.AdvisoryLock, log zerolog.Logger) *Collector {
	return &Collector{cat: cat, blobs: blobs, lock: lock, log: log}
}

// Run reconciles and collects. It takes the catalog's advisory lock for
// its duration; if another process already holds it, Run returns
// vserr.ErrCatalogLocked rather than blocking, so a scheduled GC never
// piles up behind a long-running operation.
func (c *Collector) Run(ctx context.Context) (Report, error) {
	unlock, err := c.lock.TryLock(ctx)
	if err != nil {
		return Report{}, err
	}
	defer unlock()

	candidates, err := c.cat.OrphanCandidates(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("gc: list orphan candidates: %w", err)
	}
	if len(candidates) == 0 {
		c.log.Info().Msg("no orphaned dedup blocks found")
		return Report{}, nil
	}
	c.log.Info().Int("candidates", len(candidates)).Msg("found orphan candidates")

	var report Report
	for _, d := range candidates {
		report.Scanned++

		actual, err := c.cat.ActualRefCount(ctx, d.Hash)
		if err != nil {
			c.log.Warn().Err(err).Str("hash", d.Hash).Msg("failed to recompute ref count")
			continue
		}

		if actual > 0 {
			c.log.Warn().Str("hash", d.Hash).Int64("stored_ref_count", d.RefCount).
				Int64("actual_refs", actual).Msg("ref_count drift detected, repairing")
			if err := c.cat.WithTx(ctx, func(tx *sql.Tx) error {
				return catalog.RepairDedupRef(ctx, tx, d.Hash, actual)
			}); err != nil {
				c.log.Warn().Err(err).Str("hash", d.Hash).Msg("failed to repair ref_count")
			} else {
				report.Repaired++
			}
			continue
		}

		size, err := c.blobs.Size(d.BlobPath)
		if err != nil {
			c.log.Warn().Err(err).Str("path", d.BlobPath).Msg("failed to stat orphan blob")
		}

		// A blob that's already gone is still an orphan catalog record to
		// clean up, mirroring the predecessor's gc.py, which removes the
		// DB row regardless of whether the file itself was still there.
		if err := c.blobs.DeleteBlob(d.Hash, d.BlobPath); err != nil && !os.IsNotExist(err) {
			c.log.Warn().Err(err).Str("path", d.BlobPath).Msg("failed to delete orphan blob")
			continue
		}

		if err := c.cat.WithTx(ctx, func(tx *sql.Tx) error {
			return catalog.DeleteDedup(ctx, tx, d.Hash)
		}); err != nil {
			c.log.Warn().Err(err).Str("hash", d.Hash).Msg("failed to delete dedup record after blob removal")
			continue
		}

		report.Removed++
		report.ReclaimedBytes += size
	}

	c.log.Info().Int("removed", report.Removed).Int("repaired", report.Repaired).
		Int64("reclaimed_bytes", report.ReclaimedBytes).Msg("garbage collection complete")
	return report, nil
}
