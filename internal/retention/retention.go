// Package retention implements the Grandfather-Father-Son pruning policy
// described in §4.H: all versions under 24h are kept; beyond that, at
// most one version per day/week/month bucket survives, out to 365 days.
package retention

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/killianrms/vstore/internal/catalog"
	"github.com/killianrms/vstore/internal/store"
)

const (
	dailyHorizon   = 24 * time.Hour
	weeklyHorizon  = 7 * 24 * time.Hour
	monthlyHorizon = 28 * 24 * time.Hour
	yearlyHorizon  = 365 * 24 * time.Hour
)

// Manager applies GFS pruning against one catalog.
type Manager struct {
	cat   *catalog.Catalog
	blobs *store.BlobStore
	log   zerolog.Logger
}

func New(cat *catalog.Catalog, blobs *store.BlobStore, log zerolog.Logger) *Manager {
	return &Manager{cat: cat, blobs: blobs, log: log}
}

// Result reports what pruning found/did for one path.
type Result struct {
	Path    string
	Pruned  int
	DryRun  bool
}

// PruneHistory applies the GFS policy to one path. now is injected so
// callers (and tests) control the clock explicitly rather than relying on
// the wall clock at call time.
func (m *Manager) PruneHistory(ctx context.Context, path string, now time.Time, dryRun bool) (Result, error) {
	versions, err := m.cat.VersionsForPath(ctx, path)
	if err != nil {
		return Result{}, fmt.Errorf("retention: list versions: %w", err)
	}
	if len(versions) == 0 {
		return Result{Path: path, DryRun: dryRun}, nil
	}

	toDelete := calculatePruning(versions, now)
	if dryRun || len(toDelete) == 0 {
		return Result{Path: path, Pruned: len(toDelete), DryRun: dryRun}, nil
	}

	pruned := 0
	for _, v := range toDelete {
		if err := m.removeVersion(ctx, v); err != nil {
			m.log.Warn().Err(err).Str("path", path).Str("timestamp", v.Timestamp).Msg("failed to prune version")
			continue
		}
		pruned++
	}
	return Result{Path: path, Pruned: pruned, DryRun: dryRun}, nil
}

// PruneAll applies PruneHistory across every path with at least one
// version, per the supplemented prune-all-paths fan-out (SPEC_FULL.md).
func (m *Manager) PruneAll(ctx context.Context, now time.Time, dryRun bool) ([]Result, error) {
	paths, err := m.cat.DistinctPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("retention: list paths: %w", err)
	}

	results := make([]Result, 0, len(paths))
	for _, p := range paths {
		r, err := m.PruneHistory(ctx, p, now, dryRun)
		if err != nil {
			m.log.Warn().Err(err).Str("path", p).Msg("failed to prune path")
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

// calculatePruning mirrors the original retention logic exactly: versions
// are walked newest-first, each bucket ("YYYY-MM-DD", ISO-ish week,
// "YYYY-MM") keeps only the first (i.e. newest) version seen for it.
func calculatePruning(versions []catalog.FileVersion, now time.Time) []catalog.FileVersion {
	daily := map[string]bool{}
	weekly := map[string]bool{}
	monthly := map[string]bool{}

	keep := make(map[string]bool, len(versions))

	for _, v := range versions {
		ts, err := catalog.ParseTimestamp(v.Timestamp)
		if err != nil {
			continue // malformed timestamps are left alone, never pruned
		}
		age := now.Sub(ts)

		switch {
		case age < dailyHorizon:
			keep[v.Timestamp] = true
		case age < weeklyHorizon:
			key := ts.Format("2006-01-02")
			if !daily[key] {
				daily[key] = true
				keep[v.Timestamp] = true
			}
		case age < monthlyHorizon:
			year, week := ts.ISOWeek()
			key := fmt.Sprintf("%d-W%02d", year, week)
			if !weekly[key] {
				weekly[key] = true
				keep[v.Timestamp] = true
			}
		case age < yearlyHorizon:
			key := ts.Format("2006-01")
			if !monthly[key] {
				monthly[key] = true
				keep[v.Timestamp] = true
			}
		}
		// age >= yearlyHorizon: not kept, falls through to deletion.
	}

	var toDelete []catalog.FileVersion
	for _, v := range versions {
		if !keep[v.Timestamp] {
			toDelete = append(toDelete, v)
		}
	}
	return toDelete
}

// removeVersion deletes one version record. If it pointed into the dedup
// store, only its ref_count is decremented — never the blob, which is the
// garbage collector's job once ref_count reaches zero. If it held a direct
// (non-deduped) blob, nothing else can reference it, so the blob is
// removed here, after the catalog commit, for crash safety.
func (m *Manager) removeVersion(ctx context.Context, v catalog.FileVersion) error {
	err := m.cat.WithTx(ctx, func(tx *sql.Tx) error {
		if err := catalog.DeleteVersion(ctx, tx, v.Path, v.Timestamp); err != nil {
			return err
		}
		if v.IsDeduped() {
			return catalog.DecrementDedupRef(ctx, tx, v.DedupRef)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !v.IsDeduped() && v.BlobPath != "" {
		if err := m.blobs.DeleteBlob(v.Path, v.BlobPath); err != nil {
			m.log.Warn().Err(err).Str("path", v.BlobPath).Msg("failed to remove pruned direct blob")
		}
	}
	return nil
}
