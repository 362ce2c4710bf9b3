package catalog

import (
	"context"
	"fmt"
)

// Stats is the aggregate shape the agent's get_stats command returns,
// recovered from the predecessor's get_global_stats (original_source).
type Stats struct {
	TotalPaths      int64
	TotalVersions   int64
	TotalDedupObjects int64
	TotalOriginalBytes int64
	TotalStoredBytes   int64
}

// SpaceSavedRatio is the fraction of original bytes avoided by
// compression and deduplication combined.
func (s Stats) SpaceSavedRatio() float64 {
	if s.TotalOriginalBytes == 0 {
		return 0
	}
	return 1 - float64(s.TotalStoredBytes)/float64(s.TotalOriginalBytes)
}

// GlobalStats aggregates across both tables for the get_stats command.
func (c *Catalog) GlobalStats(ctx context.Context) (Stats, error) {
	var s Stats

	row := c.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT path), COUNT(*) FROM file_versions`)
	if err := row.Scan(&s.TotalPaths, &s.TotalVersions); err != nil {
		return s, fmt.Errorf("catalog: aggregate file_versions: %w", err)
	}

	row = c.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(original_size), 0),
		       COALESCE(SUM(stored_size), 0)
		FROM dedup_store`)
	var dedupOriginal, dedupStored int64
	if err := row.Scan(&s.TotalDedupObjects, &dedupOriginal, &dedupStored); err != nil {
		return s, fmt.Errorf("catalog: aggregate dedup_store: %w", err)
	}

	// Direct (non-deduped) versions contribute their own bytes on top of
	// the dedup store's unique-object totals.
	row = c.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(plaintext_size), 0)
		FROM file_versions
		WHERE dedup_ref IS NULL OR dedup_ref = ''`)
	var directOriginal int64
	if err := row.Scan(&directOriginal); err != nil {
		return s, fmt.Errorf("catalog: aggregate direct versions: %w", err)
	}

	s.TotalOriginalBytes = dedupOriginal + directOriginal
	s.TotalStoredBytes = dedupStored + directOriginal
	return s, nil
}
