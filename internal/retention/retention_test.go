package retention

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/killianrms/vstore/internal/catalog"
	"github.com/killianrms/vstore/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *catalog.Catalog) {
	t.Helper()
	root := t.TempDir()
	cat, err := catalog.Open(filepath.Join(root, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	layout := store.NewLayout(root)
	blobs, err := store.NewBlobStore(layout, zerolog.Nop())
	require.NoError(t, err)

	return New(cat, blobs, zerolog.Nop()), cat
}

func insertVersion(t *testing.T, cat *catalog.Catalog, path string, ts time.Time) catalog.FileVersion {
	t.Helper()
	v := catalog.FileVersion{
		Path: path, Timestamp: catalog.FormatTimestamp(ts), Action: catalog.ActionModified,
		CreatedAt: ts,
	}
	require.NoError(t, cat.WithTx(context.Background(), func(tx *sql.Tx) error {
		return catalog.InsertVersion(context.Background(), tx, &v)
	}))
	return v
}

func TestPruneHistoryKeepsEverythingUnder24h(t *testing.T) {
	m, cat := newTestManager(t)
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	for h := 0; h < 20; h += 2 {
		insertVersion(t, cat, "f.txt", now.Add(-time.Duration(h)*time.Hour))
	}

	result, err := m.PruneHistory(context.Background(), "f.txt", now, false)
	require.NoError(t, err)
	require.Equal(t, 0, result.Pruned)

	versions, err := cat.VersionsForPath(context.Background(), "f.txt")
	require.NoError(t, err)
	require.Len(t, versions, 10)
}

func TestPruneHistoryKeepsOneDailySurvivorPerDay(t *testing.T) {
	m, cat := newTestManager(t)
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	// Two versions per day for days 2..6 ago (squarely in the 1-7d daily
	// bucket window), newest of each day should survive.
	for daysAgo := 2; daysAgo <= 6; daysAgo++ {
		day := now.AddDate(0, 0, -daysAgo)
		insertVersion(t, cat, "f.txt", day.Add(2*time.Hour))
		insertVersion(t, cat, "f.txt", day.Add(10*time.Hour))
	}

	result, err := m.PruneHistory(context.Background(), "f.txt", now, false)
	require.NoError(t, err)
	require.Equal(t, 5, result.Pruned) // one of each pair pruned

	versions, err := cat.VersionsForPath(context.Background(), "f.txt")
	require.NoError(t, err)
	require.Len(t, versions, 5)
	for _, v := range versions {
		ts, err := catalog.ParseTimestamp(v.Timestamp)
		require.NoError(t, err)
		require.Equal(t, 10, ts.Hour(), "the later-in-day version should survive")
	}
}

func TestPruneHistoryDropsVersionsOlderThanOneYear(t *testing.T) {
	m, cat := newTestManager(t)
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	insertVersion(t, cat, "f.txt", now.AddDate(-2, 0, 0))

	result, err := m.PruneHistory(context.Background(), "f.txt", now, false)
	require.NoError(t, err)
	require.Equal(t, 1, result.Pruned)

	versions, err := cat.VersionsForPath(context.Background(), "f.txt")
	require.NoError(t, err)
	require.Empty(t, versions)
}

func TestPruneHistoryDryRunDoesNotMutate(t *testing.T) {
	m, cat := newTestManager(t)
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	insertVersion(t, cat, "f.txt", now.AddDate(-2, 0, 0))

	result, err := m.PruneHistory(context.Background(), "f.txt", now, true)
	require.NoError(t, err)
	require.Equal(t, 1, result.Pruned)
	require.True(t, result.DryRun)

	versions, err := cat.VersionsForPath(context.Background(), "f.txt")
	require.NoError(t, err)
	require.Len(t, versions, 1, "dry run must not delete anything")
}

func TestPruneHistoryDecrementsDedupRefInsteadOfDeletingBlob(t *testing.T) {
	m, cat := newTestManager(t)
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	require.NoError(t, cat.WithTx(ctx, func(tx *sql.Tx) error {
		return catalog.InsertDedup(ctx, tx, &catalog.DedupObject{Hash: "h1", RefCount: 1, CreatedAt: now})
	}))

	old := now.AddDate(-2, 0, 0)
	v := catalog.FileVersion{Path: "f.txt", Timestamp: catalog.FormatTimestamp(old), Action: catalog.ActionModified, DedupRef: "h1", CreatedAt: old}
	require.NoError(t, cat.WithTx(ctx, func(tx *sql.Tx) error { return catalog.InsertVersion(ctx, tx, &v) }))

	result, err := m.PruneHistory(ctx, "f.txt", now, false)
	require.NoError(t, err)
	require.Equal(t, 1, result.Pruned)

	d, err := cat.DedupLookup(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, int64(0), d.RefCount)
}

func TestPruneAllFansOutAcrossPaths(t *testing.T) {
	m, cat := newTestManager(t)
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	insertVersion(t, cat, "a.txt", now.AddDate(-2, 0, 0))
	insertVersion(t, cat, "b.txt", now.AddDate(-2, 0, 0))
	insertVersion(t, cat, "c.txt", now)

	results, err := m.PruneAll(context.Background(), now, false)
	require.NoError(t, err)
	require.Len(t, results, 3)

	total := 0
	for _, r := range results {
		total += r.Pruned
	}
	require.Equal(t, 2, total)
}
