package catalog

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/killianrms/vstore/internal/vserr"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	cat, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	return cat
}

func TestOpenIsIdempotentAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	cat1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, cat1.Close())

	cat2, err := Open(path)
	require.NoError(t, err)
	defer cat2.Close()

	// A second open against the same (already-migrated) file must not
	// error even though every column already exists.
	require.NoError(t, cat2.Ping(context.Background()))
}

func TestInsertAndLatestVersion(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	v := &FileVersion{
		Path: "docs/a.txt", Timestamp: "2026-01-01_00-00-00-000000",
		Action: ActionCreated, PlaintextSize: 5, PlaintextHash: "deadbeef",
		BlobPath: "versions/.../a.txt", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, cat.WithTx(ctx, func(tx *sql.Tx) error {
		return InsertVersion(ctx, tx, v)
	}))

	got, err := cat.LatestVersion(ctx, "docs/a.txt")
	require.NoError(t, err)
	require.Equal(t, v.PlaintextHash, got.PlaintextHash)
	require.False(t, got.IsDeduped())

	_, err = cat.LatestVersion(ctx, "nope.txt")
	require.True(t, errors.Is(err, vserr.ErrNotFound))
}

func TestVersionsForPathOrdersNewestFirst(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	timestamps := []string{
		"2026-01-01_00-00-00-000000",
		"2026-01-02_00-00-00-000000",
		"2026-01-03_00-00-00-000000",
	}
	for _, ts := range timestamps {
		v := &FileVersion{Path: "f.txt", Timestamp: ts, Action: ActionModified, CreatedAt: time.Now().UTC()}
		require.NoError(t, cat.WithTx(ctx, func(tx *sql.Tx) error { return InsertVersion(ctx, tx, v) }))
	}

	versions, err := cat.VersionsForPath(ctx, "f.txt")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	require.Equal(t, timestamps[2], versions[0].Timestamp)
	require.Equal(t, timestamps[0], versions[2].Timestamp)
}

func TestDeleteVersionRemovesRow(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	v := &FileVersion{Path: "f.txt", Timestamp: "2026-01-01_00-00-00-000000", Action: ActionCreated, CreatedAt: time.Now().UTC()}
	require.NoError(t, cat.WithTx(ctx, func(tx *sql.Tx) error { return InsertVersion(ctx, tx, v) }))

	require.NoError(t, cat.WithTx(ctx, func(tx *sql.Tx) error {
		return DeleteVersion(ctx, tx, "f.txt", "2026-01-01_00-00-00-000000")
	}))

	_, err := cat.GetVersion(ctx, "f.txt", "2026-01-01_00-00-00-000000")
	require.True(t, errors.Is(err, vserr.ErrNotFound))
}

func TestDedupRefCountLifecycle(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	d := &DedupObject{Hash: "h1", BlobPath: "dedup_store/h1", OriginalSize: 10, StoredSize: 8, RefCount: 1, CreatedAt: time.Now().UTC()}
	require.NoError(t, cat.WithTx(ctx, func(tx *sql.Tx) error { return InsertDedup(ctx, tx, d) }))

	got, err := cat.DedupLookup(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, int64(1), got.RefCount)

	require.NoError(t, cat.WithTx(ctx, func(tx *sql.Tx) error { return IncrementDedupRef(ctx, tx, "h1") }))
	got, err = cat.DedupLookup(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, int64(2), got.RefCount)

	require.NoError(t, cat.WithTx(ctx, func(tx *sql.Tx) error { return DecrementDedupRef(ctx, tx, "h1") }))
	got, err = cat.DedupLookup(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, int64(1), got.RefCount)
}

func TestOrphanCandidatesAndActualRefCount(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	d := &DedupObject{Hash: "h2", BlobPath: "dedup_store/h2", RefCount: 0, CreatedAt: time.Now().UTC()}
	require.NoError(t, cat.WithTx(ctx, func(tx *sql.Tx) error { return InsertDedup(ctx, tx, d) }))

	candidates, err := cat.OrphanCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "h2", candidates[0].Hash)

	count, err := cat.ActualRefCount(ctx, "h2")
	require.NoError(t, err)
	require.Equal(t, int64(0), count)

	v := &FileVersion{Path: "f.txt", Timestamp: "2026-01-01_00-00-00-000000", Action: ActionCreated, DedupRef: "h2", CreatedAt: time.Now().UTC()}
	require.NoError(t, cat.WithTx(ctx, func(tx *sql.Tx) error { return InsertVersion(ctx, tx, v) }))

	count, err = cat.ActualRefCount(ctx, "h2")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestGlobalStats(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	d := &DedupObject{Hash: "h3", OriginalSize: 100, StoredSize: 40, RefCount: 1, CreatedAt: time.Now().UTC()}
	require.NoError(t, cat.WithTx(ctx, func(tx *sql.Tx) error { return InsertDedup(ctx, tx, d) }))

	v1 := &FileVersion{Path: "a.txt", Timestamp: "2026-01-01_00-00-00-000000", Action: ActionCreated, DedupRef: "h3", PlaintextSize: 100, CreatedAt: time.Now().UTC()}
	v2 := &FileVersion{Path: "b.txt", Timestamp: "2026-01-01_00-00-00-000000", Action: ActionCreated, BlobPath: "versions/b.txt", PlaintextSize: 50, CreatedAt: time.Now().UTC()}
	require.NoError(t, cat.WithTx(ctx, func(tx *sql.Tx) error { return InsertVersion(ctx, tx, v1) }))
	require.NoError(t, cat.WithTx(ctx, func(tx *sql.Tx) error { return InsertVersion(ctx, tx, v2) }))

	stats, err := cat.GlobalStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.TotalPaths)
	require.Equal(t, int64(2), stats.TotalVersions)
	require.Equal(t, int64(1), stats.TotalDedupObjects)
	require.Equal(t, int64(150), stats.TotalOriginalBytes)
	require.Equal(t, int64(90), stats.TotalStoredBytes)
	require.InDelta(t, 0.4, stats.SpaceSavedRatio(), 0.0001)
}

func TestFormatParseTimestampRoundTripAndOrdering(t *testing.T) {
	t1 := time.Date(2026, 3, 15, 10, 30, 0, 123456000, time.UTC)
	s1 := FormatTimestamp(t1)
	parsed, err := ParseTimestamp(s1)
	require.NoError(t, err)
	require.True(t, t1.Equal(parsed))

	t2 := t1.Add(time.Microsecond)
	s2 := FormatTimestamp(t2)
	require.Less(t, s1, s2, "lexicographic order must equal chronological order")
}

func TestAdvisoryLockExcludesConcurrentHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	lock1 := NewAdvisoryLock(path)
	lock2 := NewAdvisoryLock(path)

	unlock, err := lock1.TryLock(context.Background())
	require.NoError(t, err)

	_, err = lock2.TryLock(context.Background())
	require.True(t, errors.Is(err, vserr.ErrCatalogLocked))

	unlock()

	unlock2, err := lock2.TryLock(context.Background())
	require.NoError(t, err)
	unlock2()
}
