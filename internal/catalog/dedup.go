package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/killianrms/vstore/internal/vserr"
)

const dedupSelect = `
	SELECT hash, blob_path, original_size, stored_size, compressed, encrypted,
	       encryption_nonce, encryption_algorithm, ref_count, created_at
	FROM dedup_store`

// DedupLookup returns the dedup record for hash, or vserr.ErrNotFound.
func (c *Catalog) DedupLookup(ctx context.Context, hash string) (*DedupObject, error) {
	row := c.db.QueryRowContext(ctx, dedupSelect+` WHERE hash = ?`, hash)
	return scanDedup(row)
}

// InsertDedup records a new dedup object (first sighting of hash).
func InsertDedup(ctx context.Context, tx *sql.Tx, d *DedupObject) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO dedup_store
			(hash, blob_path, original_size, stored_size, compressed, encrypted,
			 encryption_nonce, encryption_algorithm, ref_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.Hash, d.BlobPath, d.OriginalSize, d.StoredSize, d.Compressed, d.Encrypted,
		nullable(d.EncryptionNonce), nullable(d.EncryptionAlgorithm), d.RefCount,
		d.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("catalog: insert dedup object: %w", err)
	}
	return nil
}

// IncrementDedupRef bumps ref_count by one on a dedup hit.
func IncrementDedupRef(ctx context.Context, tx *sql.Tx, hash string) error {
	res, err := tx.ExecContext(ctx, `UPDATE dedup_store SET ref_count = ref_count + 1 WHERE hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("catalog: increment ref_count: %w", err)
	}
	return checkAffected(res)
}

// DecrementDedupRef lowers ref_count by one (retention removing a
// referencing version). It never deletes the dedup blob itself; GC does.
func DecrementDedupRef(ctx context.Context, tx *sql.Tx, hash string) error {
	res, err := tx.ExecContext(ctx, `UPDATE dedup_store SET ref_count = ref_count - 1 WHERE hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("catalog: decrement ref_count: %w", err)
	}
	return checkAffected(res)
}

// RepairDedupRef overwrites the stored ref_count with the authoritative
// value GC just recomputed by scanning file_versions.
func RepairDedupRef(ctx context.Context, tx *sql.Tx, hash string, count int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE dedup_store SET ref_count = ? WHERE hash = ?`, count, hash)
	if err != nil {
		return fmt.Errorf("catalog: repair ref_count: %w", err)
	}
	return nil
}

// DeleteDedup removes the dedup record for hash (GC only, after the blob
// is already gone from disk).
func DeleteDedup(ctx context.Context, tx *sql.Tx, hash string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM dedup_store WHERE hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("catalog: delete dedup object: %w", err)
	}
	return nil
}

// OrphanCandidates returns dedup records whose stored ref_count has
// dropped to zero or below — GC's starting point for reconciliation.
func (c *Catalog) OrphanCandidates(ctx context.Context) ([]DedupObject, error) {
	rows, err := c.db.QueryContext(ctx, dedupSelect+` WHERE ref_count <= 0`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list orphan candidates: %w", err)
	}
	defer rows.Close()

	var out []DedupObject
	for rows.Next() {
		d, err := scanDedup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ActualRefCount recomputes the true reference count for hash by counting
// file_versions rows, the authoritative source of truth per §4.I.
func (c *Catalog) ActualRefCount(ctx context.Context, hash string) (int64, error) {
	var count int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_versions WHERE dedup_ref = ?`, hash).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("catalog: count refs: %w", err)
	}
	return count, nil
}

func scanDedup(row rowScanner) (*DedupObject, error) {
	var (
		d           DedupObject
		nonce, algo sql.NullString
		createdAt   string
	)
	err := row.Scan(&d.Hash, &d.BlobPath, &d.OriginalSize, &d.StoredSize, &d.Compressed, &d.Encrypted,
		&nonce, &algo, &d.RefCount, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vserr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: scan dedup object: %w", err)
	}
	d.EncryptionNonce = nonce.String
	d.EncryptionAlgorithm = algo.String
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		d.CreatedAt = t
	}
	return &d, nil
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("catalog: rows affected: %w", err)
	}
	if n == 0 {
		return vserr.ErrNotFound
	}
	return nil
}
