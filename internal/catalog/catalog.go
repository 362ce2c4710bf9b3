package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/killianrms/vstore/internal/vserr"
)

// Catalog is the durable metadata index described in §4.D: a single
// transactional database keyed into file_versions and dedup_store.
type Catalog struct {
	db *sql.DB
}

// Open opens (creating if absent) the catalog file at path and runs the
// additive schema migration.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	// The catalog is accessed by one agent process at a time (see the
	// advisory lock in lock.go for cross-process coordination), so a
	// single connection keeps all writes serialized through one handle.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// Ping checks that the underlying database connection is alive, for use
// by health checks.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// WithTx runs fn inside a single database transaction, committing on
// success and rolling back on error or panic.
func (c *Catalog) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}

// InsertVersion records a new file version.
func InsertVersion(ctx context.Context, tx *sql.Tx, v *FileVersion) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO file_versions
			(path, timestamp, action, plaintext_size, plaintext_hash, dedup_ref, blob_path,
			 compressed, encrypted, encryption_nonce, encryption_algorithm, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		v.Path, v.Timestamp, string(v.Action), v.PlaintextSize, v.PlaintextHash,
		nullable(v.DedupRef), nullable(v.BlobPath),
		v.Compressed, v.Encrypted, nullable(v.EncryptionNonce), nullable(v.EncryptionAlgorithm),
		v.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("catalog: insert version: %w", err)
	}
	return nil
}

// LatestVersion returns the newest version of path, or vserr.ErrNotFound.
func (c *Catalog) LatestVersion(ctx context.Context, path string) (*FileVersion, error) {
	row := c.db.QueryRowContext(ctx, versionSelect+` WHERE path = ? ORDER BY timestamp DESC LIMIT 1`, path)
	return scanVersion(row)
}

// GetVersion returns the version of path at timestamp, or vserr.ErrNotFound.
func (c *Catalog) GetVersion(ctx context.Context, path, timestamp string) (*FileVersion, error) {
	row := c.db.QueryRowContext(ctx, versionSelect+` WHERE path = ? AND timestamp = ?`, path, timestamp)
	return scanVersion(row)
}

// VersionsForPath returns every version of path, newest first.
func (c *Catalog) VersionsForPath(ctx context.Context, path string) ([]FileVersion, error) {
	rows, err := c.db.QueryContext(ctx, versionSelect+` WHERE path = ? ORDER BY timestamp DESC`, path)
	if err != nil {
		return nil, fmt.Errorf("catalog: list versions: %w", err)
	}
	defer rows.Close()
	return scanVersions(rows)
}

// DistinctPaths returns every logical path with at least one version.
func (c *Catalog) DistinctPaths(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT path FROM file_versions`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list paths: %w", err)
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// DeleteVersion removes one version record (used by retention once GFS
// has decided it is not in the keep-set).
func DeleteVersion(ctx context.Context, tx *sql.Tx, path, timestamp string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM file_versions WHERE path = ? AND timestamp = ?`, path, timestamp)
	if err != nil {
		return fmt.Errorf("catalog: delete version: %w", err)
	}
	return nil
}

const versionSelect = `
	SELECT path, timestamp, action, plaintext_size, plaintext_hash, dedup_ref, blob_path,
	       compressed, encrypted, encryption_nonce, encryption_algorithm, created_at
	FROM file_versions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*FileVersion, error) {
	var (
		v                          FileVersion
		action                     string
		dedupRef, blobPath         sql.NullString
		nonce, algo                sql.NullString
		createdAt                  string
	)
	err := row.Scan(&v.Path, &v.Timestamp, &action, &v.PlaintextSize, &v.PlaintextHash,
		&dedupRef, &blobPath, &v.Compressed, &v.Encrypted, &nonce, &algo, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vserr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: scan version: %w", err)
	}
	v.Action = Action(action)
	v.DedupRef = dedupRef.String
	v.BlobPath = blobPath.String
	v.EncryptionNonce = nonce.String
	v.EncryptionAlgorithm = algo.String
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		v.CreatedAt = t
	}
	return &v, nil
}

func scanVersions(rows *sql.Rows) ([]FileVersion, error) {
	var out []FileVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
