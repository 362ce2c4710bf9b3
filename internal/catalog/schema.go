package catalog

import (
	"database/sql"
	"fmt"
)

type columnDef struct {
	name string
	decl string
}

var fileVersionColumns = []columnDef{
	{"path", "TEXT NOT NULL"},
	{"timestamp", "TEXT NOT NULL"},
	{"action", "TEXT NOT NULL"},
	{"plaintext_size", "INTEGER NOT NULL DEFAULT 0"},
	{"plaintext_hash", "TEXT NOT NULL DEFAULT ''"},
	{"dedup_ref", "TEXT"},
	{"blob_path", "TEXT"},
	{"compressed", "INTEGER NOT NULL DEFAULT 0"},
	{"encrypted", "INTEGER NOT NULL DEFAULT 0"},
	{"encryption_nonce", "TEXT"},
	{"encryption_algorithm", "TEXT"},
	{"created_at", "TEXT NOT NULL DEFAULT ''"},
}

var dedupStoreColumns = []columnDef{
	{"hash", "TEXT NOT NULL"},
	{"blob_path", "TEXT NOT NULL DEFAULT ''"},
	{"original_size", "INTEGER NOT NULL DEFAULT 0"},
	{"stored_size", "INTEGER NOT NULL DEFAULT 0"},
	{"compressed", "INTEGER NOT NULL DEFAULT 0"},
	{"encrypted", "INTEGER NOT NULL DEFAULT 0"},
	{"encryption_nonce", "TEXT"},
	{"encryption_algorithm", "TEXT"},
	{"ref_count", "INTEGER NOT NULL DEFAULT 0"},
	{"created_at", "TEXT NOT NULL DEFAULT ''"},
}

// migrate ensures both tables and their indexes exist, adding any column
// that is missing in place. This is how an older backup root's catalog
// picks up columns a newer build of the engine expects, without a
// destructive rebuild.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS file_versions (id INTEGER PRIMARY KEY AUTOINCREMENT)`); err != nil {
		return fmt.Errorf("catalog: create file_versions: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS dedup_store (id INTEGER PRIMARY KEY AUTOINCREMENT)`); err != nil {
		return fmt.Errorf("catalog: create dedup_store: %w", err)
	}

	if err := ensureColumns(db, "file_versions", fileVersionColumns); err != nil {
		return err
	}
	if err := ensureColumns(db, "dedup_store", dedupStoreColumns); err != nil {
		return err
	}

	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_file_versions_path_ts ON file_versions(path, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_file_versions_path ON file_versions(path)`,
		`CREATE INDEX IF NOT EXISTS idx_file_versions_timestamp ON file_versions(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_file_versions_hash ON file_versions(plaintext_hash)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_dedup_store_hash ON dedup_store(hash)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("catalog: create index: %w", err)
		}
	}
	return nil
}

func ensureColumns(db *sql.DB, table string, cols []columnDef) error {
	existing, err := existingColumns(db, table)
	if err != nil {
		return err
	}
	for _, c := range cols {
		if existing[c.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, c.name, c.decl)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("catalog: add column %s.%s: %w", table, c.name, err)
		}
	}
	return nil
}

func existingColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("catalog: inspect %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  any
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &primaryKey); err != nil {
			return nil, fmt.Errorf("catalog: scan table_info: %w", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
