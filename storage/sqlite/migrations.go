package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hupe1980/localvec/storage/migrate"
)

func execMigration(query string) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query)
		return err
	}
}

// Migrations is the schema history of the SQLite backend.
var Migrations = migrate.MustNew(
	migrate.Migration[*sql.Tx]{
		Version: 1,
		Name:    "create_record_tables",
		Up: execMigration(`
			CREATE TABLE IF NOT EXISTS collections (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				dimension INTEGER NOT NULL,
				created_at INTEGER NOT NULL DEFAULT 0
			);

			CREATE TABLE IF NOT EXISTS documents (
				collection TEXT NOT NULL,
				id TEXT NOT NULL,
				metadata TEXT,
				created_at INTEGER NOT NULL DEFAULT 0,
				updated_at INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (collection, id)
			);

			CREATE TABLE IF NOT EXISTS vectors (
				collection TEXT NOT NULL,
				id TEXT NOT NULL,
				embedding BLOB NOT NULL,
				PRIMARY KEY (collection, id)
			);

			CREATE TABLE IF NOT EXISTS indexes (
				collection TEXT PRIMARY KEY,
				data BLOB NOT NULL,
				updated_at INTEGER NOT NULL DEFAULT 0
			);
		`),
	},
	migrate.Migration[*sql.Tx]{
		Version: 2,
		Name:    "collection_metric",
		Up:      execMigration(`ALTER TABLE collections ADD COLUMN metric TEXT NOT NULL DEFAULT 'cosine'`),
	},
	migrate.Migration[*sql.Tx]{
		Version: 3,
		Name:    "create_wal_entries",
		Up: execMigration(`
			CREATE TABLE IF NOT EXISTS wal_entries (
				collection TEXT NOT NULL,
				seq INTEGER NOT NULL,
				op INTEGER NOT NULL,
				document_id TEXT NOT NULL DEFAULT '',
				vector BLOB,
				metadata TEXT,
				ts INTEGER NOT NULL,
				committed INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (collection, seq)
			);
		`),
	},
	migrate.Migration[*sql.Tx]{
		Version: 4,
		Name:    "index_documents_updated_at",
		Up:      execMigration(`CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents (collection, updated_at)`),
	},
)

func migrationName(version int) string {
	plan, err := Migrations.Plan(version-1, version)
	if err != nil || len(plan) == 0 {
		return ""
	}

	return plan[len(plan)-1].Name
}

func recordVersion(ctx context.Context, tx *sql.Tx, version int) error {
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		version, migrationName(version), time.Now().UnixNano()); err != nil {
		return fmt.Errorf("sqlite: record migration %d: %w", version, err)
	}

	return nil
}
