package database

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
)

//go:embed schema.sql
var schemaSQL string

// schemaLockID serializes schema upgrades across engine instances sharing a
// database.
const schemaLockID = 0x5c1be

// schemaStep is one versioned schema change. Statements are idempotent so
// databases created before version tracking upgrade cleanly.
type schemaStep struct {
	version int
	name    string
	sql     string
}

var schemaSteps = []schemaStep{
	{1, "base schema", schemaSQL},
	{2, "transcripts.speakers", `ALTER TABLE transcripts ADD COLUMN IF NOT EXISTS speakers int NOT NULL DEFAULT 0`},
	{3, "transcripts.word_count", `ALTER TABLE transcripts ADD COLUMN IF NOT EXISTS word_count int NOT NULL DEFAULT 0`},
	{4, "transcripts full-text index", `CREATE INDEX IF NOT EXISTS idx_transcripts_text_fts ON transcripts USING gin (to_tsvector('simple', text))`},
}

// InitSchema brings the database up to the latest schema version. Each step
// commits together with its version bump.
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version int NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	current, err := db.schemaVersion(ctx)
	if err != nil {
		return err
	}
	applied := 0
	for _, step := range schemaSteps {
		if step.version <= current {
			continue
		}
		err := pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
				return err
			}
			// another instance may have applied it while we waited
			var v int
			if err := tx.QueryRow(ctx, `SELECT coalesce(max(version), 0) FROM schema_version`).Scan(&v); err != nil {
				return err
			}
			if v >= step.version {
				return nil
			}
			if _, err := tx.Exec(ctx, step.sql); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `DELETE FROM schema_version`); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, step.version)
			return err
		})
		if err != nil {
			return fmt.Errorf("schema step %d (%s): %w", step.version, step.name, err)
		}
		db.log.Info().Int("version", step.version).Str("step", step.name).Msg("schema upgraded")
		applied++
	}
	if applied == 0 {
		db.log.Debug().Int("version", current).Msg("schema up to date")
	}
	return nil
}

func (db *DB) schemaVersion(ctx context.Context) (int, error) {
	var v int
	err := db.Pool.QueryRow(ctx, `SELECT coalesce(max(version), 0) FROM schema_version`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
