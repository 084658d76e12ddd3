package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/cj1354421348/OutlookManager/internal/account"
)

// EnsureSchema implements Store.EnsureSchema.
//
// Responsibilities, all idempotent:
//   - create the main table and tag table if absent
//   - add the tags/note columns to tables created by older versions,
//     backfilling note from the serialized payload column
//   - seed the tag table from the denormalized tags column, exactly once
//     (only while the tag table is empty, so restarts never duplicate rows)
//
// The ready flag is re-checked after acquiring the lock so concurrent
// callers do the work at most once per process.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if s.schemaReady {
		return nil
	}

	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaReady {
		return nil
	}

	noteAdded, err := s.migrateSchema(ctx)
	if err != nil {
		return err
	}

	if noteAdded {
		if err := s.backfillNotes(ctx); err != nil {
			return err
		}
	}

	s.schemaReady = true
	return nil
}

// migrateSchema creates and migrates the tables inside one transaction.
// Returns whether the note column was newly added.
func (s *SQLStore) migrateSchema(ctx context.Context) (noteAdded bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	// DDL below sticks to the subset Postgres and SQLite both accept.
	createMain := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %q (
		"email" VARCHAR(255) NOT NULL PRIMARY KEY,
		"data" TEXT NOT NULL,
		"checksum" CHAR(64) NOT NULL,
		"tags" TEXT,
		"note" TEXT,
		"is_deleted" BOOLEAN NOT NULL DEFAULT FALSE,
		"source" VARCHAR(32) NOT NULL DEFAULT 'unknown',
		"updated_at" TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, s.table)
	if _, err := tx.ExecContext(ctx, createMain); err != nil {
		return false, fmt.Errorf("failed to create table %s: %w", s.table, err)
	}

	hasTags, err := s.dialect.HasColumn(ctx, tx, s.table, "tags")
	if err != nil {
		return false, err
	}
	if !hasTags {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`ALTER TABLE %q ADD COLUMN "tags" TEXT`, s.table)); err != nil {
			return false, fmt.Errorf("failed to add tags column: %w", err)
		}
		query := fmt.Sprintf(`UPDATE %q SET "tags" = %s WHERE "tags" IS NULL`,
			s.table, s.dialect.Placeholder(1))
		if _, err := tx.ExecContext(ctx, query, serializeTags(nil)); err != nil {
			return false, fmt.Errorf("failed to initialize tags column: %w", err)
		}
	}

	hasNote, err := s.dialect.HasColumn(ctx, tx, s.table, "note")
	if err != nil {
		return false, err
	}
	if !hasNote {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`ALTER TABLE %q ADD COLUMN "note" TEXT`, s.table)); err != nil {
			return false, fmt.Errorf("failed to add note column: %w", err)
		}
		noteAdded = true
	}

	createTags := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %q (
		"email" VARCHAR(255) NOT NULL,
		"tag" VARCHAR(255) NOT NULL,
		PRIMARY KEY ("email", "tag")
	)`, s.tagsTable)
	if _, err := tx.ExecContext(ctx, createTags); err != nil {
		return false, fmt.Errorf("failed to create table %s: %w", s.tagsTable, err)
	}

	createIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q ("email")`,
		"idx_"+s.tagsTable+"_email", s.tagsTable)
	if _, err := tx.ExecContext(ctx, createIndex); err != nil {
		return false, fmt.Errorf("failed to create tag index: %w", err)
	}

	if err := s.seedTagTable(ctx, tx); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit schema transaction: %w", err)
	}
	return noteAdded, nil
}

// seedTagTable populates the tag relation from the legacy denormalized tags
// column. Runs only while the tag table is empty: seeding is a one-time
// migration, not a recurring reconciliation.
func (s *SQLStore) seedTagTable(ctx context.Context, tx *sql.Tx) error {
	var count int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %q`, s.tagsTable)
	if err := tx.QueryRowContext(ctx, countQuery).Scan(&count); err != nil {
		return fmt.Errorf("failed to count tag rows: %w", err)
	}
	if count > 0 {
		return nil
	}

	seedQuery := fmt.Sprintf(
		`SELECT "email", "tags" FROM %q WHERE "tags" IS NOT NULL AND "tags" != ''`, s.table)
	rows, err := tx.QueryContext(ctx, seedQuery)
	if err != nil {
		return fmt.Errorf("failed to read legacy tags: %w", err)
	}

	type pair struct{ email, tag string }
	var pairs []pair
	for rows.Next() {
		var email string
		var tags sql.NullString
		if err := rows.Scan(&email, &tags); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan legacy tags: %w", err)
		}
		if email == "" {
			continue
		}
		for _, tag := range deserializeTags(tags.String) {
			pairs = append(pairs, pair{email, tag})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating legacy tags: %w", err)
	}
	rows.Close()

	insertQuery := fmt.Sprintf(`
	INSERT INTO %q ("email", "tag") VALUES (%s, %s)
	ON CONFLICT ("email", "tag") DO NOTHING
	`, s.tagsTable, s.dialect.Placeholder(1), s.dialect.Placeholder(2))
	for _, p := range pairs {
		if _, err := tx.ExecContext(ctx, insertQuery, p.email, p.tag); err != nil {
			return fmt.Errorf("failed to seed tag row: %w", err)
		}
	}

	if len(pairs) > 0 {
		s.logger.Printf("Seeded %d tag rows from legacy tags column", len(pairs))
	}
	return nil
}

// backfillNotes populates the freshly added note column by parsing each
// row's serialized payload. Rows with unparsable payloads are skipped.
func (s *SQLStore) backfillNotes(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin backfill transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`SELECT "email", "data" FROM %q`, s.table)
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to read rows for note backfill: %w", err)
	}

	type update struct{ email, note string }
	var updates []update
	for rows.Next() {
		var email string
		var data sql.NullString
		if err := rows.Scan(&email, &data); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan row for note backfill: %w", err)
		}
		if email == "" || data.String == "" {
			continue
		}

		var payload map[string]any
		if err := json.Unmarshal([]byte(data.String), &payload); err != nil {
			continue
		}
		if note := account.NormalizeNote(payload[account.FieldNote]); note != "" {
			updates = append(updates, update{email, note})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating rows for note backfill: %w", err)
	}
	rows.Close()

	for _, u := range updates {
		updateQuery := fmt.Sprintf(`UPDATE %q SET "note" = %s WHERE "email" = %s`,
			s.table, s.dialect.Placeholder(1), s.dialect.Placeholder(2))
		if _, err := tx.ExecContext(ctx, updateQuery, u.note, u.email); err != nil {
			return fmt.Errorf("failed to backfill note for %s: %w", u.email, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit note backfill: %w", err)
	}
	if len(updates) > 0 {
		s.logger.Printf("Backfilled note column for %d rows", len(updates))
	}
	return nil
}
