package remote

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Dialect abstracts the few places Postgres and SQLite disagree. The DDL
// itself is written in the portable subset both engines accept.
type Dialect interface {
	// Name identifies the dialect ("postgres" or "sqlite").
	Name() string

	// Placeholder returns the bind parameter for 1-based position n.
	Placeholder(n int) string

	// HasColumn reports whether table has the named column. It queries
	// through the schema transaction so tables created earlier in the
	// same transaction are visible.
	HasColumn(ctx context.Context, tx *sql.Tx, table, column string) (bool, error)
}

type postgresDialect struct{}

// Postgres returns the dialect for lib/pq connections.
func Postgres() Dialect { return postgresDialect{} }

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgresDialect) HasColumn(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	const query = `SELECT 1 FROM information_schema.columns WHERE table_name = $1 AND column_name = $2`
	var one int
	err := tx.QueryRowContext(ctx, query, table, column).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to inspect column %s.%s: %w", table, column, err)
	}
	return true, nil
}

type sqliteDialect struct{}

// SQLite returns the dialect for ncruces/go-sqlite3 connections.
func SQLite() Dialect { return sqliteDialect{} }

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) Placeholder(n int) string { return "?" }

func (sqliteDialect) HasColumn(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	const query = `SELECT 1 FROM pragma_table_info(?) WHERE name = ?`
	var one int
	err := tx.QueryRowContext(ctx, query, table, column).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to inspect column %s.%s: %w", table, column, err)
	}
	return true, nil
}

// placeholders renders a comma-separated bind list for positions
// [start, start+count).
func placeholders(d Dialect, start, count int) string {
	parts := make([]string, count)
	for i := 0; i < count; i++ {
		parts[i] = d.Placeholder(start + i)
	}
	return strings.Join(parts, ", ")
}
