// Package remote provides the relational mirror of the local accounts file.
//
// The reconciliation engine talks to the remote store through the Store
// interface, so the concrete database (Postgres in production, embedded
// SQLite for local mirrors and tests) can be swapped without touching the
// push/pull algorithms.
//
// Schema:
//   - main table keyed by email: serialized payload, checksum, denormalized
//     tags column, note, is_deleted flag, source tag, updated_at
//   - tag table: composite-key (email, tag) relation, indexed on email
//
// Rows marked is_deleted are tombstones: they carry no authoritative payload
// and exist only to propagate removals.
package remote

import (
	"context"
)

// State summarizes one remote row for push change detection.
type State struct {
	// Checksum is the stored SHA-256 digest of the row's payload.
	Checksum string

	// IsDeleted marks the row as a tombstone.
	IsDeleted bool

	// ColumnTags holds the denormalized tags column, used as a bootstrap
	// fallback when the tag table has no rows for this email yet.
	ColumnTags []string

	// Note is the note column value, nil when NULL.
	Note *string
}

// Row is one full remote row as fetched during pull.
type Row struct {
	Email     string
	Data      string // serialized payload JSON
	Checksum  string
	IsDeleted bool

	// ColumnTags holds the denormalized tags column. The tag table wins
	// over this column when it has rows for the email.
	ColumnTags []string

	// Note is the note column value, nil when NULL.
	Note *string
}

// Upsert carries the values written for one email during push.
type Upsert struct {
	Data     string
	Checksum string
	Tags     []string // written to the denormalized tags column
	Note     *string
	Source   string
}

// Store is the remote account mirror.
//
// FetchState, FetchRows and FetchTags are read paths and run outside any
// transaction. All writes go through a Tx so a push either commits in full
// or leaves the remote store untouched.
type Store interface {
	// EnsureSchema creates or migrates the remote tables. Idempotent and
	// safe to call concurrently; the work runs at most once per process.
	EnsureSchema(ctx context.Context) error

	// FetchState returns the per-email push summary for every remote row,
	// tombstones included.
	FetchState(ctx context.Context) (map[string]State, error)

	// FetchRows returns every remote row for pull.
	FetchRows(ctx context.Context) ([]Row, error)

	// FetchTags returns the tag table rows for the given emails. Emails
	// with no rows are absent from the result.
	FetchTags(ctx context.Context, emails []string) (map[string][]string, error)

	// Begin starts a write transaction.
	Begin(ctx context.Context) (Tx, error)

	// Close releases the underlying connection.
	Close() error
}

// Tx is a remote write transaction. Rollback after Commit is a no-op, so
// `defer tx.Rollback()` is always safe.
type Tx interface {
	// Upsert inserts or replaces the row for email, clearing any tombstone.
	Upsert(email string, rec Upsert) error

	// MarkDeleted turns the row for email into a tombstone: is_deleted set,
	// tags column emptied, note cleared. The payload column is retained for
	// audit history.
	MarkDeleted(email, source string) error

	// ReconcileTags applies set-difference tag mutations for email:
	// inserts target−existing, deletes existing−target. No-op when the
	// sets are equal.
	ReconcileTags(email string, existing, target []string) error

	Commit() error
	Rollback() error
}
