package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// tableNamePattern matches the table names we are willing to interpolate
// into SQL. Everything else falls back to the default.
var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// DefaultTable is the main table name used when none is configured.
const DefaultTable = "account_backups"

// chunkSize bounds the number of rows per batched tag statement.
const chunkSize = 500

// SQLStore implements Store on top of database/sql.
type SQLStore struct {
	db        *sql.DB
	dialect   Dialect
	table     string
	tagsTable string
	logger    *log.Logger

	schemaMu    sync.Mutex
	schemaReady bool
}

// New wraps an open database connection in an SQLStore.
//
// The table name must match [A-Za-z0-9_]+; invalid names fall back to
// DefaultTable with a warning, mirroring how a misconfigured deployment
// should degrade rather than fail. The tag table is derived as
// "<table>_tags".
//
// If logger is nil, a default logger writing to stderr is used.
func New(db *sql.DB, dialect Dialect, table string, logger *log.Logger) *SQLStore {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	if table == "" {
		table = DefaultTable
	} else if !tableNamePattern.MatchString(table) {
		logger.Printf("WARNING: invalid table name %q, falling back to %s", table, DefaultTable)
		table = DefaultTable
	}
	return &SQLStore{
		db:        db,
		dialect:   dialect,
		table:     table,
		tagsTable: table + "_tags",
		logger:    logger,
	}
}

// OpenPostgres connects to Postgres via lib/pq.
//
// The DSN is either a URL (postgres://...) or a key=value string; both are
// passed through to the driver unchanged.
func OpenPostgres(dsn, table string, logger *log.Logger) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return New(db, Postgres(), table, logger), nil
}

// OpenSQLite opens an embedded SQLite database at path, creating parent
// directories as needed. WAL mode is enabled for concurrent reads.
func OpenSQLite(path, table string, logger *log.Logger) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return New(db, SQLite(), table, logger), nil
}

// RawDB returns the underlying sql.DB connection.
func (s *SQLStore) RawDB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.db = nil
	return nil
}

// FetchState implements Store.FetchState.
func (s *SQLStore) FetchState(ctx context.Context) (map[string]State, error) {
	query := fmt.Sprintf(
		`SELECT "email", "checksum", "is_deleted", "tags", "note" FROM %q`, s.table)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch remote state: %w", err)
	}
	defer rows.Close()

	state := make(map[string]State)
	for rows.Next() {
		var (
			email, checksum string
			isDeleted       bool
			tags, note      sql.NullString
		)
		if err := rows.Scan(&email, &checksum, &isDeleted, &tags, &note); err != nil {
			return nil, fmt.Errorf("failed to scan remote state row: %w", err)
		}
		state[email] = State{
			Checksum:   checksum,
			IsDeleted:  isDeleted,
			ColumnTags: deserializeTags(tags.String),
			Note:       nullableString(note),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating remote state: %w", err)
	}
	return state, nil
}

// FetchRows implements Store.FetchRows.
func (s *SQLStore) FetchRows(ctx context.Context) ([]Row, error) {
	query := fmt.Sprintf(
		`SELECT "email", "data", "checksum", "is_deleted", "tags", "note" FROM %q`, s.table)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch remote rows: %w", err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		var (
			email, data, checksum string
			isDeleted             bool
			tags, note            sql.NullString
		)
		if err := rows.Scan(&email, &data, &checksum, &isDeleted, &tags, &note); err != nil {
			return nil, fmt.Errorf("failed to scan remote row: %w", err)
		}
		result = append(result, Row{
			Email:      email,
			Data:       data,
			Checksum:   checksum,
			IsDeleted:  isDeleted,
			ColumnTags: deserializeTags(tags.String),
			Note:       nullableString(note),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating remote rows: %w", err)
	}
	return result, nil
}

// FetchTags implements Store.FetchTags. Emails are queried in chunks to
// keep bind parameter counts bounded.
func (s *SQLStore) FetchTags(ctx context.Context, emails []string) (map[string][]string, error) {
	tags := make(map[string][]string)

	for _, chunk := range chunked(emails, chunkSize) {
		query := fmt.Sprintf(
			`SELECT "email", "tag" FROM %q WHERE "email" IN (%s)`,
			s.tagsTable, placeholders(s.dialect, 1, len(chunk)))

		args := make([]any, len(chunk))
		for i, email := range chunk {
			args[i] = email
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch tags: %w", err)
		}
		for rows.Next() {
			var email, tag string
			if err := rows.Scan(&email, &tag); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan tag row: %w", err)
			}
			if tag != "" {
				tags[email] = append(tags[email], tag)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error iterating tag rows: %w", err)
		}
		rows.Close()
	}

	for email := range tags {
		sort.Strings(tags[email])
	}
	return tags, nil
}

// Begin implements Store.Begin.
func (s *SQLStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqlTx{store: s, ctx: ctx, tx: tx}, nil
}

// sqlTx implements Tx over a database/sql transaction.
type sqlTx struct {
	store *SQLStore
	ctx   context.Context
	tx    *sql.Tx
	done  bool
}

func (t *sqlTx) Upsert(email string, rec Upsert) error {
	d := t.store.dialect
	query := fmt.Sprintf(`
	INSERT INTO %q ("email", "data", "checksum", "tags", "note", "is_deleted", "source")
	VALUES (%s, FALSE, %s)
	ON CONFLICT ("email") DO UPDATE SET
		"data" = excluded."data",
		"checksum" = excluded."checksum",
		"tags" = excluded."tags",
		"note" = excluded."note",
		"is_deleted" = FALSE,
		"source" = excluded."source",
		"updated_at" = CURRENT_TIMESTAMP
	`, t.store.table, placeholders(d, 1, 5), d.Placeholder(6))

	_, err := t.tx.ExecContext(t.ctx, query,
		email, rec.Data, rec.Checksum, serializeTags(rec.Tags), nullArg(rec.Note), rec.Source)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", email, err)
	}
	return nil
}

func (t *sqlTx) MarkDeleted(email, source string) error {
	d := t.store.dialect
	query := fmt.Sprintf(`
	UPDATE %q
	SET "is_deleted" = TRUE,
		"tags" = %s,
		"note" = NULL,
		"source" = %s,
		"updated_at" = CURRENT_TIMESTAMP
	WHERE "email" = %s
	`, t.store.table, d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))

	if _, err := t.tx.ExecContext(t.ctx, query, serializeTags(nil), source, email); err != nil {
		return fmt.Errorf("failed to mark %s deleted: %w", email, err)
	}
	return nil
}

func (t *sqlTx) ReconcileTags(email string, existing, target []string) error {
	existingSet := toSet(existing)
	targetSet := toSet(target)

	var toAdd, toRemove []string
	for tag := range targetSet {
		if _, ok := existingSet[tag]; !ok {
			toAdd = append(toAdd, tag)
		}
	}
	for tag := range existingSet {
		if _, ok := targetSet[tag]; !ok {
			toRemove = append(toRemove, tag)
		}
	}
	sort.Strings(toAdd)
	sort.Strings(toRemove)

	d := t.store.dialect
	for _, chunk := range chunked(toAdd, chunkSize) {
		values := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*2)
		for i, tag := range chunk {
			values[i] = fmt.Sprintf("(%s, %s)", d.Placeholder(i*2+1), d.Placeholder(i*2+2))
			args = append(args, email, tag)
		}
		query := fmt.Sprintf(`
		INSERT INTO %q ("email", "tag") VALUES %s
		ON CONFLICT ("email", "tag") DO NOTHING
		`, t.store.tagsTable, strings.Join(values, ", "))

		if _, err := t.tx.ExecContext(t.ctx, query, args...); err != nil {
			return fmt.Errorf("failed to add tags for %s: %w", email, err)
		}
	}

	for _, chunk := range chunked(toRemove, chunkSize) {
		query := fmt.Sprintf(
			`DELETE FROM %q WHERE "email" = %s AND "tag" IN (%s)`,
			t.store.tagsTable, d.Placeholder(1), placeholders(d, 2, len(chunk)))

		args := make([]any, 0, len(chunk)+1)
		args = append(args, email)
		for _, tag := range chunk {
			args = append(args, tag)
		}
		if _, err := t.tx.ExecContext(t.ctx, query, args...); err != nil {
			return fmt.Errorf("failed to remove tags for %s: %w", email, err)
		}
	}

	return nil
}

func (t *sqlTx) Commit() error {
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *sqlTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}

// serializeTags renders the denormalized tags column as a sorted JSON array.
func serializeTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	} else {
		tags = append([]string(nil), tags...)
		sort.Strings(tags)
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// deserializeTags parses a tags column value. Legacy rows stored a plain
// comma-separated list instead of a JSON array.
func deserializeTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var parsed []string
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		parsed = strings.Split(raw, ",")
	}

	var tags []string
	for _, tag := range parsed {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)
	return tags
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullArg(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item != "" {
			set[item] = struct{}{}
		}
	}
	return set
}

func chunked(items []string, size int) [][]string {
	if len(items) == 0 {
		return nil
	}
	var chunks [][]string
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
