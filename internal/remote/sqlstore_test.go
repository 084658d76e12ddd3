package remote

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"reflect"
	"testing"
)

// setupTestStore creates a temporary SQLite-backed store for testing.
func setupTestStore(t *testing.T) *SQLStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := OpenSQLite(dbPath, "account_backups", log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("failed to ensure schema: %v", err)
	}
	return store
}

func upsertTest(t *testing.T, store *SQLStore, email string, rec Upsert) {
	t.Helper()

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("failed to begin tx: %v", err)
	}
	defer tx.Rollback()

	if err := tx.Upsert(email, rec); err != nil {
		t.Fatalf("failed to upsert %s: %v", email, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Repeat with the ready flag reset to exercise the real SQL path.
	for i := 0; i < 3; i++ {
		store.schemaReady = false
		if err := store.EnsureSchema(ctx); err != nil {
			t.Fatalf("EnsureSchema run %d failed: %v", i, err)
		}
	}
}

func TestNewFallsBackOnInvalidTableName(t *testing.T) {
	store := setupTestStore(t)

	bad := New(store.RawDB(), SQLite(), `accounts"; DROP TABLE x --`, log.New(io.Discard, "", 0))
	if bad.table != DefaultTable {
		t.Errorf("expected fallback to %s, got %s", DefaultTable, bad.table)
	}
	if bad.tagsTable != DefaultTable+"_tags" {
		t.Errorf("unexpected tags table %s", bad.tagsTable)
	}
}

func TestUpsertAndFetchState(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	note := "a note"
	upsertTest(t, store, "alice@example.com", Upsert{
		Data:     `{"client_id":"cid"}`,
		Checksum: "abc",
		Tags:     []string{"work"},
		Note:     &note,
		Source:   "test",
	})

	state, err := store.FetchState(ctx)
	if err != nil {
		t.Fatalf("FetchState failed: %v", err)
	}
	st, ok := state["alice@example.com"]
	if !ok {
		t.Fatal("expected alice in remote state")
	}
	if st.Checksum != "abc" || st.IsDeleted {
		t.Errorf("unexpected state: %+v", st)
	}
	if !reflect.DeepEqual(st.ColumnTags, []string{"work"}) {
		t.Errorf("unexpected column tags: %v", st.ColumnTags)
	}
	if st.Note == nil || *st.Note != "a note" {
		t.Errorf("unexpected note: %v", st.Note)
	}
}

func TestUpsertClearsTombstone(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	upsertTest(t, store, "bob@example.com", Upsert{Data: "{}", Checksum: "v1", Source: "test"})

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.MarkDeleted("bob@example.com", "test"); err != nil {
		t.Fatalf("MarkDeleted failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	state, err := store.FetchState(ctx)
	if err != nil {
		t.Fatalf("FetchState failed: %v", err)
	}
	if !state["bob@example.com"].IsDeleted {
		t.Fatal("expected tombstone after MarkDeleted")
	}

	upsertTest(t, store, "bob@example.com", Upsert{Data: "{}", Checksum: "v2", Source: "test"})

	state, err = store.FetchState(ctx)
	if err != nil {
		t.Fatalf("FetchState failed: %v", err)
	}
	st := state["bob@example.com"]
	if st.IsDeleted {
		t.Error("expected upsert to clear tombstone")
	}
	if st.Checksum != "v2" {
		t.Errorf("expected checksum v2, got %s", st.Checksum)
	}
}

func TestReconcileTags(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	apply := func(existing, target []string) {
		t.Helper()
		tx, err := store.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer tx.Rollback()
		if err := tx.ReconcileTags("carol@example.com", existing, target); err != nil {
			t.Fatalf("ReconcileTags failed: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	apply(nil, []string{"b", "c"})

	tags, err := store.FetchTags(ctx, []string{"carol@example.com"})
	if err != nil {
		t.Fatalf("FetchTags failed: %v", err)
	}
	if !reflect.DeepEqual(tags["carol@example.com"], []string{"b", "c"}) {
		t.Fatalf("unexpected tags after seed: %v", tags["carol@example.com"])
	}

	// {b,c} -> {a,b}: adds a, removes c, leaves b alone.
	apply([]string{"b", "c"}, []string{"a", "b"})

	tags, err = store.FetchTags(ctx, []string{"carol@example.com"})
	if err != nil {
		t.Fatalf("FetchTags failed: %v", err)
	}
	if !reflect.DeepEqual(tags["carol@example.com"], []string{"a", "b"}) {
		t.Errorf("expected exactly {a,b}, got %v", tags["carol@example.com"])
	}
}

func TestRollbackLeavesStoreUntouched(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.Upsert("dave@example.com", Upsert{Data: "{}", Checksum: "x", Source: "test"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	state, err := store.FetchState(ctx)
	if err != nil {
		t.Fatalf("FetchState failed: %v", err)
	}
	if _, ok := state["dave@example.com"]; ok {
		t.Error("rolled-back upsert is visible")
	}
}

func TestDeserializeTags(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"json array", `["b","a"]`, []string{"a", "b"}},
		{"legacy comma list", "work, home", []string{"home", "work"}},
		{"empty", "", nil},
		{"blank entries dropped", `[" ", "x"]`, []string{"x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deserializeTags(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("deserializeTags(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
