package service

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/cj1354421348/OutlookManager/internal/account"
	"github.com/cj1354421348/OutlookManager/internal/remote"
	"github.com/cj1354421348/OutlookManager/internal/store"
	"github.com/cj1354421348/OutlookManager/internal/sync"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// setupTestService creates a service over a temp accounts file with sync
// disabled.
func setupTestService(t *testing.T) *Service {
	t.Helper()

	fs := store.New(filepath.Join(t.TempDir(), "accounts.json"), discardLogger())
	syncer := sync.New(nil, sync.PreferLocal, discardLogger())
	t.Cleanup(syncer.Close)
	return New(fs, syncer, discardLogger())
}

// setupSyncedService creates a service wired to a real SQLite-backed
// syncer.
func setupSyncedService(t *testing.T) (*Service, *sync.Synchronizer, *remote.SQLStore) {
	t.Helper()

	dir := t.TempDir()
	dbStore, err := remote.OpenSQLite(filepath.Join(dir, "mirror.db"), "account_backups", discardLogger())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { dbStore.Close() })

	syncer := sync.New(dbStore, sync.PreferLocal, discardLogger())
	t.Cleanup(syncer.Close)

	fs := store.New(filepath.Join(dir, "accounts.json"), discardLogger())
	return New(fs, syncer, discardLogger()), syncer, dbStore
}

func TestRegisterAndCredentials(t *testing.T) {
	svc := setupTestService(t)

	if err := svc.Register("alice@example.com", "rt", "cid", []string{"work", "work", " home "}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	creds, err := svc.Credentials("alice@example.com", false)
	if err != nil {
		t.Fatalf("Credentials failed: %v", err)
	}
	if creds.RefreshToken != "rt" || creds.ClientID != "cid" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
	if !reflect.DeepEqual(creds.Tags, []string{"home", "work"}) {
		t.Errorf("expected canonical tags, got %v", creds.Tags)
	}

	if err := svc.Register("bad@example.com", "", "cid", nil); !errors.Is(err, ErrIncomplete) {
		t.Errorf("expected ErrIncomplete, got %v", err)
	}
	if _, err := svc.Credentials("nobody@example.com", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCredentialsRequireActive(t *testing.T) {
	svc := setupTestService(t)

	if err := svc.Register("alice@example.com", "rt", "cid", nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := svc.store.Update("alice@example.com", func(rec account.Record) (account.Record, error) {
		rec[account.FieldStatus] = "expired"
		return rec, nil
	}); err != nil {
		t.Fatalf("failed to expire account: %v", err)
	}

	if _, err := svc.Credentials("alice@example.com", true); !errors.Is(err, ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}
	// Without requireActive the credentials are still served.
	if _, err := svc.Credentials("alice@example.com", false); err != nil {
		t.Errorf("expected credentials despite expiry, got %v", err)
	}
}

func TestListFilters(t *testing.T) {
	svc := setupTestService(t)

	if err := svc.Register("alice@example.com", "rt", "cid", []string{"work"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := svc.Register("bob@corp.example.com", "rt", "cid", []string{"home"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := svc.store.SaveOne("broken@example.com", account.Record{}); err != nil {
		t.Fatalf("SaveOne failed: %v", err)
	}

	infos, err := svc.List("", "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 accounts, got %d", len(infos))
	}
	// Sorted by email: alice, bob, broken.
	if infos[2].Status != "invalid" {
		t.Errorf("expected credential-less account to list as invalid, got %q", infos[2].Status)
	}

	infos, err = svc.List("CORP", "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(infos) != 1 || infos[0].Email != "bob@corp.example.com" {
		t.Errorf("unexpected email filter result: %+v", infos)
	}

	infos, err = svc.List("", "Work")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(infos) != 1 || infos[0].Email != "alice@example.com" {
		t.Errorf("unexpected tag filter result: %+v", infos)
	}
}

func TestUpdateTagsAndNote(t *testing.T) {
	svc := setupTestService(t)

	if err := svc.Register("alice@example.com", "rt", "cid", nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := svc.UpdateTags("alice@example.com", []string{"b", "a", "b"}); err != nil {
		t.Fatalf("UpdateTags failed: %v", err)
	}
	if err := svc.UpdateNote("alice@example.com", "  hello\r\nworld  "); err != nil {
		t.Fatalf("UpdateNote failed: %v", err)
	}

	rec, err := svc.Get("alice@example.com")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !reflect.DeepEqual(rec.Tags(), []string{"a", "b"}) {
		t.Errorf("unexpected tags: %v", rec.Tags())
	}
	if rec.Note() != "hello\nworld" {
		t.Errorf("unexpected note: %q", rec.Note())
	}

	// Clearing the note removes the field.
	if err := svc.UpdateNote("alice@example.com", "   "); err != nil {
		t.Fatalf("UpdateNote failed: %v", err)
	}
	rec, _ = svc.Get("alice@example.com")
	if _, ok := rec[account.FieldNote]; ok {
		t.Error("expected empty note to remove the field")
	}

	if err := svc.UpdateTags("nobody@example.com", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	svc := setupTestService(t)

	if err := svc.Register("alice@example.com", "rt", "cid", nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := svc.Delete("alice@example.com"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := svc.Delete("alice@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTokenFailureExpiry(t *testing.T) {
	svc := setupTestService(t)

	if err := svc.Register("alice@example.com", "rt", "cid", nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	current := start
	svc.now = func() time.Time { return current }

	// Seven quick failures: count below threshold, no expiry yet.
	for i := 0; i < TokenFailureThreshold-1; i++ {
		svc.RecordTokenFailure("alice@example.com", 400, "invalid_grant")
	}
	rec, _ := svc.Get("alice@example.com")
	if rec.Status() == "expired" {
		t.Fatal("account expired before reaching the failure threshold")
	}

	// Threshold reached but the window has not elapsed.
	svc.RecordTokenFailure("alice@example.com", 400, "invalid_grant")
	rec, _ = svc.Get("alice@example.com")
	if rec.Status() == "expired" {
		t.Fatal("account expired before the failure window elapsed")
	}

	// One more failure after the window: now it expires.
	current = start.Add(TokenFailureWindow + time.Hour)
	svc.RecordTokenFailure("alice@example.com", 400, "invalid_grant")

	rec, _ = svc.Get("alice@example.com")
	if rec.Status() != "expired" {
		t.Fatalf("expected expired status, got %q", rec.Status())
	}
	if reason, _ := rec[account.FieldStatusReason].(string); reason != "token_expired" {
		t.Errorf("expected token_expired reason, got %q", reason)
	}

	failures, _ := rec[account.FieldTokenFailures].(map[string]any)
	if failures == nil {
		t.Fatal("expected failure tracking on the record")
	}
	if got := failureCount(failures); got != TokenFailureThreshold+1 {
		t.Errorf("expected count %d, got %d", TokenFailureThreshold+1, got)
	}
	// Numbers decode as float64 after the file round trip.
	if code, _ := failures[account.FailureLastStatusCode].(float64); code != 400 {
		t.Errorf("expected last status code 400, got %v", failures[account.FailureLastStatusCode])
	}

	// A successful refresh clears the state and reactivates the account.
	svc.RecordTokenSuccess("alice@example.com")
	rec, _ = svc.Get("alice@example.com")
	if rec.Status() != "active" {
		t.Errorf("expected active status after success, got %q", rec.Status())
	}
	if _, ok := rec[account.FieldTokenFailures]; ok {
		t.Error("expected failure tracking to be cleared")
	}
	if _, ok := rec[account.FieldStatusReason]; ok {
		t.Error("expected status reason to be cleared")
	}
}

func TestTokenFailureUnknownAccount(t *testing.T) {
	svc := setupTestService(t)

	// Must not create a record or panic.
	svc.RecordTokenFailure("ghost@example.com", 500, "boom")
	svc.RecordTokenSuccess("ghost@example.com")

	if _, err := svc.Get("ghost@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPushPullRequireSync(t *testing.T) {
	svc := setupTestService(t)

	if _, err := svc.PushNow(context.Background()); !errors.Is(err, ErrSyncDisabled) {
		t.Errorf("expected ErrSyncDisabled from PushNow, got %v", err)
	}
	if _, _, err := svc.PullNow(context.Background()); !errors.Is(err, ErrSyncDisabled) {
		t.Errorf("expected ErrSyncDisabled from PullNow, got %v", err)
	}
}

func TestMutationsReachRemoteMirror(t *testing.T) {
	svc, syncer, dbStore := setupSyncedService(t)

	if err := svc.Register("alice@example.com", "rt", "cid", []string{"work"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	syncer.Close() // drain the background queue

	state, err := dbStore.FetchState(context.Background())
	if err != nil {
		t.Fatalf("FetchState failed: %v", err)
	}
	if _, ok := state["alice@example.com"]; !ok {
		t.Error("expected background push to mirror the registration")
	}
}

func TestPullNowPersistsChanges(t *testing.T) {
	svc, syncer, _ := setupSyncedService(t)

	// Seed the remote side directly through the sync engine.
	if _, err := syncer.Push(context.Background(), account.Set{
		"remote@example.com": {account.FieldRefreshToken: "rr", account.FieldClientID: "cc"},
	}, "test"); err != nil {
		t.Fatalf("seed push failed: %v", err)
	}

	report, changed, err := svc.PullNow(context.Background())
	if err != nil {
		t.Fatalf("PullNow failed: %v", err)
	}
	if !changed || report.Added != 1 {
		t.Fatalf("expected one pulled record, got changed=%v report=%+v", changed, report)
	}

	accounts, err := svc.store.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if _, ok := accounts["remote@example.com"]; !ok {
		t.Error("expected pulled record to be persisted")
	}

	// Pulling again converges.
	_, changed, err = svc.PullNow(context.Background())
	if err != nil {
		t.Fatalf("second PullNow failed: %v", err)
	}
	if changed {
		t.Error("expected no changes on the second pull")
	}
}
