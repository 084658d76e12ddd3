// Package service implements account lifecycle operations over the local
// store: registration, tag and note edits, deletion, credential lookup,
// and token failure tracking.
//
// Every mutation persists to the accounts file first and then enqueues a
// background push, so the file stays the source of truth and the remote
// mirror follows.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cj1354421348/OutlookManager/internal/account"
	"github.com/cj1354421348/OutlookManager/internal/store"
	"github.com/cj1354421348/OutlookManager/internal/sync"
)

var (
	// ErrNotFound mirrors store.ErrNotFound for read paths.
	ErrNotFound = store.ErrNotFound

	// ErrIncomplete marks a record missing refresh_token or client_id.
	ErrIncomplete = errors.New("account configuration incomplete")

	// ErrExpired marks an account whose authorization has expired.
	ErrExpired = errors.New("account authorization expired")

	// ErrSyncDisabled is returned by PushNow/PullNow when no remote store
	// is configured.
	ErrSyncDisabled = errors.New("database sync is not configured")
)

// Credentials is the credential view of an account record.
type Credentials struct {
	Email        string
	RefreshToken string
	ClientID     string
	Tags         []string
}

// Info is the listing view of an account record.
type Info struct {
	Email    string   `json:"email_id"`
	ClientID string   `json:"client_id"`
	Status   string   `json:"status"`
	Tags     []string `json:"tags"`
	Note     string   `json:"note,omitempty"`
}

// Service coordinates the local store and the syncer.
type Service struct {
	store  *store.FileStore
	syncer sync.Syncer
	logger *log.Logger

	now func() time.Time
}

// New creates a Service. syncer may be nil or disabled; mutations then
// skip the background push and PushNow/PullNow return ErrSyncDisabled.
//
// If logger is nil, a default logger writing to stderr is used.
func New(fileStore *store.FileStore, syncer sync.Syncer, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stderr, "[service] ", log.LstdFlags)
	}
	return &Service{
		store:  fileStore,
		syncer: syncer,
		logger: logger,
		now:    time.Now,
	}
}

// Get returns a copy of the record for email.
func (s *Service) Get(email string) (account.Record, error) {
	accounts, err := s.store.ReadAll()
	if err != nil {
		return nil, err
	}
	rec, ok := accounts[email]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, email)
	}
	return rec.Clone(), nil
}

// Credentials returns the credential fields for email.
//
// With requireActive set, an expired account is refused with ErrExpired
// so callers do not burn token requests against a dead authorization.
func (s *Service) Credentials(email string, requireActive bool) (*Credentials, error) {
	rec, err := s.Get(email)
	if err != nil {
		return nil, err
	}

	if requireActive && rec.Status() == "expired" {
		return nil, fmt.Errorf("%w: %s", ErrExpired, email)
	}

	if rec.RefreshToken() == "" || rec.ClientID() == "" {
		s.logger.Printf("Account %s missing required fields", email)
		return nil, fmt.Errorf("%w: %s", ErrIncomplete, email)
	}

	return &Credentials{
		Email:        email,
		RefreshToken: rec.RefreshToken(),
		ClientID:     rec.ClientID(),
		Tags:         rec.Tags(),
	}, nil
}

// List returns account summaries filtered by optional case-insensitive
// email substring and tag match, sorted by email.
func (s *Service) List(emailSearch, tagSearch string) ([]Info, error) {
	accounts, err := s.store.ReadAll()
	if err != nil {
		return nil, err
	}

	emailSearch = strings.ToLower(strings.TrimSpace(emailSearch))
	tagSearch = strings.ToLower(strings.TrimSpace(tagSearch))

	var infos []Info
	for email, rec := range accounts {
		if emailSearch != "" && !strings.Contains(strings.ToLower(email), emailSearch) {
			continue
		}

		tags := rec.Tags()
		if tagSearch != "" && !matchesTag(tags, tagSearch) {
			continue
		}

		status := rec.Status()
		if status == "" {
			status = "active"
		}
		if rec.RefreshToken() == "" || rec.ClientID() == "" {
			status = "invalid"
		}

		infos = append(infos, Info{
			Email:    email,
			ClientID: rec.ClientID(),
			Status:   status,
			Tags:     tags,
			Note:     rec.Note(),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Email < infos[j].Email })
	return infos, nil
}

// Register saves credentials for email, marking the account active.
// Existing failure tracking is cleared: fresh credentials supersede the
// old authorization's history.
func (s *Service) Register(email, refreshToken, clientID string, tags []string) error {
	if refreshToken == "" || clientID == "" {
		return fmt.Errorf("%w: %s", ErrIncomplete, email)
	}

	payload := account.Record{
		account.FieldRefreshToken: refreshToken,
		account.FieldClientID:     clientID,
		account.FieldTags:         account.NormalizeTags(tags),
		account.FieldStatus:       "active",
	}

	accounts, err := s.store.SaveOne(email, payload)
	if err != nil {
		return err
	}
	s.logger.Printf("Account credentials saved for %s", email)
	s.enqueue(accounts, "mutation")
	return nil
}

// UpdateTags replaces the tag set for email.
func (s *Service) UpdateTags(email string, tags []string) error {
	accounts, err := s.store.Update(email, func(rec account.Record) (account.Record, error) {
		if rec == nil {
			return nil, nil
		}
		rec[account.FieldTags] = account.NormalizeTags(tags)
		return rec, nil
	})
	if err != nil {
		return err
	}
	s.enqueue(accounts, "mutation")
	return nil
}

// UpdateNote sets or clears the note for email.
func (s *Service) UpdateNote(email, note string) error {
	accounts, err := s.store.Update(email, func(rec account.Record) (account.Record, error) {
		if rec == nil {
			return nil, nil
		}
		if normalized := account.NormalizeNote(note); normalized != "" {
			rec[account.FieldNote] = normalized
		} else {
			delete(rec, account.FieldNote)
		}
		return rec, nil
	})
	if err != nil {
		return err
	}
	s.enqueue(accounts, "mutation")
	return nil
}

// Delete removes the account for email.
func (s *Service) Delete(email string) error {
	accounts, err := s.store.DeleteOne(email)
	if err != nil {
		return err
	}
	s.logger.Printf("Account %s deleted", email)
	s.enqueue(accounts, "mutation")
	return nil
}

// PushNow synchronously mirrors the accounts file to the remote store.
func (s *Service) PushNow(ctx context.Context) (*sync.Report, error) {
	if err := s.requireSyncer(); err != nil {
		return nil, err
	}

	accounts, err := s.store.ReadAll()
	if err != nil {
		return nil, err
	}
	return s.syncer.Push(ctx, accounts, "manual")
}

// PullNow merges remote rows into the accounts file, persisting only when
// the merge produced changes. The persisted set is pushed back in the
// background so a prefer_local merge propagates to the remote store too.
func (s *Service) PullNow(ctx context.Context) (*sync.Report, bool, error) {
	if err := s.requireSyncer(); err != nil {
		return nil, false, err
	}

	accounts, err := s.store.ReadAll()
	if err != nil {
		return nil, false, err
	}

	merged, report, changed, err := s.syncer.Pull(ctx, accounts)
	if err != nil {
		return nil, false, err
	}

	if changed {
		if err := s.store.WriteAll(merged); err != nil {
			return nil, false, err
		}
		s.logger.Printf("Accounts file updated from database: %s", report.Message)
		s.enqueue(merged, "pull")
	}
	return report, changed, nil
}

func (s *Service) requireSyncer() error {
	if s.syncer == nil || !s.syncer.Enabled() {
		return ErrSyncDisabled
	}
	return nil
}

// enqueue schedules a best-effort background push. Failures to queue are
// not errors: the next mutation or manual push recovers.
func (s *Service) enqueue(accounts account.Set, source string) {
	if s.syncer == nil || !s.syncer.Enabled() {
		return
	}
	s.syncer.Enqueue(accounts, source)
}

func matchesTag(tags []string, search string) bool {
	for _, tag := range tags {
		if strings.ToLower(tag) == search {
			return true
		}
	}
	return false
}
