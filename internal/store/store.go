// Package store persists the local accounts file.
//
// The file is a single JSON document mapping email address to account
// payload. Writes are atomic (temp file + rename) and guarded both by an
// in-process mutex and a sibling .lock file, so concurrent processes
// sharing the accounts file cannot interleave partial writes.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/cj1354421348/OutlookManager/internal/account"
)

// ErrNotFound is returned when a requested account does not exist.
var ErrNotFound = errors.New("account not found")

// FileStore reads and writes the local accounts file.
type FileStore struct {
	path     string
	mu       sync.Mutex
	fileLock *flock.Flock
	logger   *log.Logger
}

// New creates a FileStore for the accounts file at path. The file does not
// need to exist yet; a missing file reads as an empty set.
//
// If logger is nil, a default logger writing to stderr is used.
func New(path string, logger *log.Logger) *FileStore {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	return &FileStore{
		path:     path,
		fileLock: flock.New(path + ".lock"),
		logger:   logger,
	}
}

// Path returns the accounts file path.
func (f *FileStore) Path() string {
	return f.path
}

// ReadAll returns the full record set. A missing file yields an empty set;
// a corrupt file is an error, never silently treated as empty.
func (f *FileStore) ReadAll() (account.Set, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readLocked()
}

// WriteAll atomically replaces the accounts file with the given set.
func (f *FileStore) WriteAll(accounts account.Set) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeLocked(accounts)
}

// SaveOne upserts a single record and returns the resulting set.
func (f *FileStore) SaveOne(email string, rec account.Record) (account.Set, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	accounts, err := f.readLocked()
	if err != nil {
		return nil, err
	}
	accounts[email] = rec
	if err := f.writeLocked(accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// DeleteOne removes a single record and returns the resulting set.
// Returns ErrNotFound when the account does not exist.
func (f *FileStore) DeleteOne(email string) (account.Set, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	accounts, err := f.readLocked()
	if err != nil {
		return nil, err
	}
	if _, ok := accounts[email]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, email)
	}
	delete(accounts, email)
	if err := f.writeLocked(accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Update applies fn to a single record under the store lock and persists
// the result. fn receives nil when the account does not exist and may
// return a new record to create it.
func (f *FileStore) Update(email string, fn func(account.Record) (account.Record, error)) (account.Set, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	accounts, err := f.readLocked()
	if err != nil {
		return nil, err
	}

	rec, err := fn(accounts[email])
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, email)
	}
	accounts[email] = rec

	if err := f.writeLocked(accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (f *FileStore) readLocked() (account.Set, error) {
	if err := f.fileLock.Lock(); err != nil {
		return nil, fmt.Errorf("failed to acquire file lock: %w", err)
	}
	defer f.fileLock.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return account.Set{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}

	accounts := account.Set{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &accounts); err != nil {
			return nil, fmt.Errorf("invalid JSON in accounts file %s: %w", f.path, err)
		}
	}
	return accounts, nil
}

func (f *FileStore) writeLocked(accounts account.Set) error {
	if accounts == nil {
		accounts = account.Set{}
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create accounts directory: %w", err)
	}

	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal accounts: %w", err)
	}

	if err := f.fileLock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire file lock: %w", err)
	}
	defer f.fileLock.Unlock()

	// Write atomically via temp file
	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
