package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/cj1354421348/OutlookManager/internal/account"
)

// jsonlRecord is the line format for JSONL export/import: one account per
// line, email alongside the payload so lines stand alone.
type jsonlRecord struct {
	Email string         `json:"email"`
	Data  account.Record `json:"data"`
}

// ExportResult contains statistics about a JSONL export.
type ExportResult struct {
	RecordsWritten int
}

// ImportResult contains statistics about a JSONL import.
type ImportResult struct {
	RecordsRead int
	Imported    int
	Replaced    int
}

// ExportJSONL writes the record set to path, one JSON object per line,
// sorted by email for stable diffs.
func ExportJSONL(path string, accounts account.Set) (*ExportResult, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()

	emails := make([]string, 0, len(accounts))
	for email := range accounts {
		emails = append(emails, email)
	}
	sort.Strings(emails)

	encoder := json.NewEncoder(file)
	for _, email := range emails {
		if err := encoder.Encode(jsonlRecord{Email: email, Data: accounts[email]}); err != nil {
			return nil, fmt.Errorf("failed to encode record %s: %w", email, err)
		}
	}

	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush export file: %w", err)
	}
	return &ExportResult{RecordsWritten: len(emails)}, nil
}

// ImportJSONL merges records from a JSONL file into the store. Existing
// accounts are replaced when the file carries the same email.
//
// When backup is true, the current accounts file is copied aside before
// the merged set is written.
func (f *FileStore) ImportJSONL(path string, backup bool) (*ImportResult, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer file.Close()

	var records []jsonlRecord
	decoder := json.NewDecoder(file)
	lineNum := 0

	for {
		var rec jsonlRecord
		if err := decoder.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++

		if rec.Email == "" {
			return nil, fmt.Errorf("record at line %d has no email", lineNum)
		}
		records = append(records, rec)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	accounts, err := f.readLocked()
	if err != nil {
		return nil, err
	}

	if backup && len(accounts) > 0 {
		backupPath := f.path + ".backup." + time.Now().Format("20060102-150405")
		current, err := os.ReadFile(f.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read accounts file for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, current, 0600); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		f.logger.Printf("Backed up accounts file to %s", backupPath)
	}

	result := &ImportResult{RecordsRead: len(records)}
	for _, rec := range records {
		if _, exists := accounts[rec.Email]; exists {
			result.Replaced++
		} else {
			result.Imported++
		}
		accounts[rec.Email] = rec.Data
	}

	if err := f.writeLocked(accounts); err != nil {
		return nil, err
	}
	return result, nil
}
