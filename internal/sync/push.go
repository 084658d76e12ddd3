package sync

import (
	"context"
	"fmt"
	"sort"

	"github.com/cj1354421348/OutlookManager/internal/account"
	"github.com/cj1354421348/OutlookManager/internal/remote"
)

// Push implements Syncer.Push.
func (s *Synchronizer) Push(ctx context.Context, accounts account.Set, source string) (*Report, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}

	if err := s.store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare remote schema: %w", err)
	}

	existing, err := s.store.FetchState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch remote state: %w", err)
	}

	normalized := s.norm.NormalizeSet(accounts)

	// Tag reconciliation spans every email seen on either side: rows
	// removed locally still need their tag relations emptied.
	allEmails := unionEmails(existing, normalized)
	tagsExisting, err := s.store.FetchTags(ctx, allEmails)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch remote tags: %w", err)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin push transaction: %w", err)
	}
	defer tx.Rollback()

	var added, updated, markedDeleted int

	for _, email := range allEmails {
		payload, isLocal := normalized[email]
		if !isLocal {
			continue
		}

		serialized, err := account.CanonicalJSON(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize record %s: %w", email, err)
		}
		checksum := account.ChecksumText(serialized)

		rec := remote.Upsert{
			Data:     serialized,
			Checksum: checksum,
			Tags:     payload.Tags(),
			Note:     notePointer(payload),
			Source:   source,
		}

		state, known := existing[email]
		switch {
		case !known:
			if err := tx.Upsert(email, rec); err != nil {
				return nil, fmt.Errorf("failed to insert record %s: %w", email, err)
			}
			added++
		case state.Checksum != checksum || state.IsDeleted:
			if err := tx.Upsert(email, rec); err != nil {
				return nil, fmt.Errorf("failed to update record %s: %w", email, err)
			}
			updated++
		}
	}

	for _, email := range allEmails {
		state, known := existing[email]
		if !known {
			continue
		}
		if _, isLocal := normalized[email]; isLocal || state.IsDeleted {
			continue
		}
		if err := tx.MarkDeleted(email, source); err != nil {
			return nil, fmt.Errorf("failed to tombstone record %s: %w", email, err)
		}
		markedDeleted++
	}

	for _, email := range allEmails {
		currentTags := tagsExisting[email]
		if len(currentTags) == 0 {
			// Bootstrap: rows written before the tag table existed
			// only carry the denormalized column.
			if state, known := existing[email]; known {
				currentTags = state.ColumnTags
			}
		}

		var target []string
		if payload, isLocal := normalized[email]; isLocal {
			target = payload.Tags()
		}

		if err := tx.ReconcileTags(email, currentTags, target); err != nil {
			return nil, fmt.Errorf("failed to reconcile tags for %s: %w", email, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit push transaction: %w", err)
	}

	report := pushReport(added, updated, markedDeleted)
	s.logger.Printf("Pushed %d accounts (source=%s): %s", len(normalized), source, report.Message)
	return report, nil
}

// unionEmails returns the sorted union of remote and local email keys.
func unionEmails(existing map[string]remote.State, local account.Set) []string {
	seen := make(map[string]struct{}, len(existing)+len(local))
	for email := range existing {
		seen[email] = struct{}{}
	}
	for email := range local {
		seen[email] = struct{}{}
	}

	emails := make([]string, 0, len(seen))
	for email := range seen {
		emails = append(emails, email)
	}
	sort.Strings(emails)
	return emails
}

// notePointer returns the record's note as a nullable column value.
func notePointer(payload account.Record) *string {
	note := account.NormalizeNote(payload[account.FieldNote])
	if note == "" {
		return nil
	}
	return &note
}
