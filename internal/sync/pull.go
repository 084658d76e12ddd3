package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cj1354421348/OutlookManager/internal/account"
)

// remoteRecord is one remote row prepared for merging: payload rehydrated,
// normalized, and re-checksummed.
type remoteRecord struct {
	payload   account.Record
	checksum  string
	isDeleted bool
}

// Pull implements Syncer.Pull.
func (s *Synchronizer) Pull(ctx context.Context, local account.Set) (account.Set, *Report, bool, error) {
	if !s.Enabled() {
		return nil, nil, false, ErrDisabled
	}

	if err := s.store.EnsureSchema(ctx); err != nil {
		return nil, nil, false, fmt.Errorf("failed to prepare remote schema: %w", err)
	}

	rows, err := s.store.FetchRows(ctx)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to fetch remote rows: %w", err)
	}

	emails := make([]string, 0, len(rows))
	for _, row := range rows {
		emails = append(emails, row.Email)
	}
	tagsMap, err := s.store.FetchTags(ctx, emails)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to fetch remote tags: %w", err)
	}

	remoteAccounts := make(map[string]remoteRecord, len(rows))
	for _, row := range rows {
		payload := account.Record{}
		if row.Data != "" {
			if err := json.Unmarshal([]byte(row.Data), &payload); err != nil {
				s.logger.Printf("WARNING: skipping remote record %s: invalid payload: %v", row.Email, err)
				continue
			}
		}

		// Tag table wins; the denormalized column covers rows written
		// before the table existed.
		tags := tagsMap[row.Email]
		if len(tags) == 0 {
			tags = row.ColumnTags
		}
		if len(tags) > 0 {
			payload[account.FieldTags] = tags
		}

		normalized := s.norm.Normalize(payload)

		// The note column overrides whatever the serialized payload
		// carried, since tag/note edits bypass the payload column.
		if row.Note != nil {
			if note := account.NormalizeNote(*row.Note); note != "" {
				normalized[account.FieldNote] = note
			}
		}

		checksum, err := account.Checksum(normalized)
		if err != nil {
			s.logger.Printf("WARNING: skipping remote record %s: %v", row.Email, err)
			continue
		}
		if checksum == "" {
			checksum = row.Checksum
		}

		remoteAccounts[row.Email] = remoteRecord{
			payload:   normalized,
			checksum:  checksum,
			isDeleted: row.IsDeleted,
		}
	}

	merged, report, changed := s.mergeRemoteIntoLocal(local, remoteAccounts)
	s.logger.Printf("Pulled %d remote rows: %s", len(rows), report.Message)
	return merged, report, changed, nil
}
