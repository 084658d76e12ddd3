package sync

import (
	"reflect"
	"sort"

	"github.com/cj1354421348/OutlookManager/internal/account"
)

// mergeRemoteIntoLocal folds the prepared remote records into a copy of the
// local set. The returned bool reports whether the copy differs from the
// input, i.e. whether the caller needs to persist it.
//
// Under PreferLocal, credentials (refresh_token, client_id) are never
// overwritten: only metadata converges — tags, note, the status fields, and
// the token failure counters. Under PreferRemote, disagreeing records are
// replaced wholesale.
func (s *Synchronizer) mergeRemoteIntoLocal(local account.Set, remoteAccounts map[string]remoteRecord) (account.Set, *Report, bool) {
	merged := local.Clone()
	if merged == nil {
		merged = account.Set{}
	}

	var added, updated, removed, skipped int
	changed := false

	emails := make([]string, 0, len(remoteAccounts))
	for email := range remoteAccounts {
		emails = append(emails, email)
	}
	sort.Strings(emails)

	for _, email := range emails {
		rec := remoteAccounts[email]
		localPayload, present := merged[email]

		if rec.isDeleted {
			if !present {
				continue
			}
			if s.strategy == PreferLocal {
				skipped++
				continue
			}
			delete(merged, email)
			removed++
			changed = true
			continue
		}

		if !present {
			merged[email] = rec.payload.Clone()
			added++
			changed = true
			continue
		}

		normalizedLocal := s.norm.Normalize(localPayload)
		localChecksum, err := account.Checksum(normalizedLocal)
		if err != nil {
			s.logger.Printf("WARNING: cannot checksum local record %s: %v", email, err)
			skipped++
			continue
		}
		if localChecksum == rec.checksum {
			continue
		}

		if s.strategy == PreferLocal {
			entryChanged := false
			if mergeTagsFromRemote(localPayload, rec.payload) {
				entryChanged = true
			}
			if mergeNoteFromRemote(localPayload, rec.payload) {
				entryChanged = true
			}
			if mergeStatusFromRemote(localPayload, normalizedLocal, rec.payload) {
				entryChanged = true
			}
			if mergeFailuresFromRemote(localPayload, normalizedLocal, rec.payload) {
				entryChanged = true
			}
			if entryChanged {
				updated++
				changed = true
			} else {
				skipped++
			}
			continue
		}

		merged[email] = rec.payload.Clone()
		updated++
		changed = true
	}

	return merged, pullReport(added, updated, removed, skipped), changed
}

// mergeTagsFromRemote adopts the remote tag set when it differs from the
// local one. Both sides compare in canonical form.
func mergeTagsFromRemote(entry, remotePayload account.Record) bool {
	remoteTags := account.NormalizeTags(remotePayload[account.FieldTags])
	localTags := account.NormalizeTags(entry[account.FieldTags])
	if reflect.DeepEqual(remoteTags, localTags) {
		return false
	}
	entry[account.FieldTags] = remoteTags
	return true
}

// mergeNoteFromRemote adopts the remote note when it differs, removing the
// local note when the remote one is empty.
func mergeNoteFromRemote(entry, remotePayload account.Record) bool {
	remoteNote := account.NormalizeNote(remotePayload[account.FieldNote])
	localNote := account.NormalizeNote(entry[account.FieldNote])
	if remoteNote == localNote {
		return false
	}
	if remoteNote == "" {
		delete(entry, account.FieldNote)
	} else {
		entry[account.FieldNote] = remoteNote
	}
	return true
}

// mergeStatusFromRemote adopts the remote status fields as a unit when any
// of them differ. Status is telemetry written by whichever node last
// exercised the account, so it converges even under PreferLocal.
func mergeStatusFromRemote(entry, normalizedLocal, remotePayload account.Record) bool {
	fields := []string{account.FieldStatus, account.FieldStatusReason, account.FieldStatusUpdatedAt}

	same := true
	for _, field := range fields {
		if !reflect.DeepEqual(normalizedLocal[field], remotePayload[field]) {
			same = false
			break
		}
	}
	if same {
		return false
	}

	for _, field := range fields {
		if v, ok := remotePayload[field]; ok {
			entry[field] = v
		} else {
			delete(entry, field)
		}
	}
	return true
}

// mergeFailuresFromRemote adopts the remote token failure sub-record when
// the failure counts disagree.
func mergeFailuresFromRemote(entry, normalizedLocal, remotePayload account.Record) bool {
	remoteFailures, ok := remotePayload[account.FieldTokenFailures].(map[string]any)
	if !ok {
		return false
	}
	localFailures, _ := normalizedLocal[account.FieldTokenFailures].(map[string]any)

	remoteCount, _ := remoteFailures[account.FailureCount].(int)
	localCount := 0
	if localFailures != nil {
		localCount, _ = localFailures[account.FailureCount].(int)
	}
	if remoteCount == localCount {
		return false
	}

	clone := make(map[string]any, len(remoteFailures))
	for k, v := range remoteFailures {
		clone[k] = v
	}
	entry[account.FieldTokenFailures] = clone
	return true
}
