// Package account provides the credential record model for mail accounts.
//
// A record is a JSON object keyed by email address in the local accounts
// file. Records carry a free-form field set so that payloads written by
// older versions survive a round trip unchanged; the fields the sync engine
// cares about are accessed through the helpers below.
//
// Normalization (see Normalizer) canonicalizes a record before hashing so
// that two equivalent records always serialize to the same bytes.
package account

// Field names used in the record payload.
const (
	FieldRefreshToken    = "refresh_token"
	FieldClientID        = "client_id"
	FieldTags            = "tags"
	FieldNote            = "note"
	FieldStatus          = "status"
	FieldStatusUpdatedAt = "status_updated_at"
	FieldStatusReason    = "status_reason"
	FieldTokenFailures   = "token_failures"
)

// Token failure sub-record field names.
const (
	FailureCount          = "count"
	FailureFirstAt        = "first_failure_at"
	FailureLastAt         = "last_failure_at"
	FailureLastStatusCode = "last_status_code"
	FailureLastError      = "last_error_message"
)

// Record is a single account payload. It preserves fields the sync engine
// does not interpret, so callers must treat it as shared data and Clone()
// before mutating a record obtained from a shared map.
type Record map[string]any

// Set is the full local record set, keyed by email address.
type Set map[string]Record

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(r).(Record)
}

// Clone returns a deep copy of the record set.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	for email, rec := range s {
		out[email] = rec.Clone()
	}
	return out
}

// RefreshToken returns the refresh token, or "" when absent.
func (r Record) RefreshToken() string { return stringField(r, FieldRefreshToken) }

// ClientID returns the OAuth client ID, or "" when absent.
func (r Record) ClientID() string { return stringField(r, FieldClientID) }

// Status returns the status label, or "" when absent.
func (r Record) Status() string { return stringField(r, FieldStatus) }

// Note returns the note text, or "" when absent.
func (r Record) Note() string { return stringField(r, FieldNote) }

// Tags returns the canonical tag set: trimmed, deduplicated, sorted.
// Returns nil when the field is absent.
func (r Record) Tags() []string {
	raw, ok := r[FieldTags]
	if !ok {
		return nil
	}
	return coerceTags(raw)
}

func stringField(r Record, key string) string {
	v, ok := r[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// cloneValue deep-copies JSON-shaped values: maps, slices and scalars.
func cloneValue(v any) any {
	switch val := v.(type) {
	case Record:
		out := make(Record, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return val
	}
}
