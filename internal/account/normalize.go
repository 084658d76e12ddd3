package account

import (
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Normalizer canonicalizes account payloads prior to hashing or comparison.
//
// Normalize is idempotent (normalizing twice yields the same result) and
// total: it never fails. Unrecognized field shapes degrade to safe defaults
// with a logged warning rather than aborting a sync over one bad record.
type Normalizer struct {
	logger *log.Logger
}

// NewNormalizer creates a Normalizer.
//
// If logger is nil, a default logger writing to stderr is used.
func NewNormalizer(logger *log.Logger) *Normalizer {
	if logger == nil {
		logger = log.New(os.Stderr, "[account] ", log.LstdFlags)
	}
	return &Normalizer{logger: logger}
}

// Normalize returns the canonical form of the payload:
//
//   - tags: trimmed, deduplicated, sorted; empty strings discarded
//   - note: line endings collapsed to \n, trimmed; removed when empty
//   - status, status_reason: trimmed; removed when null or empty
//   - status_updated_at: numeric timestamps collapse to integer seconds
//   - token_failures: coerced to the {count: int, ...} shape
//
// Fields the sync engine does not interpret pass through unchanged.
// The input record is not modified.
func (n *Normalizer) Normalize(payload Record) Record {
	out := make(Record, len(payload))
	for k, v := range payload {
		out[k] = cloneValue(v)
	}

	out[FieldTags] = normalizeTags(out[FieldTags])

	if v, ok := out[FieldNote]; ok {
		if note := NormalizeNote(v); note != "" {
			out[FieldNote] = note
		} else {
			delete(out, FieldNote)
		}
	}

	normalizeStringField(out, FieldStatus)
	normalizeStringField(out, FieldStatusReason)

	if v, ok := out[FieldStatusUpdatedAt]; ok {
		out[FieldStatusUpdatedAt] = normalizeStatusTimestamp(v)
	}

	if v, ok := out[FieldTokenFailures]; ok {
		out[FieldTokenFailures] = n.normalizeTokenFailures(v)
	}

	return out
}

// NormalizeSet normalizes every record in the set, keyed by email.
func (n *Normalizer) NormalizeSet(records Set) Set {
	out := make(Set, len(records))
	for email, rec := range records {
		out[email] = n.Normalize(rec)
	}
	return out
}

// NormalizeNote collapses CRLF/CR line endings to \n and trims surrounding
// whitespace. Returns "" when the note is empty after trimming, which
// callers treat as "absent".
func NormalizeNote(v any) string {
	if v == nil {
		return ""
	}
	text, ok := v.(string)
	if !ok {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}

// NormalizeTags returns the canonical tag set for any stored shape:
// trimmed, non-empty, deduplicated and sorted.
func NormalizeTags(v any) []string {
	return coerceTags(v)
}

func normalizeTags(v any) []string {
	return coerceTags(v)
}

// coerceTags accepts the shapes tags have appeared in across payload
// versions: []string, []any, a bare string, or nothing.
func coerceTags(v any) []string {
	var raw []string
	switch val := v.(type) {
	case nil:
	case []string:
		raw = val
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		raw = []string{val}
	}

	seen := make(map[string]struct{}, len(raw))
	tags := make([]string, 0, len(raw))
	for _, tag := range raw {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// normalizeStringField trims a string field in place, removing it when the
// value is null, non-string, or empty after trimming.
func normalizeStringField(r Record, key string) {
	v, ok := r[key]
	if !ok {
		return
	}
	s, isString := v.(string)
	s = strings.TrimSpace(s)
	if !isString || s == "" {
		delete(r, key)
		return
	}
	r[key] = s
}

// normalizeStatusTimestamp collapses numeric timestamps to an integer-second
// string, removing sub-second jitter that would otherwise produce spurious
// checksum mismatches. Non-numeric values (RFC 3339 strings) pass through.
func normalizeStatusTimestamp(v any) any {
	switch val := v.(type) {
	case float64:
		return strconv.FormatInt(int64(val), 10)
	case int:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case string:
		trimmed := strings.TrimSpace(val)
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return strconv.FormatInt(int64(f), 10)
		}
		return trimmed
	default:
		return v
	}
}

// normalizeTokenFailures coerces the failure-tracking sub-record to its
// canonical map shape. Legacy payloads stored a bare count.
func (n *Normalizer) normalizeTokenFailures(v any) map[string]any {
	out := make(map[string]any)

	switch val := v.(type) {
	case map[string]any:
		out[FailureCount] = n.coerceCount(val[FailureCount])
		if s, ok := val[FailureFirstAt].(string); ok && s != "" {
			out[FailureFirstAt] = s
		}
		if s, ok := val[FailureLastAt].(string); ok && s != "" {
			out[FailureLastAt] = s
		}
		if code, ok := parseInt(val[FailureLastStatusCode]); ok {
			out[FailureLastStatusCode] = code
		}
		if s, ok := val[FailureLastError].(string); ok && s != "" {
			out[FailureLastError] = s
		}
	default:
		out[FailureCount] = n.coerceCount(v)
	}

	return out
}

// coerceCount parses a failure count from any stored representation,
// defaulting to 0 with a warning when the value is unparsable.
func (n *Normalizer) coerceCount(v any) int {
	if v == nil {
		return 0
	}
	if count, ok := parseInt(v); ok {
		return count
	}
	n.logger.Printf("WARNING: unparsable token failure count %v, defaulting to 0", v)
	return 0
}

// parseInt extracts an integer from the numeric shapes JSON decoding and
// legacy payloads produce.
func parseInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	case string:
		trimmed := strings.TrimSpace(val)
		if i, err := strconv.Atoi(trimmed); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return int(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}
