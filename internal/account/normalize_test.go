package account

import (
	"io"
	"log"
	"reflect"
	"testing"
)

func testNormalizer() *Normalizer {
	return NewNormalizer(log.New(io.Discard, "", 0))
}

func TestNormalizeIdempotent(t *testing.T) {
	n := testNormalizer()

	payloads := []Record{
		{},
		{"tags": nil, "note": "hello\r\nworld\r"},
		{"token_failures": "3"},
		{"token_failures": map[string]any{"count": "7", "last_status_code": "401"}},
		{"status": " active ", "status_updated_at": 1718000000.25},
		{"refresh_token": "tok", "client_id": "cid", "tags": []any{"b", "a", "b", " "}},
	}

	for i, payload := range payloads {
		once := n.Normalize(payload)
		twice := n.Normalize(once)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("payload %d: normalize not idempotent:\nonce:  %#v\ntwice: %#v", i, once, twice)
		}
	}
}

func TestNormalizeTags(t *testing.T) {
	n := testNormalizer()

	rec := n.Normalize(Record{"tags": []any{" work ", "", "home", "work"}})
	got := rec[FieldTags].([]string)
	want := []string{"home", "work"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected tags %v, got %v", want, got)
	}
}

func TestNormalizeTagsMissing(t *testing.T) {
	n := testNormalizer()

	rec := n.Normalize(Record{})
	got, ok := rec[FieldTags].([]string)
	if !ok {
		t.Fatalf("expected tags field to be present, got %#v", rec[FieldTags])
	}
	if len(got) != 0 {
		t.Errorf("expected empty tags, got %v", got)
	}
}

func TestNormalizeNote(t *testing.T) {
	n := testNormalizer()

	rec := n.Normalize(Record{"note": "  line1\r\nline2\rline3  "})
	if got := rec[FieldNote]; got != "line1\nline2\nline3" {
		t.Errorf("unexpected note: %q", got)
	}

	rec = n.Normalize(Record{"note": "   \r\n  "})
	if _, ok := rec[FieldNote]; ok {
		t.Error("expected empty note to be removed")
	}

	rec = n.Normalize(Record{"note": nil})
	if _, ok := rec[FieldNote]; ok {
		t.Error("expected nil note to be removed")
	}
}

func TestNormalizeStatusFields(t *testing.T) {
	n := testNormalizer()

	rec := n.Normalize(Record{"status": " expired ", "status_reason": nil})
	if got := rec[FieldStatus]; got != "expired" {
		t.Errorf("expected trimmed status, got %q", got)
	}
	if _, ok := rec[FieldStatusReason]; ok {
		t.Error("expected nil status_reason to be removed")
	}
}

func TestNormalizeStatusTimestamp(t *testing.T) {
	n := testNormalizer()

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"float seconds", 1718000000.75, "1718000000"},
		{"numeric string", "1718000000.25", "1718000000"},
		{"integer string", "1718000000", "1718000000"},
		{"rfc3339 passes through", "2024-06-10T12:00:00Z", "2024-06-10T12:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := n.Normalize(Record{"status_updated_at": tt.in})
			if got := rec[FieldStatusUpdatedAt]; got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNormalizeTokenFailuresScalar(t *testing.T) {
	n := testNormalizer()

	rec := n.Normalize(Record{"token_failures": "3"})
	failures, ok := rec[FieldTokenFailures].(map[string]any)
	if !ok {
		t.Fatalf("expected map shape, got %#v", rec[FieldTokenFailures])
	}
	if failures[FailureCount] != 3 {
		t.Errorf("expected count 3, got %v", failures[FailureCount])
	}
}

func TestNormalizeTokenFailuresMap(t *testing.T) {
	n := testNormalizer()

	rec := n.Normalize(Record{"token_failures": map[string]any{
		"count":              "7",
		"first_failure_at":   "2024-06-10T12:00:00Z",
		"last_status_code":   401.0,
		"last_error_message": "invalid_grant",
		"unrelated":          "dropped",
	}})
	failures := rec[FieldTokenFailures].(map[string]any)

	if failures[FailureCount] != 7 {
		t.Errorf("expected count 7, got %v", failures[FailureCount])
	}
	if failures[FailureLastStatusCode] != 401 {
		t.Errorf("expected status code 401, got %v", failures[FailureLastStatusCode])
	}
	if failures[FailureFirstAt] != "2024-06-10T12:00:00Z" {
		t.Errorf("unexpected first_failure_at: %v", failures[FailureFirstAt])
	}
	if _, ok := failures["unrelated"]; ok {
		t.Error("expected unknown failure fields to be dropped")
	}
}

func TestNormalizeTokenFailuresUnparsable(t *testing.T) {
	n := testNormalizer()

	rec := n.Normalize(Record{"token_failures": map[string]any{"count": "lots"}})
	failures := rec[FieldTokenFailures].(map[string]any)
	if failures[FailureCount] != 0 {
		t.Errorf("expected unparsable count to default to 0, got %v", failures[FailureCount])
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	n := testNormalizer()

	payload := Record{"note": " x ", "tags": []any{"b", "a"}}
	n.Normalize(payload)

	if payload["note"] != " x " {
		t.Error("input note was mutated")
	}
	if !reflect.DeepEqual(payload["tags"], []any{"b", "a"}) {
		t.Error("input tags were mutated")
	}
}

func TestNormalizePreservesUnknownFields(t *testing.T) {
	n := testNormalizer()

	rec := n.Normalize(Record{"refresh_token": "tok", "custom_field": "kept"})
	if rec["custom_field"] != "kept" {
		t.Error("expected unknown field to pass through")
	}
	if rec["refresh_token"] != "tok" {
		t.Error("expected refresh_token to pass through")
	}
}
