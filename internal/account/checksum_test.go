package account

import (
	"encoding/json"
	"testing"
)

func TestChecksumNilSentinel(t *testing.T) {
	sum, err := Checksum(nil)
	if err != nil {
		t.Fatalf("Checksum(nil) failed: %v", err)
	}
	if sum != "" {
		t.Errorf("expected empty sentinel for nil payload, got %q", sum)
	}
}

func TestChecksumFieldOrderIndependent(t *testing.T) {
	n := testNormalizer()

	// Decode two JSON documents with the same fields in different order.
	// Map iteration and insertion order must never affect the digest.
	docA := `{"refresh_token":"tok","client_id":"cid","tags":["work"],"note":"hi"}`
	docB := `{"note":"hi","tags":["work"],"client_id":"cid","refresh_token":"tok"}`

	var a, b Record
	if err := json.Unmarshal([]byte(docA), &a); err != nil {
		t.Fatalf("unmarshal a: %v", err)
	}
	if err := json.Unmarshal([]byte(docB), &b); err != nil {
		t.Fatalf("unmarshal b: %v", err)
	}

	sumA, err := Checksum(n.Normalize(a))
	if err != nil {
		t.Fatalf("checksum a: %v", err)
	}
	sumB, err := Checksum(n.Normalize(b))
	if err != nil {
		t.Fatalf("checksum b: %v", err)
	}

	if sumA != sumB {
		t.Errorf("field order changed checksum: %s vs %s", sumA, sumB)
	}
	if len(sumA) != 64 {
		t.Errorf("expected 64-char hex digest, got %d chars", len(sumA))
	}
}

func TestChecksumStableAcrossJSONRoundTrip(t *testing.T) {
	n := testNormalizer()

	rec := Record{
		"refresh_token":  "tok",
		"client_id":      "cid",
		"tags":           []string{"work"},
		"token_failures": map[string]any{"count": 3},
	}
	before, err := Checksum(n.Normalize(rec))
	if err != nil {
		t.Fatalf("checksum before: %v", err)
	}

	// Simulate a disk round trip: ints become float64, []string becomes []any.
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Record
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	after, err := Checksum(n.Normalize(decoded))
	if err != nil {
		t.Fatalf("checksum after: %v", err)
	}

	if before != after {
		t.Errorf("checksum changed across JSON round trip: %s vs %s", before, after)
	}
}

func TestCanonicalJSONCompact(t *testing.T) {
	canonical, err := CanonicalJSON(Record{"b": 1, "a": 2})
	if err != nil {
		t.Fatalf("CanonicalJSON failed: %v", err)
	}
	if canonical != `{"a":2,"b":1}` {
		t.Errorf("expected key-sorted compact JSON, got %s", canonical)
	}
}
