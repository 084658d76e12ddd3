package account

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON serializes a payload to its canonical text form: key-sorted,
// separator-compact JSON. encoding/json sorts map keys, so two records with
// the same fields always serialize identically regardless of insertion order.
func CanonicalJSON(payload Record) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to serialize payload: %w", err)
	}
	return string(data), nil
}

// Checksum returns the SHA-256 hex digest of the payload's canonical
// serialization. A nil payload yields "", the sentinel for "no prior state".
//
// Callers must normalize the payload first; the checksum of an
// unnormalized record is not comparable to anything.
func Checksum(payload Record) (string, error) {
	if payload == nil {
		return "", nil
	}
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	return ChecksumText(canonical), nil
}

// ChecksumText returns the SHA-256 hex digest of pre-serialized canonical
// text.
func ChecksumText(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
