package service

import (
	"errors"
	"time"

	"github.com/cj1354421348/OutlookManager/internal/account"
)

// An account is marked expired only after sustained failures: at least
// TokenFailureThreshold failures spanning TokenFailureWindow. A short
// outage on the provider side must not expire every account it touches.
const (
	TokenFailureThreshold = 8
	TokenFailureWindow    = 12 * time.Hour
)

// RecordTokenFailure notes a failed token refresh for email, expiring the
// account once failures persist past the threshold and window.
//
// statusCode is the upstream HTTP status (0 when unknown), errMsg the
// upstream error text ("" when unavailable). A missing account is logged
// and ignored: failure tracking must never fail the caller.
func (s *Service) RecordTokenFailure(email string, statusCode int, errMsg string) {
	markedExpired := false

	accounts, err := s.store.Update(email, func(rec account.Record) (account.Record, error) {
		if rec == nil {
			return nil, nil
		}

		now := s.now().UTC()
		nowStr := now.Format(time.RFC3339)

		failures, _ := rec[account.FieldTokenFailures].(map[string]any)
		if failures == nil {
			failures = make(map[string]any)
		}

		firstAt := parseTimestamp(failures[account.FailureFirstAt])
		if firstAt.IsZero() {
			firstAt = now
			failures[account.FailureFirstAt] = nowStr
		}
		failures[account.FailureLastAt] = nowStr

		count := failureCount(failures) + 1
		failures[account.FailureCount] = count
		if statusCode > 0 {
			failures[account.FailureLastStatusCode] = statusCode
		}
		if errMsg != "" {
			failures[account.FailureLastError] = errMsg
		}
		rec[account.FieldTokenFailures] = failures

		if count >= TokenFailureThreshold &&
			now.Sub(firstAt) >= TokenFailureWindow &&
			rec.Status() != "expired" {
			rec[account.FieldStatus] = "expired"
			rec[account.FieldStatusUpdatedAt] = nowStr
			rec[account.FieldStatusReason] = "token_expired"
			markedExpired = true
		}
		return rec, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Printf("Account %s not found when recording token failure", email)
		} else {
			s.logger.Printf("ERROR: failed to record token failure for %s: %v", email, err)
		}
		return
	}

	if markedExpired {
		s.logger.Printf("WARNING: account %s marked as expired due to repeated token failures", email)
	}
	s.enqueue(accounts, "mutation")
}

// RecordTokenSuccess clears failure tracking for email and reactivates an
// account that was expired for token failures. A no-op when there is
// nothing to clear, so the hot path does not rewrite the accounts file on
// every successful token fetch.
func (s *Service) RecordTokenSuccess(email string) {
	current, err := s.Get(email)
	if err != nil {
		return
	}
	_, hasFailures := current[account.FieldTokenFailures]
	if !hasFailures && current.Status() != "expired" {
		return
	}

	accounts, err := s.store.Update(email, func(rec account.Record) (account.Record, error) {
		if rec == nil {
			return nil, nil
		}

		delete(rec, account.FieldTokenFailures)

		if rec.Status() == "expired" {
			rec[account.FieldStatus] = "active"
			rec[account.FieldStatusUpdatedAt] = s.now().UTC().Format(time.RFC3339)
			if reason, _ := rec[account.FieldStatusReason].(string); reason == "token_expired" {
				delete(rec, account.FieldStatusReason)
			}
		}
		return rec, nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Printf("ERROR: failed to clear token failures for %s: %v", email, err)
		}
		return
	}
	s.enqueue(accounts, "mutation")
}

// failureCount reads the stored count across the shapes it has appeared
// in: int in memory, float64 after a JSON round trip.
func failureCount(failures map[string]any) int {
	switch v := failures[account.FailureCount].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// parseTimestamp parses an RFC 3339 timestamp, returning the zero time for
// anything unparsable.
func parseTimestamp(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
