// Package sync reconciles the local accounts file with its relational
// mirror.
package sync

import (
	"context"

	"github.com/cj1354421348/OutlookManager/internal/account"
)

// Syncer keeps the remote account mirror in sync with the local accounts
// file.
//
// Push treats the local record set as authoritative: remote rows are
// inserted, updated, or tombstoned to match. Pull flows the other way and
// resolves disagreements with a conflict strategy, so the two directions
// compose into eventual convergence rather than ping-ponging.
//
// The syncer is designed to be resilient - individual record failures
// during pull are logged and skipped rather than aborting the whole run.
// Push writes are transactional: a failed push leaves the remote store
// untouched.
type Syncer interface {
	// Push mirrors the local record set to the remote store.
	//
	// Records absent remotely are inserted, records whose checksum
	// differs (or whose remote row is tombstoned) are updated, and
	// remote rows with no local counterpart are marked deleted. Tag
	// relations are reconciled by set difference for every email seen
	// on either side. All writes happen in one transaction.
	//
	// source labels the origin of the write ("auto", "manual", ...)
	// and is stored on every touched row.
	//
	// Example:
	//   report, err := syncer.Push(ctx, accounts, "manual")
	Push(ctx context.Context, accounts account.Set, source string) (*Report, error)

	// Pull merges the remote rows into a copy of the local record set.
	//
	// Remote payloads are normalized and re-checksummed before
	// comparison, so rows written by older versions compare correctly.
	// Disagreements resolve per the conflict strategy; see Strategy.
	//
	// The returned bool reports whether the merged set differs from
	// the input, i.e. whether the caller needs to persist it.
	//
	// Example:
	//   merged, report, changed, err := syncer.Pull(ctx, accounts)
	Pull(ctx context.Context, local account.Set) (account.Set, *Report, bool, error)

	// Enqueue schedules a background push of the given record set.
	//
	// The set is deep-copied before queueing, so the caller may keep
	// mutating it. A single worker drains the queue in order; when the
	// queue is full the push is dropped with a warning rather than
	// blocking the caller. Background failures are logged, never
	// propagated.
	//
	// Returns false when the push was not queued (sync disabled, queue
	// full, or the syncer is closed).
	Enqueue(accounts account.Set, source string) bool

	// Enabled reports whether a remote store is configured.
	Enabled() bool

	// Strategy returns the active conflict strategy.
	Strategy() Strategy

	// Close stops the background worker after draining queued pushes.
	Close()
}
