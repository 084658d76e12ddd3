package sync

import "fmt"

// Report summarizes one sync run. Counters that do not apply to a
// direction stay zero: push never removes or skips, pull never marks
// deleted.
type Report struct {
	Message       string `json:"message"`
	Added         int    `json:"added"`
	Updated       int    `json:"updated"`
	Removed       int    `json:"removed"`
	Skipped       int    `json:"skipped"`
	MarkedDeleted int    `json:"marked_deleted"`
}

func pushReport(added, updated, markedDeleted int) *Report {
	return &Report{
		Message: fmt.Sprintf("sync complete: added %d, updated %d, marked deleted %d",
			added, updated, markedDeleted),
		Added:         added,
		Updated:       updated,
		MarkedDeleted: markedDeleted,
	}
}

func pullReport(added, updated, removed, skipped int) *Report {
	return &Report{
		Message: fmt.Sprintf("sync complete: added %d, updated %d, removed %d, skipped %d",
			added, updated, removed, skipped),
		Added:   added,
		Updated: updated,
		Removed: removed,
		Skipped: skipped,
	}
}
