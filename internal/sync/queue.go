package sync

import (
	"context"

	"github.com/cj1354421348/OutlookManager/internal/account"
)

// queueCapacity bounds the background push queue. Pushes are full-set
// snapshots, so a dropped push is recovered by the next one; a small
// buffer only needs to absorb bursts of rapid mutations.
const queueCapacity = 16

type pushJob struct {
	accounts account.Set
	source   string
}

// Enqueue implements Syncer.Enqueue.
func (s *Synchronizer) Enqueue(accounts account.Set, source string) (queued bool) {
	if !s.Enabled() {
		return false
	}

	// Sending on a closed queue panics; a syncer that is shutting down
	// simply reports the push as dropped.
	defer func() {
		if recover() != nil {
			queued = false
		}
	}()

	job := pushJob{accounts: accounts.Clone(), source: source}
	select {
	case s.queue <- job:
		return true
	default:
		s.logger.Printf("WARNING: sync queue full, dropping background push (source=%s)", source)
		return false
	}
}

// worker drains the queue until Close. Background failures are logged,
// never propagated: a broken database connection must not take the caller
// down with it.
func (s *Synchronizer) worker() {
	defer s.workerWG.Done()

	for job := range s.queue {
		report, err := s.Push(context.Background(), job.accounts, job.source)
		if err != nil {
			s.logger.Printf("ERROR: background sync failed (source=%s): %v", job.source, err)
			continue
		}
		s.logger.Printf("Background sync finished: %s", report.Message)
	}
}
