package sync

import (
	"errors"
	"log"
	"os"
	"strings"
	stdsync "sync"

	"github.com/cj1354421348/OutlookManager/internal/account"
	"github.com/cj1354421348/OutlookManager/internal/remote"
)

// Strategy decides which side wins when local and remote disagree on a
// record during pull.
type Strategy string

const (
	// PreferLocal keeps local credentials and absorbs only remote
	// metadata (tags, note, status, failure counters). Local records
	// survive remote tombstones.
	PreferLocal Strategy = "prefer_local"

	// PreferRemote replaces disagreeing local records wholesale and
	// honors remote tombstones by removing the local record.
	PreferRemote Strategy = "prefer_remote"
)

// ParseStrategy normalizes a configured strategy name, falling back to
// PreferLocal with a warning on anything unrecognized.
func ParseStrategy(raw string, logger *log.Logger) Strategy {
	switch Strategy(strings.ToLower(strings.TrimSpace(raw))) {
	case PreferLocal:
		return PreferLocal
	case PreferRemote:
		return PreferRemote
	}
	if strings.TrimSpace(raw) != "" && logger != nil {
		logger.Printf("WARNING: unknown conflict strategy %q, falling back to prefer_local", raw)
	}
	return PreferLocal
}

// ErrDisabled is returned by Push and Pull when no remote store is
// configured.
var ErrDisabled = errors.New("database sync is not configured")

// Synchronizer implements Syncer against a remote.Store.
type Synchronizer struct {
	store    remote.Store
	strategy Strategy
	norm     *account.Normalizer
	logger   *log.Logger

	queue     chan pushJob
	workerWG  stdsync.WaitGroup
	closeOnce stdsync.Once
}

// New creates a Synchronizer.
//
// store may be nil, which produces a disabled syncer: Push and Pull
// return ErrDisabled and Enqueue drops silently. Callers can therefore
// construct one unconditionally and let configuration decide.
//
// If logger is nil, a default logger writing to stderr is used.
//
// Example:
//
//	store, err := remote.OpenPostgres(dsn, "account_backups", nil)
//	if err != nil {
//	    return err
//	}
//	syncer := sync.New(store, sync.PreferLocal, nil)
//	defer syncer.Close()
func New(store remote.Store, strategy Strategy, logger *log.Logger) *Synchronizer {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if strategy != PreferLocal && strategy != PreferRemote {
		strategy = PreferLocal
	}

	s := &Synchronizer{
		store:    store,
		strategy: strategy,
		norm:     account.NewNormalizer(logger),
		logger:   logger,
		queue:    make(chan pushJob, queueCapacity),
	}

	s.workerWG.Add(1)
	go s.worker()

	return s
}

// Enabled implements Syncer.Enabled.
func (s *Synchronizer) Enabled() bool {
	return s.store != nil
}

// Strategy implements Syncer.Strategy.
func (s *Synchronizer) Strategy() Strategy {
	return s.strategy
}

// Close implements Syncer.Close.
func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() {
		close(s.queue)
	})
	s.workerWG.Wait()
}
