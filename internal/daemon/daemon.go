// Package daemon keeps the remote mirror following the accounts file.
//
// The daemon:
// 1. Pushes the full accounts file on startup
// 2. Watches the accounts file for changes and pushes after a debounce
// 3. Pushes periodically as a safety net for missed events
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cj1354421348/OutlookManager/internal/service"
)

// Config holds configuration for the daemon.
type Config struct {
	// PushInterval is how often to push regardless of file events.
	PushInterval time.Duration

	// DebounceInterval is how long to wait after a file event before
	// pushing. This batches rapid editor write sequences together.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PushInterval:     5 * time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon watches the accounts file and mirrors it to the remote store.
type Daemon struct {
	svc          *service.Service
	accountsPath string
	config       *Config

	watcher *fsnotify.Watcher

	pendingMu sync.Mutex
	pendingAt time.Time
	pending   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance.
//
// accountsPath is the accounts file to watch. Its parent directory is
// watched rather than the file itself, because atomic writes replace the
// file via rename and would otherwise drop the watch.
//
// Use Start() to begin watching and syncing.
func New(svc *service.Service, accountsPath string, config *Config) (*Daemon, error) {
	if svc == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if accountsPath == "" {
		return nil, fmt.Errorf("accountsPath cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		svc:          svc,
		accountsPath: accountsPath,
		config:       config,
		watcher:      watcher,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// This blocks until ctx is cancelled or startup fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	// Initial push so the mirror is current before we start watching.
	if _, err := d.svc.PushNow(d.ctx); err != nil {
		if errors.Is(err, service.ErrSyncDisabled) {
			return fmt.Errorf("cannot start daemon: %w", err)
		}
		// A transient database failure on startup is retried by the
		// periodic push; do not refuse to start over it.
		d.config.Logger.Printf("WARNING: initial push failed: %v", err)
	}

	watchDir := filepath.Dir(d.accountsPath)
	if err := os.MkdirAll(watchDir, 0755); err != nil {
		return fmt.Errorf("failed to create watch directory: %w", err)
	}
	if err := d.watcher.Add(watchDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", watchDir, err)
	}
	d.config.Logger.Printf("Watching: %s", d.accountsPath)

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processPending()
	go d.periodicPush()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// watchFileEvents monitors filesystem events and marks the file dirty.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	base := filepath.Base(d.accountsPath)

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// Atomic writes surface as Create (rename target) or
			// Write; Remove covers manual deletion.
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Base(event.Name) != base {
				continue
			}

			d.config.Logger.Printf("File event: %s %s", event.Op, event.Name)
			d.markDirty()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// markDirty records a pending change, restarting the debounce window.
func (d *Daemon) markDirty() {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	d.pending = true
	d.pendingAt = time.Now()
}

// processPending pushes once a pending change has been quiet for the
// debounce interval.
func (d *Daemon) processPending() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if d.takePending() {
				d.push("watch")
			}
		}
	}
}

// takePending consumes the dirty flag if the debounce window has elapsed.
func (d *Daemon) takePending() bool {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	if !d.pending || time.Since(d.pendingAt) < d.config.DebounceInterval {
		return false
	}
	d.pending = false
	return true
}

// periodicPush pushes on a fixed interval as a catch-all for events the
// watcher missed (network filesystems, editors writing via hardlinks).
func (d *Daemon) periodicPush() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.push("interval")
		}
	}
}

// push mirrors the accounts file, logging failures rather than stopping
// the daemon.
func (d *Daemon) push(trigger string) {
	report, err := d.svc.PushNow(d.ctx)
	if err != nil {
		d.config.Logger.Printf("Error pushing accounts (%s): %v", trigger, err)
		return
	}
	if report.Added+report.Updated+report.MarkedDeleted > 0 {
		d.config.Logger.Printf("Pushed accounts (%s): %s", trigger, report.Message)
	}
}
