package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cj1354421348/OutlookManager/internal/daemon"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Mirror the accounts file to the database",
	Long: `Push the local accounts file to the relational mirror.

Records missing remotely are inserted, changed records are updated, and
remote rows with no local counterpart are marked deleted (tombstoned).
Tag relations are reconciled by set difference.`,
	Run: func(cmd *cobra.Command, args []string) {
		app := mustApp()
		defer app.Close()

		start := time.Now()
		report, err := app.svc.PushNow(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error pushing accounts: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Push complete in %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Added: %d\n", report.Added)
		fmt.Printf("   Updated: %d\n", report.Updated)
		fmt.Printf("   Marked deleted: %d\n", report.MarkedDeleted)
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Merge database rows into the accounts file",
	Long: `Pull the relational mirror into the local accounts file.

Remote rows are normalized and merged using the configured conflict
strategy (ACCOUNTS_SYNC_CONFLICT: prefer_local or prefer_remote). The
accounts file is rewritten only when the merge produced changes.`,
	Run: func(cmd *cobra.Command, args []string) {
		app := mustApp()
		defer app.Close()

		start := time.Now()
		report, changed, err := app.svc.PullNow(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error pulling accounts: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Pull complete in %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Added: %d\n", report.Added)
		fmt.Printf("   Updated: %d\n", report.Updated)
		fmt.Printf("   Removed: %d\n", report.Removed)
		fmt.Printf("   Skipped: %d\n", report.Skipped)
		if changed {
			fmt.Printf("   Accounts file updated: %s\n", app.store.Path())
		} else {
			fmt.Println("   Accounts file unchanged")
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show accounts file and mirror status",
	Long: `Display the current state of the accounts file and, when sync is
configured, the relational mirror:

  - accounts file location and record count
  - conflict strategy
  - remote row and tombstone counts`,
	Run: func(cmd *cobra.Command, args []string) {
		app := mustApp()
		defer app.Close()

		accounts, err := app.store.ReadAll()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading accounts file: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\nAccounts file: %s\n", app.store.Path())
		fmt.Printf("Local accounts: %d\n", len(accounts))

		if !app.syncer.Enabled() {
			fmt.Println("Database sync: disabled")
			fmt.Println()
			return
		}

		fmt.Println("Database sync: enabled")
		fmt.Printf("Conflict strategy: %s\n", app.syncer.Strategy())
		fmt.Printf("Table: %s\n", app.cfg.Database.Table)

		state, err := app.remote.FetchState(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading remote state: %v\n", err)
			os.Exit(1)
		}

		tombstones := 0
		for _, st := range state {
			if st.IsDeleted {
				tombstones++
			}
		}
		fmt.Printf("Remote rows: %d (%d tombstoned)\n", len(state), tombstones)
		fmt.Println()
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Watch the accounts file and mirror changes (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon:
  1. Pushes the accounts file on startup
  2. Watches the file and pushes after each change (debounced)
  3. Pushes periodically as a safety net (ACCOUNTS_SYNC_INTERVAL seconds)

Stop with SIGINT or SIGTERM; queued background pushes are drained before
exit.`,
	Run: func(cmd *cobra.Command, args []string) {
		app := mustApp()
		defer app.Close()

		cfg := daemon.DefaultConfig()
		cfg.PushInterval = time.Duration(app.cfg.Daemon.IntervalSec) * time.Second
		cfg.DebounceInterval = time.Duration(app.cfg.Daemon.DebounceMs) * time.Millisecond

		d, err := daemon.New(app.svc, app.store.Path(), cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon error: %v\n", err)
			os.Exit(1)
		}
	},
}
