// Command accountsync manages the local mail-account credentials file and
// keeps it mirrored to a relational store.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "accountsync",
	Short: "Mirror the local accounts file to a relational store",
	Long: `accountsync keeps a local JSON file of mail-account credentials in sync
with a relational mirror (Postgres, or embedded SQLite for single-machine
setups).

The accounts file stays the source of truth: pushes mirror it to the
database, pulls merge database rows back using the configured conflict
strategy.

Configuration comes from the environment (ACCOUNTS_FILE, DATABASE_URL,
ACCOUNTS_DB_*, ACCOUNTS_SYNC_CONFLICT, ...) or an optional YAML file.`,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
