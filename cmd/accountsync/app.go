package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cj1354421348/OutlookManager/internal/config"
	"github.com/cj1354421348/OutlookManager/internal/remote"
	"github.com/cj1354421348/OutlookManager/internal/service"
	"github.com/cj1354421348/OutlookManager/internal/store"
	"github.com/cj1354421348/OutlookManager/internal/sync"
)

// app wires the configured components together for one command run.
type app struct {
	cfg    *config.Config
	remote *remote.SQLStore // nil when sync is disabled
	store  *store.FileStore
	syncer *sync.Synchronizer
	svc    *service.Service
}

// newApp loads configuration and constructs the component graph.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	// Log to stderr by default; a configured log file rotates.
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}
	logger := func(prefix string) *log.Logger {
		return log.New(out, prefix, log.LstdFlags)
	}

	var dbStore *remote.SQLStore
	switch {
	case cfg.PostgresConfigured():
		dbStore, err = remote.OpenPostgres(cfg.PostgresDSN(), cfg.Database.Table, logger("[remote] "))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	case cfg.Database.SQLitePath != "":
		dbStore, err = remote.OpenSQLite(cfg.Database.SQLitePath, cfg.Database.Table, logger("[remote] "))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite mirror: %w", err)
		}
	}

	// A nil *SQLStore must become a nil interface, or the syncer would
	// think sync is enabled.
	var remoteStore remote.Store
	if dbStore != nil {
		remoteStore = dbStore
	}

	strategy := sync.ParseStrategy(cfg.Sync.Conflict, logger("[sync] "))
	syncer := sync.New(remoteStore, strategy, logger("[sync] "))

	fileStore := store.New(cfg.AccountsFile, logger("[store] "))
	svc := service.New(fileStore, syncer, logger("[service] "))

	return &app{
		cfg:    cfg,
		remote: dbStore,
		store:  fileStore,
		syncer: syncer,
		svc:    svc,
	}, nil
}

// Close drains the background queue and releases the database connection.
func (a *app) Close() {
	a.syncer.Close()
	if a.remote != nil {
		_ = a.remote.Close()
	}
}

// mustApp builds the app or exits with an error message.
func mustApp() *app {
	a, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return a
}
