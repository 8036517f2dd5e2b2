package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"mediafetch/internal/config"
	"mediafetch/internal/engine"
	"mediafetch/internal/logs"
	"mediafetch/internal/registry"
	"mediafetch/internal/runstore"
	"mediafetch/internal/store"
)

// app wires one process worth of collaborators: settings, journal, the
// SQLite store, the registry restored from it and the engine.
type app struct {
	cfg       *config.Config
	logger    *log.Logger
	journal   *logs.Journal
	db        *store.SQLite
	publisher *store.Publisher
	registry  *registry.Registry
	engine    *engine.Engine
}

func openApp(configPath string, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	settings := cfg.Settings()

	logger := logs.NewLogger(stderr, settings.LogLevel)
	journal := logs.NewJournal(logger, logs.DefaultMaxEntries)

	db, err := store.Open(settings.DBPath())
	if err != nil {
		return nil, err
	}
	journal.AddSink(db)

	a := &app{cfg: cfg, logger: logger, journal: journal, db: db}
	opts := []registry.Option{registry.WithSink(db), registry.WithLogger(logger)}
	if settings.RedisAddr != "" {
		pub, err := store.NewRedisPublisher(context.Background(), settings.RedisAddr, settings.RedisChannel)
		if err != nil {
			logger.Warn("redis publisher disabled", "err", err)
		} else {
			a.publisher = pub
			opts = append(opts, registry.WithSink(pub))
		}
	}
	a.registry = registry.New(opts...)

	lockDir := settings.LockDir()
	if err := runstore.ClearStaleJobLocks(lockDir); err != nil {
		logger.Warn("clear stale job locks", "err", err)
	}
	persisted, err := db.LoadJobs()
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	interrupted := a.registry.Restore(persisted, func(id string) bool {
		return runstore.JobLockHeld(lockDir, id)
	})
	for _, j := range interrupted {
		logger.Info("marked interrupted job as failed", "job", j.ID)
	}

	a.engine, err = engine.New(engine.Options{
		Registry: a.registry,
		Journal:  journal,
		Settings: cfg,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// Close waits for background work and then closes the stores.
func (a *app) Close() error {
	if a.engine != nil {
		a.engine.Wait()
	}
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
