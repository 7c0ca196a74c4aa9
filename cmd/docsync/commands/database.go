package commands

import (
	"context"
	"database/sql"

	"github.com/teranos/docsync/am"
	"github.com/teranos/docsync/db"
	"github.com/teranos/docsync/errors"
	"github.com/teranos/docsync/logger"
	"github.com/teranos/docsync/replica"
	"github.com/teranos/docsync/storage"
)

// openDatabase opens and migrates a database using the specified path.
// If dbPath is empty, it uses database.path from cfg.
func openDatabase(dbPath string, cfg *am.Config) (*sql.DB, error) {
	if dbPath == "" {
		dbPath = cfg.GetDatabasePath()
	}

	database, err := db.OpenWithMigrations(dbPath, logger.ComponentLogger("db"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}

// openReplica loads the replica stored in database. The actor ID is
// generated on first use and kept in the meta table.
func openReplica(ctx context.Context, database *sql.DB, cfg *am.Config) (*replica.Replica, error) {
	actor, err := storage.NewSQLMetaStore(database).ActorID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read actor ID")
	}

	return replica.Open(ctx, replica.Options{
		Name:    cfg.Sync.Name,
		Actor:   actor,
		Changes: storage.NewSQLChangeStore(database, logger.ComponentLogger("storage")),
		States:  storage.NewSQLPeerStateStore(database),
		Logger:  logger.ComponentLogger("replica"),
	})
}

// loadLocal loads config, opens the database and the replica in one step.
// The caller closes the returned database.
func loadLocal(ctx context.Context, dbPath string) (*am.Config, *sql.DB, *replica.Replica, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, errors.Wrap(err, "invalid configuration")
	}

	database, err := openDatabase(dbPath, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	r, err := openReplica(ctx, database, cfg)
	if err != nil {
		database.Close()
		return nil, nil, nil, err
	}
	return cfg, database, r, nil
}
