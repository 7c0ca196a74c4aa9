package storage

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/teranos/docsync/errors"
)

// MetaActorID is the replica_meta key holding this replica's actor id.
const MetaActorID = "actor_id"

// SQLMetaStore holds replica-wide key/value settings.
type SQLMetaStore struct {
	db *sql.DB
}

// NewSQLMetaStore creates a meta store over a migrated database.
func NewSQLMetaStore(db *sql.DB) *SQLMetaStore {
	return &SQLMetaStore{db: db}
}

// Get returns the value for key, or an error wrapping errors.ErrNotFound.
func (s *SQLMetaStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM replica_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", errors.NewNotFoundError("replica setting %s", key)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to read replica setting %s", key)
	}
	return value, nil
}

// Set stores value under key.
func (s *SQLMetaStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO replica_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return errors.Wrapf(err, "failed to write replica setting %s", key)
	}
	return nil
}

// ActorID returns the replica's actor id, generating and storing a new
// UUID the first time.
func (s *SQLMetaStore) ActorID(ctx context.Context) (string, error) {
	id, err := s.Get(ctx, MetaActorID)
	if err == nil {
		return id, nil
	}
	if !errors.IsNotFoundError(err) {
		return "", err
	}
	id = uuid.NewString()
	if err := s.Set(ctx, MetaActorID, id); err != nil {
		return "", err
	}
	return id, nil
}
