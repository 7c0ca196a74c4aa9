package storage

import (
	"context"
	"database/sql"

	"github.com/teranos/docsync/errors"
)

const (
	peerStateUpsertQuery = `
		INSERT INTO peer_states (peer, state, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(peer) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`

	peerStateSelectQuery = `
		SELECT state FROM peer_states WHERE peer = ?`

	peerStateSelectAllQuery = `
		SELECT peer, state FROM peer_states ORDER BY peer ASC`

	peerStateDeleteQuery = `
		DELETE FROM peer_states WHERE peer = ?`
)

// SQLPeerStateStore keeps one encoded sync state per peer name.
type SQLPeerStateStore struct {
	db *sql.DB
}

// NewSQLPeerStateStore creates a peer state store over a migrated database.
func NewSQLPeerStateStore(db *sql.DB) *SQLPeerStateStore {
	return &SQLPeerStateStore{db: db}
}

// Save replaces the stored state for peer.
func (s *SQLPeerStateStore) Save(ctx context.Context, peer string, state []byte) error {
	if peer == "" {
		return errors.NewInvalidRequestError("peer name is required")
	}
	if _, err := s.db.ExecContext(ctx, peerStateUpsertQuery, peer, state); err != nil {
		return errors.Wrapf(err, "failed to save state for peer %s", peer)
	}
	return nil
}

// Load returns the stored state for peer, or an error wrapping
// errors.ErrNotFound.
func (s *SQLPeerStateStore) Load(ctx context.Context, peer string) ([]byte, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx, peerStateSelectQuery, peer).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("no sync state for peer %s", peer)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load state for peer %s", peer)
	}
	return state, nil
}

// All returns every stored state keyed by peer.
func (s *SQLPeerStateStore) All(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, peerStateSelectAllQuery)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query peer states")
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var peer string
		var state []byte
		if err := rows.Scan(&peer, &state); err != nil {
			return nil, errors.Wrap(err, "failed to scan peer state")
		}
		out[peer] = state
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate peer states")
	}
	return out, nil
}

// Delete forgets peer. Deleting an unknown peer is not an error.
func (s *SQLPeerStateStore) Delete(ctx context.Context, peer string) error {
	if _, err := s.db.ExecContext(ctx, peerStateDeleteQuery, peer); err != nil {
		return errors.Wrapf(err, "failed to delete state for peer %s", peer)
	}
	return nil
}
