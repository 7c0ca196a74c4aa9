// Package storage persists docsync state in SQLite: the change history,
// each peer's durable sync state, and replica-wide settings.
package storage

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/teranos/docsync/doc"
	"github.com/teranos/docsync/errors"
	"github.com/teranos/docsync/sync"
)

// Query constants
const (
	changeInsertQuery = `
		INSERT OR IGNORE INTO changes (hash, actor, seq, data)
		VALUES (?, ?, ?, ?)`

	changeSelectAllQuery = `
		SELECT data FROM changes ORDER BY id ASC`

	changeCountQuery = `
		SELECT COUNT(*) FROM changes`
)

// SQLChangeStore is the append-only change history.
type SQLChangeStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewSQLChangeStore creates a change store over a migrated database.
func NewSQLChangeStore(db *sql.DB, logger *zap.SugaredLogger) *SQLChangeStore {
	return &SQLChangeStore{db: db, logger: logger}
}

// Append stores changes in one transaction. Changes already stored are
// ignored, so replaying a batch is harmless.
func (s *SQLChangeStore) Append(ctx context.Context, changes ...sync.Change) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin change append")
	}
	defer tx.Rollback()

	stored := 0
	for _, raw := range changes {
		c, err := doc.Decode(raw)
		if err != nil {
			return errors.Wrap(err, "refusing to store undecodable change")
		}
		res, err := tx.ExecContext(ctx, changeInsertQuery, doc.HashOf(raw).String(), c.Actor, c.Seq, []byte(raw))
		if err != nil {
			return errors.Wrapf(err, "failed to insert change %s", doc.ShortHash(doc.HashOf(raw)))
		}
		if n, err := res.RowsAffected(); err == nil {
			stored += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit change append")
	}
	if s.logger != nil && stored > 0 {
		s.logger.Debugw("Changes stored", "count", stored, "offered", len(changes))
	}
	return nil
}

// All returns the stored history in insertion order.
func (s *SQLChangeStore) All(ctx context.Context) ([]sync.Change, error) {
	rows, err := s.db.QueryContext(ctx, changeSelectAllQuery)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query changes")
	}
	defer rows.Close()

	var out []sync.Change
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, errors.Wrap(err, "failed to scan change")
		}
		out = append(out, sync.Change(data))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate changes")
	}
	return out, nil
}

// Count returns the number of stored changes.
func (s *SQLChangeStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, changeCountQuery).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count changes")
	}
	return n, nil
}
