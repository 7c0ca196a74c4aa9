package storage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/docsync/doc"
	"github.com/teranos/docsync/errors"
	dstest "github.com/teranos/docsync/internal/testing"
	"github.com/teranos/docsync/sync"
)

func commitChanges(t *testing.T, n int) []sync.Change {
	t.Helper()
	d := doc.New("alice")
	var out []sync.Change
	for i := 0; i < n; i++ {
		var raw sync.Change
		var err error
		d, raw, _, err = d.Commit("", doc.Set("k", string(rune('a'+i))))
		require.NoError(t, err)
		out = append(out, raw)
	}
	return out
}

func TestSQLChangeStore_AppendAndAll(t *testing.T) {
	db := dstest.CreateTestDB(t)
	store := NewSQLChangeStore(db, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	changes := commitChanges(t, 3)
	require.NoError(t, store.Append(ctx, changes[0], changes[1]))
	require.NoError(t, store.Append(ctx, changes[1], changes[2]))

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, changes, all)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// The stored history rebuilds the document.
	loaded, err := doc.Load("bob", all)
	require.NoError(t, err)
	v, _ := loaded.Get("k")
	assert.Equal(t, "c", v)
}

func TestSQLChangeStore_AppendNothing(t *testing.T) {
	store := NewSQLChangeStore(dstest.CreateTestDB(t), nil)
	require.NoError(t, store.Append(context.Background()))
}

func TestSQLChangeStore_RejectsGarbage(t *testing.T) {
	db := dstest.CreateTestDB(t)
	store := NewSQLChangeStore(db, nil)
	ctx := context.Background()

	good := commitChanges(t, 1)[0]
	err := store.Append(ctx, good, sync.Change("garbage"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMalformedMessage))

	// The whole batch rolled back.
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQLChangeStore_Sqlmock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	raw := commitChanges(t, 1)[0]
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT OR IGNORE INTO changes`).
		WithArgs(doc.HashOf(raw).String(), "alice", uint64(1), []byte(raw)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := NewSQLChangeStore(db, nil)
	require.NoError(t, store.Append(context.Background(), raw))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLChangeStore_SqlmockInsertFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	raw := commitChanges(t, 1)[0]
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT OR IGNORE INTO changes`).WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	store := NewSQLChangeStore(db, nil)
	err = store.Append(context.Background(), raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLPeerStateStore(t *testing.T) {
	store := NewSQLPeerStateStore(dstest.CreateTestDB(t))
	ctx := context.Background()

	_, err := store.Load(ctx, "laptop")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	require.NoError(t, store.Save(ctx, "laptop", []byte(`{"version":1}`)))
	require.NoError(t, store.Save(ctx, "laptop", []byte(`{"version":1,"sharedHeads":[]}`)))
	require.NoError(t, store.Save(ctx, "desktop", []byte(`{}`)))

	got, err := store.Load(ctx, "laptop")
	require.NoError(t, err)
	assert.Equal(t, `{"version":1,"sharedHeads":[]}`, string(got))

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, `{}`, string(all["desktop"]))

	require.NoError(t, store.Delete(ctx, "desktop"))
	require.NoError(t, store.Delete(ctx, "desktop"))
	all, err = store.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	err = store.Save(ctx, "", nil)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestSQLPeerStateStore_RoundTripsPeerState(t *testing.T) {
	store := NewSQLPeerStateStore(dstest.CreateTestDB(t))
	ctx := context.Background()

	d, _, _, err := doc.New("alice").Commit("", doc.Set("k", "v"))
	require.NoError(t, err)

	blob, err := sync.EncodePeerState(sync.PeerState{SharedHeads: d.Heads()})
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "bob", blob))

	loaded, err := store.Load(ctx, "bob")
	require.NoError(t, err)
	state, err := sync.DecodePeerState(loaded)
	require.NoError(t, err)
	assert.Equal(t, d.Heads(), state.SharedHeads)
}

func TestSQLMetaStore_ActorIDIsStable(t *testing.T) {
	store := NewSQLMetaStore(dstest.CreateTestDB(t))
	ctx := context.Background()

	_, err := store.Get(ctx, MetaActorID)
	assert.True(t, errors.IsNotFoundError(err))

	first, err := store.ActorID(ctx)
	require.NoError(t, err)
	assert.Len(t, first, 36)

	second, err := store.ActorID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, store.Set(ctx, MetaActorID, "fixed"))
	third, err := store.ActorID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fixed", third)
}
