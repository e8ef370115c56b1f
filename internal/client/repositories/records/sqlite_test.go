package records

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dmitrijs2005/chatvault/internal/common"
	"github.com/dmitrijs2005/chatvault/internal/cryptox"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE records (
  kind       TEXT    NOT NULL,
  id         TEXT    NOT NULL,
  doc        BLOB    NOT NULL,
  version    INTEGER NOT NULL DEFAULT 0,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (kind, id)
);`)
	require.NoError(t, err)
	return db
}

func env(b byte) *cryptox.Envelope {
	return &cryptox.Envelope{Ciphertext: []byte{b, b}, Nonce: []byte{b}}
}

func TestPutGet_RoundTrip(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	rec := rpc.Record{ID: "c1", Title: *env(1), Key: env(2), Body: env(3), Version: 1, UpdatedAt: time.UnixMilli(1000).UTC()}
	require.NoError(t, r.Put(ctx, rpc.KindChats, rec))

	got, err := r.Get(ctx, rpc.KindChats, "c1")
	require.NoError(t, err)
	assert.Equal(t, rec.Title, got.Title)
	assert.Equal(t, rec.Body, got.Body)
	assert.Equal(t, rec.Key, got.Key)

	_, err = r.Get(ctx, rpc.KindNotes, "c1")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestPut_SummaryKeepsBodyOfSameVersion(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, rpc.KindNotes, rpc.Record{ID: "n1", Body: env(9), Version: 2}))
	require.NoError(t, r.Put(ctx, rpc.KindNotes, rpc.Record{ID: "n1", Title: *env(1), Version: 2}))

	got, err := r.Get(ctx, rpc.KindNotes, "n1")
	require.NoError(t, err)
	assert.Equal(t, env(9), got.Body)

	require.NoError(t, r.Put(ctx, rpc.KindNotes, rpc.Record{ID: "n1", Title: *env(1), Version: 3}))
	got, err = r.Get(ctx, rpc.KindNotes, "n1")
	require.NoError(t, err)
	assert.Nil(t, got.Body, "a newer summary invalidates the stored body")
}

func TestList_OrderedAndScopedByKind(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, rpc.KindChats, rpc.Record{ID: "old", UpdatedAt: time.UnixMilli(1)}))
	require.NoError(t, r.Put(ctx, rpc.KindChats, rpc.Record{ID: "new", UpdatedAt: time.UnixMilli(2)}))
	require.NoError(t, r.Put(ctx, rpc.KindFolders, rpc.Record{ID: "f"}))

	got, err := r.List(ctx, rpc.KindChats)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "old", got[1].ID)
}

func TestReplaceKind(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, rpc.KindChats, rpc.Record{ID: "gone"}))
	require.NoError(t, r.Put(ctx, rpc.KindChats, rpc.Record{ID: "kept", Body: env(5)}))
	require.NoError(t, r.Put(ctx, rpc.KindNotes, rpc.Record{ID: "other"}))

	require.NoError(t, r.ReplaceKind(ctx, rpc.KindChats, []rpc.Record{{ID: "kept"}, {ID: "fresh"}}))

	got, err := r.List(ctx, rpc.KindChats)
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, rec := range got {
		ids[rec.ID] = true
	}
	assert.Equal(t, map[string]bool{"kept": true, "fresh": true}, ids)

	kept, err := r.Get(ctx, rpc.KindChats, "kept")
	require.NoError(t, err)
	assert.Equal(t, env(5), kept.Body)

	notes, err := r.List(ctx, rpc.KindNotes)
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestDeleteAndClear(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, rpc.KindChats, rpc.Record{ID: "a"}))
	require.NoError(t, r.Put(ctx, rpc.KindChats, rpc.Record{ID: "b"}))

	require.NoError(t, r.Delete(ctx, rpc.KindChats, "a"))
	require.NoError(t, r.Delete(ctx, rpc.KindChats, "a"))
	got, err := r.List(ctx, rpc.KindChats)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, r.Clear(ctx))
	got, err = r.List(ctx, rpc.KindChats)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestErrorsWrapped(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	require.NoError(t, db.Close())

	_, err := r.List(ctx, rpc.KindChats)
	require.ErrorContains(t, err, "failed to select records")
	err = r.Delete(ctx, rpc.KindChats, "x")
	require.ErrorContains(t, err, "failed to delete record")
	err = r.Clear(ctx)
	require.ErrorContains(t, err, "failed to clear records")
}
