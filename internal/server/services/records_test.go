package services

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/chatvault/internal/common"
	"github.com/dmitrijs2005/chatvault/internal/cryptox"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
	"github.com/dmitrijs2005/chatvault/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// env builds a deterministic envelope of the right shape around s.
func env(s string) cryptox.Envelope {
	return cryptox.Envelope{
		Ciphertext: append(make([]byte, cryptox.Overhead), s...),
		Nonce:      make([]byte, cryptox.NonceSize),
	}
}

func envPtr(s string) *cryptox.Envelope {
	e := env(s)
	return &e
}

func newRecordService() *RecordService {
	s := NewRecordService(repomanager.NewInMemoryRepositoryManager())
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return s
}

func TestRecordService_CreateGetList(t *testing.T) {
	s := newRecordService()
	ctx := context.Background()

	chat, err := s.Create(ctx, "u1", rpc.KindChats, rpc.Record{Title: env("t1"), Key: envPtr("k"), Body: envPtr("b")})
	require.NoError(t, err)
	assert.NotEmpty(t, chat.ID)
	assert.Equal(t, int64(1), chat.Version)

	id := uuid.NewString()
	second, err := s.Create(ctx, "u1", rpc.KindChats, rpc.Record{ID: id, Title: env("t2"), Key: envPtr("k2")})
	require.NoError(t, err)
	assert.Equal(t, id, second.ID, "client ids are kept")

	got, err := s.Get(ctx, "u1", rpc.KindChats, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, envPtr("b"), got.Body)

	list, err := s.List(ctx, "u1", rpc.KindChats)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, id, list[0].ID, "newest first")
	for _, r := range list {
		assert.Nil(t, r.Body, "summaries carry no body")
	}

	other, err := s.List(ctx, "u2", rpc.KindChats)
	require.NoError(t, err)
	assert.Empty(t, other)

	_, err = s.Get(ctx, "u2", rpc.KindChats, chat.ID)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRecordService_CreateValidation(t *testing.T) {
	s := newRecordService()
	ctx := context.Background()

	tests := []struct {
		name string
		kind string
		rec  rpc.Record
	}{
		{"unknown kind", "photos", rpc.Record{Title: env("t")}},
		{"missing title", rpc.KindNotes, rpc.Record{}},
		{"chat without key", rpc.KindChats, rpc.Record{Title: env("t")}},
		{"note with key", rpc.KindNotes, rpc.Record{Title: env("t"), Key: envPtr("k")}},
		{"folder with body", rpc.KindFolders, rpc.Record{Title: env("t"), Body: envPtr("b")}},
		{"bad id", rpc.KindNotes, rpc.Record{ID: "../etc", Title: env("t")}},
		{"unsealed title", rpc.KindNotes, rpc.Record{Title: cryptox.Envelope{Ciphertext: []byte("t"), Nonce: []byte("n")}}},
		{"empty chat key", rpc.KindChats, rpc.Record{Title: env("t"), Key: &cryptox.Envelope{Nonce: make([]byte, cryptox.NonceSize)}}},
		{"truncated body", rpc.KindNotes, rpc.Record{Title: env("t"), Body: &cryptox.Envelope{Ciphertext: []byte("b"), Nonce: make([]byte, cryptox.NonceSize)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(ctx, "u1", tt.kind, tt.rec)
			require.ErrorIs(t, err, common.ErrorValidation)
		})
	}
}

func TestRecordService_Update(t *testing.T) {
	s := newRecordService()
	ctx := context.Background()

	chat, err := s.Create(ctx, "u1", rpc.KindChats, rpc.Record{Title: env("t1"), Key: envPtr("k"), Body: envPtr("b")})
	require.NoError(t, err)

	updated, err := s.Update(ctx, "u1", rpc.KindChats, rpc.Record{
		ID:      chat.ID,
		Title:   env("t2"),
		Key:     envPtr("attacker"),
		Pinned:  true,
		Version: chat.Version,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, envPtr("k"), updated.Key, "wrapped key never changes")
	assert.Equal(t, envPtr("b"), updated.Body, "nil body keeps the stored one")
	assert.True(t, updated.Pinned)
	assert.Equal(t, chat.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(chat.UpdatedAt))

	_, err = s.Update(ctx, "u1", rpc.KindChats, rpc.Record{ID: chat.ID, Title: env("t3"), Version: chat.Version})
	require.ErrorIs(t, err, common.ErrVersionConflict)

	_, err = s.Update(ctx, "u1", rpc.KindChats, rpc.Record{ID: uuid.NewString(), Title: env("t3"), Version: 1})
	require.ErrorIs(t, err, common.ErrorNotFound)

	got, err := s.Get(ctx, "u1", rpc.KindChats, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, env("t2"), got.Title)
}

func TestRecordService_Delete(t *testing.T) {
	s := newRecordService()
	ctx := context.Background()

	folder, err := s.Create(ctx, "u1", rpc.KindFolders, rpc.Record{Title: env("work")})
	require.NoError(t, err)
	chat, err := s.Create(ctx, "u1", rpc.KindChats, rpc.Record{Title: env("c"), Key: envPtr("k"), FolderID: folder.ID})
	require.NoError(t, err)
	parent, err := s.Create(ctx, "u1", rpc.KindNotes, rpc.Record{Title: env("p"), FolderID: folder.ID})
	require.NoError(t, err)
	child, err := s.Create(ctx, "u1", rpc.KindNotes, rpc.Record{Title: env("c"), ParentID: parent.ID})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "u1", rpc.KindFolders, folder.ID))

	got, err := s.Get(ctx, "u1", rpc.KindChats, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, got.FolderID)
	assert.Equal(t, int64(2), got.Version)

	got, err = s.Get(ctx, "u1", rpc.KindNotes, parent.ID)
	require.NoError(t, err)
	assert.Empty(t, got.FolderID)

	require.NoError(t, s.Delete(ctx, "u1", rpc.KindNotes, parent.ID))
	got, err = s.Get(ctx, "u1", rpc.KindNotes, child.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ParentID)

	require.ErrorIs(t, s.Delete(ctx, "u1", rpc.KindNotes, parent.ID), common.ErrorNotFound)
}
