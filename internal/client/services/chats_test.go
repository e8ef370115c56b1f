package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/dmitrijs2005/chatvault/internal/client/client"
	"github.com/dmitrijs2005/chatvault/internal/client/keycache"
	"github.com/dmitrijs2005/chatvault/internal/client/models"
	"github.com/dmitrijs2005/chatvault/internal/client/session"
	"github.com/dmitrijs2005/chatvault/internal/cryptox"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestChats_Create(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := e.Chats.Observe(ctx)
	assert.Empty(t, latest(t, updates))

	id, err := e.Chats.Create(ctx, models.Chat{Title: "Hello"})
	require.NoError(t, err)

	snap := latest(t, updates)
	require.Len(t, snap, 1)
	assert.Equal(t, id, snap[0].ID)
	assert.Equal(t, "Hello", snap[0].Title)
	assert.Equal(t, int64(1), snap[0].Version)
	assert.True(t, snap[0].Loaded)

	// The server holds only ciphertext and the wrapped chat key.
	rec := e.server.stored(rpc.KindChats, id)
	require.NotNil(t, rec.Key)
	assert.NotContains(t, string(rec.Title.Ciphertext), "Hello")

	key, err := cryptox.UnwrapKey(*rec.Key, e.mk)
	require.NoError(t, err)
	title, err := rec.Title.OpenString(key)
	require.NoError(t, err)
	assert.Equal(t, "Hello", title)

	_, err = rec.Title.OpenString(e.mk)
	require.Error(t, err, "chat titles are not sealed under the master key")
}

func TestChats_EachChatHasItsOwnKey(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a, err := e.Chats.Create(ctx, models.Chat{Title: "a"})
	require.NoError(t, err)
	b, err := e.Chats.Create(ctx, models.Chat{Title: "b"})
	require.NoError(t, err)

	ka, err := e.Keys.Get(a)
	require.NoError(t, err)
	kb, err := e.Keys.Get(b)
	require.NoError(t, err)
	assert.NotEqual(t, ka, kb)
}

func TestChats_CreateRejected(t *testing.T) {
	e := newEnv(t)
	e.server.fail[rpc.ChatsCreate] = rejected(codes.InvalidArgument, "title required")

	_, err := e.Chats.Create(context.Background(), models.Chat{Title: "Hello"})
	require.ErrorIs(t, err, client.ErrServerRejected)

	assert.Empty(t, e.Chats.Items())
	assert.Equal(t, 0, e.Keys.Len(), "the generated key is not cached")
}

func TestChats_CreateCancelled(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Chats.Create(ctx, models.Chat{Title: "Hello"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, e.Chats.Items())
}

func TestChats_CreateLocked(t *testing.T) {
	e := newEnv(t)
	e.Session.Lock()

	_, err := e.Chats.Create(context.Background(), models.Chat{Title: "Hello"})
	require.ErrorIs(t, err, session.ErrLocked)
	assert.Zero(t, e.server.callCount(rpc.ChatsCreate))
}

func TestChats_UpdateAndAppend(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	id, err := e.Chats.Create(ctx, models.Chat{Title: "draft"})
	require.NoError(t, err)

	first, err := e.Chats.AppendMessage(ctx, id, models.RoleUser, "hi")
	require.NoError(t, err)
	second, err := e.Chats.AppendMessage(ctx, id, models.RoleAssistant, "hello")
	require.NoError(t, err)
	assert.Empty(t, first.ParentID)
	assert.Equal(t, first.ID, second.ParentID)

	c, ok := e.Chats.Find(id)
	require.True(t, ok)
	c.Title = "greetings"
	c.Pinned = true
	require.NoError(t, e.Chats.Update(ctx, c))

	got, ok := e.Chats.Find(id)
	require.True(t, ok)
	assert.Equal(t, "greetings", got.Title)
	assert.True(t, got.Pinned)
	assert.Equal(t, int64(4), got.Version)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "hello", got.Messages[1].Content)

	// A stale version is refused and nothing changes locally.
	stale := got
	stale.Version = 1
	stale.Title = "stale"
	err = e.Chats.Update(ctx, stale)
	require.ErrorIs(t, err, client.ErrServerRejected)

	after, _ := e.Chats.Find(id)
	assert.Equal(t, got, after)
}

func TestChats_FetchAfterRefresh(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	id, err := e.Chats.Create(ctx, models.Chat{Title: "t"})
	require.NoError(t, err)
	_, err = e.Chats.AppendMessage(ctx, id, models.RoleUser, "question")
	require.NoError(t, err)

	report, err := e.Chats.Refresh(ctx)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, 1, report.Loaded)

	summary, ok := e.Chats.Find(id)
	require.True(t, ok)
	assert.False(t, summary.Loaded, "list responses carry no messages")
	assert.Empty(t, summary.Messages)

	full, err := e.Chats.Fetch(ctx, id)
	require.NoError(t, err)
	assert.True(t, full.Loaded)
	require.Len(t, full.Messages, 1)
	assert.Equal(t, "question", full.Messages[0].Content)

	// Appending to a summary-only chat loads it first.
	_, err = e.Chats.Refresh(ctx)
	require.NoError(t, err)
	_, err = e.Chats.AppendMessage(ctx, id, models.RoleAssistant, "answer")
	require.NoError(t, err)
	full, _ = e.Chats.Find(id)
	require.Len(t, full.Messages, 2)

	_, err = e.Chats.Fetch(ctx, "missing")
	require.ErrorIs(t, err, client.ErrNotFound)
}

func TestChats_RefreshSkipsUndecryptable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.Chats.Create(ctx, models.Chat{Title: "good"})
	require.NoError(t, err)

	// A chat whose key is wrapped under some other master key.
	other, err := cryptox.GenerateKey()
	require.NoError(t, err)
	chatKey, err := cryptox.GenerateKey()
	require.NoError(t, err)
	wrapped, err := cryptox.WrapKey(chatKey, other)
	require.NoError(t, err)
	title, err := cryptox.SealString("foreign", chatKey)
	require.NoError(t, err)
	e.server.put(rpc.KindChats, rpc.Record{ID: "chats-zz", Title: title, Key: &wrapped, Version: 1})
	e.server.put(rpc.KindChats, rpc.Record{ID: "chats-zzz", Title: title, Version: 1})

	report, err := e.Chats.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Loaded)
	require.Len(t, report.Skipped, 2)

	var partial *PartialDecryptError
	require.ErrorAs(t, report.Err(), &partial)
	assert.Equal(t, rpc.KindChats, partial.Kind)
	assert.ErrorIs(t, report.Err(), cryptox.ErrAuthentication)
	assert.ErrorIs(t, report.Err(), ErrChatWithoutKey)
	assert.Contains(t, partial.Error(), "chats-zz")

	items := e.Chats.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "good", items[0].Title)
}

func TestChats_RefreshFailureKeepsState(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.Chats.Create(ctx, models.Chat{Title: "kept"})
	require.NoError(t, err)
	before := e.Chats.Items()

	e.server.fail[rpc.ChatsList] = client.ErrUnavailable
	_, err = e.Chats.Refresh(ctx)
	require.ErrorIs(t, err, client.ErrUnavailable)
	assert.Equal(t, before, e.Chats.Items())
}

func TestChats_Delete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id, err := e.Chats.Create(ctx, models.Chat{Title: "bye"})
	require.NoError(t, err)

	require.NoError(t, e.Chats.Delete(ctx, id))
	assert.Empty(t, e.Chats.Items())
	_, err = e.Keys.Get(id)
	require.ErrorIs(t, err, keycache.ErrKeyUnavailable)

	err = e.Chats.Delete(ctx, id)
	require.ErrorIs(t, err, client.ErrNotFound)
}

func TestLock_ClearsDecryptedState(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	chatID, err := e.Chats.Create(ctx, models.Chat{Title: "secret"})
	require.NoError(t, err)
	_, err = e.Notes.Create(ctx, models.Note{Title: "n"})
	require.NoError(t, err)
	_, err = e.Folders.Create(ctx, models.Folder{Name: "f"})
	require.NoError(t, err)

	e.Session.Lock()

	assert.Empty(t, e.Chats.Items())
	assert.Empty(t, e.Notes.Items())
	assert.Empty(t, e.Folders.Items())
	assert.Equal(t, 0, e.Keys.Len())

	_, err = e.Keys.Get(chatID)
	require.ErrorIs(t, err, session.ErrLocked)

	_, err = e.Chats.Refresh(ctx)
	require.ErrorIs(t, err, session.ErrLocked)

	// Unlocking again lets the wrapped key be used.
	require.NoError(t, e.Session.Unlock(e.mk))
	report, err := e.Chats.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Loaded)
	_, err = e.Keys.Get(chatID)
	require.NoError(t, err)
}

// Every mutation that the server does not confirm leaves the local state
// exactly as it was.
func TestServerFirst_FailedMutationsChangeNothing(t *testing.T) {
	failures := map[string]error{
		"unavailable":  client.ErrUnavailable,
		"rejected":     rejected(codes.FailedPrecondition, "no"),
		"unauthorized": fmt.Errorf("%w: device revoked", client.ErrUnauthorized),
	}

	for name, failure := range failures {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t)
			ctx := context.Background()

			chatID, err := e.Chats.Create(ctx, models.Chat{Title: "c"})
			require.NoError(t, err)
			noteID, err := e.Notes.Create(ctx, models.Note{Title: "n", Body: "b"})
			require.NoError(t, err)
			folderID, err := e.Folders.Create(ctx, models.Folder{Name: "f"})
			require.NoError(t, err)

			chats, notes, folders := e.Chats.Items(), e.Notes.Items(), e.Folders.Items()
			keys := e.Keys.Len()

			for _, p := range []string{
				rpc.ChatsCreate, rpc.ChatsUpdate, rpc.ChatsDelete,
				rpc.NotesCreate, rpc.NotesUpdate, rpc.NotesDelete,
				rpc.FoldersCreate, rpc.FoldersUpdate, rpc.FoldersDelete,
			} {
				e.server.fail[p] = failure
			}

			ops := map[string]func() error{
				"chat create": func() error { _, err := e.Chats.Create(ctx, models.Chat{Title: "x"}); return err },
				"chat update": func() error {
					c, _ := e.Chats.Find(chatID)
					c.Title = "changed"
					return e.Chats.Update(ctx, c)
				},
				"chat append": func() error { _, err := e.Chats.AppendMessage(ctx, chatID, models.RoleUser, "m"); return err },
				"chat delete": func() error { return e.Chats.Delete(ctx, chatID) },
				"note create": func() error { _, err := e.Notes.Create(ctx, models.Note{Title: "x"}); return err },
				"note update": func() error {
					n, _ := e.Notes.Find(noteID)
					n.Body = "changed"
					return e.Notes.Update(ctx, n)
				},
				"note delete":   func() error { return e.Notes.Delete(ctx, noteID) },
				"folder create": func() error { _, err := e.Folders.Create(ctx, models.Folder{Name: "x"}); return err },
				"folder update": func() error {
					f, _ := e.Folders.Find(folderID)
					f.Name = "changed"
					return e.Folders.Update(ctx, f)
				},
				"folder delete": func() error { return e.Folders.Delete(ctx, folderID) },
			}
			for op, fn := range ops {
				require.ErrorIs(t, fn(), failure, op)
			}

			assert.Equal(t, chats, e.Chats.Items())
			assert.Equal(t, notes, e.Notes.Items())
			assert.Equal(t, folders, e.Folders.Items())
			assert.Equal(t, keys, e.Keys.Len())
		})
	}
}
