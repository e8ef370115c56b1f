package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatvault/internal/client/client"
	"github.com/dmitrijs2005/chatvault/internal/client/keycache"
	"github.com/dmitrijs2005/chatvault/internal/client/models"
	"github.com/dmitrijs2005/chatvault/internal/client/repositories/records"
	"github.com/dmitrijs2005/chatvault/internal/client/session"
	"github.com/dmitrijs2005/chatvault/internal/cryptox"
	"github.com/dmitrijs2005/chatvault/internal/logging"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
	"github.com/google/uuid"
)

var ErrChatWithoutKey = errors.New("chat has no wrapped key")

// chatBody is the sealed body of a chat.
type chatBody struct {
	Messages []models.Message `json:"messages"`
}

// ChatRepository keeps chats, each sealed under its own data key. The key is
// generated on create, wrapped under the master key and cached by chat id.
type ChatRepository struct {
	*repository[models.Chat]
	keys *keycache.Cache
	now  func() time.Time
}

func NewChatRepository(c client.Client, s *session.Session, keys *keycache.Cache, mirror records.Store, l logging.Logger) *ChatRepository {
	r := &ChatRepository{
		repository: newRepository(rpc.KindChats, c, s, mirror, l,
			func(ch models.Chat) string { return ch.ID },
			models.Chat.Clone),
		keys: keys,
		now:  time.Now,
	}
	r.decode = r.open
	return r
}

func sealChat(c models.Chat, key []byte, withBody bool) (rpc.Record, error) {
	title, err := cryptox.SealString(c.Title, key)
	if err != nil {
		return rpc.Record{}, err
	}
	rec := rpc.Record{
		ID:       c.ID,
		Title:    title,
		FolderID: c.FolderID,
		Pinned:   c.Pinned,
		Archived: c.Archived,
		Version:  c.Version,
	}
	if withBody {
		body, err := cryptox.SealJSON(chatBody{Messages: c.Messages}, key)
		if err != nil {
			return rpc.Record{}, err
		}
		rec.Body = &body
	}
	return rec, nil
}

// open unwraps the chat key first and then the title (and body when
// present).
func (r *ChatRepository) open(rec rpc.Record) (models.Chat, error) {
	if rec.Key == nil || rec.Key.IsZero() {
		return models.Chat{}, ErrChatWithoutKey
	}
	r.keys.Remember(rec.ID, *rec.Key)
	key, err := r.keys.Get(rec.ID)
	if err != nil {
		return models.Chat{}, fmt.Errorf("unwrap chat key: %w", err)
	}
	defer cryptox.Wipe(key)

	title, err := rec.Title.OpenString(key)
	if err != nil {
		return models.Chat{}, fmt.Errorf("open chat title: %w", err)
	}
	c := models.Chat{
		ID:        rec.ID,
		Title:     title,
		FolderID:  rec.FolderID,
		Pinned:    rec.Pinned,
		Archived:  rec.Archived,
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.Body != nil {
		var body chatBody
		if err := rec.Body.OpenJSON(key, &body); err != nil {
			return models.Chat{}, fmt.Errorf("open chat body: %w", err)
		}
		c.Messages = body.Messages
		c.Loaded = true
	}
	return c, nil
}

// Create seals c under a fresh chat key and returns the id the server
// assigned. The chat becomes visible only after the server accepted it.
func (r *ChatRepository) Create(ctx context.Context, c models.Chat) (string, error) {
	key, wrapped, err := r.keys.NewKey()
	if err != nil {
		return "", err
	}
	defer cryptox.Wipe(key)

	c.ID, c.Version = "", 0
	rec, err := sealChat(c, key, true)
	if err != nil {
		return "", err
	}
	rec.Key = &wrapped

	var id string
	err = r.exclusive("", func() error {
		reply, err := r.create(ctx, rec)
		if err != nil {
			return err
		}
		id = reply.ID
		c.ID = reply.ID
		c.Version = reply.Version
		c.CreatedAt, c.UpdatedAt = reply.CreatedAt, reply.UpdatedAt
		c.Loaded = true

		if err := r.apply(func() {
			r.keys.Put(reply.ID, key, wrapped)
			r.items.upsert(c)
		}); err != nil {
			return err
		}
		reply.Key, reply.Body = &wrapped, rec.Body
		r.mirrorPut(ctx, reply)
		return nil
	})
	return id, err
}

// Update re-seals the mutable fields of c. Messages are only sent when the
// chat is loaded; otherwise the server keeps the stored body.
func (r *ChatRepository) Update(ctx context.Context, c models.Chat) error {
	return r.exclusive(c.ID, func() error {
		return r.updateLocked(ctx, c)
	})
}

func (r *ChatRepository) updateLocked(ctx context.Context, c models.Chat) error {
	key, err := r.keys.Get(c.ID)
	if err != nil {
		return fmt.Errorf("update chat %s: %w", c.ID, err)
	}
	defer cryptox.Wipe(key)

	rec, err := sealChat(c, key, c.Loaded)
	if err != nil {
		return err
	}
	reply, err := r.update(ctx, rec)
	if err != nil {
		return err
	}
	c.Version = reply.Version
	c.CreatedAt, c.UpdatedAt = reply.CreatedAt, reply.UpdatedAt

	if err := r.apply(func() { r.items.upsert(c) }); err != nil {
		return err
	}
	reply.Body = rec.Body
	r.mirrorPut(ctx, reply)
	return nil
}

// Delete removes the chat and purges its cached key.
func (r *ChatRepository) Delete(ctx context.Context, id string) error {
	return r.remove(ctx, id, func() { r.keys.Forget(id) })
}

// Fetch loads the full chat, messages included, replacing the summary.
func (r *ChatRepository) Fetch(ctx context.Context, id string) (models.Chat, error) {
	var c models.Chat
	err := r.exclusive(id, func() error {
		rec, err := r.fetch(ctx, id)
		if err != nil {
			return err
		}
		c, err = r.open(rec)
		if err != nil {
			return err
		}
		if err := r.apply(func() { r.items.upsert(c) }); err != nil {
			return err
		}
		r.mirrorPut(ctx, rec)
		return nil
	})
	return c, err
}

// AppendMessage adds a message after the last one, loading the chat first
// when only its summary is known.
func (r *ChatRepository) AppendMessage(ctx context.Context, chatID string, role models.Role, content string) (models.Message, error) {
	c, ok := r.Find(chatID)
	if !ok || !c.Loaded {
		var err error
		if c, err = r.Fetch(ctx, chatID); err != nil {
			return models.Message{}, err
		}
	}

	msg := models.Message{ID: uuid.NewString(), Role: role, Content: content, CreatedAt: r.now().UTC()}
	if n := len(c.Messages); n > 0 {
		msg.ParentID = c.Messages[n-1].ID
	}
	c.Messages = append(c.Messages, msg)

	if err := r.Update(ctx, c); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// detachFolder mirrors the server clearing FolderID when a folder goes. The
// server bumps the version of every record it detaches.
func (r *ChatRepository) detachFolder(folderID string) {
	r.items.update(func(c models.Chat) (models.Chat, bool) {
		if c.FolderID != folderID {
			return c, false
		}
		c.FolderID = ""
		c.Version++
		return c, true
	})
}
