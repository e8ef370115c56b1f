package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/chatvault/internal/client/client"
	"github.com/dmitrijs2005/chatvault/internal/client/models"
	"github.com/dmitrijs2005/chatvault/internal/client/repositories/records"
	"github.com/dmitrijs2005/chatvault/internal/client/session"
	"github.com/dmitrijs2005/chatvault/internal/cryptox"
	"github.com/dmitrijs2005/chatvault/internal/logging"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
)

// NoteRepository keeps notes sealed directly under the master key. Notes
// nest through ParentID.
type NoteRepository struct {
	*repository[models.Note]
}

func NewNoteRepository(c client.Client, s *session.Session, mirror records.Store, l logging.Logger) *NoteRepository {
	r := &NoteRepository{
		repository: newRepository(rpc.KindNotes, c, s, mirror, l,
			func(n models.Note) string { return n.ID }, nil),
	}
	r.decode = r.open
	return r
}

func (r *NoteRepository) open(rec rpc.Record) (models.Note, error) {
	sealed := []cryptox.Envelope{rec.Title}
	if rec.Body != nil {
		sealed = append(sealed, *rec.Body)
	}
	plain, err := openUnderMaster(r.session, sealed...)
	if err != nil {
		return models.Note{}, fmt.Errorf("open note: %w", err)
	}

	n := models.Note{
		ID:        rec.ID,
		Title:     plain[0],
		FolderID:  rec.FolderID,
		ParentID:  rec.ParentID,
		Pinned:    rec.Pinned,
		Archived:  rec.Archived,
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if len(plain) > 1 {
		n.Body = plain[1]
		n.Loaded = true
	}
	return n, nil
}

// seal encrypts the title, and the body when withBody is set.
func (r *NoteRepository) seal(n models.Note, withBody bool) (rpc.Record, error) {
	plain := []string{n.Title}
	if withBody {
		plain = append(plain, n.Body)
	}
	sealed, err := sealUnderMaster(r.session, plain...)
	if err != nil {
		return rpc.Record{}, err
	}

	rec := rpc.Record{
		ID:       n.ID,
		Title:    sealed[0],
		FolderID: n.FolderID,
		ParentID: n.ParentID,
		Pinned:   n.Pinned,
		Archived: n.Archived,
		Version:  n.Version,
	}
	if withBody {
		rec.Body = &sealed[1]
	}
	return rec, nil
}

func (r *NoteRepository) Create(ctx context.Context, n models.Note) (string, error) {
	n.ID, n.Version = "", 0
	rec, err := r.seal(n, true)
	if err != nil {
		return "", err
	}

	var id string
	err = r.exclusive("", func() error {
		reply, err := r.create(ctx, rec)
		if err != nil {
			return err
		}
		id = reply.ID
		n.ID, n.Version, n.Loaded = reply.ID, reply.Version, true
		n.CreatedAt, n.UpdatedAt = reply.CreatedAt, reply.UpdatedAt
		if err := r.apply(func() { r.items.upsert(n) }); err != nil {
			return err
		}
		reply.Body = rec.Body
		r.mirrorPut(ctx, reply)
		return nil
	})
	return id, err
}

// Update re-seals n. The body is only sent for loaded notes.
func (r *NoteRepository) Update(ctx context.Context, n models.Note) error {
	return r.exclusive(n.ID, func() error {
		rec, err := r.seal(n, n.Loaded)
		if err != nil {
			return err
		}
		reply, err := r.update(ctx, rec)
		if err != nil {
			return err
		}
		n.Version = reply.Version
		n.CreatedAt, n.UpdatedAt = reply.CreatedAt, reply.UpdatedAt
		if err := r.apply(func() { r.items.upsert(n) }); err != nil {
			return err
		}
		reply.Body = rec.Body
		r.mirrorPut(ctx, reply)
		return nil
	})
}

// Delete removes the note; its children move to the top level and get a new
// version, as they do on the server.
func (r *NoteRepository) Delete(ctx context.Context, id string) error {
	return r.remove(ctx, id, func() {
		r.items.update(func(n models.Note) (models.Note, bool) {
			if n.ParentID != id {
				return n, false
			}
			n.ParentID = ""
			n.Version++
			return n, true
		})
	})
}

func (r *NoteRepository) Fetch(ctx context.Context, id string) (models.Note, error) {
	var n models.Note
	err := r.exclusive(id, func() error {
		rec, err := r.fetch(ctx, id)
		if err != nil {
			return err
		}
		if n, err = r.open(rec); err != nil {
			return err
		}
		if err := r.apply(func() { r.items.upsert(n) }); err != nil {
			return err
		}
		r.mirrorPut(ctx, rec)
		return nil
	})
	return n, err
}

func (r *NoteRepository) detachFolder(folderID string) {
	r.items.update(func(n models.Note) (models.Note, bool) {
		if n.FolderID != folderID {
			return n, false
		}
		n.FolderID = ""
		n.Version++
		return n, true
	})
}
