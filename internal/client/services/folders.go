package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/chatvault/internal/client/client"
	"github.com/dmitrijs2005/chatvault/internal/client/models"
	"github.com/dmitrijs2005/chatvault/internal/client/repositories/records"
	"github.com/dmitrijs2005/chatvault/internal/client/session"
	"github.com/dmitrijs2005/chatvault/internal/logging"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
)

// FolderRepository keeps folders. Folder names are sealed directly under
// the master key and folders have no body.
type FolderRepository struct {
	*repository[models.Folder]

	hooksMu  sync.Mutex
	onDelete []func(id string)
}

func NewFolderRepository(c client.Client, s *session.Session, mirror records.Store, l logging.Logger) *FolderRepository {
	r := &FolderRepository{
		repository: newRepository(rpc.KindFolders, c, s, mirror, l,
			func(f models.Folder) string { return f.ID }, nil),
	}
	r.decode = r.open
	return r
}

// OnDelete registers fn to run after a folder deletion was confirmed.
func (r *FolderRepository) OnDelete(fn func(id string)) {
	r.hooksMu.Lock()
	r.onDelete = append(r.onDelete, fn)
	r.hooksMu.Unlock()
}

func (r *FolderRepository) open(rec rpc.Record) (models.Folder, error) {
	plain, err := openUnderMaster(r.session, rec.Title)
	if err != nil {
		return models.Folder{}, fmt.Errorf("open folder name: %w", err)
	}
	return models.Folder{
		ID:        rec.ID,
		Name:      plain[0],
		ParentID:  rec.ParentID,
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

func (r *FolderRepository) seal(f models.Folder) (rpc.Record, error) {
	sealed, err := sealUnderMaster(r.session, f.Name)
	if err != nil {
		return rpc.Record{}, err
	}
	return rpc.Record{ID: f.ID, Title: sealed[0], ParentID: f.ParentID, Version: f.Version}, nil
}

func (r *FolderRepository) Create(ctx context.Context, f models.Folder) (string, error) {
	f.ID, f.Version = "", 0
	rec, err := r.seal(f)
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
		f.ID, f.Version = reply.ID, reply.Version
		f.CreatedAt, f.UpdatedAt = reply.CreatedAt, reply.UpdatedAt
		if err := r.apply(func() { r.items.upsert(f) }); err != nil {
			return err
		}
		r.mirrorPut(ctx, reply)
		return nil
	})
	return id, err
}

func (r *FolderRepository) Update(ctx context.Context, f models.Folder) error {
	return r.exclusive(f.ID, func() error {
		rec, err := r.seal(f)
		if err != nil {
			return err
		}
		reply, err := r.update(ctx, rec)
		if err != nil {
			return err
		}
		f.Version = reply.Version
		f.CreatedAt, f.UpdatedAt = reply.CreatedAt, reply.UpdatedAt
		if err := r.apply(func() { r.items.upsert(f) }); err != nil {
			return err
		}
		r.mirrorPut(ctx, reply)
		return nil
	})
}

// Delete removes the folder. The server moves its chats and notes out of
// it; the OnDelete hooks do the same locally.
func (r *FolderRepository) Delete(ctx context.Context, id string) error {
	return r.remove(ctx, id, func() {
		r.hooksMu.Lock()
		hooks := append([]func(string){}, r.onDelete...)
		r.hooksMu.Unlock()
		for _, fn := range hooks {
			fn(id)
		}
	})
}
