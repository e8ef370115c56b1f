package credentials

import (
	"context"
	"sort"
	"sync"

	"github.com/dmitrijs2005/chatvault/internal/common"
	"github.com/dmitrijs2005/chatvault/internal/server/models"
)

type MemoryRepository struct {
	mu    sync.RWMutex
	creds map[string]models.Credential
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{creds: map[string]models.Credential{}}
}

func (r *MemoryRepository) Create(ctx context.Context, c *models.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.creds[c.ID]; ok {
		return common.ErrorAlreadyExists
	}
	r.creds[c.ID] = *c
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, userID, id string) (*models.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.creds[id]
	if !ok || c.UserID != userID {
		return nil, common.ErrorNotFound
	}
	return &c, nil
}

func (r *MemoryRepository) List(ctx context.Context, userID string) ([]*models.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*models.Credential
	for _, c := range r.creds {
		if c.UserID == userID {
			c := c
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *MemoryRepository) Update(ctx context.Context, c *models.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.creds[c.ID]
	if !ok || cur.UserID != c.UserID {
		return common.ErrorNotFound
	}
	cur.Doc = c.Doc
	r.creds[c.ID] = cur
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[id]
	if !ok || c.UserID != userID {
		return common.ErrorNotFound
	}
	delete(r.creds, id)
	return nil
}

func (r *MemoryRepository) Count(ctx context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.creds {
		if c.UserID == userID {
			n++
		}
	}
	return n, nil
}
