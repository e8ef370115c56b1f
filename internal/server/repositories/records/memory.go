package records

import (
	"context"
	"sort"
	"sync"

	"github.com/dmitrijs2005/chatvault/internal/common"
	"github.com/dmitrijs2005/chatvault/internal/server/models"
)

type key struct{ user, kind, id string }

type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[key]models.Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: map[key]models.Record{}}
}

func keyOf(rec *models.Record) key { return key{rec.UserID, rec.Kind, rec.ID} }

func (r *MemoryRepository) Create(ctx context.Context, rec *models.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[keyOf(rec)]; ok {
		return common.ErrorAlreadyExists
	}
	r.rows[keyOf(rec)] = *rec
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, userID, kind, id string) (*models.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.rows[key{userID, kind, id}]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &rec, nil
}

func (r *MemoryRepository) List(ctx context.Context, userID, kind string) ([]*models.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*models.Record
	for k, rec := range r.rows {
		if k.user == userID && k.kind == kind {
			rec := rec
			result = append(result, &rec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.After(result[j].UpdatedAt) })
	return result, nil
}

func (r *MemoryRepository) Update(ctx context.Context, rec *models.Record, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[keyOf(rec)]
	if !ok || cur.Version != expectedVersion {
		return common.ErrVersionConflict
	}
	r.rows[keyOf(rec)] = *rec
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, userID, kind, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{userID, kind, id}
	if _, ok := r.rows[k]; !ok {
		return common.ErrorNotFound
	}
	delete(r.rows, k)
	return nil
}

func (r *MemoryRepository) All(ctx context.Context) ([]*models.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*models.Record, 0, len(r.rows))
	for _, rec := range r.rows {
		rec := rec
		result = append(result, &rec)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.ID < b.ID
	})
	return result, nil
}
