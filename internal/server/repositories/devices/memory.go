package devices

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/chatvault/internal/common"
	"github.com/dmitrijs2005/chatvault/internal/server/models"
)

type MemoryRepository struct {
	mu      sync.Mutex
	devices map[[2]string]*models.Device
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{devices: map[[2]string]*models.Device{}}
}

func (r *MemoryRepository) Touch(ctx context.Context, userID, deviceID string, at time.Time) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := [2]string{userID, deviceID}
	d, ok := r.devices[k]
	if !ok {
		d = &models.Device{ID: deviceID, UserID: userID, CreatedAt: at}
		r.devices[k] = d
	}
	d.LastSeenAt = at
	out := *d
	return &out, nil
}

func (r *MemoryRepository) SetLabel(ctx context.Context, userID, deviceID string, label, nonce []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[[2]string{userID, deviceID}]
	if !ok {
		return common.ErrorNotFound
	}
	d.Label, d.LabelNonce = label, nonce
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, userID, deviceID string) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[[2]string{userID, deviceID}]
	if !ok {
		return nil, common.ErrorNotFound
	}
	out := *d
	return &out, nil
}

func (r *MemoryRepository) List(ctx context.Context, userID string) ([]*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Device
	for k, d := range r.devices {
		if k[0] == userID {
			out := *d
			result = append(result, &out)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *MemoryRepository) Revoke(ctx context.Context, userID, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[[2]string{userID, deviceID}]
	if !ok {
		return common.ErrorNotFound
	}
	d.Revoked = true
	return nil
}
