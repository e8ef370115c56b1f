// Package devices stores the installations signed in to an account.
package devices

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chatvault/internal/server/models"
)

type Repository interface {
	// Touch records that a device was seen at at, creating the row on first
	// sight. It returns the stored device so callers can check Revoked.
	Touch(ctx context.Context, userID, deviceID string, at time.Time) (*models.Device, error)
	SetLabel(ctx context.Context, userID, deviceID string, label, nonce []byte) error
	Get(ctx context.Context, userID, deviceID string) (*models.Device, error)
	List(ctx context.Context, userID string) ([]*models.Device, error)
	Revoke(ctx context.Context, userID, deviceID string) error
}
