// Package refreshtokens stores the refresh tokens issued at login. Each
// token belongs to one device of one user.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chatvault/internal/server/models"
)

type Repository interface {
	// Create stores a new token that expires at now+validity.
	Create(ctx context.Context, userID, deviceID, token string, validity time.Duration) error

	// Find returns common.ErrorNotFound when the token is unknown.
	Find(ctx context.Context, token string) (*models.RefreshToken, error)

	// Delete removes one token. Deleting a missing token is not an error.
	Delete(ctx context.Context, token string) error

	// DeleteByDevice removes every token of a device.
	DeleteByDevice(ctx context.Context, userID, deviceID string) error
}
