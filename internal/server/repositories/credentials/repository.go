// Package credentials stores unlock credentials. Each row holds one wrapped
// copy of the account's master key.
package credentials

import (
	"context"

	"github.com/dmitrijs2005/chatvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, c *models.Credential) error
	Get(ctx context.Context, userID, id string) (*models.Credential, error)
	// List returns the user's credentials oldest first.
	List(ctx context.Context, userID string) ([]*models.Credential, error)
	Update(ctx context.Context, c *models.Credential) error
	Delete(ctx context.Context, userID, id string) error
	Count(ctx context.Context, userID string) (int, error)
}
