// Package records stores encrypted chats, folders and notes. Rows are keyed
// by (user, kind, id) and carry an optimistic-locking version.
package records

import (
	"context"

	"github.com/dmitrijs2005/chatvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, rec *models.Record) error
	Get(ctx context.Context, userID, kind, id string) (*models.Record, error)
	// List returns the most recently updated records first.
	List(ctx context.Context, userID, kind string) ([]*models.Record, error)
	// Update replaces a record whose stored version is expectedVersion and
	// returns common.ErrVersionConflict otherwise.
	Update(ctx context.Context, rec *models.Record, expectedVersion int64) error
	Delete(ctx context.Context, userID, kind, id string) error
	// All returns every record of every user, for backups.
	All(ctx context.Context) ([]*models.Record, error)
}
