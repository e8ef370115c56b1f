// Package repomanager vends the server repositories for one storage
// backend and runs work inside that backend's transactions.
package repomanager

import (
	"context"

	"github.com/dmitrijs2005/chatvault/internal/dbx"
	"github.com/dmitrijs2005/chatvault/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/chatvault/internal/server/repositories/devices"
	"github.com/dmitrijs2005/chatvault/internal/server/repositories/records"
	"github.com/dmitrijs2005/chatvault/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/chatvault/internal/server/repositories/users"
)

// RepositoryManager is what services depend on. Repositories are bound to
// the handle passed in: Conn() outside a transaction, the tx handle inside
// WithTx.
type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	Conn() dbx.DBTX
	WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error
	Close() error

	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Devices(db dbx.DBTX) devices.Repository
	Records(db dbx.DBTX) records.Repository
	Credentials(db dbx.DBTX) credentials.Repository
}
