package repomanager

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/chatvault/internal/dbx"
	"github.com/dmitrijs2005/chatvault/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/chatvault/internal/server/repositories/devices"
	"github.com/dmitrijs2005/chatvault/internal/server/repositories/records"
	"github.com/dmitrijs2005/chatvault/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/chatvault/internal/server/repositories/users"
)

// InMemoryRepositoryManager keeps everything in process memory. The db
// handles passed to its factories are ignored; WithTx serializes
// transactions with a single mutex.
type InMemoryRepositoryManager struct {
	txMu sync.Mutex

	users         *users.MemoryRepository
	refreshTokens *refreshtokens.MemoryRepository
	devices       *devices.MemoryRepository
	records       *records.MemoryRepository
	credentials   *credentials.MemoryRepository
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{
		users:         users.NewMemoryRepository(),
		refreshTokens: refreshtokens.NewMemoryRepository(),
		devices:       devices.NewMemoryRepository(),
		records:       records.NewMemoryRepository(),
		credentials:   credentials.NewMemoryRepository(),
	}
}

func (m *InMemoryRepositoryManager) RunMigrations(ctx context.Context) error { return nil }
func (m *InMemoryRepositoryManager) Conn() dbx.DBTX                          { return nil }
func (m *InMemoryRepositoryManager) Close() error                            { return nil }

func (m *InMemoryRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(ctx, nil)
}

func (m *InMemoryRepositoryManager) Users(dbx.DBTX) users.Repository {
	return m.users
}

func (m *InMemoryRepositoryManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository {
	return m.refreshTokens
}

func (m *InMemoryRepositoryManager) Devices(dbx.DBTX) devices.Repository {
	return m.devices
}

func (m *InMemoryRepositoryManager) Records(dbx.DBTX) records.Repository {
	return m.records
}

func (m *InMemoryRepositoryManager) Credentials(dbx.DBTX) credentials.Repository {
	return m.credentials
}
