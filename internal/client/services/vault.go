package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/chatvault/internal/client/client"
	"github.com/dmitrijs2005/chatvault/internal/client/keycache"
	"github.com/dmitrijs2005/chatvault/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/chatvault/internal/client/repositories/records"
	"github.com/dmitrijs2005/chatvault/internal/client/session"
	"github.com/dmitrijs2005/chatvault/internal/logging"
)

// Vault wires one session, its key cache and every service together.
type Vault struct {
	Session     *session.Session
	Keys        *keycache.Cache
	Account     *AccountService
	Credentials *CredentialService
	Devices     *DeviceRegistry
	Chats       *ChatRepository
	Folders     *FolderRepository
	Notes       *NoteRepository

	store  metadata.Store
	mirror records.Store
}

// NewVault builds the services for c. mirror may be nil to disable the
// local ciphertext copy.
func NewVault(ctx context.Context, c client.Client, tokens *client.TokenStore, store metadata.Store, mirror records.Store, l logging.Logger) (*Vault, error) {
	s := session.New()
	keys := keycache.New(s)
	account := NewAccountService(c, tokens, store)

	deviceID, err := account.DeviceID(ctx)
	if err != nil {
		return nil, err
	}

	v := &Vault{
		Session:     s,
		Keys:        keys,
		Account:     account,
		Credentials: NewCredentialService(c, s, l),
		Devices:     NewDeviceRegistry(c, s, deviceID, l),
		Chats:       NewChatRepository(c, s, keys, mirror, l),
		Folders:     NewFolderRepository(c, s, mirror, l),
		Notes:       NewNoteRepository(c, s, mirror, l),
		store:       store,
		mirror:      mirror,
	}
	v.Folders.OnDelete(v.Chats.detachFolder)
	v.Folders.OnDelete(v.Notes.detachFolder)
	return v, nil
}

// Refresh reloads every repository. Partial decrypt failures are in the
// reports; the first hard error stops the refresh.
func (v *Vault) Refresh(ctx context.Context) ([]RefreshReport, error) {
	steps := []func(context.Context) (RefreshReport, error){v.Folders.Refresh, v.Chats.Refresh, v.Notes.Refresh}
	reports := make([]RefreshReport, 0, len(steps))
	for _, refresh := range steps {
		r, err := refresh(ctx)
		if err != nil {
			return reports, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// LoadCached fills every repository from the local mirror.
func (v *Vault) LoadCached(ctx context.Context) ([]RefreshReport, error) {
	steps := []func(context.Context) (RefreshReport, error){v.Folders.LoadCached, v.Chats.LoadCached, v.Notes.LoadCached}
	reports := make([]RefreshReport, 0, len(steps))
	for _, load := range steps {
		r, err := load(ctx)
		if err != nil {
			return reports, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// SignOut locks the session, forgets every wrapped key, drops the tokens,
// the remembered username and the local mirror. The device id stays.
func (v *Vault) SignOut(ctx context.Context) error {
	v.Session.Lock()
	v.Keys.Reset()
	v.Account.Logout()

	if err := v.store.Retain(ctx, metadata.DeviceScoped...); err != nil {
		return fmt.Errorf("clear metadata: %w", err)
	}
	if v.mirror == nil {
		return nil
	}
	if err := v.mirror.Clear(ctx); err != nil {
		return fmt.Errorf("clear mirror: %w", err)
	}
	return nil
}
