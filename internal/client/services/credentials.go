package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chatvault/internal/client/client"
	"github.com/dmitrijs2005/chatvault/internal/client/models"
	"github.com/dmitrijs2005/chatvault/internal/client/session"
	"github.com/dmitrijs2005/chatvault/internal/client/unlock"
	"github.com/dmitrijs2005/chatvault/internal/cryptox"
	"github.com/dmitrijs2005/chatvault/internal/logging"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
)

// ErrAlreadyInitialized is returned by Initialize for an account that
// already has unlock credentials: a new master key would orphan its data.
var ErrAlreadyInitialized = errors.New("vault already has unlock credentials")

// CredentialService manages the unlock credentials of the account and moves
// the session between locked and unlocked.
type CredentialService struct {
	client  client.Client
	session *session.Session
	logger  logging.Logger

	// KDF parameters for newly registered credentials.
	Argon2 cryptox.Argon2Params
	Scrypt cryptox.ScryptParams
}

func NewCredentialService(c client.Client, s *session.Session, l logging.Logger) *CredentialService {
	return &CredentialService{
		client:  c,
		session: s,
		logger:  logging.OrNop(l).With("module", "credentials"),
		Argon2:  cryptox.DefaultArgon2Params,
		Scrypt:  cryptox.DefaultScryptParams,
	}
}

func (s *CredentialService) Password(password []byte) *unlock.Password {
	p := unlock.NewPassword(s.client, password)
	p.Params = s.Argon2
	return p
}

func (s *CredentialService) RecoveryPhrase(phrase string) *unlock.RecoveryPhrase {
	r := unlock.NewRecoveryPhrase(s.client, phrase)
	r.Params = s.Scrypt
	return r
}

func (s *CredentialService) Passkey(auth unlock.Authenticator, name string) *unlock.Passkey {
	return unlock.NewPasskey(s.client, auth, name)
}

// Initialize creates the account's master key, protects it with password
// and leaves the session unlocked.
func (s *CredentialService) Initialize(ctx context.Context, password []byte) error {
	var list rpc.CredentialList
	if err := s.client.Query(ctx, rpc.CredentialsList, rpc.Empty{}, &list); err != nil {
		return fmt.Errorf("list credentials: %w", err)
	}
	if len(list.Credentials) > 0 {
		return ErrAlreadyInitialized
	}

	mk, err := cryptox.GenerateKey()
	if err != nil {
		return err
	}
	defer cryptox.Wipe(mk)

	if err := s.Password(password).Register(ctx, mk); err != nil {
		return err
	}
	s.logger.Info(ctx, "vault initialized")
	return s.session.Unlock(mk)
}

// register wraps the current master key with reg. Lock waits until the
// registration is done.
func (s *CredentialService) register(ctx context.Context, reg unlock.Registrar) error {
	err := s.session.WithMasterKey(func(mk []byte) error {
		return reg.Register(ctx, mk)
	})
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "credential registered", "method", string(reg.Method()))
	return nil
}

// SetPassword registers password for the unlocked master key, replacing the
// previous password credential.
func (s *CredentialService) SetPassword(ctx context.Context, password []byte) error {
	return s.register(ctx, s.Password(password))
}

func (s *CredentialService) RegisterPasskey(ctx context.Context, auth unlock.Authenticator, name string) error {
	return s.register(ctx, s.Passkey(auth, name))
}

// GenerateRecoveryPhrase registers a new recovery phrase and returns it. The
// phrase is not kept anywhere; this is the only time it is available.
func (s *CredentialService) GenerateRecoveryPhrase(ctx context.Context) (string, error) {
	if !s.session.IsUnlocked() {
		return "", session.ErrLocked
	}
	phrase, err := unlock.GeneratePhrase()
	if err != nil {
		return "", err
	}
	if err := s.register(ctx, s.RecoveryPhrase(phrase)); err != nil {
		return "", err
	}
	return phrase, nil
}

// Unlock recovers the master key with r and unlocks the session. A failure
// leaves the session as it was.
func (s *CredentialService) Unlock(ctx context.Context, r unlock.Recoverer) error {
	mk, err := r.RecoverMasterKey(ctx)
	if err != nil {
		s.logger.Warn(ctx, "unlock failed", "method", string(r.Method()), "error", err)
		return err
	}
	defer cryptox.Wipe(mk)

	if err := s.session.Unlock(mk); err != nil {
		return err
	}
	s.logger.Info(ctx, "unlocked", "method", string(r.Method()))
	return nil
}

func (s *CredentialService) Lock() {
	s.session.Lock()
}

// List returns the registered credentials. Passkey names are decrypted when
// the session is unlocked.
func (s *CredentialService) List(ctx context.Context) ([]models.Credential, error) {
	var list rpc.CredentialList
	if err := s.client.Query(ctx, rpc.CredentialsList, rpc.Empty{}, &list); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	out := make([]models.Credential, 0, len(list.Credentials))
	for _, c := range list.Credentials {
		cred := models.Credential{ID: c.ID, Method: c.Method, CreatedAt: c.CreatedAt, LastUsedAt: c.LastUsedAt}
		if c.Passkey != nil && !c.Passkey.EncryptedName.IsZero() {
			plain, err := openUnderMaster(s.session, c.Passkey.EncryptedName)
			if err != nil {
				cred.NameLocked = true
			} else {
				cred.Name = plain[0]
			}
		}
		out = append(out, cred)
	}
	return out, nil
}

// RenamePasskey re-seals the display name of a passkey credential.
func (s *CredentialService) RenamePasskey(ctx context.Context, id, name string) error {
	sealed, err := sealUnderMaster(s.session, name)
	if err != nil {
		return err
	}
	if err := s.client.Mutate(ctx, rpc.PasskeyRename, rpc.PasskeyRenaming{ID: id, EncryptedName: sealed[0]}, nil); err != nil {
		return fmt.Errorf("rename passkey %s: %w", id, err)
	}
	return nil
}

// Remove deletes a credential. The server refuses to delete the last one.
func (s *CredentialService) Remove(ctx context.Context, id string) error {
	if err := s.client.Mutate(ctx, rpc.CredentialsDelete, rpc.ByID{ID: id}, nil); err != nil {
		return fmt.Errorf("remove credential %s: %w", id, err)
	}
	return nil
}
