package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatvault/internal/common"
	"github.com/dmitrijs2005/chatvault/internal/cryptox"
	"github.com/dmitrijs2005/chatvault/internal/dbx"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
	"github.com/dmitrijs2005/chatvault/internal/server/models"
	"github.com/dmitrijs2005/chatvault/internal/server/passkey"
	"github.com/dmitrijs2005/chatvault/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	challengeSize    = 32
	prfSaltSize      = 32
	ceremonyTimeout  = 5 * time.Minute
	ceremonyTimeoutM = int64(ceremonyTimeout / time.Millisecond)
)

// CredentialService stores unlock credentials. Each holds the account's
// master key wrapped by the client; the service never unwraps anything. An
// account keeps at least one credential once it has any.
type CredentialService struct {
	repomanager repomanager.RepositoryManager
	verifier    *passkey.Verifier
	challenges  *challengeStore
	now         func() time.Time
}

func NewCredentialService(m repomanager.RepositoryManager, v *passkey.Verifier) *CredentialService {
	return &CredentialService{
		repomanager: m,
		verifier:    v,
		challenges:  newChallengeStore(ceremonyTimeout),
		now:         time.Now,
	}
}

func decodeCredential(m *models.Credential) (*rpc.Credential, error) {
	var c rpc.Credential
	if err := json.Unmarshal(m.Doc, &c); err != nil {
		return nil, fmt.Errorf("error decoding credential %s: %w", m.ID, err)
	}
	c.ID = m.ID
	c.Method = m.Method
	c.CreatedAt = m.CreatedAt
	return &c, nil
}

func encodeCredential(userID string, c *rpc.Credential) (*models.Credential, error) {
	doc, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("error encoding credential: %w", err)
	}
	return &models.Credential{ID: c.ID, UserID: userID, Method: c.Method, Doc: doc, CreatedAt: c.CreatedAt}, nil
}

// summary drops the wrapped master key and the public key.
func summary(c rpc.Credential) rpc.Credential {
	c.EncryptedMasterKey = cryptox.Envelope{}
	if c.Passkey != nil {
		info := *c.Passkey
		info.PublicKey = nil
		c.Passkey = &info
	}
	return c
}

func (s *CredentialService) load(ctx context.Context, db dbx.DBTX, userID string) ([]*rpc.Credential, error) {
	rows, err := s.repomanager.Credentials(db).List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing credentials: %w", err)
	}
	result := make([]*rpc.Credential, 0, len(rows))
	for _, row := range rows {
		c, err := decodeCredential(row)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, nil
}

// List returns every credential of the user without wrapped keys.
func (s *CredentialService) List(ctx context.Context, userID string) ([]rpc.Credential, error) {
	creds, err := s.load(ctx, s.repomanager.Conn(), userID)
	if err != nil {
		return nil, err
	}
	result := make([]rpc.Credential, 0, len(creds))
	for _, c := range creds {
		result = append(result, summary(*c))
	}
	return result, nil
}

// Delete removes a credential unless it is the user's last one.
func (s *CredentialService) Delete(ctx context.Context, userID, id string) error {
	return s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Credentials(tx)
		if _, err := repo.Get(ctx, userID, id); err != nil {
			return fmt.Errorf("error loading credential %s: %w", id, err)
		}
		n, err := repo.Count(ctx, userID)
		if err != nil {
			return fmt.Errorf("error counting credentials: %w", err)
		}
		if n <= 1 {
			return common.ErrLastCredential
		}
		if err := repo.Delete(ctx, userID, id); err != nil {
			return fmt.Errorf("error deleting credential %s: %w", id, err)
		}
		return nil
	})
}

// GetKDF returns the password or recovery-phrase credential with its
// wrapped master key.
func (s *CredentialService) GetKDF(ctx context.Context, userID, method string) (*rpc.Credential, error) {
	creds, err := s.load(ctx, s.repomanager.Conn(), userID)
	if err != nil {
		return nil, err
	}
	for _, c := range creds {
		if c.Method == method {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%s credential: %w", method, common.ErrorNotFound)
}

func validateKDF(method string, req rpc.SetKDFCredential) error {
	if err := checkEnvelope("wrapped key", &req.EncryptedMasterKey); err != nil {
		return err
	}
	if len(req.Salt) == 0 {
		return fmt.Errorf("%w: salt is required", common.ErrorValidation)
	}
	switch method {
	case rpc.MethodPassword:
		if req.Argon2 == nil || req.Scrypt != nil {
			return fmt.Errorf("%w: password credentials use argon2id", common.ErrorValidation)
		}
		if err := req.Argon2.Check(); err != nil {
			return fmt.Errorf("%w: %w", common.ErrorValidation, err)
		}
	case rpc.MethodRecoveryPhrase:
		if req.Scrypt == nil || req.Argon2 != nil {
			return fmt.Errorf("%w: recovery phrase credentials use scrypt", common.ErrorValidation)
		}
		if err := req.Scrypt.Check(); err != nil {
			return fmt.Errorf("%w: %w", common.ErrorValidation, err)
		}
	default:
		return fmt.Errorf("%w: %q is not a kdf method", common.ErrorValidation, method)
	}
	return nil
}

// SetKDF stores the password or recovery-phrase credential, replacing any
// existing one of the same method.
func (s *CredentialService) SetKDF(ctx context.Context, userID, method string, req rpc.SetKDFCredential) (*rpc.Credential, error) {
	if err := validateKDF(method, req); err != nil {
		return nil, err
	}

	var stored *rpc.Credential
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		creds, err := s.load(ctx, tx, userID)
		if err != nil {
			return err
		}

		c := &rpc.Credential{ID: uuid.NewString(), Method: method, CreatedAt: s.now().UTC()}
		var existing bool
		for _, cur := range creds {
			if cur.Method == method {
				c, existing = cur, true
				break
			}
		}
		c.EncryptedMasterKey = req.EncryptedMasterKey
		c.Salt = req.Salt
		c.Argon2 = req.Argon2
		c.Scrypt = req.Scrypt

		row, err := encodeCredential(userID, c)
		if err != nil {
			return err
		}
		repo := s.repomanager.Credentials(tx)
		if existing {
			err = repo.Update(ctx, row)
		} else {
			err = repo.Create(ctx, row)
		}
		if err != nil {
			return fmt.Errorf("error storing %s credential: %w", method, err)
		}
		stored = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *CredentialService) passkeys(ctx context.Context, db dbx.DBTX, userID string) ([]*rpc.Credential, error) {
	creds, err := s.load(ctx, db, userID)
	if err != nil {
		return nil, err
	}
	var result []*rpc.Credential
	for _, c := range creds {
		if c.Method == rpc.MethodPasskey && c.Passkey != nil {
			result = append(result, c)
		}
	}
	return result, nil
}

// PasskeyCreationOptions starts a registration ceremony.
func (s *CredentialService) PasskeyCreationOptions(ctx context.Context, userID string) (*rpc.PasskeyCreation, error) {
	user, err := s.repomanager.Users(s.repomanager.Conn()).GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	existing, err := s.passkeys(ctx, s.repomanager.Conn(), userID)
	if err != nil {
		return nil, err
	}

	challenge, err := cryptox.RandomBytes(challengeSize)
	if err != nil {
		return nil, common.ErrorInternal
	}
	salt, err := cryptox.RandomBytes(prfSaltSize)
	if err != nil {
		return nil, common.ErrorInternal
	}
	s.challenges.put(userID, ceremonyCreate, challenge, salt)

	opts := &rpc.PasskeyCreation{
		Challenge: challenge,
		RP:        s.verifier.RelyingParty(),
		User:      rpc.PasskeyUser{ID: []byte(user.ID), Name: user.UserName},
		PRFSalt:   salt,
		TimeoutMS: ceremonyTimeoutM,
	}
	for _, c := range existing {
		opts.Exclude = append(opts.Exclude, c.Passkey.CredentialID)
	}
	return opts, nil
}

// RegisterPasskey verifies the attestation against the pending challenge and
// stores the new passkey credential.
func (s *CredentialService) RegisterPasskey(ctx context.Context, userID string, req rpc.PasskeyRegistration) (*rpc.Credential, error) {
	pending, ok := s.challenges.take(userID, ceremonyCreate)
	if !ok {
		return nil, fmt.Errorf("%w: no pending registration", common.ErrPasskeyInvalid)
	}
	if !bytes.Equal(pending.prfSalt, req.PRFSalt) {
		return nil, fmt.Errorf("%w: prf salt was not issued by this server", common.ErrPasskeyInvalid)
	}
	if err := checkEnvelope("wrapped key", &req.EncryptedMasterKey); err != nil {
		return nil, err
	}
	if !req.EncryptedName.IsZero() {
		if err := checkEnvelope("name", &req.EncryptedName); err != nil {
			return nil, err
		}
	}

	reg, err := s.verifier.VerifyRegistration(req.Attestation, pending.challenge)
	if err != nil {
		return nil, err
	}

	c := &rpc.Credential{
		ID:                 uuid.NewString(),
		Method:             rpc.MethodPasskey,
		EncryptedMasterKey: req.EncryptedMasterKey,
		Passkey: &rpc.PasskeyInfo{
			CredentialID:  reg.CredentialID,
			PublicKey:     reg.PublicKey,
			SignCount:     reg.SignCount,
			PRFSalt:       req.PRFSalt,
			EncryptedName: req.EncryptedName,
		},
		CreatedAt: s.now().UTC(),
	}

	err = s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		existing, err := s.passkeys(ctx, tx, userID)
		if err != nil {
			return err
		}
		for _, e := range existing {
			if bytes.Equal(e.Passkey.CredentialID, reg.CredentialID) {
				return fmt.Errorf("passkey: %w", common.ErrorAlreadyExists)
			}
		}
		row, err := encodeCredential(userID, c)
		if err != nil {
			return err
		}
		return s.repomanager.Credentials(tx).Create(ctx, row)
	})
	if err != nil {
		return nil, err
	}
	out := summary(*c)
	return &out, nil
}

// PasskeyRequestOptions starts an authentication ceremony. Allow is empty
// when the user has no passkeys.
func (s *CredentialService) PasskeyRequestOptions(ctx context.Context, userID string) (*rpc.PasskeyRequest, error) {
	existing, err := s.passkeys(ctx, s.repomanager.Conn(), userID)
	if err != nil {
		return nil, err
	}
	challenge, err := cryptox.RandomBytes(challengeSize)
	if err != nil {
		return nil, common.ErrorInternal
	}
	s.challenges.put(userID, ceremonyGet, challenge, nil)

	req := &rpc.PasskeyRequest{
		Challenge: challenge,
		RPID:      s.verifier.RelyingParty().ID,
		Allow:     []rpc.AllowedCredential{},
		TimeoutMS: ceremonyTimeoutM,
	}
	for _, c := range existing {
		req.Allow = append(req.Allow, rpc.AllowedCredential{CredentialID: c.Passkey.CredentialID, PRFSalt: c.Passkey.PRFSalt})
	}
	return req, nil
}

// VerifyPasskey checks an assertion against the pending challenge and, on
// success, advances the sign counter and releases the wrapped master key.
func (s *CredentialService) VerifyPasskey(ctx context.Context, userID string, a rpc.Assertion) (*rpc.PasskeyVerified, error) {
	pending, ok := s.challenges.take(userID, ceremonyGet)
	if !ok {
		return nil, fmt.Errorf("%w: no pending authentication", common.ErrPasskeyInvalid)
	}

	var verified *rpc.PasskeyVerified
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		existing, err := s.passkeys(ctx, tx, userID)
		if err != nil {
			return err
		}
		var c *rpc.Credential
		for _, e := range existing {
			if bytes.Equal(e.Passkey.CredentialID, a.CredentialID) {
				c = e
				break
			}
		}
		if c == nil {
			return fmt.Errorf("%w: unknown credential", common.ErrPasskeyInvalid)
		}

		count, err := s.verifier.VerifyAssertion(a, pending.challenge, c.Passkey.PublicKey, c.Passkey.SignCount)
		if err != nil {
			return err
		}
		c.Passkey.SignCount = count
		c.LastUsedAt = s.now().UTC()

		row, err := encodeCredential(userID, c)
		if err != nil {
			return err
		}
		if err := s.repomanager.Credentials(tx).Update(ctx, row); err != nil {
			return fmt.Errorf("error updating passkey %s: %w", c.ID, err)
		}
		verified = &rpc.PasskeyVerified{ID: c.ID, EncryptedMasterKey: c.EncryptedMasterKey}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return verified, nil
}

// RenamePasskey replaces the encrypted display name of a passkey.
func (s *CredentialService) RenamePasskey(ctx context.Context, userID string, req rpc.PasskeyRenaming) error {
	if err := checkEnvelope("name", &req.EncryptedName); err != nil {
		return err
	}
	return s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Credentials(tx)
		row, err := repo.Get(ctx, userID, req.ID)
		if err != nil {
			return fmt.Errorf("error loading credential %s: %w", req.ID, err)
		}
		c, err := decodeCredential(row)
		if err != nil {
			return err
		}
		if c.Passkey == nil {
			return fmt.Errorf("%w: credential %s is not a passkey", common.ErrorValidation, req.ID)
		}
		c.Passkey.EncryptedName = req.EncryptedName
		row, err = encodeCredential(userID, c)
		if err != nil {
			return err
		}
		return repo.Update(ctx, row)
	})
}
