package unlock

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/chatvault/internal/client/client"
	"github.com/dmitrijs2005/chatvault/internal/cryptox"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
)

// Password derives the wrapping key with Argon2id over the password and a
// per-credential salt.
type Password struct {
	client   client.Client
	password []byte
	// Params are used when registering; recovery always uses the parameters
	// stored with the credential.
	Params cryptox.Argon2Params
}

func NewPassword(c client.Client, password []byte) *Password {
	return &Password{
		client:   c,
		password: password,
		Params:   cryptox.DefaultArgon2Params,
	}
}

func (p *Password) Method() Method { return MethodPassword }

// Register wraps masterKey under a key derived from the password and
// replaces the account's password credential.
func (p *Password) Register(ctx context.Context, masterKey []byte) error {
	salt, err := cryptox.RandomBytes(cryptox.SaltSize)
	if err != nil {
		return err
	}

	params := p.Params
	wrappingKey, err := derive(ctx, func() ([]byte, error) {
		return cryptox.DeriveArgon2id(p.password, salt, params)
	})
	if err != nil {
		return err
	}
	defer cryptox.Wipe(wrappingKey)

	wrapped, err := cryptox.WrapKey(masterKey, wrappingKey)
	if err != nil {
		return err
	}

	req := rpc.SetKDFCredential{EncryptedMasterKey: wrapped, Salt: salt, Argon2: &params}
	if err := p.client.Mutate(ctx, rpc.PasswordSet, req, nil); err != nil {
		return fmt.Errorf("store password credential: %w", err)
	}
	return nil
}

func (p *Password) RecoverMasterKey(ctx context.Context) ([]byte, error) {
	var cred rpc.Credential
	if err := p.client.Query(ctx, rpc.PasswordGet, rpc.Empty{}, &cred); err != nil {
		if notRegistered(err) {
			return nil, fail(MethodPassword, ErrNotRegistered, err)
		}
		if f := contextFailure(MethodPassword, err); f != nil {
			return nil, f
		}
		return nil, fmt.Errorf("fetch password credential: %w", err)
	}
	if cred.Argon2 == nil {
		return nil, fail(MethodPassword, ErrNotRegistered, fmt.Errorf("credential %s has no argon2 parameters", cred.ID))
	}

	params := *cred.Argon2
	if err := params.Check(); err != nil {
		return nil, fail(MethodPassword, ErrCorruptCredential, err)
	}
	wrappingKey, err := derive(ctx, func() ([]byte, error) {
		return cryptox.DeriveArgon2id(p.password, cred.Salt, params)
	})
	if err != nil {
		if f := contextFailure(MethodPassword, err); f != nil {
			return nil, f
		}
		return nil, err
	}
	defer cryptox.Wipe(wrappingKey)

	return unwrapMaster(MethodPassword, cred.EncryptedMasterKey, wrappingKey, ErrWrongPassword)
}
