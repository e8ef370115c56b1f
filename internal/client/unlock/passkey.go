package unlock

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chatvault/internal/client/client"
	"github.com/dmitrijs2005/chatvault/internal/cryptox"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
)

// prfInfo binds the HKDF output to its single use.
const prfInfo = "chatvault passkey master key wrapping"

// Authenticator performs the WebAuthn ceremonies. Both calls return the PRF
// output evaluated with the salt of the chosen credential; it never leaves
// the client.
type Authenticator interface {
	Create(ctx context.Context, opts rpc.PasskeyCreation) (rpc.Attestation, []byte, error)
	Get(ctx context.Context, opts rpc.PasskeyRequest) (rpc.Assertion, []byte, error)
}

// Passkey derives the wrapping key from the authenticator's PRF output.
type Passkey struct {
	client client.Client
	auth   Authenticator
	// Name is the display label stored (encrypted) with a new credential.
	Name string
}

func NewPasskey(c client.Client, auth Authenticator, name string) *Passkey {
	return &Passkey{client: c, auth: auth, Name: name}
}

func (p *Passkey) Method() Method { return MethodPasskey }

func wrappingKeyFromPRF(prf []byte) ([]byte, error) {
	if len(prf) < 32 {
		return nil, errors.New("PRF output too short")
	}
	return cryptox.DeriveHKDF(prf, nil, prfInfo)
}

// ceremonyFailure classifies an authenticator error.
func ceremonyFailure(err error) error {
	if f := contextFailure(MethodPasskey, err); f != nil {
		return f
	}
	return fail(MethodPasskey, ErrAuthenticatorDenied, err)
}

// Register runs the creation ceremony and stores the new passkey with the
// master key wrapped under its PRF-derived key.
func (p *Passkey) Register(ctx context.Context, masterKey []byte) error {
	var opts rpc.PasskeyCreation
	if err := p.client.Query(ctx, rpc.PasskeyCreationOptions, rpc.Empty{}, &opts); err != nil {
		return fmt.Errorf("fetch passkey creation options: %w", err)
	}

	att, prf, err := p.auth.Create(ctx, opts)
	if err != nil {
		return ceremonyFailure(err)
	}
	defer cryptox.Wipe(prf)

	wrappingKey, err := wrappingKeyFromPRF(prf)
	if err != nil {
		return fail(MethodPasskey, ErrAuthenticatorDenied, err)
	}
	defer cryptox.Wipe(wrappingKey)

	wrapped, err := cryptox.WrapKey(masterKey, wrappingKey)
	if err != nil {
		return err
	}
	name, err := cryptox.SealString(p.Name, masterKey)
	if err != nil {
		return err
	}

	req := rpc.PasskeyRegistration{
		Attestation:        att,
		EncryptedMasterKey: wrapped,
		PRFSalt:            opts.PRFSalt,
		EncryptedName:      name,
	}
	if err := p.client.Mutate(ctx, rpc.PasskeyRegister, req, nil); err != nil {
		return fmt.Errorf("register passkey: %w", err)
	}
	return nil
}

func (p *Passkey) RecoverMasterKey(ctx context.Context) ([]byte, error) {
	var opts rpc.PasskeyRequest
	if err := p.client.Query(ctx, rpc.PasskeyRequestOptions, rpc.Empty{}, &opts); err != nil {
		if f := contextFailure(MethodPasskey, err); f != nil {
			return nil, f
		}
		return nil, fmt.Errorf("fetch passkey request options: %w", err)
	}
	if len(opts.Allow) == 0 {
		return nil, fail(MethodPasskey, ErrNotRegistered, nil)
	}

	assertion, prf, err := p.auth.Get(ctx, opts)
	if err != nil {
		return nil, ceremonyFailure(err)
	}
	defer cryptox.Wipe(prf)

	var verified rpc.PasskeyVerified
	if err := p.client.Mutate(ctx, rpc.PasskeyVerify, assertion, &verified); err != nil {
		switch {
		case errors.Is(err, client.ErrUnauthorized), notRegistered(err):
			return nil, fail(MethodPasskey, ErrAuthenticatorDenied, err)
		}
		if f := contextFailure(MethodPasskey, err); f != nil {
			return nil, f
		}
		return nil, fmt.Errorf("verify passkey: %w", err)
	}

	wrappingKey, err := wrappingKeyFromPRF(prf)
	if err != nil {
		return nil, fail(MethodPasskey, ErrAuthenticatorDenied, err)
	}
	defer cryptox.Wipe(wrappingKey)

	return unwrapMaster(MethodPasskey, verified.EncryptedMasterKey, wrappingKey, ErrAuthenticatorDenied)
}
