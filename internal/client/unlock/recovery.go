package unlock

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/chatvault/internal/client/client"
	"github.com/dmitrijs2005/chatvault/internal/cryptox"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
	"github.com/tyler-smith/go-bip39"
)

// PhraseEntropyBits gives a 12-word BIP-39 phrase.
const PhraseEntropyBits = 128

// GeneratePhrase returns a new random recovery phrase. It is shown to the
// user once and never stored.
func GeneratePhrase() (string, error) {
	entropy, err := bip39.NewEntropy(PhraseEntropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	defer cryptox.Wipe(entropy)
	return bip39.NewMnemonic(entropy)
}

// NormalizePhrase lower-cases the phrase and collapses whitespace.
func NormalizePhrase(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}

// RecoveryPhrase derives the wrapping key with scrypt over the phrase
// entropy. The phrase checksum is verified before any network call.
type RecoveryPhrase struct {
	client client.Client
	phrase string
	Params cryptox.ScryptParams
}

func NewRecoveryPhrase(c client.Client, phrase string) *RecoveryPhrase {
	return &RecoveryPhrase{
		client: c,
		phrase: NormalizePhrase(phrase),
		Params: cryptox.DefaultScryptParams,
	}
}

func (r *RecoveryPhrase) Method() Method { return MethodRecoveryPhrase }

func (r *RecoveryPhrase) entropy() ([]byte, error) {
	entropy, err := bip39.EntropyFromMnemonic(r.phrase)
	if err != nil {
		return nil, fail(MethodRecoveryPhrase, ErrInvalidPhrase, err)
	}
	return entropy, nil
}

func (r *RecoveryPhrase) Register(ctx context.Context, masterKey []byte) error {
	entropy, err := r.entropy()
	if err != nil {
		return err
	}
	defer cryptox.Wipe(entropy)

	salt, err := cryptox.RandomBytes(cryptox.SaltSize)
	if err != nil {
		return err
	}

	params := r.Params
	wrappingKey, err := derive(ctx, func() ([]byte, error) {
		return cryptox.DeriveScrypt(entropy, salt, params)
	})
	if err != nil {
		return err
	}
	defer cryptox.Wipe(wrappingKey)

	wrapped, err := cryptox.WrapKey(masterKey, wrappingKey)
	if err != nil {
		return err
	}

	req := rpc.SetKDFCredential{EncryptedMasterKey: wrapped, Salt: salt, Scrypt: &params}
	if err := r.client.Mutate(ctx, rpc.RecoverySet, req, nil); err != nil {
		return fmt.Errorf("store recovery credential: %w", err)
	}
	return nil
}

func (r *RecoveryPhrase) RecoverMasterKey(ctx context.Context) ([]byte, error) {
	entropy, err := r.entropy()
	if err != nil {
		return nil, err
	}
	defer cryptox.Wipe(entropy)

	var cred rpc.Credential
	if err := r.client.Query(ctx, rpc.RecoveryGet, rpc.Empty{}, &cred); err != nil {
		if notRegistered(err) {
			return nil, fail(MethodRecoveryPhrase, ErrNotRegistered, err)
		}
		if f := contextFailure(MethodRecoveryPhrase, err); f != nil {
			return nil, f
		}
		return nil, fmt.Errorf("fetch recovery credential: %w", err)
	}
	if cred.Scrypt == nil {
		return nil, fail(MethodRecoveryPhrase, ErrNotRegistered, fmt.Errorf("credential %s has no scrypt parameters", cred.ID))
	}

	params := *cred.Scrypt
	if err := params.Check(); err != nil {
		return nil, fail(MethodRecoveryPhrase, ErrCorruptCredential, err)
	}
	wrappingKey, err := derive(ctx, func() ([]byte, error) {
		return cryptox.DeriveScrypt(entropy, cred.Salt, params)
	})
	if err != nil {
		if f := contextFailure(MethodRecoveryPhrase, err); f != nil {
			return nil, f
		}
		return nil, err
	}
	defer cryptox.Wipe(wrappingKey)

	// A phrase with a valid checksum that is not the registered one ends up
	// here as a tag mismatch.
	return unwrapMaster(MethodRecoveryPhrase, cred.EncryptedMasterKey, wrappingKey, ErrInvalidPhrase)
}
