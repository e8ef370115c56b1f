// Package passkey provides SoftAuthenticator, an in-process WebAuthn
// authenticator with PRF support. It backs the passkey unlock method in
// development builds and tests where no platform authenticator exists.
package passkey

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/chatvault/internal/cryptox"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
	"github.com/dmitrijs2005/chatvault/internal/webauthn"
)

var (
	ErrNoCredential = errors.New("no matching credential on this authenticator")
	ErrDenied       = errors.New("user denied the ceremony")
)

type credential struct {
	ID        []byte `json:"id"`
	RPID      string `json:"rp_id"`
	UserID    []byte `json:"user_id"`
	Private   []byte `json:"private"`
	Secret    []byte `json:"secret"`
	SignCount uint32 `json:"sign_count"`
}

// SoftAuthenticator keeps ES256 credentials in memory. Its state can be
// exported and imported so a development client survives restarts.
type SoftAuthenticator struct {
	origin string

	mu    sync.Mutex
	creds []*credential

	// Approve is consulted before every ceremony; returning false denies it.
	Approve func(ctx context.Context, ceremony string) bool
}

func NewSoftAuthenticator(origin string) *SoftAuthenticator {
	return &SoftAuthenticator{origin: origin}
}

func (a *SoftAuthenticator) approve(ctx context.Context, ceremony string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.Approve != nil && !a.Approve(ctx, ceremony) {
		return ErrDenied
	}
	return nil
}

func (a *SoftAuthenticator) clientData(typ string, challenge []byte) ([]byte, error) {
	return json.Marshal(webauthn.ClientData{
		Type:      typ,
		Challenge: webauthn.EncodeChallenge(challenge),
		Origin:    a.origin,
	})
}

// Create makes a new credential for opts.RP and returns its "none"
// attestation together with the PRF output for opts.PRFSalt.
func (a *SoftAuthenticator) Create(ctx context.Context, opts rpc.PasskeyCreation) (rpc.Attestation, []byte, error) {
	if err := a.approve(ctx, webauthn.TypeCreate); err != nil {
		return rpc.Attestation{}, nil, err
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return rpc.Attestation{}, nil, err
	}
	der, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return rpc.Attestation{}, nil, err
	}
	id, err := cryptox.RandomBytes(16)
	if err != nil {
		return rpc.Attestation{}, nil, err
	}
	secret, err := cryptox.RandomBytes(32)
	if err != nil {
		return rpc.Attestation{}, nil, err
	}

	cose, err := webauthn.MarshalES256(&priv.PublicKey)
	if err != nil {
		return rpc.Attestation{}, nil, err
	}
	authData := (&webauthn.AuthenticatorData{
		RPIDHash:     webauthn.RPIDHash(opts.RP.ID),
		Flags:        webauthn.FlagUserPresent | webauthn.FlagUserVerified | webauthn.FlagAttestedData,
		CredentialID: id,
		PublicKey:    cose,
	}).Marshal()

	attObj, err := webauthn.AttestationObject{Fmt: "none", AuthData: authData}.Marshal()
	if err != nil {
		return rpc.Attestation{}, nil, err
	}
	cd, err := a.clientData(webauthn.TypeCreate, opts.Challenge)
	if err != nil {
		return rpc.Attestation{}, nil, err
	}

	a.mu.Lock()
	a.creds = append(a.creds, &credential{ID: id, RPID: opts.RP.ID, UserID: opts.User.ID, Private: der, Secret: secret})
	a.mu.Unlock()

	att := rpc.Attestation{CredentialID: id, ClientDataJSON: cd, AttestationObject: attObj}
	return att, webauthn.EvalPRF(secret, opts.PRFSalt), nil
}

// Get signs the challenge with the first allowed credential it holds.
func (a *SoftAuthenticator) Get(ctx context.Context, opts rpc.PasskeyRequest) (rpc.Assertion, []byte, error) {
	if err := a.approve(ctx, webauthn.TypeGet); err != nil {
		return rpc.Assertion{}, nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	cred, salt := a.match(opts)
	if cred == nil {
		return rpc.Assertion{}, nil, ErrNoCredential
	}

	priv, err := x509.ParseECPrivateKey(cred.Private)
	if err != nil {
		return rpc.Assertion{}, nil, fmt.Errorf("load credential key: %w", err)
	}

	cred.SignCount++
	authData := (&webauthn.AuthenticatorData{
		RPIDHash:  webauthn.RPIDHash(opts.RPID),
		Flags:     webauthn.FlagUserPresent | webauthn.FlagUserVerified,
		SignCount: cred.SignCount,
	}).Marshal()

	cd, err := a.clientData(webauthn.TypeGet, opts.Challenge)
	if err != nil {
		return rpc.Assertion{}, nil, err
	}
	digest := sha256.Sum256(webauthn.SignedData(authData, cd))
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return rpc.Assertion{}, nil, err
	}

	assertion := rpc.Assertion{
		CredentialID:      cred.ID,
		ClientDataJSON:    cd,
		AuthenticatorData: authData,
		Signature:         sig,
	}
	return assertion, webauthn.EvalPRF(cred.Secret, salt), nil
}

func (a *SoftAuthenticator) match(opts rpc.PasskeyRequest) (*credential, []byte) {
	for _, allow := range opts.Allow {
		for _, c := range a.creds {
			if c.RPID == opts.RPID && string(c.ID) == string(allow.CredentialID) {
				return c, allow.PRFSalt
			}
		}
	}
	return nil, nil
}

// Len is the number of credentials held.
func (a *SoftAuthenticator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.creds)
}

// Export serializes every credential, private keys included. Callers should
// keep the result out of anything synced.
func (a *SoftAuthenticator) Export() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return json.Marshal(a.creds)
}

func (a *SoftAuthenticator) Import(state []byte) error {
	var creds []*credential
	if err := json.Unmarshal(state, &creds); err != nil {
		return fmt.Errorf("import authenticator state: %w", err)
	}
	a.mu.Lock()
	a.creds = creds
	a.mu.Unlock()
	return nil
}
