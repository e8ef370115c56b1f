// Package passkey verifies WebAuthn registration and authentication
// responses on the server side. Only "none" attestation and ES256
// credentials are accepted.
package passkey

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/chatvault/internal/common"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
	"github.com/dmitrijs2005/chatvault/internal/webauthn"
)

type Config struct {
	RPID   string
	RPName string
	Origin string
}

type Verifier struct {
	cfg Config
}

func NewVerifier(cfg Config) *Verifier {
	return &Verifier{cfg: cfg}
}

func (v *Verifier) RelyingParty() rpc.RelyingParty {
	return rpc.RelyingParty{ID: v.cfg.RPID, Name: v.cfg.RPName}
}

// Registered is the credential material extracted from a valid attestation.
type Registered struct {
	CredentialID []byte
	PublicKey    []byte
	SignCount    uint32
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrPasskeyInvalid, fmt.Sprintf(format, args...))
}

func (v *Verifier) checkClientData(raw []byte, typ string, challenge []byte) error {
	var cd webauthn.ClientData
	if err := json.Unmarshal(raw, &cd); err != nil {
		return invalid("client data: %v", err)
	}
	if cd.Type != typ {
		return invalid("client data type %q", cd.Type)
	}
	if cd.Challenge != webauthn.EncodeChallenge(challenge) {
		return invalid("challenge mismatch")
	}
	if cd.Origin != v.cfg.Origin {
		return invalid("origin %q", cd.Origin)
	}
	return nil
}

func (v *Verifier) checkAuthData(a *webauthn.AuthenticatorData) error {
	want := webauthn.RPIDHash(v.cfg.RPID)
	if !bytes.Equal(a.RPIDHash[:], want[:]) {
		return invalid("rp id hash mismatch")
	}
	if !a.Has(webauthn.FlagUserPresent) {
		return invalid("user not present")
	}
	return nil
}

// VerifyRegistration checks a creation response against the challenge the
// server issued and returns the new credential's public key.
func (v *Verifier) VerifyRegistration(att rpc.Attestation, challenge []byte) (*Registered, error) {
	if err := v.checkClientData(att.ClientDataJSON, webauthn.TypeCreate, challenge); err != nil {
		return nil, err
	}

	obj, err := webauthn.ParseAttestationObject(att.AttestationObject)
	if err != nil {
		return nil, invalid("%v", err)
	}
	if obj.Fmt != "none" {
		return nil, invalid("attestation format %q", obj.Fmt)
	}

	authData, err := webauthn.ParseAuthenticatorData(obj.AuthData)
	if err != nil {
		return nil, invalid("%v", err)
	}
	if err := v.checkAuthData(authData); err != nil {
		return nil, err
	}
	if !authData.Has(webauthn.FlagAttestedData) {
		return nil, invalid("no attested credential data")
	}
	if !bytes.Equal(authData.CredentialID, att.CredentialID) {
		return nil, invalid("credential id mismatch")
	}
	if _, err := webauthn.ParseES256(authData.PublicKey); err != nil {
		return nil, invalid("%v", err)
	}

	return &Registered{
		CredentialID: authData.CredentialID,
		PublicKey:    authData.PublicKey,
		SignCount:    authData.SignCount,
	}, nil
}

// VerifyAssertion checks an authentication response signed by the
// credential whose COSE key is publicKey and returns the new sign counter.
// A counter that does not advance is rejected unless both sides report
// zero (authenticators without a counter).
func (v *Verifier) VerifyAssertion(a rpc.Assertion, challenge, publicKey []byte, storedCount uint32) (uint32, error) {
	if err := v.checkClientData(a.ClientDataJSON, webauthn.TypeGet, challenge); err != nil {
		return 0, err
	}

	authData, err := webauthn.ParseAuthenticatorData(a.AuthenticatorData)
	if err != nil {
		return 0, invalid("%v", err)
	}
	if err := v.checkAuthData(authData); err != nil {
		return 0, err
	}

	pub, err := webauthn.ParseES256(publicKey)
	if err != nil {
		return 0, invalid("stored key: %v", err)
	}
	digest := sha256.Sum256(webauthn.SignedData(a.AuthenticatorData, a.ClientDataJSON))
	if !ecdsa.VerifyASN1(pub, digest[:], a.Signature) {
		return 0, invalid("bad signature")
	}

	if authData.SignCount != 0 || storedCount != 0 {
		if authData.SignCount <= storedCount {
			return 0, invalid("sign counter went from %d to %d", storedCount, authData.SignCount)
		}
	}
	return authData.SignCount, nil
}
