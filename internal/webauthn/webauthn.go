// Package webauthn holds the subset of the WebAuthn data formats chatvault
// needs: authenticator data, attestation objects, collected client data,
// ES256 COSE keys and the PRF extension evaluation.
package webauthn

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Authenticator data flags.
const (
	FlagUserPresent  byte = 0x01
	FlagUserVerified byte = 0x04
	FlagAttestedData byte = 0x40
)

// Client data types.
const (
	TypeCreate = "webauthn.create"
	TypeGet    = "webauthn.get"
)

var ErrMalformed = errors.New("malformed webauthn data")

// ClientData is the collected client data the authenticator signs over.
type ClientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

// EncodeChallenge renders a challenge the way browsers put it in client data.
func EncodeChallenge(challenge []byte) string {
	return base64.RawURLEncoding.EncodeToString(challenge)
}

// AuthenticatorData is the parsed authData structure. CredentialID and
// PublicKey are only present when FlagAttestedData is set.
type AuthenticatorData struct {
	RPIDHash     [32]byte
	Flags        byte
	SignCount    uint32
	AAGUID       [16]byte
	CredentialID []byte
	PublicKey    []byte
}

func (a *AuthenticatorData) Has(flag byte) bool {
	return a.Flags&flag == flag
}

// RPIDHash returns SHA-256 of the relying party id.
func RPIDHash(rpID string) [32]byte {
	return sha256.Sum256([]byte(rpID))
}

// Marshal encodes the authenticator data in its binary layout.
func (a *AuthenticatorData) Marshal() []byte {
	out := make([]byte, 0, 37+16+2+len(a.CredentialID)+len(a.PublicKey))
	out = append(out, a.RPIDHash[:]...)
	out = append(out, a.Flags)
	out = binary.BigEndian.AppendUint32(out, a.SignCount)
	if a.Has(FlagAttestedData) {
		out = append(out, a.AAGUID[:]...)
		out = binary.BigEndian.AppendUint16(out, uint16(len(a.CredentialID)))
		out = append(out, a.CredentialID...)
		out = append(out, a.PublicKey...)
	}
	return out
}

// ParseAuthenticatorData decodes raw authData. Extension data after the
// credential public key is ignored.
func ParseAuthenticatorData(raw []byte) (*AuthenticatorData, error) {
	if len(raw) < 37 {
		return nil, fmt.Errorf("%w: authenticator data too short", ErrMalformed)
	}
	a := &AuthenticatorData{}
	copy(a.RPIDHash[:], raw[:32])
	a.Flags = raw[32]
	a.SignCount = binary.BigEndian.Uint32(raw[33:37])

	if !a.Has(FlagAttestedData) {
		return a, nil
	}

	rest := raw[37:]
	if len(rest) < 18 {
		return nil, fmt.Errorf("%w: attested credential data too short", ErrMalformed)
	}
	copy(a.AAGUID[:], rest[:16])
	n := int(binary.BigEndian.Uint16(rest[16:18]))
	rest = rest[18:]
	if len(rest) < n {
		return nil, fmt.Errorf("%w: credential id truncated", ErrMalformed)
	}
	a.CredentialID = append([]byte(nil), rest[:n]...)
	rest = rest[n:]

	// The COSE key is a single CBOR item; find where it ends.
	var key cbor.RawMessage
	if err := cbor.NewDecoder(bytesReader(rest)).Decode(&key); err != nil {
		return nil, fmt.Errorf("%w: credential public key: %v", ErrMalformed, err)
	}
	a.PublicKey = append([]byte(nil), key...)
	return a, nil
}

// AttestationObject is the CBOR map returned by a creation ceremony.
type AttestationObject struct {
	Fmt      string         `cbor:"fmt"`
	AttStmt  map[string]any `cbor:"attStmt"`
	AuthData []byte         `cbor:"authData"`
}

func (o AttestationObject) Marshal() ([]byte, error) {
	if o.AttStmt == nil {
		o.AttStmt = map[string]any{}
	}
	return cbor.Marshal(o)
}

func ParseAttestationObject(raw []byte) (*AttestationObject, error) {
	var o AttestationObject
	if err := cbor.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("%w: attestation object: %v", ErrMalformed, err)
	}
	return &o, nil
}

// EvalPRF evaluates the PRF extension the way CTAP2 hmac-secret does:
// HMAC-SHA256 keyed with the credential's secret over the WebAuthn PRF salt
// derivation SHA-256("WebAuthn PRF" || 0x00 || salt).
func EvalPRF(credSecret, salt []byte) []byte {
	h := sha256.New()
	h.Write([]byte("WebAuthn PRF"))
	h.Write([]byte{0})
	h.Write(salt)
	derived := h.Sum(nil)

	mac := hmac.New(sha256.New, credSecret)
	mac.Write(derived)
	return mac.Sum(nil)
}

// SignedData is what an assertion signature covers.
func SignedData(authData, clientDataJSON []byte) []byte {
	clientHash := sha256.Sum256(clientDataJSON)
	out := make([]byte, 0, len(authData)+len(clientHash))
	out = append(out, authData...)
	return append(out, clientHash[:]...)
}
