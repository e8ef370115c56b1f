package rpc

import (
	"time"

	"github.com/dmitrijs2005/chatvault/internal/cryptox"
)

// Credential methods.
const (
	MethodPassword       = "password"
	MethodPasskey        = "passkey"
	MethodRecoveryPhrase = "recovery_phrase"
)

// Credential is one unlock credential. Every credential of an account wraps
// the same master key. EncryptedMasterKey is only returned by the method's
// own get/verify procedure, never by credentials.list.
type Credential struct {
	ID                 string                `json:"id"`
	Method             string                `json:"method"`
	EncryptedMasterKey cryptox.Envelope      `json:"encrypted_master_key"`
	Salt               []byte                `json:"salt,omitempty"`
	Argon2             *cryptox.Argon2Params `json:"argon2,omitempty"`
	Scrypt             *cryptox.ScryptParams `json:"scrypt,omitempty"`
	Passkey            *PasskeyInfo          `json:"passkey,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
	LastUsedAt         time.Time             `json:"last_used_at,omitempty"`
}

// PasskeyInfo is the WebAuthn part of a passkey credential. EncryptedName is
// sealed under the master key so the server never learns device labels.
type PasskeyInfo struct {
	CredentialID  []byte           `json:"credential_id"`
	PublicKey     []byte           `json:"public_key,omitempty"`
	SignCount     uint32           `json:"sign_count"`
	PRFSalt       []byte           `json:"prf_salt"`
	EncryptedName cryptox.Envelope `json:"encrypted_name"`
}

type CredentialList struct {
	Credentials []Credential `json:"credentials"`
}

// SetKDFCredential is the payload of credentials.password.set and
// credentials.recovery.set. It replaces any existing credential of the same
// method.
type SetKDFCredential struct {
	EncryptedMasterKey cryptox.Envelope      `json:"encrypted_master_key"`
	Salt               []byte                `json:"salt"`
	Argon2             *cryptox.Argon2Params `json:"argon2,omitempty"`
	Scrypt             *cryptox.ScryptParams `json:"scrypt,omitempty"`
}

type RelyingParty struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type PasskeyUser struct {
	ID   []byte `json:"id"`
	Name string `json:"name"`
}

// PasskeyCreation is the server's reply to credentials.passkey.options.create.
type PasskeyCreation struct {
	Challenge []byte       `json:"challenge"`
	RP        RelyingParty `json:"rp"`
	User      PasskeyUser  `json:"user"`
	PRFSalt   []byte       `json:"prf_salt"`
	Exclude   [][]byte     `json:"exclude,omitempty"`
	TimeoutMS int64        `json:"timeout_ms"`
}

// Attestation is the authenticator's registration response.
type Attestation struct {
	CredentialID      []byte `json:"credential_id"`
	ClientDataJSON    []byte `json:"client_data_json"`
	AttestationObject []byte `json:"attestation_object"`
}

type PasskeyRegistration struct {
	Attestation        Attestation      `json:"attestation"`
	EncryptedMasterKey cryptox.Envelope `json:"encrypted_master_key"`
	PRFSalt            []byte           `json:"prf_salt"`
	EncryptedName      cryptox.Envelope `json:"encrypted_name"`
}

type AllowedCredential struct {
	CredentialID []byte `json:"credential_id"`
	PRFSalt      []byte `json:"prf_salt"`
}

// PasskeyRequest is the server's reply to credentials.passkey.options.get.
type PasskeyRequest struct {
	Challenge []byte              `json:"challenge"`
	RPID      string              `json:"rp_id"`
	Allow     []AllowedCredential `json:"allow"`
	TimeoutMS int64               `json:"timeout_ms"`
}

// Assertion is the authenticator's authentication response.
type Assertion struct {
	CredentialID      []byte `json:"credential_id"`
	ClientDataJSON    []byte `json:"client_data_json"`
	AuthenticatorData []byte `json:"authenticator_data"`
	Signature         []byte `json:"signature"`
}

// PasskeyVerified is released by credentials.passkey.verify once the
// assertion signature checks out.
type PasskeyVerified struct {
	ID                 string           `json:"id"`
	EncryptedMasterKey cryptox.Envelope `json:"encrypted_master_key"`
}

type PasskeyRenaming struct {
	ID            string           `json:"id"`
	EncryptedName cryptox.Envelope `json:"encrypted_name"`
}
