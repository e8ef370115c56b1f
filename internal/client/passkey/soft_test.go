package passkey

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"testing"

	"github.com/dmitrijs2005/chatvault/internal/rpc"
	"github.com/dmitrijs2005/chatvault/internal/webauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func creation() rpc.PasskeyCreation {
	return rpc.PasskeyCreation{
		Challenge: []byte("challenge"),
		RP:        rpc.RelyingParty{ID: "localhost", Name: "chatvault"},
		User:      rpc.PasskeyUser{ID: []byte("user"), Name: "alice"},
		PRFSalt:   []byte("salt"),
	}
}

func TestSoftAuthenticator_CreateAndGet(t *testing.T) {
	a := NewSoftAuthenticator("https://localhost")
	att, prfCreate, err := a.Create(context.Background(), creation())
	require.NoError(t, err)
	assert.Equal(t, 1, a.Len())

	obj, err := webauthn.ParseAttestationObject(att.AttestationObject)
	require.NoError(t, err)
	authData, err := webauthn.ParseAuthenticatorData(obj.AuthData)
	require.NoError(t, err)
	assert.Equal(t, att.CredentialID, authData.CredentialID)
	pub, err := webauthn.ParseES256(authData.PublicKey)
	require.NoError(t, err)

	a1, prfGet, err := a.Get(context.Background(), rpc.PasskeyRequest{
		Challenge: []byte("login"),
		RPID:      "localhost",
		Allow:     []rpc.AllowedCredential{{CredentialID: att.CredentialID, PRFSalt: []byte("salt")}},
	})
	require.NoError(t, err)
	assert.Equal(t, prfCreate, prfGet, "same salt gives the same PRF output")

	digest := sha256.Sum256(webauthn.SignedData(a1.AuthenticatorData, a1.ClientDataJSON))
	assert.True(t, ecdsa.VerifyASN1(pub, digest[:], a1.Signature))

	a2, prfOther, err := a.Get(context.Background(), rpc.PasskeyRequest{
		Challenge: []byte("login"),
		RPID:      "localhost",
		Allow:     []rpc.AllowedCredential{{CredentialID: att.CredentialID, PRFSalt: []byte("other")}},
	})
	require.NoError(t, err)
	assert.NotEqual(t, prfCreate, prfOther)

	d1, err := webauthn.ParseAuthenticatorData(a1.AuthenticatorData)
	require.NoError(t, err)
	d2, err := webauthn.ParseAuthenticatorData(a2.AuthenticatorData)
	require.NoError(t, err)
	assert.Greater(t, d2.SignCount, d1.SignCount)
}

func TestSoftAuthenticator_NoMatch(t *testing.T) {
	a := NewSoftAuthenticator("https://localhost")
	att, _, err := a.Create(context.Background(), creation())
	require.NoError(t, err)

	_, _, err = a.Get(context.Background(), rpc.PasskeyRequest{
		RPID:  "localhost",
		Allow: []rpc.AllowedCredential{{CredentialID: []byte("unknown")}},
	})
	require.ErrorIs(t, err, ErrNoCredential)

	_, _, err = a.Get(context.Background(), rpc.PasskeyRequest{
		RPID:  "other.example",
		Allow: []rpc.AllowedCredential{{CredentialID: att.CredentialID}},
	})
	require.ErrorIs(t, err, ErrNoCredential)
}

func TestSoftAuthenticator_Denied(t *testing.T) {
	a := NewSoftAuthenticator("https://localhost")
	a.Approve = func(context.Context, string) bool { return false }

	_, _, err := a.Create(context.Background(), creation())
	require.ErrorIs(t, err, ErrDenied)
	assert.Equal(t, 0, a.Len())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Approve = nil
	_, _, err = a.Create(ctx, creation())
	require.ErrorIs(t, err, context.Canceled)
}

func TestSoftAuthenticator_ExportImport(t *testing.T) {
	a := NewSoftAuthenticator("https://localhost")
	att, prf, err := a.Create(context.Background(), creation())
	require.NoError(t, err)

	state, err := a.Export()
	require.NoError(t, err)

	b := NewSoftAuthenticator("https://localhost")
	require.NoError(t, b.Import(state))
	assert.Equal(t, 1, b.Len())

	_, got, err := b.Get(context.Background(), rpc.PasskeyRequest{
		RPID:  "localhost",
		Allow: []rpc.AllowedCredential{{CredentialID: att.CredentialID, PRFSalt: []byte("salt")}},
	})
	require.NoError(t, err)
	assert.Equal(t, prf, got)

	require.Error(t, b.Import([]byte("{")))
}
