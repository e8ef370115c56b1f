package unlock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/chatvault/internal/client/client"
	"github.com/dmitrijs2005/chatvault/internal/client/passkey"
	"github.com/dmitrijs2005/chatvault/internal/cryptox"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func masterKey(t *testing.T) []byte {
	t.Helper()
	mk, err := cryptox.GenerateKey()
	require.NoError(t, err)
	return mk
}

func password(c client.Client, pw string) *Password {
	p := NewPassword(c, []byte(pw))
	p.Params = testArgon2
	return p
}

func phrase(c client.Client, s string) *RecoveryPhrase {
	r := NewRecoveryPhrase(c, s)
	r.Params = testScrypt
	return r
}

func requireFailure(t *testing.T, err error, method Method, reason error) {
	t.Helper()
	require.ErrorIs(t, err, reason)
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, method, f.Method)
}

func TestPassword_RegisterAndRecover(t *testing.T) {
	srv := newFakeServer()
	mk := masterKey(t)

	require.NoError(t, password(srv, "correct horse").Register(context.Background(), mk))

	got, err := password(srv, "correct horse").RecoverMasterKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mk, got)

	stored := srv.kdf[rpc.MethodPassword]
	assert.Len(t, stored.Salt, cryptox.SaltSize)
	require.NotNil(t, stored.Argon2)
	assert.Equal(t, testArgon2, *stored.Argon2)
	assert.NotContains(t, string(stored.EncryptedMasterKey.Ciphertext), string(mk))
}

func TestPassword_WrongPassword(t *testing.T) {
	srv := newFakeServer()
	require.NoError(t, password(srv, "right").Register(context.Background(), masterKey(t)))

	_, err := password(srv, "wrong").RecoverMasterKey(context.Background())
	requireFailure(t, err, MethodPassword, ErrWrongPassword)
	require.ErrorIs(t, err, cryptox.ErrAuthentication)
}

func TestPassword_NotRegistered(t *testing.T) {
	_, err := password(newFakeServer(), "pw").RecoverMasterKey(context.Background())
	requireFailure(t, err, MethodPassword, ErrNotRegistered)
}

func TestPassword_ExcessiveStoredParams(t *testing.T) {
	srv := newFakeServer()
	require.NoError(t, password(srv, "pw").Register(context.Background(), masterKey(t)))
	cred := srv.kdf[rpc.MethodPassword]
	cred.Argon2 = &cryptox.Argon2Params{Time: 1, Memory: 1 << 31, Threads: 1}
	srv.kdf[rpc.MethodPassword] = cred

	_, err := password(srv, "pw").RecoverMasterKey(context.Background())
	requireFailure(t, err, MethodPassword, ErrCorruptCredential)
	require.ErrorIs(t, err, cryptox.ErrKDFParams)
}

func TestPassword_Timeout(t *testing.T) {
	srv := newFakeServer()
	require.NoError(t, password(srv, "pw").Register(context.Background(), masterKey(t)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := password(srv, "pw").RecoverMasterKey(ctx)
	requireFailure(t, err, MethodPassword, ErrTimeout)
}

func TestPassword_NetworkError(t *testing.T) {
	srv := newFakeServer()
	srv.errs[rpc.PasswordGet] = client.ErrUnavailable

	_, err := password(srv, "pw").RecoverMasterKey(context.Background())
	require.ErrorIs(t, err, client.ErrUnavailable)
	var f *Failure
	assert.False(t, errors.As(err, &f), "network errors are not unlock failures")
}

func TestDerive_HonoursCancellation(t *testing.T) {
	release := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := derive(ctx, func() ([]byte, error) {
		<-release
		return []byte{1, 2, 3}, nil
	})
	close(release)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRecoveryPhrase_Generate(t *testing.T) {
	p1, err := GeneratePhrase()
	require.NoError(t, err)
	p2, err := GeneratePhrase()
	require.NoError(t, err)

	assert.Len(t, strings.Fields(p1), 12)
	assert.NotEqual(t, p1, p2)
}

func TestRecoveryPhrase_RegisterAndRecover(t *testing.T) {
	srv := newFakeServer()
	mk := masterKey(t)
	words, err := GeneratePhrase()
	require.NoError(t, err)

	require.NoError(t, phrase(srv, words).Register(context.Background(), mk))

	// Typing differences do not matter.
	messy := "  " + strings.ToUpper(strings.ReplaceAll(words, " ", "   ")) + "\n"
	got, err := phrase(srv, messy).RecoverMasterKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mk, got)
}

func TestRecoveryPhrase_ExcessiveStoredParams(t *testing.T) {
	srv := newFakeServer()
	words, err := GeneratePhrase()
	require.NoError(t, err)
	require.NoError(t, phrase(srv, words).Register(context.Background(), masterKey(t)))
	cred := srv.kdf[rpc.MethodRecoveryPhrase]
	cred.Scrypt = &cryptox.ScryptParams{N: 1 << 24, R: 8, P: 1}
	srv.kdf[rpc.MethodRecoveryPhrase] = cred

	_, err = phrase(srv, words).RecoverMasterKey(context.Background())
	requireFailure(t, err, MethodRecoveryPhrase, ErrCorruptCredential)
	require.ErrorIs(t, err, cryptox.ErrKDFParams)
}

func TestRecoveryPhrase_InvalidChecksum(t *testing.T) {
	srv := newFakeServer()
	words, err := GeneratePhrase()
	require.NoError(t, err)
	require.NoError(t, phrase(srv, words).Register(context.Background(), masterKey(t)))
	before := srv.callCount()

	fields := strings.Fields(words)
	fields[0], fields[1] = fields[1], fields[0]
	if fields[0] == fields[1] {
		t.Skip("swap produced the same phrase")
	}
	bad := strings.Join(fields, " ")

	// Either the checksum catches the swap or the unwrap does.
	_, err = phrase(srv, bad).RecoverMasterKey(context.Background())
	require.ErrorIs(t, err, ErrInvalidPhrase)

	_, err = phrase(srv, "not a real phrase at all").RecoverMasterKey(context.Background())
	requireFailure(t, err, MethodRecoveryPhrase, ErrInvalidPhrase)
	assert.LessOrEqual(t, srv.callCount(), before+1, "malformed phrases are rejected before any call")
}

func TestRecoveryPhrase_OtherValidPhrase(t *testing.T) {
	srv := newFakeServer()
	registered, err := GeneratePhrase()
	require.NoError(t, err)
	other, err := GeneratePhrase()
	require.NoError(t, err)
	require.NoError(t, phrase(srv, registered).Register(context.Background(), masterKey(t)))

	_, err = phrase(srv, other).RecoverMasterKey(context.Background())
	requireFailure(t, err, MethodRecoveryPhrase, ErrInvalidPhrase)
	require.ErrorIs(t, err, cryptox.ErrAuthentication)
}

func TestPasskey_RegisterAndRecover(t *testing.T) {
	srv := newFakeServer()
	auth := passkey.NewSoftAuthenticator("https://localhost")
	mk := masterKey(t)

	require.NoError(t, NewPasskey(srv, auth, "laptop").Register(context.Background(), mk))
	require.Len(t, srv.passkeys, 1)

	name, err := srv.passkeys[0].Passkey.EncryptedName.OpenString(mk)
	require.NoError(t, err)
	assert.Equal(t, "laptop", name)

	got, err := NewPasskey(srv, auth, "").RecoverMasterKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mk, got)
}

func TestPasskey_Failures(t *testing.T) {
	t.Run("none registered", func(t *testing.T) {
		_, err := NewPasskey(newFakeServer(), passkey.NewSoftAuthenticator("o"), "").RecoverMasterKey(context.Background())
		requireFailure(t, err, MethodPasskey, ErrNotRegistered)
	})

	t.Run("user cancels", func(t *testing.T) {
		srv := newFakeServer()
		auth := passkey.NewSoftAuthenticator("o")
		require.NoError(t, NewPasskey(srv, auth, "").Register(context.Background(), masterKey(t)))

		auth.Approve = func(context.Context, string) bool { return false }
		_, err := NewPasskey(srv, auth, "").RecoverMasterKey(context.Background())
		requireFailure(t, err, MethodPasskey, ErrAuthenticatorDenied)
		require.ErrorIs(t, err, passkey.ErrDenied)
	})

	t.Run("server refuses assertion", func(t *testing.T) {
		srv := newFakeServer()
		auth := passkey.NewSoftAuthenticator("o")
		require.NoError(t, NewPasskey(srv, auth, "").Register(context.Background(), masterKey(t)))

		srv.errs[rpc.PasskeyVerify] = fmt.Errorf("%w: passkey verification failed", client.ErrUnauthorized)
		_, err := NewPasskey(srv, auth, "").RecoverMasterKey(context.Background())
		requireFailure(t, err, MethodPasskey, ErrAuthenticatorDenied)
	})

	t.Run("different authenticator", func(t *testing.T) {
		srv := newFakeServer()
		require.NoError(t, NewPasskey(srv, passkey.NewSoftAuthenticator("o"), "").Register(context.Background(), masterKey(t)))

		_, err := NewPasskey(srv, passkey.NewSoftAuthenticator("o"), "").RecoverMasterKey(context.Background())
		requireFailure(t, err, MethodPasskey, ErrAuthenticatorDenied)
		require.ErrorIs(t, err, passkey.ErrNoCredential)
	})

	t.Run("cancelled ceremony", func(t *testing.T) {
		srv := newFakeServer()
		auth := passkey.NewSoftAuthenticator("o")
		require.NoError(t, NewPasskey(srv, auth, "").Register(context.Background(), masterKey(t)))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewPasskey(srv, auth, "").RecoverMasterKey(ctx)
		requireFailure(t, err, MethodPasskey, ErrTimeout)
	})
}

// Every registered method unwraps to the same master key.
func TestProviders_RecoverSameKey(t *testing.T) {
	srv := newFakeServer()
	auth := passkey.NewSoftAuthenticator("https://localhost")
	mk := masterKey(t)
	words, err := GeneratePhrase()
	require.NoError(t, err)

	registrars := []Registrar{
		password(srv, "pw"),
		phrase(srv, words),
		NewPasskey(srv, auth, "phone"),
	}
	for _, r := range registrars {
		require.NoError(t, r.Register(context.Background(), mk), r.Method())
	}

	recoverers := []Recoverer{
		password(srv, "pw"),
		phrase(srv, words),
		NewPasskey(srv, auth, ""),
	}
	for _, r := range recoverers {
		got, err := r.RecoverMasterKey(context.Background())
		require.NoError(t, err, r.Method())
		assert.Equal(t, mk, got, r.Method())
	}
}

func TestFailure_Error(t *testing.T) {
	f := fail(MethodPassword, ErrWrongPassword, cryptox.ErrAuthentication)
	assert.Equal(t, "unlock with password failed: wrong password: authentication tag mismatch", f.Error())

	f = fail(MethodPasskey, ErrNotRegistered, nil)
	assert.Equal(t, "unlock with passkey failed: unlock method not registered", f.Error())
}
