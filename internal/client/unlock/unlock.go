// Package unlock implements the three ways of recovering the master key:
// a password, a passkey with the WebAuthn PRF extension and a recovery
// phrase. Each one wraps the same master key under its own derived key and
// stores only the wrapped blob on the server.
//
// Providers never fall back to one another. A failed recovery returns a
// *Failure whose Reason says why, so the caller can tell the user exactly
// what went wrong.
package unlock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/chatvault/internal/client/client"
	"github.com/dmitrijs2005/chatvault/internal/cryptox"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
)

type Method string

const (
	MethodPassword       Method = rpc.MethodPassword
	MethodPasskey        Method = rpc.MethodPasskey
	MethodRecoveryPhrase Method = rpc.MethodRecoveryPhrase
)

// Recoverer is the capability shared by every unlock method.
type Recoverer interface {
	Method() Method
	RecoverMasterKey(ctx context.Context) ([]byte, error)
}

// Registrar stores a credential wrapping masterKey on the server.
type Registrar interface {
	Method() Method
	Register(ctx context.Context, masterKey []byte) error
}

// Failure reasons.
var (
	ErrWrongPassword       = errors.New("wrong password")
	ErrAuthenticatorDenied = errors.New("authenticator denied")
	ErrInvalidPhrase       = errors.New("invalid recovery phrase")
	ErrTimeout             = errors.New("unlock timed out")
	ErrNotRegistered       = errors.New("unlock method not registered")
	ErrCorruptCredential   = errors.New("stored credential is unusable")
)

// Failure is returned when a provider could not recover the master key.
// errors.Is matches both Reason and the underlying Err, so a tag mismatch
// still satisfies errors.Is(err, cryptox.ErrAuthentication).
type Failure struct {
	Method Method
	Reason error
	Err    error
}

func (f *Failure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "unlock with %s failed: %v", f.Method, f.Reason)
	if f.Err != nil && f.Err != f.Reason {
		fmt.Fprintf(&b, ": %v", f.Err)
	}
	return b.String()
}

func (f *Failure) Unwrap() []error {
	errs := make([]error, 0, 2)
	if f.Reason != nil {
		errs = append(errs, f.Reason)
	}
	if f.Err != nil {
		errs = append(errs, f.Err)
	}
	return errs
}

func fail(m Method, reason, err error) *Failure {
	return &Failure{Method: m, Reason: reason, Err: err}
}

// contextFailure turns a cancelled or expired ctx into ErrTimeout.
func contextFailure(m Method, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fail(m, ErrTimeout, err)
	}
	return nil
}

// notRegistered reports whether the server said the credential is missing.
func notRegistered(err error) bool {
	return errors.Is(err, client.ErrNotFound)
}

// derive runs a slow KDF off the caller's goroutine so ctx cancellation is
// honoured while it works. The result of an abandoned derivation is wiped.
func derive(ctx context.Context, kdf func() ([]byte, error)) ([]byte, error) {
	type result struct {
		key []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		key, err := kdf()
		done <- result{key, err}
	}()

	select {
	case r := <-done:
		return r.key, r.err
	case <-ctx.Done():
		go func() {
			r := <-done
			cryptox.Wipe(r.key)
		}()
		return nil, ctx.Err()
	}
}

// unwrapMaster opens the wrapped master key and maps a tag mismatch to
// reason.
func unwrapMaster(m Method, wrapped cryptox.Envelope, wrappingKey []byte, reason error) ([]byte, error) {
	mk, err := cryptox.UnwrapKey(wrapped, wrappingKey)
	if err != nil {
		return nil, fail(m, reason, err)
	}
	return mk, nil
}
