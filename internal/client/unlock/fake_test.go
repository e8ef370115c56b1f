package unlock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/chatvault/internal/client/client"
	"github.com/dmitrijs2005/chatvault/internal/cryptox"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
	"google.golang.org/grpc/codes"
)

// Cheap parameters so the tests do not spend seconds in the KDFs.
var (
	testArgon2 = cryptox.Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1}
	testScrypt = cryptox.ScryptParams{N: 1 << 10, R: 8, P: 1}
)

// fakeServer is an in-memory credential server speaking the same JSON
// payloads as the real one. Payloads and replies are round-tripped through
// JSON so the providers see exactly what they would over the wire.
type fakeServer struct {
	mu       sync.Mutex
	kdf      map[string]rpc.Credential
	passkeys []rpc.Credential

	// errs injects a failure for a procedure.
	errs  map[string]error
	calls []string
}

func newFakeServer() *fakeServer {
	return &fakeServer{kdf: map[string]rpc.Credential{}, errs: map[string]error{}}
}

var _ client.Client = (*fakeServer)(nil)

func notFound(what string) error {
	return &client.RejectedError{Code: codes.NotFound, Message: what + " not found"}
}

func transcode(in, out any) error {
	if out == nil {
		return nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (f *fakeServer) begin(ctx context.Context, procedure string) error {
	f.calls = append(f.calls, procedure)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rpc cancelled: %w", err)
	}
	return f.errs[procedure]
}

func (f *fakeServer) Query(ctx context.Context, procedure string, payload, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(ctx, procedure); err != nil {
		return err
	}

	switch procedure {
	case rpc.PasswordGet, rpc.RecoveryGet:
		method := rpc.MethodPassword
		if procedure == rpc.RecoveryGet {
			method = rpc.MethodRecoveryPhrase
		}
		cred, ok := f.kdf[method]
		if !ok {
			return notFound(method)
		}
		return transcode(cred, out)
	case rpc.PasskeyCreationOptions:
		salt, _ := cryptox.RandomBytes(32)
		return transcode(rpc.PasskeyCreation{
			Challenge: []byte("create-challenge"),
			RP:        rpc.RelyingParty{ID: "localhost", Name: "chatvault"},
			User:      rpc.PasskeyUser{ID: []byte("user-1"), Name: "alice"},
			PRFSalt:   salt,
		}, out)
	case rpc.PasskeyRequestOptions:
		req := rpc.PasskeyRequest{Challenge: []byte("get-challenge"), RPID: "localhost"}
		for _, c := range f.passkeys {
			req.Allow = append(req.Allow, rpc.AllowedCredential{CredentialID: c.Passkey.CredentialID, PRFSalt: c.Passkey.PRFSalt})
		}
		return transcode(req, out)
	}
	return fmt.Errorf("unexpected query %s", procedure)
}

func (f *fakeServer) Mutate(ctx context.Context, procedure string, payload, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(ctx, procedure); err != nil {
		return err
	}

	switch procedure {
	case rpc.PasswordSet, rpc.RecoverySet:
		var req rpc.SetKDFCredential
		if err := transcode(payload, &req); err != nil {
			return err
		}
		method := rpc.MethodPassword
		if procedure == rpc.RecoverySet {
			method = rpc.MethodRecoveryPhrase
		}
		f.kdf[method] = rpc.Credential{
			ID:                 method + "-1",
			Method:             method,
			EncryptedMasterKey: req.EncryptedMasterKey,
			Salt:               req.Salt,
			Argon2:             req.Argon2,
			Scrypt:             req.Scrypt,
		}
		return nil
	case rpc.PasskeyRegister:
		var req rpc.PasskeyRegistration
		if err := transcode(payload, &req); err != nil {
			return err
		}
		f.passkeys = append(f.passkeys, rpc.Credential{
			ID:                 fmt.Sprintf("passkey-%d", len(f.passkeys)+1),
			Method:             rpc.MethodPasskey,
			EncryptedMasterKey: req.EncryptedMasterKey,
			Passkey: &rpc.PasskeyInfo{
				CredentialID:  req.Attestation.CredentialID,
				PRFSalt:       req.PRFSalt,
				EncryptedName: req.EncryptedName,
			},
		})
		return nil
	case rpc.PasskeyVerify:
		var a rpc.Assertion
		if err := transcode(payload, &a); err != nil {
			return err
		}
		for _, c := range f.passkeys {
			if string(c.Passkey.CredentialID) == string(a.CredentialID) {
				return transcode(rpc.PasskeyVerified{ID: c.ID, EncryptedMasterKey: c.EncryptedMasterKey}, out)
			}
		}
		return notFound("passkey")
	}
	return fmt.Errorf("unexpected mutation %s", procedure)
}

func (f *fakeServer) Close() error { return nil }

func (f *fakeServer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
