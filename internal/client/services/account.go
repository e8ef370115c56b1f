// Package services contains the client application services: the account,
// the unlock credentials, the encrypted chat, folder and note repositories
// and the device registry.
package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/chatvault/internal/client/client"
	"github.com/dmitrijs2005/chatvault/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/chatvault/internal/cryptox"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
	"github.com/google/uuid"
)

const loginInfo = "chatvault login"

// AccountService signs the device in and out. The account password only
// proves identity to the server; it never touches the master key, which is
// protected by the unlock credentials.
type AccountService struct {
	client client.Client
	tokens *client.TokenStore
	store  metadata.Store

	Argon2 cryptox.Argon2Params
}

func NewAccountService(c client.Client, tokens *client.TokenStore, store metadata.Store) *AccountService {
	return &AccountService{client: c, tokens: tokens, store: store, Argon2: cryptox.DefaultArgon2Params}
}

// loginVerifier derives what the server stores for the account: the hash
// of a login key stretched from the password.
func (a *AccountService) loginVerifier(password, salt []byte) ([]byte, error) {
	stretched, err := cryptox.DeriveArgon2id(password, salt, a.Argon2)
	if err != nil {
		return nil, err
	}
	defer cryptox.Wipe(stretched)

	key, err := cryptox.DeriveHKDF(stretched, salt, loginInfo)
	if err != nil {
		return nil, err
	}
	defer cryptox.Wipe(key)
	return cryptox.MakeVerifier(key), nil
}

// DeviceID returns the id of this installation, creating it on first use.
func (a *AccountService) DeviceID(ctx context.Context) (string, error) {
	id, err := a.store.Get(ctx, metadata.KeyDeviceID)
	if err != nil {
		return "", fmt.Errorf("read device id: %w", err)
	}
	if len(id) > 0 {
		return string(id), nil
	}
	fresh := uuid.NewString()
	if err := a.store.Set(ctx, metadata.KeyDeviceID, []byte(fresh)); err != nil {
		return "", fmt.Errorf("store device id: %w", err)
	}
	return fresh, nil
}

// Username is the last account signed in on this device, or "".
func (a *AccountService) Username(ctx context.Context) (string, error) {
	b, err := a.store.Get(ctx, metadata.KeyUsername)
	return string(b), err
}

// Register creates a new account on the server.
func (a *AccountService) Register(ctx context.Context, username string, password []byte) error {
	salt, err := cryptox.RandomBytes(cryptox.SaltSize)
	if err != nil {
		return err
	}
	verifier, err := a.loginVerifier(password, salt)
	if err != nil {
		return err
	}

	req := rpc.RegisterRequest{Username: username, Salt: salt, Verifier: verifier}
	if err := a.client.Mutate(ctx, rpc.AuthRegister, req, nil); err != nil {
		return fmt.Errorf("register error: %w", err)
	}
	return nil
}

// Login authenticates against the server and installs the token pair.
func (a *AccountService) Login(ctx context.Context, username string, password []byte) error {
	var salt rpc.SaltResponse
	if err := a.client.Query(ctx, rpc.AuthSalt, rpc.SaltRequest{Username: username}, &salt); err != nil {
		return fmt.Errorf("get salt error: %w", err)
	}
	verifier, err := a.loginVerifier(password, salt.Salt)
	if err != nil {
		return err
	}
	deviceID, err := a.DeviceID(ctx)
	if err != nil {
		return err
	}

	var tokens rpc.Tokens
	req := rpc.LoginRequest{Username: username, Verifier: verifier, DeviceID: deviceID}
	if err := a.client.Mutate(ctx, rpc.AuthLogin, req, &tokens); err != nil {
		return fmt.Errorf("login error: %w", err)
	}
	a.tokens.Set(tokens)

	if err := a.store.Set(ctx, metadata.KeyUsername, []byte(username)); err != nil {
		return fmt.Errorf("store username: %w", err)
	}
	return nil
}

// SignedIn reports whether a token pair is installed.
func (a *AccountService) SignedIn(ctx context.Context) bool {
	_, err := a.tokens.Token(ctx)
	return err == nil
}

func (a *AccountService) Logout() {
	a.tokens.Clear()
}

// Ping proxies a liveness check to the server.
func (a *AccountService) Ping(ctx context.Context) error {
	var resp rpc.PingResponse
	if err := a.client.Query(ctx, rpc.Ping, rpc.Empty{}, &resp); err != nil {
		return err
	}
	if resp.Status != "OK" {
		return client.ErrUnavailable
	}
	return nil
}
