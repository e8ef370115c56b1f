package cryptox

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/scrypt"
)

// SaltSize is the salt length used for every password-style derivation.
const SaltSize = 16

// Argon2Params are the Argon2id cost parameters. They are stored next to the
// wrapped key so they can be raised later without breaking old credentials.
type Argon2Params struct {
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"`
	Threads uint8  `json:"threads"`
}

// DefaultArgon2Params: 1 pass, 64 MiB, 4 lanes.
var DefaultArgon2Params = Argon2Params{Time: 1, Memory: 64 * 1024, Threads: 4}

// MaxArgon2Params caps parameters read back from the server: 16 passes,
// 1 GiB, 64 lanes.
var MaxArgon2Params = Argon2Params{Time: 16, Memory: 1 << 20, Threads: 64}

// ErrKDFParams is returned for cost parameters that are malformed or above
// the Max limits.
var ErrKDFParams = errors.New("kdf parameters out of range")

// Check validates p against the argon2 rules and MaxArgon2Params.
func (p Argon2Params) Check() error {
	switch {
	case p.Time == 0 || p.Threads == 0 || p.Memory < 8*uint32(p.Threads):
		return fmt.Errorf("%w: argon2 %+v", ErrKDFParams, p)
	case p.Time > MaxArgon2Params.Time || p.Memory > MaxArgon2Params.Memory || p.Threads > MaxArgon2Params.Threads:
		return fmt.Errorf("%w: argon2 %+v exceeds %+v", ErrKDFParams, p, MaxArgon2Params)
	}
	return nil
}

// DeriveArgon2id derives a KeySize key from a password and salt.
func DeriveArgon2id(secret, salt []byte, p Argon2Params) ([]byte, error) {
	if err := p.Check(); err != nil {
		return nil, err
	}
	return argon2.IDKey(secret, salt, p.Time, p.Memory, p.Threads, KeySize), nil
}

// ScryptParams are the scrypt cost parameters (N must be a power of two).
type ScryptParams struct {
	N int `json:"n"`
	R int `json:"r"`
	P int `json:"p"`
}

// DefaultScryptParams: N=2^15, r=8, p=1.
var DefaultScryptParams = ScryptParams{N: 1 << 15, R: 8, P: 1}

// MaxScryptParams caps each scrypt parameter; maxScryptMemory caps the
// 128*N*r bytes scrypt allocates.
var MaxScryptParams = ScryptParams{N: 1 << 20, R: 32, P: 16}

const maxScryptMemory = 1 << 30

// Check validates p against the scrypt rules and MaxScryptParams.
func (p ScryptParams) Check() error {
	switch {
	case p.N <= 1 || p.N&(p.N-1) != 0 || p.R <= 0 || p.P <= 0:
		return fmt.Errorf("%w: scrypt %+v", ErrKDFParams, p)
	case p.N > MaxScryptParams.N || p.R > MaxScryptParams.R || p.P > MaxScryptParams.P,
		int64(p.N)*int64(p.R)*128 > maxScryptMemory:
		return fmt.Errorf("%w: scrypt %+v exceeds %+v", ErrKDFParams, p, MaxScryptParams)
	}
	return nil
}

// DeriveScrypt derives a KeySize key from secret and salt.
func DeriveScrypt(secret, salt []byte, p ScryptParams) ([]byte, error) {
	if err := p.Check(); err != nil {
		return nil, err
	}
	key, err := scrypt.Key(secret, salt, p.N, p.R, p.P, KeySize)
	if err != nil {
		return nil, fmt.Errorf("scrypt: %w", err)
	}
	return key, nil
}

// DeriveHKDF expands high-entropy input (such as a WebAuthn PRF output) into
// a KeySize key bound to info.
func DeriveHKDF(secret, salt []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, salt, []byte(info))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

// Wipe zeroes b. It is best effort: the Go runtime may already hold copies.
//
//go:noinline
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}
