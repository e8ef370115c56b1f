// Package cryptox holds every cryptographic construction used by chatvault.
//
// All symmetric encryption is NaCl secretbox (XSalsa20-Poly1305): a 32-byte
// key, a random 24-byte nonce per call and a 16-byte Poly1305 tag. Packages
// above this one never build their own construction; they call Encrypt,
// Decrypt, Seal, Open or the key wrapping helpers defined here.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeySize is the length of every symmetric key (master, entity, wrapping).
	KeySize = 32
	// NonceSize is the secretbox nonce length.
	NonceSize = 24
	// Overhead is the number of bytes the authenticator adds to a plaintext.
	Overhead = secretbox.Overhead
)

var (
	// ErrAuthentication is returned when a ciphertext fails its integrity
	// check: wrong key, corrupted data or tampering.
	ErrAuthentication = errors.New("authentication tag mismatch")
	ErrInvalidKey     = errors.New("invalid key size")
	ErrInvalidNonce   = errors.New("invalid nonce size")
	ErrInvalidUTF8    = errors.New("plaintext is not valid UTF-8")
)

// randReader is a test seam for the system CSPRNG.
var randReader io.Reader = rand.Reader

// RandomBytes returns n bytes read from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}

// GenerateKey returns a fresh random KeySize key.
func GenerateKey() ([]byte, error) {
	return RandomBytes(KeySize)
}

func toKey(key []byte) (*[KeySize]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	var k [KeySize]byte
	copy(k[:], key)
	return &k, nil
}

// Encrypt seals plaintext under key with a freshly generated random nonce.
// The nonce is returned separately and must be stored next to the ciphertext.
//
// Nonces are never derived from counters or content: two calls with the same
// key and plaintext always produce different outputs.
func Encrypt(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	k, err := toKey(key)
	if err != nil {
		return nil, nil, err
	}
	defer Wipe(k[:])

	nonce, err = RandomBytes(NonceSize)
	if err != nil {
		return nil, nil, err
	}
	var n [NonceSize]byte
	copy(n[:], nonce)

	ciphertext = secretbox.Seal(nil, plaintext, &n, k)
	return ciphertext, nonce, nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any mismatch between key,
// nonce and ciphertext yields ErrAuthentication; no partial plaintext is ever
// returned.
func Decrypt(ciphertext, nonce, key []byte) ([]byte, error) {
	k, err := toKey(key)
	if err != nil {
		return nil, err
	}
	defer Wipe(k[:])

	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonce
	}
	if len(ciphertext) < Overhead {
		return nil, ErrAuthentication
	}
	var n [NonceSize]byte
	copy(n[:], nonce)

	plaintext, ok := secretbox.Open(nil, ciphertext, &n, k)
	if !ok {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// EncryptString is the UTF-8 variant of Encrypt.
func EncryptString(s string, key []byte) (ciphertext, nonce []byte, err error) {
	return Encrypt([]byte(s), key)
}

// DecryptString is the UTF-8 variant of Decrypt. Authentic plaintext that is
// not valid UTF-8 is rejected with ErrInvalidUTF8.
func DecryptString(ciphertext, nonce, key []byte) (string, error) {
	b, err := Decrypt(ciphertext, nonce, key)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// EncryptJSON serializes v to JSON and encrypts it under key.
//
// Example:
//
//	ct, nonce, err := cryptox.EncryptJSON(messages, chatKey)
func EncryptJSON(v any, key []byte) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	defer Wipe(plaintext)
	return Encrypt(plaintext, key)
}

// DecryptJSON decrypts ciphertext and unmarshals the JSON plaintext into v.
func DecryptJSON(ciphertext, nonce, key []byte, v any) error {
	plaintext, err := Decrypt(ciphertext, nonce, key)
	if err != nil {
		return err
	}
	defer Wipe(plaintext)
	return json.Unmarshal(plaintext, v)
}

// MakeVerifier returns the SHA-256 digest of key. The account login sends it
// instead of the login key itself.
func MakeVerifier(key []byte) []byte {
	hash := sha256.Sum256(key)
	return hash[:]
}
