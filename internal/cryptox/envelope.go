package cryptox

import "encoding/base64"

// Envelope is the persisted unit for one encrypted field: the secretbox
// output together with its nonce. Byte slices marshal to base64 in JSON.
type Envelope struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
}

// IsZero reports whether the envelope carries no ciphertext at all.
func (e Envelope) IsZero() bool {
	return len(e.Ciphertext) == 0 && len(e.Nonce) == 0
}

// WellFormed reports whether the envelope has the shape Seal produces: a full
// nonce and room for the authenticator. It says nothing about the key.
func (e Envelope) WellFormed() bool {
	return len(e.Nonce) == NonceSize && len(e.Ciphertext) >= Overhead
}

// Seal encrypts plaintext into a new Envelope.
func Seal(plaintext, key []byte) (Envelope, error) {
	ct, nonce, err := Encrypt(plaintext, key)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Ciphertext: ct, Nonce: nonce}, nil
}

// Open decrypts the envelope.
func (e Envelope) Open(key []byte) ([]byte, error) {
	return Decrypt(e.Ciphertext, e.Nonce, key)
}

// SealString encrypts a UTF-8 string into a new Envelope.
func SealString(s string, key []byte) (Envelope, error) {
	return Seal([]byte(s), key)
}

// OpenString decrypts the envelope into a UTF-8 string.
func (e Envelope) OpenString(key []byte) (string, error) {
	return DecryptString(e.Ciphertext, e.Nonce, key)
}

// SealJSON encrypts the JSON form of v into a new Envelope.
func SealJSON(v any, key []byte) (Envelope, error) {
	ct, nonce, err := EncryptJSON(v, key)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Ciphertext: ct, Nonce: nonce}, nil
}

// OpenJSON decrypts the envelope into v.
func (e Envelope) OpenJSON(key []byte, v any) error {
	return DecryptJSON(e.Ciphertext, e.Nonce, key, v)
}

// WrapKey encrypts one key under another (entity key under the master key,
// master key under a credential-derived key).
func WrapKey(key, wrappingKey []byte) (Envelope, error) {
	if len(key) != KeySize {
		return Envelope{}, ErrInvalidKey
	}
	return Seal(key, wrappingKey)
}

// UnwrapKey reverses WrapKey. The unwrapped key is checked for size so a
// foreign payload sealed under the same key cannot pass for a key.
func UnwrapKey(wrapped Envelope, wrappingKey []byte) ([]byte, error) {
	key, err := wrapped.Open(wrappingKey)
	if err != nil {
		return nil, err
	}
	if len(key) != KeySize {
		Wipe(key)
		return nil, ErrInvalidKey
	}
	return key, nil
}

// EncodeString renders binary data as standard base64 text.
func EncodeString(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeString parses text produced by EncodeString.
func DecodeString(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
