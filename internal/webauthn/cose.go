package webauthn

import (
	"bytes"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"
	"io"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// COSE identifiers for ES256 keys.
const (
	coseKtyEC2   = 2
	coseAlgES256 = -7
	coseCrvP256  = 1
)

type coseKey struct {
	Kty int    `cbor:"1,keyasint"`
	Alg int    `cbor:"3,keyasint"`
	Crv int    `cbor:"-1,keyasint"`
	X   []byte `cbor:"-2,keyasint"`
	Y   []byte `cbor:"-3,keyasint"`
}

// MarshalES256 encodes a P-256 public key as a COSE_Key.
func MarshalES256(pub *ecdsa.PublicKey) ([]byte, error) {
	ek, err := pub.ECDH()
	if err != nil {
		return nil, err
	}
	raw := ek.Bytes() // 0x04 || X || Y
	return cbor.Marshal(coseKey{
		Kty: coseKtyEC2,
		Alg: coseAlgES256,
		Crv: coseCrvP256,
		X:   raw[1:33],
		Y:   raw[33:65],
	})
}

// ParseES256 decodes and validates a COSE_Key holding a P-256 ES256 key.
func ParseES256(raw []byte) (*ecdsa.PublicKey, error) {
	var k coseKey
	if err := cbor.Unmarshal(raw, &k); err != nil {
		return nil, fmt.Errorf("%w: cose key: %v", ErrMalformed, err)
	}
	if k.Kty != coseKtyEC2 || k.Alg != coseAlgES256 || k.Crv != coseCrvP256 {
		return nil, fmt.Errorf("%w: unsupported cose key kty=%d alg=%d crv=%d", ErrMalformed, k.Kty, k.Alg, k.Crv)
	}
	if len(k.X) != 32 || len(k.Y) != 32 {
		return nil, fmt.Errorf("%w: bad coordinate length", ErrMalformed)
	}

	uncompressed := append(append([]byte{0x04}, k.X...), k.Y...)
	if _, err := ecdh.P256().NewPublicKey(uncompressed); err != nil {
		return nil, fmt.Errorf("%w: point not on curve", ErrMalformed)
	}

	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(k.X),
		Y:     new(big.Int).SetBytes(k.Y),
	}, nil
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
