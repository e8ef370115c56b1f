package common

import (
	"crypto/rand"
	"encoding/hex"
)

// RefreshTokenBytes is the entropy of an issued refresh token.
const RefreshTokenBytes = 32

// NewOpaqueToken returns size random bytes hex-encoded (2*size chars). The
// result carries no structure and is only ever compared for equality.
func NewOpaqueToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
