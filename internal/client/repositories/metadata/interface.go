// Package metadata persists non-secret client metadata: the device id, the
// last username, software authenticator state in development builds. The
// master key is never written here.
package metadata

import "context"

// Store is an opaque key/value store. Get returns (nil, nil) for a missing key
// and a non-nil slice for any stored value, empty or not.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Retain removes every key except the listed ones.
	Retain(ctx context.Context, keep ...string) error
}

// Well-known keys.
const (
	KeyDeviceID      = "device_id"
	KeyUsername      = "username"
	KeyAuthenticator = "soft_authenticator"
)

// DeviceScoped are the keys that belong to the installation rather than to
// the signed-in account; they survive sign-out.
var DeviceScoped = []string{KeyDeviceID, KeyAuthenticator}
