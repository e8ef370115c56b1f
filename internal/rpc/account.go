package rpc

import (
	"time"

	"github.com/dmitrijs2005/chatvault/internal/cryptox"
)

type RegisterRequest struct {
	Username string `json:"username"`
	Salt     []byte `json:"salt"`
	Verifier []byte `json:"verifier"`
}

type SaltRequest struct {
	Username string `json:"username"`
}

type SaltResponse struct {
	Salt []byte `json:"salt"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Verifier []byte `json:"verifier"`
	DeviceID string `json:"device_id"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type PingResponse struct {
	Status string `json:"status"`
}

// Device is one signed-in installation of the account. The label is sealed
// under the master key.
type Device struct {
	ID             string           `json:"id"`
	EncryptedLabel cryptox.Envelope `json:"encrypted_label"`
	CreatedAt      time.Time        `json:"created_at"`
	LastSeenAt     time.Time        `json:"last_seen_at"`
	Revoked        bool             `json:"revoked,omitempty"`
}

type DeviceRegistration struct {
	EncryptedLabel cryptox.Envelope `json:"encrypted_label"`
}

type DeviceList struct {
	Devices []Device `json:"devices"`
}
