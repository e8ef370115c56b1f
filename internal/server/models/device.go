package models

import "time"

// Device is one signed-in installation. Label and LabelNonce are the
// client-side ciphertext of the device label; the server never sees it in
// clear.
type Device struct {
	ID         string
	UserID     string
	Label      []byte
	LabelNonce []byte
	CreatedAt  time.Time
	LastSeenAt time.Time
	Revoked    bool
}
