package models

import "time"

// RefreshToken is bound to the device that signed in, so revoking the
// device can invalidate every token it holds.
type RefreshToken struct {
	UserID   string
	DeviceID string
	Token    string
	Expires  time.Time
}
