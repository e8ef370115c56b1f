package models

import "time"

// Credential is one unlock credential. Doc is the JSON encoding of
// rpc.Credential, including the wrapped master key.
type Credential struct {
	ID        string
	UserID    string
	Method    string
	Doc       []byte
	CreatedAt time.Time
}
