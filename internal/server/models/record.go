package models

import "time"

// Record is a chat, folder or note as the server stores it. Doc is the JSON
// encoding of rpc.Record; its envelopes stay opaque to the server.
type Record struct {
	UserID    string
	Kind      string
	ID        string
	Version   int64
	Doc       []byte
	UpdatedAt time.Time
}
