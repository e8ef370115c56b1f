package client

import (
	"context"
)

// Client is the opaque RPC abstraction. payload is marshalled to JSON; when
// out is non-nil the reply is unmarshalled into it.
//
// Query is for reads, Mutate for anything that changes server state. A
// Mutate that returns an error committed nothing the caller can rely on.
type Client interface {
	Query(ctx context.Context, procedure string, payload, out any) error
	Mutate(ctx context.Context, procedure string, payload, out any) error
	Close() error
}

// TokenSource yields the access token attached to every non-public call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}
