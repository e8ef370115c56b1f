// Package records is the local ciphertext mirror of server-confirmed
// records. Nothing in it is plaintext: rows are the rpc.Record JSON the
// server returned.
package records

import (
	"context"

	"github.com/dmitrijs2005/chatvault/internal/rpc"
)

type Store interface {
	// Put inserts or replaces a record. A summary (nil Body) of the same
	// version keeps the previously stored body.
	Put(ctx context.Context, kind string, rec rpc.Record) error
	Get(ctx context.Context, kind, id string) (*rpc.Record, error)
	List(ctx context.Context, kind string) ([]rpc.Record, error)
	Delete(ctx context.Context, kind, id string) error
	// ReplaceKind makes the mirror of kind exactly recs.
	ReplaceKind(ctx context.Context, kind string, recs []rpc.Record) error
	Clear(ctx context.Context) error
}
