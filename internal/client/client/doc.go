// Package client is the chatvault network client.
//
// The package provides:
//  1. The Client contract consumed by every client-side service: Query and
//     Mutate calls addressed by procedure name, with JSON payloads.
//  2. GRPCClient, the implementation over the chatvault.v1.Vault service. It
//     injects the access token from a TokenSource, transparently refreshes
//     expired tokens and maps gRPC status codes to sentinel errors.
//  3. Local SQLite bootstrap (InitDatabase, RunMigrations) with embedded
//     goose migrations.
//
// # Error Handling
//
// Callers match with errors.Is: ErrUnavailable, ErrUnauthorized,
// ErrServerRejected (any *RejectedError) and ErrNotFound.
package client
