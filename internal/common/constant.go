// Package common contains shared constants, sentinel errors and small
// helpers used by both the chatvault client and server.
package common

// AccessTokenHeaderName is the gRPC metadata key carrying the access token
// on outbound requests.
const AccessTokenHeaderName = "access_token"
