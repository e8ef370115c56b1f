// Package rpc defines the procedure names and payload types shared by the
// chatvault client and server. Payloads travel as JSON inside protobuf
// BytesValue frames over the chatvault.v1.Vault gRPC service.
package rpc

import (
	"encoding/json"
	"strings"
)

// Full gRPC method names.
const (
	ServiceName  = "chatvault.v1.Vault"
	QueryMethod  = "/" + ServiceName + "/Query"
	MutateMethod = "/" + ServiceName + "/Mutate"
)

// Account procedures. These are the only public procedures; every other
// call carries an access token.
const (
	AuthRegister = "auth.register"
	AuthSalt     = "auth.salt"
	AuthLogin    = "auth.login"
	AuthRefresh  = "auth.refresh"
	Ping         = "ping"
)

// Unlock credential procedures.
const (
	CredentialsList        = "credentials.list"
	CredentialsDelete      = "credentials.delete"
	PasswordGet            = "credentials.password.get"
	PasswordSet            = "credentials.password.set"
	RecoveryGet            = "credentials.recovery.get"
	RecoverySet            = "credentials.recovery.set"
	PasskeyCreationOptions = "credentials.passkey.options.create"
	PasskeyRegister        = "credentials.passkey.register"
	PasskeyRequestOptions  = "credentials.passkey.options.get"
	PasskeyVerify          = "credentials.passkey.verify"
	PasskeyRename          = "credentials.passkey.rename"
)

// Record procedures. Folders have no body, so there is no folders.get.
const (
	ChatsList   = "chats.list"
	ChatsGet    = "chats.get"
	ChatsCreate = "chats.create"
	ChatsUpdate = "chats.update"
	ChatsDelete = "chats.delete"

	FoldersList   = "folders.list"
	FoldersCreate = "folders.create"
	FoldersUpdate = "folders.update"
	FoldersDelete = "folders.delete"

	NotesList   = "notes.list"
	NotesGet    = "notes.get"
	NotesCreate = "notes.create"
	NotesUpdate = "notes.update"
	NotesDelete = "notes.delete"
)

// Device procedures.
const (
	DevicesRegister = "devices.register"
	DevicesList     = "devices.list"
	DevicesRevoke   = "devices.revoke"
)

// Public reports whether procedure may be called without an access token.
func Public(procedure string) bool {
	switch procedure {
	case AuthRegister, AuthSalt, AuthLogin, AuthRefresh, Ping:
		return true
	}
	return false
}

// Kind returns the record kind addressed by a record procedure ("chats",
// "folders", "notes"), or "" for anything else.
func Kind(procedure string) string {
	kind, _, ok := strings.Cut(procedure, ".")
	if !ok {
		return ""
	}
	switch kind {
	case KindChats, KindFolders, KindNotes:
		return kind
	}
	return ""
}

// Record kinds.
const (
	KindChats   = "chats"
	KindFolders = "folders"
	KindNotes   = "notes"
)

// Request is the frame carried by both Query and Mutate.
type Request struct {
	Procedure string          `json:"procedure"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Empty is the payload of procedures that take or return nothing.
type Empty struct{}

// ByID addresses a single record, credential or device.
type ByID struct {
	ID string `json:"id"`
}
