// Package models defines the decrypted domain objects the client exposes to
// the UI layer. Nothing here is ever sent to the server as is; the services
// package seals every user-typed field first.
package models

import (
	"errors"
	"strings"
	"time"
)

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

var ErrUnknownRole = errors.New("unknown message role")

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleUser, RoleAssistant, RoleSystem:
		return r, nil
	}
	return "", ErrUnknownRole
}

// Message is one chat message. ParentID links alternative versions of a
// conversation; branch semantics belong to the UI.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	ParentID  string    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Chat is a decrypted chat. Messages is only meaningful when Loaded is true;
// list refreshes carry the title alone.
type Chat struct {
	ID        string
	Title     string
	FolderID  string
	Pinned    bool
	Archived  bool
	Messages  []Message
	Loaded    bool
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy that shares no slices with c.
func (c Chat) Clone() Chat {
	if c.Messages != nil {
		c.Messages = append([]Message(nil), c.Messages...)
	}
	return c
}

// Summary drops the message body, keeping what a list refresh would show.
func (c Chat) Summary() Chat {
	c.Messages = nil
	c.Loaded = false
	return c
}

type Folder struct {
	ID        string
	Name      string
	ParentID  string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Note is a decrypted note. Body is only meaningful when Loaded is true.
type Note struct {
	ID        string
	Title     string
	Body      string
	FolderID  string
	ParentID  string
	Pinned    bool
	Archived  bool
	Loaded    bool
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (n Note) Summary() Note {
	n.Body = ""
	n.Loaded = false
	return n
}

// Device is a signed-in installation of the account. Label is empty and
// LabelLocked set when the session was locked at listing time.
type Device struct {
	ID          string
	Label       string
	LabelLocked bool
	Current     bool
	Revoked     bool
	CreatedAt   time.Time
	LastSeenAt  time.Time
}

// Credential describes a registered unlock method. Name is set for passkeys
// only, once decrypted.
type Credential struct {
	ID         string
	Method     string
	Name       string
	NameLocked bool
	CreatedAt  time.Time
	LastUsedAt time.Time
}
