package rpc

import (
	"time"

	"github.com/dmitrijs2005/chatvault/internal/cryptox"
)

// Record is the server-side shape of a chat, folder or note. Every field the
// user typed is an envelope; the server sees only ids, relationships, flags
// and timestamps in clear.
//
// Key is set for chats only: the per-chat data key wrapped under the master
// key. Body is omitted from list responses.
type Record struct {
	ID        string            `json:"id"`
	Title     cryptox.Envelope  `json:"title"`
	Key       *cryptox.Envelope `json:"key,omitempty"`
	Body      *cryptox.Envelope `json:"body,omitempty"`
	FolderID  string            `json:"folder_id,omitempty"`
	ParentID  string            `json:"parent_id,omitempty"`
	Pinned    bool              `json:"pinned,omitempty"`
	Archived  bool              `json:"archived,omitempty"`
	Version   int64             `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Summary returns a copy of r without its body.
func (r Record) Summary() Record {
	r.Body = nil
	return r
}

// RecordList is the reply of every *.list procedure.
type RecordList struct {
	Records []Record `json:"records"`
}
