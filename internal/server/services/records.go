package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatvault/internal/common"
	"github.com/dmitrijs2005/chatvault/internal/cryptox"
	"github.com/dmitrijs2005/chatvault/internal/dbx"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
	"github.com/dmitrijs2005/chatvault/internal/server/models"
	"github.com/dmitrijs2005/chatvault/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// RecordService stores chats, folders and notes. Every envelope is opaque
// here; the service only checks ids, kinds, versions and envelope shape.
type RecordService struct {
	repomanager repomanager.RepositoryManager
	now         func() time.Time
}

func NewRecordService(m repomanager.RepositoryManager) *RecordService {
	return &RecordService{repomanager: m, now: time.Now}
}

func checkKind(kind string) error {
	switch kind {
	case rpc.KindChats, rpc.KindFolders, rpc.KindNotes:
		return nil
	}
	return fmt.Errorf("%w: unknown record kind %q", common.ErrorValidation, kind)
}

func decodeRecord(m *models.Record) (*rpc.Record, error) {
	var rec rpc.Record
	if err := json.Unmarshal(m.Doc, &rec); err != nil {
		return nil, fmt.Errorf("error decoding record %s: %w", m.ID, err)
	}
	rec.ID = m.ID
	rec.Version = m.Version
	return &rec, nil
}

func encodeRecord(userID, kind string, rec *rpc.Record) (*models.Record, error) {
	doc, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("error encoding record: %w", err)
	}
	return &models.Record{
		UserID:    userID,
		Kind:      kind,
		ID:        rec.ID,
		Version:   rec.Version,
		Doc:       doc,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

// checkEnvelope rejects a missing or malformed encrypted field.
func checkEnvelope(field string, e *cryptox.Envelope) error {
	if e == nil || !e.WellFormed() {
		return fmt.Errorf("%w: %s must be a sealed envelope", common.ErrorValidation, field)
	}
	return nil
}

func validateRecord(kind string, rec *rpc.Record) error {
	if err := checkEnvelope("title", &rec.Title); err != nil {
		return err
	}
	if kind == rpc.KindChats {
		if err := checkEnvelope("chat key", rec.Key); err != nil {
			return err
		}
	} else if rec.Key != nil {
		return fmt.Errorf("%w: only chats carry a key", common.ErrorValidation)
	}
	if kind == rpc.KindFolders && rec.Body != nil {
		return fmt.Errorf("%w: folders have no body", common.ErrorValidation)
	}
	if rec.Body != nil {
		return checkEnvelope("body", rec.Body)
	}
	return nil
}

// List returns summaries of every record of kind, most recently updated
// first. Bodies are stripped.
func (s *RecordService) List(ctx context.Context, userID, kind string) ([]rpc.Record, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	rows, err := s.repomanager.Records(s.repomanager.Conn()).List(ctx, userID, kind)
	if err != nil {
		return nil, fmt.Errorf("error listing %s: %w", kind, err)
	}
	result := make([]rpc.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeRecord(row)
		if err != nil {
			return nil, err
		}
		result = append(result, rec.Summary())
	}
	return result, nil
}

// Get returns one full record.
func (s *RecordService) Get(ctx context.Context, userID, kind, id string) (*rpc.Record, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	row, err := s.repomanager.Records(s.repomanager.Conn()).Get(ctx, userID, kind, id)
	if err != nil {
		return nil, fmt.Errorf("error loading %s %s: %w", kind, id, err)
	}
	return decodeRecord(row)
}

// Create stores a new record at version 1. A client-chosen id is kept when
// it is a uuid; otherwise the server assigns one.
func (s *RecordService) Create(ctx context.Context, userID, kind string, rec rpc.Record) (*rpc.Record, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	if err := validateRecord(kind, &rec); err != nil {
		return nil, err
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	} else if _, err := uuid.Parse(rec.ID); err != nil {
		return nil, fmt.Errorf("%w: record id must be a uuid", common.ErrorValidation)
	}

	now := s.now().UTC()
	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now

	row, err := encodeRecord(userID, kind, &rec)
	if err != nil {
		return nil, err
	}
	if err := s.repomanager.Records(s.repomanager.Conn()).Create(ctx, row); err != nil {
		return nil, fmt.Errorf("error creating %s: %w", kind, err)
	}
	return &rec, nil
}

// Update replaces the mutable fields of a record. rec.Version must equal the
// stored version, otherwise ErrVersionConflict is returned. A nil Body keeps
// the stored body; the wrapped key of a chat never changes.
func (s *RecordService) Update(ctx context.Context, userID, kind string, rec rpc.Record) (*rpc.Record, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}

	var updated *rpc.Record
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Records(tx)

		row, err := repo.Get(ctx, userID, kind, rec.ID)
		if err != nil {
			return fmt.Errorf("error loading %s %s: %w", kind, rec.ID, err)
		}
		cur, err := decodeRecord(row)
		if err != nil {
			return err
		}
		if cur.Version != rec.Version {
			return fmt.Errorf("%w: %s %s is at version %d", common.ErrVersionConflict, kind, rec.ID, cur.Version)
		}

		next := rec
		next.Key = cur.Key
		next.CreatedAt = cur.CreatedAt
		if next.Body == nil {
			next.Body = cur.Body
		}
		if err := validateRecord(kind, &next); err != nil {
			return err
		}
		next.Version = cur.Version + 1
		next.UpdatedAt = s.now().UTC()

		out, err := encodeRecord(userID, kind, &next)
		if err != nil {
			return err
		}
		if err := repo.Update(ctx, out, cur.Version); err != nil {
			return fmt.Errorf("error updating %s %s: %w", kind, rec.ID, err)
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a record. Deleting a folder detaches the records filed in
// it; deleting a note re-parents its children to the root.
func (s *RecordService) Delete(ctx context.Context, userID, kind, id string) error {
	if err := checkKind(kind); err != nil {
		return err
	}

	return s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Records(tx)
		if err := repo.Delete(ctx, userID, kind, id); err != nil {
			return fmt.Errorf("error deleting %s %s: %w", kind, id, err)
		}

		switch kind {
		case rpc.KindFolders:
			for _, k := range []string{rpc.KindChats, rpc.KindNotes} {
				if err := s.detach(ctx, tx, userID, k, func(r *rpc.Record) bool {
					if r.FolderID != id {
						return false
					}
					r.FolderID = ""
					return true
				}); err != nil {
					return err
				}
			}
		case rpc.KindNotes:
			return s.detach(ctx, tx, userID, rpc.KindNotes, func(r *rpc.Record) bool {
				if r.ParentID != id {
					return false
				}
				r.ParentID = ""
				return true
			})
		}
		return nil
	})
}

// detach rewrites every record of kind for which change reports true.
func (s *RecordService) detach(ctx context.Context, tx dbx.DBTX, userID, kind string, change func(*rpc.Record) bool) error {
	repo := s.repomanager.Records(tx)
	rows, err := repo.List(ctx, userID, kind)
	if err != nil {
		return fmt.Errorf("error listing %s: %w", kind, err)
	}
	for _, row := range rows {
		rec, err := decodeRecord(row)
		if err != nil {
			return err
		}
		if !change(rec) {
			continue
		}
		prev := rec.Version
		rec.Version++
		rec.UpdatedAt = s.now().UTC()
		out, err := encodeRecord(userID, kind, rec)
		if err != nil {
			return err
		}
		if err := repo.Update(ctx, out, prev); err != nil {
			return fmt.Errorf("error detaching %s %s: %w", kind, rec.ID, err)
		}
	}
	return nil
}
