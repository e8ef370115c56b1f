package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chatvault/internal/common"
	"github.com/dmitrijs2005/chatvault/internal/dbx"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
)

// SQLiteRepository implements Store using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

var _ Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Put(ctx context.Context, kind string, rec rpc.Record) error {
	return put(ctx, r.db, kind, rec)
}

func put(ctx context.Context, db dbx.DBTX, kind string, rec rpc.Record) error {
	if rec.Body == nil {
		existing, err := get(ctx, db, kind, rec.ID)
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return err
		}
		if existing != nil && existing.Version == rec.Version {
			rec.Body = existing.Body
		}
	}

	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	query := `INSERT INTO records (kind, id, doc, version, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(kind, id) DO UPDATE SET doc = excluded.doc,
				version = excluded.version,
				updated_at = excluded.updated_at
	`
	_, err = db.ExecContext(ctx, query, kind, rec.ID, doc, rec.Version, rec.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, kind, id string) (*rpc.Record, error) {
	return get(ctx, r.db, kind, id)
}

func get(ctx context.Context, db dbx.DBTX, kind, id string) (*rpc.Record, error) {
	var doc []byte
	err := db.QueryRowContext(ctx, `SELECT doc FROM records WHERE kind = ? AND id = ?`, kind, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select record: %w", err)
	}

	var rec rpc.Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", id, err)
	}
	return &rec, nil
}

// List returns the records of kind ordered by last update, newest first.
func (r *SQLiteRepository) List(ctx context.Context, kind string) ([]rpc.Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT doc FROM records WHERE kind = ? ORDER BY updated_at DESC, id`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []rpc.Record
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var rec rpc.Record
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, kind, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE kind = ? AND id = ?`, kind, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// ReplaceKind runs in a transaction when the repository is bound to a *sql.DB.
func (r *SQLiteRepository) ReplaceKind(ctx context.Context, kind string, recs []rpc.Record) error {
	replace := func(ctx context.Context, tx dbx.DBTX) error {
		keep := make(map[string]struct{}, len(recs))
		for _, rec := range recs {
			if err := put(ctx, tx, kind, rec); err != nil {
				return err
			}
			keep[rec.ID] = struct{}{}
		}

		rows, err := tx.QueryContext(ctx, `SELECT id FROM records WHERE kind = ?`, kind)
		if err != nil {
			return fmt.Errorf("failed to select record ids: %w", err)
		}
		var stale []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			if _, ok := keep[id]; !ok {
				stale = append(stale, id)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range stale {
			if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE kind = ? AND id = ?`, kind, id); err != nil {
				return fmt.Errorf("failed to delete stale record: %w", err)
			}
		}
		return nil
	}

	if db, ok := r.db.(*sql.DB); ok {
		return dbx.WithTx(ctx, db, nil, replace)
	}
	return replace(ctx, r.db)
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM records`)
	if err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	return nil
}
