package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chatvault/internal/common"
	"github.com/dmitrijs2005/chatvault/internal/dbx"
	"github.com/dmitrijs2005/chatvault/internal/server/models"
)

// PostgresRepository implements record storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, rec *models.Record) error {
	query := `
		INSERT INTO records (user_id, kind, id, version, doc, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query, rec.UserID, rec.Kind, rec.ID, rec.Version, rec.Doc, rec.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID, kind, id string) (*models.Record, error) {
	query := `
		SELECT version, doc, updated_at FROM records
		WHERE user_id = $1 AND kind = $2 AND id = $3
	`
	rec := &models.Record{UserID: userID, Kind: kind, ID: id}
	err := r.db.QueryRowContext(ctx, query, userID, kind, id).Scan(&rec.Version, &rec.Doc, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) collect(rows *sql.Rows) ([]*models.Record, error) {
	defer rows.Close()

	var result []*models.Record
	for rows.Next() {
		var item models.Record
		if err := rows.Scan(&item.UserID, &item.Kind, &item.ID, &item.Version, &item.Doc, &item.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) List(ctx context.Context, userID, kind string) ([]*models.Record, error) {
	query := `
		SELECT user_id, kind, id, version, doc, updated_at FROM records
		WHERE user_id = $1 AND kind = $2
		ORDER BY updated_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	return r.collect(rows)
}

func (r *PostgresRepository) Update(ctx context.Context, rec *models.Record, expectedVersion int64) error {
	query := `
		UPDATE records SET version = $4, doc = $5, updated_at = $6
		WHERE user_id = $1 AND kind = $2 AND id = $3 AND version = $7
	`
	res, err := r.db.ExecContext(ctx, query,
		rec.UserID, rec.Kind, rec.ID, rec.Version, rec.Doc, rec.UpdatedAt, expectedVersion)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOne(res, common.ErrVersionConflict)
}

func (r *PostgresRepository) Delete(ctx context.Context, userID, kind, id string) error {
	query := `
		DELETE FROM records
		WHERE user_id = $1 AND kind = $2 AND id = $3
	`
	res, err := r.db.ExecContext(ctx, query, userID, kind, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOne(res, common.ErrorNotFound)
}

func (r *PostgresRepository) All(ctx context.Context) ([]*models.Record, error) {
	query := `
		SELECT user_id, kind, id, version, doc, updated_at FROM records
		ORDER BY user_id, kind, id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	return r.collect(rows)
}
