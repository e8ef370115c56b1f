package devices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatvault/internal/common"
	"github.com/dmitrijs2005/chatvault/internal/dbx"
	"github.com/dmitrijs2005/chatvault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Touch(ctx context.Context, userID, deviceID string, at time.Time) (*models.Device, error) {
	query := `
		INSERT INTO devices (user_id, id, last_seen_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, id)
		DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at
		RETURNING label, label_nonce, created_at, last_seen_at, revoked
	`
	d := &models.Device{ID: deviceID, UserID: userID}
	err := r.db.QueryRowContext(ctx, query, userID, deviceID, at).
		Scan(&d.Label, &d.LabelNonce, &d.CreatedAt, &d.LastSeenAt, &d.Revoked)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) SetLabel(ctx context.Context, userID, deviceID string, label, nonce []byte) error {
	query := `
		UPDATE devices SET label = $3, label_nonce = $4
		WHERE user_id = $1 AND id = $2
	`
	res, err := r.db.ExecContext(ctx, query, userID, deviceID, label, nonce)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOne(res, common.ErrorNotFound)
}

func (r *PostgresRepository) Get(ctx context.Context, userID, deviceID string) (*models.Device, error) {
	query := `
		SELECT label, label_nonce, created_at, last_seen_at, revoked
		FROM devices
		WHERE user_id = $1 AND id = $2
	`
	d := &models.Device{ID: deviceID, UserID: userID}
	err := r.db.QueryRowContext(ctx, query, userID, deviceID).
		Scan(&d.Label, &d.LabelNonce, &d.CreatedAt, &d.LastSeenAt, &d.Revoked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) List(ctx context.Context, userID string) ([]*models.Device, error) {
	query := `
		SELECT id, label, label_nonce, created_at, last_seen_at, revoked
		FROM devices
		WHERE user_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select devices: %w", err)
	}
	defer rows.Close()

	var result []*models.Device
	for rows.Next() {
		d := &models.Device{UserID: userID}
		if err := rows.Scan(&d.ID, &d.Label, &d.LabelNonce, &d.CreatedAt, &d.LastSeenAt, &d.Revoked); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, userID, deviceID string) error {
	query := `
		UPDATE devices SET revoked = TRUE
		WHERE user_id = $1 AND id = $2
	`
	res, err := r.db.ExecContext(ctx, query, userID, deviceID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOne(res, common.ErrorNotFound)
}
