// Package settings provides the PostgreSQL-backed repository for the single
// per-owner global trigger setting.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/everkeep/everkeep/internal/common"
	"github.com/everkeep/everkeep/internal/dbx"
	"github.com/everkeep/everkeep/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, setting *models.GlobalTriggerSetting) error {
	query := `
		INSERT INTO global_trigger_settings (owner_id, method, settings, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (owner_id)
		DO UPDATE SET method = EXCLUDED.method, settings = EXCLUDED.settings, updated_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, setting.OwnerID, setting.Method, setting.Settings); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, ownerID string) (*models.GlobalTriggerSetting, error) {
	query := `
		SELECT owner_id, method, settings, updated_at
		FROM global_trigger_settings
		WHERE owner_id = $1
	`
	s := &models.GlobalTriggerSetting{}
	err := r.db.QueryRowContext(ctx, query, ownerID).Scan(&s.OwnerID, &s.Method, &s.Settings, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) ListAll(ctx context.Context) ([]*models.GlobalTriggerSetting, error) {
	query := `SELECT owner_id, method, settings, updated_at FROM global_trigger_settings ORDER BY owner_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.GlobalTriggerSetting
	for rows.Next() {
		s := &models.GlobalTriggerSetting{}
		if err := rows.Scan(&s.OwnerID, &s.Method, &s.Settings, &s.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
