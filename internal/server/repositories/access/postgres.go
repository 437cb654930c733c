// Package access provides the PostgreSQL-backed repository for materialized
// heir/vault permission rows and the vault deletion queue.
package access

import (
	"context"
	"fmt"

	"github.com/everkeep/everkeep/internal/dbx"
	"github.com/everkeep/everkeep/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, grant *models.HeirVaultAccess) error {
	query := `
		INSERT INTO heir_vault_access (heir_id, vault_id, can_view, can_export, can_edit)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (heir_id, vault_id)
		DO UPDATE SET
			can_view = EXCLUDED.can_view,
			can_export = EXCLUDED.can_export,
			can_edit = EXCLUDED.can_edit
	`
	if _, err := r.db.ExecContext(ctx, query,
		grant.HeirID, grant.VaultID, grant.CanView, grant.CanExport, grant.CanEdit); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByHeir(ctx context.Context, heirID string) ([]*models.HeirVaultAccess, error) {
	query := `
		SELECT heir_id, vault_id, can_view, can_export, can_edit, granted_at
		FROM heir_vault_access
		WHERE heir_id = $1
		ORDER BY vault_id
	`
	return r.list(ctx, query, heirID)
}

func (r *PostgresRepository) ListByVault(ctx context.Context, vaultID string) ([]*models.HeirVaultAccess, error) {
	query := `
		SELECT heir_id, vault_id, can_view, can_export, can_edit, granted_at
		FROM heir_vault_access
		WHERE vault_id = $1
		ORDER BY heir_id
	`
	return r.list(ctx, query, vaultID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, arg any) ([]*models.HeirVaultAccess, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.HeirVaultAccess
	for rows.Next() {
		g := &models.HeirVaultAccess{}
		if err := rows.Scan(&g.HeirID, &g.VaultID, &g.CanView, &g.CanExport, &g.CanEdit, &g.GrantedAt); err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) EnqueueDeletion(ctx context.Context, vaultID, triggerID string) error {
	query := `
		INSERT INTO vault_deletion_queue (vault_id, trigger_id)
		VALUES ($1, $2)
		ON CONFLICT (vault_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, vaultID, triggerID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
