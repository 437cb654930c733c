// Package plans provides the PostgreSQL-backed repository for inheritance
// plans and their heir/vault links.
package plans

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/everkeep/everkeep/internal/common"
	"github.com/everkeep/everkeep/internal/dbx"
	"github.com/everkeep/everkeep/internal/server/models"
	"github.com/google/uuid"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const planColumns = `id, owner_id, plan_name, plan_type, activation_method, is_active, is_triggered, created_at`

func scanPlan(row interface{ Scan(...any) error }) (*models.InheritancePlan, error) {
	p := &models.InheritancePlan{}
	err := row.Scan(
		&p.ID, &p.OwnerID, &p.PlanName, &p.PlanType, &p.ActivationMethod,
		&p.IsActive, &p.IsTriggered, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) Create(ctx context.Context, plan *models.InheritancePlan) (*models.InheritancePlan, error) {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}

	query := `
		INSERT INTO inheritance_plans (id, owner_id, plan_name, plan_type, activation_method, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		plan.ID, plan.OwnerID, plan.PlanName, plan.PlanType, plan.ActivationMethod, plan.IsActive).Scan(&plan.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return plan, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.InheritancePlan, error) {
	query := `SELECT ` + planColumns + ` FROM inheritance_plans WHERE id = $1`
	return scanPlan(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.InheritancePlan, error) {
	query := `SELECT ` + planColumns + ` FROM inheritance_plans WHERE owner_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.InheritancePlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) LinkHeir(ctx context.Context, planID, heirID string) error {
	query := `
		INSERT INTO plan_heirs (plan_id, heir_id)
		VALUES ($1, $2)
		ON CONFLICT (plan_id, heir_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, planID, heirID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LinkVault(ctx context.Context, planID, vaultID string) error {
	query := `
		INSERT INTO plan_vaults (plan_id, vault_id)
		VALUES ($1, $2)
		ON CONFLICT (plan_id, vault_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, planID, vaultID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetActive(ctx context.Context, ownerID, planID string, active bool) (int64, error) {
	query := `
		UPDATE inheritance_plans
		SET is_active = $3
		WHERE id = $1 AND owner_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, planID, ownerID, active)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) MarkTriggeredByOwner(ctx context.Context, ownerID string) (int64, error) {
	query := `
		UPDATE inheritance_plans
		SET is_triggered = TRUE
		WHERE owner_id = $1 AND is_active = TRUE
	`
	res, err := r.db.ExecContext(ctx, query, ownerID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) ListActiveLinks(ctx context.Context, ownerID string) ([]*PlanLink, error) {
	// The heir side is a LEFT JOIN: deletion and sign-off routes depend only
	// on the plan and vault, so a plan with no linked heirs still yields rows.
	query := `
		SELECT p.id, p.plan_type, h.id, h.invitation_status, v.id, v.category
		FROM inheritance_plans p
		JOIN plan_vaults pv ON pv.plan_id = p.id
		JOIN vaults v ON v.id = pv.vault_id
		LEFT JOIN plan_heirs ph ON ph.plan_id = p.id
		LEFT JOIN heirs h ON h.id = ph.heir_id
		WHERE p.owner_id = $1 AND p.is_active = TRUE
		ORDER BY p.id, h.id, v.id
	`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*PlanLink
	for rows.Next() {
		l := &PlanLink{}
		var heirID, heirStatus sql.NullString
		if err := rows.Scan(&l.PlanID, &l.PlanType, &heirID, &heirStatus, &l.VaultID, &l.VaultCategory); err != nil {
			return nil, err
		}
		l.HeirID = heirID.String
		l.HeirStatus = models.InvitationStatus(heirStatus.String)
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
