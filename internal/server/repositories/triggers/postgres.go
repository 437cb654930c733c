// Package triggers provides the PostgreSQL-backed repository for the
// inheritance-trigger lifecycle. The one-live-trigger-per-owner rule is
// carried by a partial unique index; every edge of the state machine is a
// conditional update predicated on the expected prior status.
package triggers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

const triggerColumns = `id, owner_id, status, trigger_reason, requires_verification,
	triggered_at, verified_at, completed_at, cancelled_at`

func scanTrigger(row interface{ Scan(...any) error }) (*models.InheritanceTrigger, error) {
	t := &models.InheritanceTrigger{}
	err := row.Scan(
		&t.ID, &t.OwnerID, &t.Status, &t.TriggerReason, &t.RequiresVerification,
		&t.TriggeredAt, &t.VerifiedAt, &t.CompletedAt, &t.CancelledAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

// CreateIfNone is the atomic check-and-create: ON CONFLICT against the
// partial unique index makes one of two racing evaluation ticks a no-op.
func (r *PostgresRepository) CreateIfNone(ctx context.Context, trigger *models.InheritanceTrigger) (*models.InheritanceTrigger, bool, error) {
	if trigger.ID == "" {
		trigger.ID = uuid.NewString()
	}

	query := `
		INSERT INTO inheritance_triggers (id, owner_id, status, trigger_reason, requires_verification)
		VALUES ($1, $2, 'pending', $3, $4)
		ON CONFLICT (owner_id) WHERE status IN ('pending', 'processing') DO NOTHING
		RETURNING ` + triggerColumns

	t, err := scanTrigger(r.db.QueryRowContext(ctx, query,
		trigger.ID, trigger.OwnerID, trigger.TriggerReason, trigger.RequiresVerification))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			// Conflict: a live trigger already exists for this owner.
			return nil, false, nil
		}
		return nil, false, err
	}
	return t, true, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.InheritanceTrigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM inheritance_triggers WHERE id = $1`
	return scanTrigger(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetLiveByOwner(ctx context.Context, ownerID string) (*models.InheritanceTrigger, error) {
	query := `
		SELECT ` + triggerColumns + `
		FROM inheritance_triggers
		WHERE owner_id = $1 AND status IN ('pending', 'processing')
	`
	return scanTrigger(r.db.QueryRowContext(ctx, query, ownerID))
}

func (r *PostgresRepository) execConditional(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

// MarkProcessing moves pending→processing once verification is met.
func (r *PostgresRepository) MarkProcessing(ctx context.Context, id string) (int64, error) {
	return r.execConditional(ctx, `
		UPDATE inheritance_triggers
		SET status = 'processing', verified_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id)
}

// MarkProcessingUnverified moves pending→processing for triggers whose
// method needs no independent confirmation.
func (r *PostgresRepository) MarkProcessingUnverified(ctx context.Context, id string) (int64, error) {
	return r.execConditional(ctx, `
		UPDATE inheritance_triggers
		SET status = 'processing'
		WHERE id = $1 AND status = 'pending' AND requires_verification = FALSE
	`, id)
}

// MarkCompleted moves processing→completed.
func (r *PostgresRepository) MarkCompleted(ctx context.Context, id string) (int64, error) {
	return r.execConditional(ctx, `
		UPDATE inheritance_triggers
		SET status = 'completed', completed_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id)
}

// HasCompleted reports whether the owner's inheritance has already executed.
func (r *PostgresRepository) HasCompleted(ctx context.Context, ownerID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM inheritance_triggers
			WHERE owner_id = $1 AND status = 'completed'
		)
	`, ownerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

// ListCompletable returns triggers the scheduler can finish without human
// input: every processing trigger, plus pending ones whose method needs no
// verification.
func (r *PostgresRepository) ListCompletable(ctx context.Context) ([]*models.InheritanceTrigger, error) {
	query := `
		SELECT ` + triggerColumns + `
		FROM inheritance_triggers
		WHERE status = 'processing'
			OR (status = 'pending' AND requires_verification = FALSE)
		ORDER BY triggered_at
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.InheritanceTrigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkCancelled is the owner's false-positive safety valve: it lands only on
// a pending or processing trigger, and only for its owner. A cancel racing a
// complete resolves to whichever conditional write lands first.
func (r *PostgresRepository) MarkCancelled(ctx context.Context, id, ownerID string) (int64, error) {
	return r.execConditional(ctx, `
		UPDATE inheritance_triggers
		SET status = 'cancelled', cancelled_at = now()
		WHERE id = $1 AND owner_id = $2 AND status IN ('pending', 'processing')
	`, id, ownerID)
}

// FailOverdue time-boxes verification: pending triggers whose window elapsed
// unmet go to failed rather than waiting forever.
func (r *PostgresRepository) FailOverdue(ctx context.Context, window time.Duration) (int64, error) {
	return r.execConditional(ctx, `
		UPDATE inheritance_triggers
		SET status = 'failed'
		WHERE status = 'pending'
			AND requires_verification = TRUE
			AND triggered_at <= now() - $1::interval
	`, fmt.Sprintf("%d seconds", int64(window.Seconds())))
}
