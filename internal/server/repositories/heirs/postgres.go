// Package heirs provides the PostgreSQL-backed repository for heir rows and
// the invitation state machine. Every transition is a conditional write so
// racing devices resolve to exactly one winner.
package heirs

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

const heirColumns = `id, owner_id, name, relationship, access_level, heir_user_id, box_public_key,
	invitation_code, invitation_status, invitation_expires_at, has_accepted, accepted_at, is_active, created_at`

func scanHeir(row interface{ Scan(...any) error }) (*models.Heir, error) {
	h := &models.Heir{}
	err := row.Scan(
		&h.ID, &h.OwnerID, &h.Name, &h.Relationship, &h.AccessLevel, &h.HeirUserID, &h.BoxPublicKey,
		&h.InvitationCode, &h.InvitationStatus, &h.InvitationExpiresAt,
		&h.HasAccepted, &h.AcceptedAt, &h.IsActive, &h.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return h, nil
}

func (r *PostgresRepository) Create(ctx context.Context, heir *models.Heir) (*models.Heir, error) {
	if heir.ID == "" {
		heir.ID = uuid.NewString()
	}

	query := `
		INSERT INTO heirs (id, owner_id, name, relationship, access_level,
			invitation_code, invitation_status, invitation_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		heir.ID, heir.OwnerID, heir.Name, heir.Relationship, heir.AccessLevel,
		heir.InvitationCode, heir.InvitationExpiresAt).Scan(&heir.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	heir.InvitationStatus = models.InvitationPending
	return heir, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Heir, error) {
	query := `SELECT ` + heirColumns + ` FROM heirs WHERE id = $1`
	return scanHeir(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByCode(ctx context.Context, code string) (*models.Heir, error) {
	query := `SELECT ` + heirColumns + ` FROM heirs WHERE invitation_code = $1`
	return scanHeir(r.db.QueryRowContext(ctx, query, code))
}

func (r *PostgresRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM heirs WHERE invitation_code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Heir, error) {
	query := `SELECT ` + heirColumns + ` FROM heirs WHERE owner_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Heir
	for rows.Next() {
		h, err := scanHeir(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Accept performs the single-use acceptance: the predicate admits only a
// pending, unexpired row, so exactly one concurrent attempt succeeds.
func (r *PostgresRepository) Accept(ctx context.Context, code, heirUserID string, boxPublicKey []byte) (*models.Heir, error) {
	query := `
		UPDATE heirs
		SET heir_user_id = $2, box_public_key = $3, invitation_status = 'accepted',
			has_accepted = TRUE, accepted_at = now(), is_active = TRUE
		WHERE invitation_code = $1
			AND invitation_status = 'pending'
			AND invitation_expires_at > now()
		RETURNING ` + heirColumns

	return scanHeir(r.db.QueryRowContext(ctx, query, code, heirUserID, boxPublicKey))
}

// Reject transitions a pending, unexpired row to rejected.
func (r *PostgresRepository) Reject(ctx context.Context, code string) (*models.Heir, error) {
	query := `
		UPDATE heirs
		SET invitation_status = 'rejected'
		WHERE invitation_code = $1
			AND invitation_status = 'pending'
			AND invitation_expires_at > now()
		RETURNING ` + heirColumns

	return scanHeir(r.db.QueryRowContext(ctx, query, code))
}

// ExpireOverdue sweeps pending rows past their expiry. Conditional on the
// pending status, so it never touches a row a racing accept already won.
func (r *PostgresRepository) ExpireOverdue(ctx context.Context) (int64, error) {
	query := `
		UPDATE heirs
		SET invitation_status = 'expired'
		WHERE invitation_status = 'pending' AND invitation_expires_at <= now()
	`
	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) DeletePending(ctx context.Context, ownerID, heirID string) (int64, error) {
	query := `
		DELETE FROM heirs
		WHERE id = $1 AND owner_id = $2 AND invitation_status = 'pending'
	`
	res, err := r.db.ExecContext(ctx, query, heirID, ownerID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}
