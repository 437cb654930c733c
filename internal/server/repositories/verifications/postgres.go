// Package verifications provides the PostgreSQL-backed repository for
// external trigger evidence: trusted-contact attestations, death-certificate
// references and heir notifications.
package verifications

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

func (r *PostgresRepository) Create(ctx context.Context, rec *models.VerificationRecord) (*models.VerificationRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	query := `
		INSERT INTO verification_records (id, owner_id, kind, verifier_id, reference)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		rec.ID, rec.OwnerID, rec.Kind, rec.VerifierID, rec.Reference).Scan(&rec.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) FindUnconsumed(ctx context.Context, ownerID string, kind models.TriggerMethod) (*models.VerificationRecord, error) {
	query := `
		SELECT id, owner_id, kind, verifier_id, reference, consumed, created_at
		FROM verification_records
		WHERE owner_id = $1 AND kind = $2 AND consumed = FALSE
		ORDER BY created_at
		LIMIT 1
	`
	rec := &models.VerificationRecord{}
	err := r.db.QueryRowContext(ctx, query, ownerID, kind).Scan(
		&rec.ID, &rec.OwnerID, &rec.Kind, &rec.VerifierID, &rec.Reference, &rec.Consumed, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) Consume(ctx context.Context, id string) (int64, error) {
	query := `
		UPDATE verification_records
		SET consumed = TRUE
		WHERE id = $1 AND consumed = FALSE
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}
