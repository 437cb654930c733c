package verifications

import (
	"context"

	"github.com/everkeep/everkeep/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, rec *models.VerificationRecord) (*models.VerificationRecord, error)

	// FindUnconsumed returns the oldest unconsumed record of the given kind
	// for the owner, or common.ErrNotFound.
	FindUnconsumed(ctx context.Context, ownerID string, kind models.TriggerMethod) (*models.VerificationRecord, error)

	// Consume marks a record used; conditional on it being unconsumed.
	Consume(ctx context.Context, id string) (int64, error)
}
