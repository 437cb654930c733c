package heirs

import (
	"context"

	"github.com/everkeep/everkeep/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, heir *models.Heir) (*models.Heir, error)
	GetByID(ctx context.Context, id string) (*models.Heir, error)
	GetByCode(ctx context.Context, code string) (*models.Heir, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Heir, error)

	// Accept consumes a pending, unexpired invitation in one conditional
	// update. Zero rows affected means the predicate failed; the caller
	// re-fetches to classify.
	Accept(ctx context.Context, code, heirUserID string, boxPublicKey []byte) (*models.Heir, error)
	Reject(ctx context.Context, code string) (*models.Heir, error)

	// ExpireOverdue marks every pending row past its expiry as expired and
	// returns the number of rows swept.
	ExpireOverdue(ctx context.Context) (int64, error)

	// DeletePending removes a still-pending invitation so its code is never
	// reusable. Rows in any other state are left untouched.
	DeletePending(ctx context.Context, ownerID, heirID string) (int64, error)
}
