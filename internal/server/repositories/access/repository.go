package access

import (
	"context"

	"github.com/everkeep/everkeep/internal/server/models"
)

type Repository interface {
	// Upsert writes one permission row keyed on (heirID, vaultID). Rerunning
	// the fan-out hits the same key and leaves an identical row.
	Upsert(ctx context.Context, grant *models.HeirVaultAccess) error
	ListByHeir(ctx context.Context, heirID string) ([]*models.HeirVaultAccess, error)
	ListByVault(ctx context.Context, vaultID string) ([]*models.HeirVaultAccess, error)

	// EnqueueDeletion records a vault for destruction. Idempotent per vault.
	EnqueueDeletion(ctx context.Context, vaultID, triggerID string) error
}
