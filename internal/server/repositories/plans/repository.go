package plans

import (
	"context"

	"github.com/everkeep/everkeep/internal/server/models"
)

// PlanLink is one (plan, heir, vault) combination produced by joining a
// plan's linked heirs and vaults. The fan-out consumes these. HeirID and
// HeirStatus are empty for plans with no linked heirs.
type PlanLink struct {
	PlanID        string
	PlanType      models.PlanType
	HeirID        string
	HeirStatus    models.InvitationStatus
	VaultID       string
	VaultCategory models.VaultCategory
}

type Repository interface {
	Create(ctx context.Context, plan *models.InheritancePlan) (*models.InheritancePlan, error)
	GetByID(ctx context.Context, id string) (*models.InheritancePlan, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.InheritancePlan, error)
	LinkHeir(ctx context.Context, planID, heirID string) error
	LinkVault(ctx context.Context, planID, vaultID string) error
	SetActive(ctx context.Context, ownerID, planID string, active bool) (int64, error)

	// MarkTriggeredByOwner flips is_triggered on every active plan of the
	// owner and returns how many rows changed.
	MarkTriggeredByOwner(ctx context.Context, ownerID string) (int64, error)

	// ListActiveLinks expands every active plan of the owner into its
	// (heir, vault) combinations. Heir-less plans still produce one row
	// per linked vault.
	ListActiveLinks(ctx context.Context, ownerID string) ([]*PlanLink, error)
}
