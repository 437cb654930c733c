package settings

import (
	"context"

	"github.com/everkeep/everkeep/internal/server/models"
)

type Repository interface {
	Upsert(ctx context.Context, setting *models.GlobalTriggerSetting) error
	Get(ctx context.Context, ownerID string) (*models.GlobalTriggerSetting, error)

	// ListAll returns every owner's setting; the scheduler sweep walks this
	// to evaluate due conditions.
	ListAll(ctx context.Context) ([]*models.GlobalTriggerSetting, error)
}
