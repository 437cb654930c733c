package triggers

import (
	"context"
	"time"

	"github.com/everkeep/everkeep/internal/server/models"
)

type Repository interface {
	// CreateIfNone inserts a new pending trigger unless the owner already
	// has a non-terminal one. Returns (nil, false, nil) when the conditional
	// insert found an existing live trigger.
	CreateIfNone(ctx context.Context, trigger *models.InheritanceTrigger) (*models.InheritanceTrigger, bool, error)

	GetByID(ctx context.Context, id string) (*models.InheritanceTrigger, error)
	GetLiveByOwner(ctx context.Context, ownerID string) (*models.InheritanceTrigger, error)

	// HasCompleted reports whether the owner already has a completed
	// trigger. Evaluation never re-fires an executed inheritance.
	HasCompleted(ctx context.Context, ownerID string) (bool, error)

	// ListCompletable returns triggers the scheduler can finish without
	// human input: processing triggers, plus pending ones that need no
	// verification.
	ListCompletable(ctx context.Context) ([]*models.InheritanceTrigger, error)

	// The transition methods are conditional updates; each returns the
	// number of rows moved (0 or 1).
	MarkProcessing(ctx context.Context, id string) (int64, error)
	MarkProcessingUnverified(ctx context.Context, id string) (int64, error)
	MarkCompleted(ctx context.Context, id string) (int64, error)
	MarkCancelled(ctx context.Context, id, ownerID string) (int64, error)
	FailOverdue(ctx context.Context, window time.Duration) (int64, error)
}
