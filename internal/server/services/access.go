// This file implements AccessService: the fan-out that materializes
// heir/vault permission rows once an inheritance trigger completes.
package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/everkeep/everkeep/internal/common"
	"github.com/everkeep/everkeep/internal/logging"
	"github.com/everkeep/everkeep/internal/server/models"
	"github.com/everkeep/everkeep/internal/server/repositories/repomanager"
)

// OfflineProcessor receives vaults whose category routes them to external
// offline processing (sign_off_after_death) instead of heir grants.
type OfflineProcessor interface {
	SubmitSignOff(ctx context.Context, ownerID, vaultID, triggerID string) error
}

// LogOfflineProcessor records sign-off routing without acting on it; the
// real processor is an external collaborator.
type LogOfflineProcessor struct {
	Logger logging.Logger
}

func (p *LogOfflineProcessor) SubmitSignOff(ctx context.Context, ownerID, vaultID, triggerID string) error {
	p.Logger.Info(ctx, "vault routed to offline sign-off", "owner_id", ownerID, "vault_id", vaultID, "trigger_id", triggerID)
	return nil
}

// AccessService materializes HeirVaultAccess rows from the owner's active
// plans. The whole fan-out is idempotent: grants are upserts keyed on
// (heirID, vaultID) and deletions are conflict-free inserts, so recovery
// from partial failure is re-running the entire fan-out.
type AccessService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	offline     OfflineProcessor
	logger      logging.Logger
}

// NewAccessService constructs an AccessService.
func NewAccessService(db *sql.DB, m repomanager.RepositoryManager, offline OfflineProcessor, l logging.Logger) *AccessService {
	return &AccessService{
		db:          db,
		repomanager: m,
		offline:     offline,
		logger:      l.With("module", "access_service"),
	}
}

// GrantAccessForTrigger expands every active plan of the trigger's owner
// into (heir, vault) pairs and writes the permission each pair earns.
// Vaults categorized delete_after_death are enqueued for deletion;
// sign_off_after_death vaults route to the offline processor; destroy plans
// enqueue deletion for all their vaults instead of granting. Only accepted
// heirs receive grants.
func (s *AccessService) GrantAccessForTrigger(ctx context.Context, triggerID string) error {
	trigger, err := s.repomanager.Triggers(s.db).GetByID(ctx, triggerID)
	if err != nil {
		return err
	}
	if trigger.Status != models.TriggerProcessing && trigger.Status != models.TriggerCompleted {
		return fmt.Errorf("%w: trigger is %s, fan-out requires processing or completed", common.ErrStateConflict, trigger.Status)
	}

	links, err := s.repomanager.Plans(s.db).ListActiveLinks(ctx, trigger.OwnerID)
	if err != nil {
		return fmt.Errorf("expand plan links: %w", err)
	}

	accessRepo := s.repomanager.Access(s.db)

	granted, deleted, signedOff := 0, 0, 0
	signOffSeen := make(map[string]bool)

	for _, link := range links {
		// destroy plans and delete_after_death vaults both end in deletion.
		if link.PlanType == models.PlanDestroy || link.VaultCategory == models.VaultDeleteAfterDeath {
			if err := accessRepo.EnqueueDeletion(ctx, link.VaultID, triggerID); err != nil {
				return fmt.Errorf("enqueue vault deletion: %w", err)
			}
			deleted++
			continue
		}

		if link.VaultCategory == models.VaultSignOffAfterDeath {
			if signOffSeen[link.VaultID] {
				continue
			}
			signOffSeen[link.VaultID] = true
			if err := s.offline.SubmitSignOff(ctx, trigger.OwnerID, link.VaultID, triggerID); err != nil {
				return fmt.Errorf("submit sign-off: %w", err)
			}
			signedOff++
			continue
		}

		// Remaining categories: share_after_death, handle_after_death.
		if link.HeirStatus != models.InvitationAccepted {
			continue
		}

		canView, canExport, canEdit := models.PermissionsForPlanType(link.PlanType)
		grant := &models.HeirVaultAccess{
			HeirID:    link.HeirID,
			VaultID:   link.VaultID,
			CanView:   canView,
			CanExport: canExport,
			CanEdit:   canEdit,
		}
		if err := accessRepo.Upsert(ctx, grant); err != nil {
			return fmt.Errorf("upsert access grant: %w", err)
		}
		granted++
	}

	s.logger.Info(ctx, "access fan-out finished",
		"trigger_id", triggerID, "granted", granted, "deletions", deleted, "sign_offs", signedOff)
	return nil
}

// ListHeirAccess returns the permission rows materialized for a heir. Only
// the heir's owner and the user who accepted the invitation may look; anyone
// else sees not-found.
func (s *AccessService) ListHeirAccess(ctx context.Context, callerID, heirID string) ([]*models.HeirVaultAccess, error) {
	heir, err := s.repomanager.Heirs(s.db).GetByID(ctx, heirID)
	if err != nil {
		return nil, err
	}
	if heir.OwnerID != callerID && !(heir.HeirUserID.Valid && heir.HeirUserID.String == callerID) {
		return nil, common.ErrNotFound
	}
	return s.repomanager.Access(s.db).ListByHeir(ctx, heirID)
}
