// This file implements PlanService: inheritance plans bundling vaults,
// heirs and a permission policy.
package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/everkeep/everkeep/internal/common"
	"github.com/everkeep/everkeep/internal/server/models"
	"github.com/everkeep/everkeep/internal/server/repositories/repomanager"
)

// PlanService manages inheritance plans and their heir/vault links.
type PlanService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

// NewPlanService constructs a PlanService.
func NewPlanService(db *sql.DB, m repomanager.RepositoryManager) *PlanService {
	return &PlanService{db: db, repomanager: m}
}

// CreatePlan creates an inheritance plan for the owner.
func (s *PlanService) CreatePlan(ctx context.Context, ownerID, name string, planType models.PlanType, method models.TriggerMethod) (*models.InheritancePlan, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: plan name is required", common.ErrValidation)
	}
	switch planType {
	case models.PlanFullAccess, models.PlanPartialAccess, models.PlanViewOnly, models.PlanDestroy:
	default:
		return nil, fmt.Errorf("%w: unknown plan type %q", common.ErrValidation, planType)
	}

	plan := &models.InheritancePlan{
		OwnerID:          ownerID,
		PlanName:         name,
		PlanType:         planType,
		ActivationMethod: method,
		IsActive:         true,
	}
	created, err := s.repomanager.Plans(s.db).Create(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("error creating plan: %w", err)
	}
	return created, nil
}

// ListPlans returns the owner's plans.
func (s *PlanService) ListPlans(ctx context.Context, ownerID string) ([]*models.InheritancePlan, error) {
	return s.repomanager.Plans(s.db).ListByOwner(ctx, ownerID)
}

// LinkHeir attaches a heir belonging to the same owner to the plan.
func (s *PlanService) LinkHeir(ctx context.Context, ownerID, planID, heirID string) error {
	plan, err := s.ownedPlan(ctx, ownerID, planID)
	if err != nil {
		return err
	}
	heir, err := s.repomanager.Heirs(s.db).GetByID(ctx, heirID)
	if err != nil {
		return err
	}
	if heir.OwnerID != ownerID {
		return common.ErrNotFound
	}
	return s.repomanager.Plans(s.db).LinkHeir(ctx, plan.ID, heir.ID)
}

// LinkVault attaches a vault belonging to the same owner to the plan.
func (s *PlanService) LinkVault(ctx context.Context, ownerID, planID, vaultID string) error {
	plan, err := s.ownedPlan(ctx, ownerID, planID)
	if err != nil {
		return err
	}
	vault, err := s.repomanager.Vaults(s.db).GetByID(ctx, vaultID)
	if err != nil {
		return err
	}
	if vault.OwnerID != ownerID {
		return common.ErrNotFound
	}
	return s.repomanager.Plans(s.db).LinkVault(ctx, plan.ID, vault.ID)
}

// SetActive toggles a plan; inactive plans are invisible to the fan-out.
func (s *PlanService) SetActive(ctx context.Context, ownerID, planID string, active bool) error {
	n, err := s.repomanager.Plans(s.db).SetActive(ctx, ownerID, planID, active)
	if err != nil {
		return fmt.Errorf("set plan active: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (s *PlanService) ownedPlan(ctx context.Context, ownerID, planID string) (*models.InheritancePlan, error) {
	plan, err := s.repomanager.Plans(s.db).GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.OwnerID != ownerID {
		return nil, common.ErrNotFound
	}
	return plan, nil
}
