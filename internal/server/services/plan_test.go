package services

import (
	"context"
	"errors"
	"testing"

	"github.com/everkeep/everkeep/internal/common"
	"github.com/everkeep/everkeep/internal/server/models"
	"github.com/stretchr/testify/require"
)

func newPlanService(t *testing.T, rm *fakeRepoManager) *PlanService {
	t.Helper()
	db, _ := newSQLMockDB(t)
	return NewPlanService(db, rm)
}

func TestCreatePlan(t *testing.T) {
	rm := newFakeRepoManager()
	s := newPlanService(t, rm)
	ctx := context.Background()

	p, err := s.CreatePlan(ctx, "owner-1", "estate", models.PlanFullAccess, models.MethodManualTrigger)
	require.NoError(t, err)
	require.NotEmpty(t, p.ID)
	require.True(t, p.IsActive)

	_, err = s.CreatePlan(ctx, "owner-1", "", models.PlanFullAccess, models.MethodManualTrigger)
	require.True(t, errors.Is(err, common.ErrValidation))

	_, err = s.CreatePlan(ctx, "owner-1", "estate", "everything", models.MethodManualTrigger)
	require.True(t, errors.Is(err, common.ErrValidation))
}

func TestLinkHeir_Ownership(t *testing.T) {
	rm := newFakeRepoManager()
	s := newPlanService(t, rm)
	ctx := context.Background()

	p, err := s.CreatePlan(ctx, "owner-1", "estate", models.PlanViewOnly, models.MethodManualTrigger)
	require.NoError(t, err)
	heir, err := rm.heirs.Create(ctx, &models.Heir{OwnerID: "owner-1", Name: "h"})
	require.NoError(t, err)
	foreign, err := rm.heirs.Create(ctx, &models.Heir{OwnerID: "owner-2", Name: "f"})
	require.NoError(t, err)

	require.NoError(t, s.LinkHeir(ctx, "owner-1", p.ID, heir.ID))

	err = s.LinkHeir(ctx, "owner-1", p.ID, foreign.ID)
	require.True(t, errors.Is(err, common.ErrNotFound))

	err = s.LinkHeir(ctx, "owner-2", p.ID, foreign.ID)
	require.True(t, errors.Is(err, common.ErrNotFound))

	err = s.LinkHeir(ctx, "owner-1", "missing", heir.ID)
	require.True(t, errors.Is(err, common.ErrNotFound))
}

func TestLinkVault_Ownership(t *testing.T) {
	rm := newFakeRepoManager()
	s := newPlanService(t, rm)
	ctx := context.Background()

	p, err := s.CreatePlan(ctx, "owner-1", "estate", models.PlanPartialAccess, models.MethodManualTrigger)
	require.NoError(t, err)
	v, err := rm.vaults.Create(ctx, &models.Vault{OwnerID: "owner-1", Name: "docs", Category: models.VaultShareAfterDeath})
	require.NoError(t, err)
	foreign, err := rm.vaults.Create(ctx, &models.Vault{OwnerID: "owner-2", Name: "other", Category: models.VaultShareAfterDeath})
	require.NoError(t, err)

	require.NoError(t, s.LinkVault(ctx, "owner-1", p.ID, v.ID))

	err = s.LinkVault(ctx, "owner-1", p.ID, foreign.ID)
	require.True(t, errors.Is(err, common.ErrNotFound))
}

func TestSetActive(t *testing.T) {
	rm := newFakeRepoManager()
	s := newPlanService(t, rm)
	ctx := context.Background()

	p, err := s.CreatePlan(ctx, "owner-1", "estate", models.PlanDestroy, models.MethodManualTrigger)
	require.NoError(t, err)

	require.NoError(t, s.SetActive(ctx, "owner-1", p.ID, false))
	got, err := rm.plans.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)

	// Wrong owner matches nothing.
	err = s.SetActive(ctx, "owner-2", p.ID, true)
	require.True(t, errors.Is(err, common.ErrNotFound))
}
