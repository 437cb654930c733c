package models

import "time"

// PlanType is the permission policy a plan applies to its heirs.
type PlanType string

const (
	PlanFullAccess    PlanType = "full_access"
	PlanPartialAccess PlanType = "partial_access"
	PlanViewOnly      PlanType = "view_only"
	PlanDestroy       PlanType = "destroy"
)

// InheritancePlan bundles vaults, heirs and a permission policy under one
// activation method. Plans link to N heirs and N vaults through join tables.
type InheritancePlan struct {
	ID               string
	OwnerID          string
	PlanName         string
	PlanType         PlanType
	ActivationMethod TriggerMethod
	IsActive         bool
	IsTriggered      bool
	CreatedAt        time.Time
}

// HeirVaultAccess is one materialized permission row, created only by the
// access-grant fan-out after a trigger completes. Keyed uniquely on
// (HeirID, VaultID).
type HeirVaultAccess struct {
	HeirID    string
	VaultID   string
	CanView   bool
	CanExport bool
	CanEdit   bool
	GrantedAt time.Time
}

// PermissionsForPlanType maps a plan policy to concrete access flags.
// Destroy plans never grant; callers route those to deletion instead.
func PermissionsForPlanType(pt PlanType) (canView, canExport, canEdit bool) {
	switch pt {
	case PlanFullAccess:
		return true, true, true
	case PlanPartialAccess:
		return true, true, false
	case PlanViewOnly:
		return true, false, false
	default:
		return false, false, false
	}
}
