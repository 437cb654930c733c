package models

import (
	"database/sql"
	"time"
)

// TriggerStatus is the lifecycle state of an inheritance trigger.
// Legal edges: pending→processing→{completed,failed} and
// {pending,processing}→cancelled. completed, cancelled and failed are
// terminal.
type TriggerStatus string

const (
	TriggerPending    TriggerStatus = "pending"
	TriggerProcessing TriggerStatus = "processing"
	TriggerCompleted  TriggerStatus = "completed"
	TriggerCancelled  TriggerStatus = "cancelled"
	TriggerFailed     TriggerStatus = "failed"
)

// Terminal reports whether s permits no further transitions.
func (s TriggerStatus) Terminal() bool {
	switch s {
	case TriggerCompleted, TriggerCancelled, TriggerFailed:
		return true
	}
	return false
}

// TriggerMethod is the per-owner condition whose satisfaction fires the
// owner's active plans.
type TriggerMethod string

const (
	MethodInactivity       TriggerMethod = "inactivity"
	MethodScheduledDate    TriggerMethod = "scheduled_date"
	MethodTrustedContact   TriggerMethod = "trusted_contact"
	MethodDeathCertificate TriggerMethod = "death_certificate"
	MethodHeirNotification TriggerMethod = "heir_notification"
	MethodManualTrigger    TriggerMethod = "manual_trigger"
)

// RequiresVerification reports whether the method needs independent
// confirmation before a trigger may proceed past pending. Manual calls and
// scheduled dates are self-evident; everything else can misfire.
func (m TriggerMethod) RequiresVerification() bool {
	switch m {
	case MethodManualTrigger, MethodScheduledDate:
		return false
	}
	return true
}

// GlobalTriggerSetting is the single per-owner activation condition.
// Settings carries method-specific parameters as JSON (e.g. the scheduled
// date, or the inactivity threshold override).
type GlobalTriggerSetting struct {
	OwnerID   string
	Method    TriggerMethod
	Settings  []byte
	UpdatedAt time.Time
}

// InheritanceTrigger records one firing of a global trigger. At most one
// non-terminal trigger exists per owner at a time, enforced by a partial
// unique index in the store.
type InheritanceTrigger struct {
	ID                   string
	OwnerID              string
	Status               TriggerStatus
	TriggerReason        string
	RequiresVerification bool
	TriggeredAt          time.Time
	VerifiedAt           sql.NullTime
	CompletedAt          sql.NullTime
	CancelledAt          sql.NullTime
}

// VerificationRecord is external evidence supporting a verification-gated
// trigger method: a trusted contact's attestation, a death certificate
// reference, or a heir's notification. Consumed records cannot support a
// second trigger.
type VerificationRecord struct {
	ID         string
	OwnerID    string
	Kind       TriggerMethod
	VerifierID string
	Reference  string
	Consumed   bool
	CreatedAt  time.Time
}
