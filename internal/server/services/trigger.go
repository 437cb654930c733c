// This file implements TriggerService: per-owner condition evaluation and
// the inheritance-trigger lifecycle. All transitions ride conditional writes
// so overlapping scheduler ticks and owner actions resolve deterministically.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/everkeep/everkeep/internal/common"
	"github.com/everkeep/everkeep/internal/dbx"
	"github.com/everkeep/everkeep/internal/logging"
	"github.com/everkeep/everkeep/internal/server/config"
	"github.com/everkeep/everkeep/internal/server/models"
	"github.com/everkeep/everkeep/internal/server/repositories/repomanager"
)

// triggerSettings carries the method-specific parameters stored as JSON in
// the global trigger setting row.
type triggerSettings struct {
	// ScheduledDate is the YYYY-MM-DD activation date for scheduled_date.
	ScheduledDate string `json:"scheduled_date,omitempty"`
	// InactivityDays overrides the server-wide inactivity threshold.
	InactivityDays int `json:"inactivity_days,omitempty"`
}

// TriggerService drives the InheritanceTrigger state machine:
// pending→processing→{completed,failed}, {pending,processing}→cancelled.
type TriggerService struct {
	db                 *sql.DB
	repomanager        repomanager.RepositoryManager
	access             *AccessService
	logger             logging.Logger
	verificationWindow time.Duration
	inactivityDefault  time.Duration
}

// NewTriggerService constructs a TriggerService. The AccessService performs
// the fan-out once a trigger completes.
func NewTriggerService(db *sql.DB, m repomanager.RepositoryManager, access *AccessService, l logging.Logger, cfg *config.Config) *TriggerService {
	return &TriggerService{
		db:                 db,
		repomanager:        m,
		access:             access,
		logger:             l.With("module", "trigger_service"),
		verificationWindow: cfg.VerificationWindow,
		inactivityDefault:  cfg.InactivityThreshold,
	}
}

// SetGlobalTrigger upserts the owner's single activation condition.
func (s *TriggerService) SetGlobalTrigger(ctx context.Context, ownerID string, method models.TriggerMethod, settingsJSON []byte) (*models.GlobalTriggerSetting, error) {
	switch method {
	case models.MethodInactivity, models.MethodScheduledDate, models.MethodTrustedContact,
		models.MethodDeathCertificate, models.MethodHeirNotification, models.MethodManualTrigger:
	default:
		return nil, fmt.Errorf("%w: unknown trigger method %q", common.ErrValidation, method)
	}

	if len(settingsJSON) == 0 {
		settingsJSON = []byte("{}")
	}
	var parsed triggerSettings
	if err := json.Unmarshal(settingsJSON, &parsed); err != nil {
		return nil, fmt.Errorf("%w: settings must be a JSON object", common.ErrValidation)
	}
	if method == models.MethodScheduledDate {
		if _, err := time.Parse("2006-01-02", parsed.ScheduledDate); err != nil {
			return nil, fmt.Errorf("%w: scheduled_date must be YYYY-MM-DD", common.ErrValidation)
		}
	}

	setting := &models.GlobalTriggerSetting{OwnerID: ownerID, Method: method, Settings: settingsJSON}
	if err := s.repomanager.Settings(s.db).Upsert(ctx, setting); err != nil {
		return nil, fmt.Errorf("upsert trigger setting: %w", err)
	}
	return setting, nil
}

// GetGlobalTrigger returns the owner's activation condition.
func (s *TriggerService) GetGlobalTrigger(ctx context.Context, ownerID string) (*models.GlobalTriggerSetting, error) {
	return s.repomanager.Settings(s.db).Get(ctx, ownerID)
}

// RecordActivity bumps the owner's last-activity timestamp. Inactivity
// evaluation measures silence from this mark.
func (s *TriggerService) RecordActivity(ctx context.Context, ownerID string) error {
	return s.repomanager.Users(s.db).TouchActivity(ctx, ownerID)
}

// SubmitVerification records external evidence for a verification-gated
// method.
func (s *TriggerService) SubmitVerification(ctx context.Context, ownerID string, kind models.TriggerMethod, verifierID, reference string) (*models.VerificationRecord, error) {
	switch kind {
	case models.MethodTrustedContact, models.MethodDeathCertificate, models.MethodHeirNotification:
	default:
		return nil, fmt.Errorf("%w: %q is not a verifiable evidence kind", common.ErrValidation, kind)
	}
	if verifierID == "" {
		return nil, fmt.Errorf("%w: verifier id is required", common.ErrValidation)
	}

	rec := &models.VerificationRecord{OwnerID: ownerID, Kind: kind, VerifierID: verifierID, Reference: reference}
	created, err := s.repomanager.Verifications(s.db).Create(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("create verification record: %w", err)
	}
	return created, nil
}

// EvaluateGlobalTrigger inspects the owner's condition against current
// evidence and, if satisfied, atomically creates a pending trigger. Returns
// (nil, nil) when the condition is unmet; returns the existing live trigger
// when one is already in flight.
func (s *TriggerService) EvaluateGlobalTrigger(ctx context.Context, ownerID string) (*models.InheritanceTrigger, error) {
	setting, err := s.repomanager.Settings(s.db).Get(ctx, ownerID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("%w: owner has no global trigger configured", common.ErrNotFound)
		}
		return nil, fmt.Errorf("load trigger setting: %w", err)
	}

	// An executed inheritance is final. The condition stays true afterwards
	// (the owner stays inactive, the date stays past), so without this guard
	// every tick would mint a fresh trigger.
	done, err := s.repomanager.Triggers(s.db).HasCompleted(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("check completed trigger: %w", err)
	}
	if done {
		return nil, nil
	}

	satisfied, reason, err := s.conditionSatisfied(ctx, setting)
	if err != nil {
		return nil, err
	}
	if !satisfied {
		return nil, nil
	}

	return s.fire(ctx, ownerID, setting.Method, reason)
}

// FireManual creates a trigger for an explicit owner call, regardless of any
// periodic condition.
func (s *TriggerService) FireManual(ctx context.Context, ownerID string) (*models.InheritanceTrigger, error) {
	return s.fire(ctx, ownerID, models.MethodManualTrigger, "manual trigger requested by owner")
}

// fire is the single atomic check-and-create. The conditional insert makes
// one of two racing ticks a no-op; the loser gets the winner's row back.
func (s *TriggerService) fire(ctx context.Context, ownerID string, method models.TriggerMethod, reason string) (*models.InheritanceTrigger, error) {
	repo := s.repomanager.Triggers(s.db)

	trigger := &models.InheritanceTrigger{
		OwnerID:              ownerID,
		TriggerReason:        reason,
		RequiresVerification: method.RequiresVerification(),
	}

	created, inserted, err := repo.CreateIfNone(ctx, trigger)
	if err != nil {
		return nil, fmt.Errorf("create trigger: %w", err)
	}
	if inserted {
		s.logger.Info(ctx, "inheritance trigger created", "owner_id", ownerID, "trigger_id", created.ID, "method", string(method))
		return created, nil
	}

	existing, err := repo.GetLiveByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			// The live trigger reached a terminal state between the insert
			// and the read. The next tick re-evaluates.
			return nil, nil
		}
		return nil, fmt.Errorf("load live trigger: %w", err)
	}
	return existing, nil
}

func (s *TriggerService) conditionSatisfied(ctx context.Context, setting *models.GlobalTriggerSetting) (bool, string, error) {
	var parsed triggerSettings
	if len(setting.Settings) > 0 {
		if err := json.Unmarshal(setting.Settings, &parsed); err != nil {
			return false, "", fmt.Errorf("%w: stored settings are not valid JSON", common.ErrInternal)
		}
	}

	switch setting.Method {
	case models.MethodManualTrigger:
		// Explicit call only; periodic evaluation never fires it.
		return false, "", nil

	case models.MethodInactivity:
		owner, err := s.repomanager.Users(s.db).GetByID(ctx, setting.OwnerID)
		if err != nil {
			return false, "", fmt.Errorf("load owner: %w", err)
		}
		threshold := s.inactivityDefault
		if parsed.InactivityDays > 0 {
			threshold = time.Duration(parsed.InactivityDays) * 24 * time.Hour
		}
		if time.Since(owner.LastActivityAt) >= threshold {
			return true, fmt.Sprintf("owner inactive since %s", owner.LastActivityAt.Format(time.RFC3339)), nil
		}
		return false, "", nil

	case models.MethodScheduledDate:
		date, err := time.Parse("2006-01-02", parsed.ScheduledDate)
		if err != nil {
			return false, "", nil
		}
		if !time.Now().Before(date) {
			return true, fmt.Sprintf("scheduled date %s reached", parsed.ScheduledDate), nil
		}
		return false, "", nil

	case models.MethodTrustedContact, models.MethodDeathCertificate, models.MethodHeirNotification:
		rec, err := s.repomanager.Verifications(s.db).FindUnconsumed(ctx, setting.OwnerID, setting.Method)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return false, "", nil
			}
			return false, "", fmt.Errorf("load verification evidence: %w", err)
		}
		return true, fmt.Sprintf("%s evidence submitted by %s", setting.Method, rec.VerifierID), nil

	default:
		return false, "", fmt.Errorf("%w: unknown trigger method %q", common.ErrInternal, setting.Method)
	}
}

// VerifyTrigger moves a pending trigger to processing once its verification
// requirement is met. The matching evidence record is consumed in the same
// transaction, so one attestation confirms at most one trigger.
func (s *TriggerService) VerifyTrigger(ctx context.Context, triggerID, verifierID string) (*models.InheritanceTrigger, error) {
	repo := s.repomanager.Triggers(s.db)

	trigger, err := repo.GetByID(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	if trigger.Status != models.TriggerPending {
		return nil, fmt.Errorf("%w: trigger is %s, not pending", common.ErrStateConflict, trigger.Status)
	}
	if !trigger.RequiresVerification {
		return nil, fmt.Errorf("%w: trigger does not require verification", common.ErrValidation)
	}
	if time.Since(trigger.TriggeredAt) > s.verificationWindow {
		// Past the window the trigger belongs to FailOverdue, not to a late
		// verifier.
		if _, err := repo.FailOverdue(ctx, s.verificationWindow); err != nil {
			return nil, fmt.Errorf("fail overdue: %w", err)
		}
		return nil, fmt.Errorf("%w: verification window elapsed", common.ErrExpired)
	}

	setting, err := s.repomanager.Settings(s.db).Get(ctx, trigger.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("load trigger setting: %w", err)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		rec, err := s.repomanager.Verifications(tx).FindUnconsumed(ctx, trigger.OwnerID, setting.Method)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return fmt.Errorf("%w: no verification evidence on file", common.ErrStateConflict)
			}
			return err
		}
		if rec.VerifierID != verifierID {
			return fmt.Errorf("%w: evidence was submitted by a different verifier", common.ErrStateConflict)
		}
		if n, err := s.repomanager.Verifications(tx).Consume(ctx, rec.ID); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("%w: evidence already consumed", common.ErrStateConflict)
		}
		if n, err := s.repomanager.Triggers(tx).MarkProcessing(ctx, triggerID); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("%w: trigger left pending state", common.ErrStateConflict)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "trigger verified", "trigger_id", triggerID, "verifier_id", verifierID)
	return repo.GetByID(ctx, triggerID)
}

// CancelTrigger is the owner's false-positive safety valve. It lands only on
// a pending or processing trigger owned by ownerID.
func (s *TriggerService) CancelTrigger(ctx context.Context, triggerID, ownerID string) (*models.InheritanceTrigger, error) {
	repo := s.repomanager.Triggers(s.db)

	n, err := repo.MarkCancelled(ctx, triggerID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("cancel trigger: %w", err)
	}
	if n == 0 {
		trigger, gerr := repo.GetByID(ctx, triggerID)
		if gerr != nil {
			return nil, gerr
		}
		if trigger.OwnerID != ownerID {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("%w: trigger is already %s", common.ErrStateConflict, trigger.Status)
	}

	s.logger.Info(ctx, "trigger cancelled by owner", "trigger_id", triggerID)
	return repo.GetByID(ctx, triggerID)
}

// CompleteTrigger finishes a trigger whose preconditions hold (verified, or
// verification not required), marks the owner's active plans triggered, and
// runs the access fan-out. Re-invocation on a completed trigger re-runs only
// the idempotent fan-out, so effects never duplicate.
func (s *TriggerService) CompleteTrigger(ctx context.Context, triggerID string) (*models.InheritanceTrigger, error) {
	repo := s.repomanager.Triggers(s.db)

	trigger, err := repo.GetByID(ctx, triggerID)
	if err != nil {
		return nil, err
	}

	switch trigger.Status {
	case models.TriggerCompleted:
		// Recovery path: a prior completion may have died mid-fan-out.
		if err := s.access.GrantAccessForTrigger(ctx, triggerID); err != nil {
			return nil, err
		}
		return trigger, nil
	case models.TriggerCancelled, models.TriggerFailed:
		return nil, fmt.Errorf("%w: trigger is %s", common.ErrStateConflict, trigger.Status)
	case models.TriggerPending:
		if trigger.RequiresVerification {
			return nil, fmt.Errorf("%w: trigger awaits verification", common.ErrStateConflict)
		}
		if n, err := repo.MarkProcessingUnverified(ctx, triggerID); err != nil {
			return nil, err
		} else if n == 0 {
			return nil, fmt.Errorf("%w: trigger left pending state", common.ErrStateConflict)
		}
	case models.TriggerProcessing:
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if n, err := s.repomanager.Triggers(tx).MarkCompleted(ctx, triggerID); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("%w: trigger left processing state", common.ErrStateConflict)
		}
		if _, err := s.repomanager.Plans(tx).MarkTriggeredByOwner(ctx, trigger.OwnerID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Fan-out runs outside the completion transaction; a crash here is
	// recovered by re-invoking CompleteTrigger, which re-runs the idempotent
	// fan-out.
	if err := s.access.GrantAccessForTrigger(ctx, triggerID); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "trigger completed", "trigger_id", triggerID, "owner_id", trigger.OwnerID)
	return repo.GetByID(ctx, triggerID)
}

// FailOverdueTriggers time-boxes verification: every pending trigger whose
// window elapsed unmet moves to failed. Invoked by the scheduler tick.
func (s *TriggerService) FailOverdueTriggers(ctx context.Context) (int64, error) {
	return s.repomanager.Triggers(s.db).FailOverdue(ctx, s.verificationWindow)
}

// EvaluateAll walks every owner with a configured condition. This is the
// cooperative periodic entry point; owners' devices may be offline when
// their condition becomes true.
func (s *TriggerService) EvaluateAll(ctx context.Context) (int, error) {
	all, err := s.repomanager.Settings(s.db).ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list trigger settings: %w", err)
	}

	fired := 0
	for _, setting := range all {
		trigger, err := s.EvaluateGlobalTrigger(ctx, setting.OwnerID)
		if err != nil {
			s.logger.Error(ctx, "trigger evaluation failed", "owner_id", setting.OwnerID, "error", err.Error())
			continue
		}
		if trigger != nil {
			fired++
		}
	}
	return fired, nil
}

// CompleteEligible finishes every trigger that can advance without human
// input: processing triggers, plus pending ones whose method needs no
// verification. Invoked by the scheduler tick so a satisfied trigger does not
// wait forever for a manual completion call.
func (s *TriggerService) CompleteEligible(ctx context.Context) (int, error) {
	list, err := s.repomanager.Triggers(s.db).ListCompletable(ctx)
	if err != nil {
		return 0, fmt.Errorf("list completable triggers: %w", err)
	}

	completed := 0
	for _, trigger := range list {
		if _, err := s.CompleteTrigger(ctx, trigger.ID); err != nil {
			s.logger.Error(ctx, "trigger completion failed", "trigger_id", trigger.ID, "error", err.Error())
			continue
		}
		completed++
	}
	return completed, nil
}

// GetTrigger returns a trigger visible to its owner.
func (s *TriggerService) GetTrigger(ctx context.Context, triggerID, ownerID string) (*models.InheritanceTrigger, error) {
	trigger, err := s.repomanager.Triggers(s.db).GetByID(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	if trigger.OwnerID != ownerID {
		return nil, common.ErrNotFound
	}
	return trigger, nil
}
