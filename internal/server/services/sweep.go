// This file implements the cooperative scheduler entry point. The owner's
// device may be offline when a condition becomes true, so periodic work runs
// server-side, invoked by an external scheduler rather than an in-process
// timer.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/everkeep/everkeep/internal/common"
	"github.com/everkeep/everkeep/internal/logging"
	"github.com/sethvargo/go-retry"
)

// SweepReport summarizes one scheduler tick.
type SweepReport struct {
	ExpiredInvitations int64 `json:"expired_invitations"`
	TriggersFired      int   `json:"triggers_fired"`
	TriggersCompleted  int   `json:"triggers_completed"`
	TriggersFailed     int64 `json:"triggers_failed"`
}

// SweepService bundles the periodic maintenance passes: invitation expiry,
// trigger evaluation, auto-completion of eligible triggers, and
// verification-window enforcement. Transient store failures are retried with
// backoff; state conflicts are not.
type SweepService struct {
	invitations *InvitationService
	triggers    *TriggerService
	logger      logging.Logger
}

// NewSweepService constructs a SweepService.
func NewSweepService(inv *InvitationService, trg *TriggerService, l logging.Logger) *SweepService {
	return &SweepService{invitations: inv, triggers: trg, logger: l.With("module", "sweep_service")}
}

// Run executes one full tick. Each pass is independently retried so one
// flaky store call does not waste the whole tick.
func (s *SweepService) Run(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}

	err := s.withBackoff(ctx, func(ctx context.Context) error {
		n, err := s.invitations.SweepExpired(ctx)
		report.ExpiredInvitations = n
		return err
	})
	if err != nil {
		return nil, err
	}

	err = s.withBackoff(ctx, func(ctx context.Context) error {
		n, err := s.triggers.EvaluateAll(ctx)
		report.TriggersFired = n
		return err
	})
	if err != nil {
		return nil, err
	}

	// Freshly fired triggers that need no verification complete in the same
	// tick; the owner is not around to call completion by hand.
	err = s.withBackoff(ctx, func(ctx context.Context) error {
		n, err := s.triggers.CompleteEligible(ctx)
		report.TriggersCompleted = n
		return err
	})
	if err != nil {
		return nil, err
	}

	err = s.withBackoff(ctx, func(ctx context.Context) error {
		n, err := s.triggers.FailOverdueTriggers(ctx)
		report.TriggersFailed = n
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "sweep finished",
		"expired_invitations", report.ExpiredInvitations,
		"triggers_fired", report.TriggersFired,
		"triggers_completed", report.TriggersCompleted,
		"triggers_failed", report.TriggersFailed)
	return report, nil
}

func (s *SweepService) withBackoff(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(3, retry.NewFibonacci(200*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		// Only transient store I/O is worth retrying; conflicts and
		// validation failures come back unchanged.
		if errors.Is(err, common.ErrStateConflict) || errors.Is(err, common.ErrValidation) {
			return err
		}
		return retry.RetryableError(err)
	})
}
