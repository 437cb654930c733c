// Package services contains server-side business logic. This file implements
// InvitationService: issuing, validating, consuming and cancelling the
// one-time heir invitation codes.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/everkeep/everkeep/internal/common"
	"github.com/everkeep/everkeep/internal/server/config"
	"github.com/everkeep/everkeep/internal/server/models"
	"github.com/everkeep/everkeep/internal/server/repositories/repomanager"
)

// codeGenerationAttempts caps the collision-retry loop. The code space is
// 32^6, so more than a couple of retries means something is wrong with the
// store, not with luck.
const codeGenerationAttempts = 5

// ValidationResult is the outcome of looking up an invitation code.
// Invalid and nonexistent codes share one uniform reason so the endpoint
// leaks no enumeration signal; only rows in a known non-pending state get a
// distinct reason.
type ValidationResult struct {
	Valid  bool
	Heir   *models.Heir
	Reason string
}

const (
	ReasonInvalidOrNotFound = "invitation code is invalid or not found"
	ReasonAlreadyAccepted   = "invitation has already been accepted"
	ReasonRejected          = "invitation has been rejected"
	ReasonExpired           = "invitation has expired"
)

// CreateHeirRequest carries the owner-declared heir attributes.
type CreateHeirRequest struct {
	Name         string
	Relationship string
	AccessLevel  models.AccessLevel
}

// InvitationService owns the heir invitation state machine. Every transition
// is a conditional write in the heirs repository, so concurrent devices
// racing on one code resolve to a single winner.
type InvitationService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	invitationTTL time.Duration
}

// NewInvitationService constructs an InvitationService using repositories
// and server config.
func NewInvitationService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *InvitationService {
	return &InvitationService{
		db:            db,
		repomanager:   m,
		invitationTTL: cfg.InvitationTTL,
	}
}

// CreateInvitation generates a collision-checked code and persists a pending
// heir row expiring after the configured TTL.
func (s *InvitationService) CreateInvitation(ctx context.Context, ownerID string, req CreateHeirRequest) (*models.Heir, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: heir name is required", common.ErrValidation)
	}
	switch req.AccessLevel {
	case models.AccessLevelFull, models.AccessLevelPartial, models.AccessLevelView:
	default:
		return nil, fmt.Errorf("%w: unknown access level %q", common.ErrValidation, req.AccessLevel)
	}

	repo := s.repomanager.Heirs(s.db)

	code, err := s.generateUniqueCode(ctx)
	if err != nil {
		return nil, err
	}

	heir := &models.Heir{
		OwnerID:             ownerID,
		Name:                req.Name,
		Relationship:        req.Relationship,
		AccessLevel:         req.AccessLevel,
		InvitationCode:      code,
		InvitationExpiresAt: time.Now().Add(s.invitationTTL),
	}

	created, err := repo.Create(ctx, heir)
	if err != nil {
		return nil, fmt.Errorf("error creating heir: %w", err)
	}
	return created, nil
}

func (s *InvitationService) generateUniqueCode(ctx context.Context) (string, error) {
	repo := s.repomanager.Heirs(s.db)

	for attempt := 0; attempt < codeGenerationAttempts; attempt++ {
		code, err := common.MakeInvitationCode()
		if err != nil {
			return "", common.ErrInternal
		}
		exists, err := repo.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("code collision check: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: could not generate unique invitation code", common.ErrInternal)
}

// ValidateCode looks a code up and reports whether it is redeemable. An
// overdue pending row is lazily expired first, so the caller never sees a
// stale pending state.
func (s *InvitationService) ValidateCode(ctx context.Context, code string) (*ValidationResult, error) {
	repo := s.repomanager.Heirs(s.db)

	if len(code) != common.InvitationCodeLength {
		return &ValidationResult{Valid: false, Reason: ReasonInvalidOrNotFound}, nil
	}

	heir, err := repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return &ValidationResult{Valid: false, Reason: ReasonInvalidOrNotFound}, nil
		}
		return nil, fmt.Errorf("code lookup: %w", err)
	}

	heir = s.lazyExpire(ctx, heir)

	switch heir.InvitationStatus {
	case models.InvitationPending:
		return &ValidationResult{Valid: true, Heir: heir}, nil
	case models.InvitationAccepted:
		return &ValidationResult{Valid: false, Reason: ReasonAlreadyAccepted}, nil
	case models.InvitationRejected:
		return &ValidationResult{Valid: false, Reason: ReasonRejected}, nil
	default:
		return &ValidationResult{Valid: false, Reason: ReasonExpired}, nil
	}
}

// lazyExpire marks an overdue pending row expired. Losing the conditional
// update to a racing accept is fine; the follow-up state is re-read either
// way.
func (s *InvitationService) lazyExpire(ctx context.Context, heir *models.Heir) *models.Heir {
	if heir.InvitationStatus != models.InvitationPending || heir.InvitationExpiresAt.After(time.Now()) {
		return heir
	}
	repo := s.repomanager.Heirs(s.db)
	if _, err := repo.ExpireOverdue(ctx); err == nil {
		if fresh, err := repo.GetByID(ctx, heir.ID); err == nil {
			return fresh
		}
	}
	heir.InvitationStatus = models.InvitationExpired
	return heir
}

// AcceptInvitation consumes a code on behalf of heirUserID. Exactly one
// concurrent acceptance succeeds; the rest observe ErrStateConflict (or
// ErrExpired when the sweep won instead). Owners cannot accept their own
// codes. The optional boxPublicKey registers the heir's curve25519 public
// half for later sealed-box key handover.
func (s *InvitationService) AcceptInvitation(ctx context.Context, heirUserID, code string, boxPublicKey []byte) (*models.Heir, error) {
	repo := s.repomanager.Heirs(s.db)

	result, err := s.ValidateCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, classifyUnredeemable(result)
	}
	if result.Heir.OwnerID == heirUserID {
		return nil, fmt.Errorf("%w: an owner cannot accept their own invitation", common.ErrSelfReference)
	}

	heir, err := repo.Accept(ctx, code, heirUserID, boxPublicKey)
	if err == nil {
		return heir, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("accept invitation: %w", err)
	}

	// The conditional update missed: someone else won, the sweep expired the
	// row, or the owner cancelled it. Re-fetch to tell the caller which.
	fresh, ferr := repo.GetByCode(ctx, code)
	if ferr != nil {
		if errors.Is(ferr, common.ErrNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("accept re-fetch: %w", ferr)
	}
	if fresh.InvitationStatus == models.InvitationPending && !fresh.InvitationExpiresAt.After(time.Now()) {
		return nil, fmt.Errorf("%w: %s", common.ErrExpired, ReasonExpired)
	}
	if fresh.InvitationStatus == models.InvitationExpired {
		return nil, fmt.Errorf("%w: %s", common.ErrExpired, ReasonExpired)
	}
	return nil, fmt.Errorf("%w: invitation is %s", common.ErrStateConflict, fresh.InvitationStatus)
}

// RejectInvitation declines a pending invitation.
func (s *InvitationService) RejectInvitation(ctx context.Context, code string) (*models.Heir, error) {
	repo := s.repomanager.Heirs(s.db)

	result, err := s.ValidateCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, classifyUnredeemable(result)
	}

	heir, err := repo.Reject(ctx, code)
	if err == nil {
		return heir, nil
	}
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("%w: invitation is no longer pending", common.ErrStateConflict)
	}
	return nil, fmt.Errorf("reject invitation: %w", err)
}

// CancelInvitation removes a still-pending invitation so the code is never
// reusable. Accepted, rejected or expired rows are left untouched.
func (s *InvitationService) CancelInvitation(ctx context.Context, ownerID, heirID string) error {
	repo := s.repomanager.Heirs(s.db)

	n, err := repo.DeletePending(ctx, ownerID, heirID)
	if err != nil {
		return fmt.Errorf("cancel invitation: %w", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := repo.GetByID(ctx, heirID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrNotFound
		}
		return fmt.Errorf("cancel re-fetch: %w", err)
	}
	return fmt.Errorf("%w: invitation is no longer pending", common.ErrStateConflict)
}

// ListHeirs returns the owner's heirs.
func (s *InvitationService) ListHeirs(ctx context.Context, ownerID string) ([]*models.Heir, error) {
	return s.repomanager.Heirs(s.db).ListByOwner(ctx, ownerID)
}

// SweepExpired marks every overdue pending invitation expired. Invoked by
// the external scheduler tick.
func (s *InvitationService) SweepExpired(ctx context.Context) (int64, error) {
	return s.repomanager.Heirs(s.db).ExpireOverdue(ctx)
}

func classifyUnredeemable(result *ValidationResult) error {
	switch result.Reason {
	case ReasonExpired:
		return fmt.Errorf("%w: %s", common.ErrExpired, result.Reason)
	case ReasonAlreadyAccepted, ReasonRejected:
		return fmt.Errorf("%w: %s", common.ErrStateConflict, result.Reason)
	default:
		return fmt.Errorf("%w: %s", common.ErrNotFound, result.Reason)
	}
}
