package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/everkeep/everkeep/internal/common"
	"github.com/everkeep/everkeep/internal/logging"
	"github.com/everkeep/everkeep/internal/server/config"
	"github.com/everkeep/everkeep/internal/server/models"
	"github.com/everkeep/everkeep/internal/server/repositories/plans"
	"github.com/stretchr/testify/require"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type fakeOffline struct {
	mu    sync.Mutex
	calls [][3]string
	err   error
}

func (f *fakeOffline) SubmitSignOff(ctx context.Context, ownerID, vaultID, triggerID string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [3]string{ownerID, vaultID, triggerID})
	return nil
}

type triggerHarness struct {
	svc     *TriggerService
	access  *AccessService
	rm      *fakeRepoManager
	mock    sqlmock.Sqlmock
	offline *fakeOffline
}

func newTriggerHarness(t *testing.T) *triggerHarness {
	t.Helper()
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	offline := &fakeOffline{}
	l := testLogger()
	access := NewAccessService(db, rm, offline, l)
	cfg := &config.Config{
		VerificationWindow:  30 * 24 * time.Hour,
		InactivityThreshold: 90 * 24 * time.Hour,
	}
	svc := NewTriggerService(db, rm, access, l, cfg)
	return &triggerHarness{svc: svc, access: access, rm: rm, mock: mock, offline: offline}
}

func (h *triggerHarness) addUser(id string, lastActivity time.Time) {
	h.rm.users.users[id] = &models.User{ID: id, Email: id + "@example.com", LastActivityAt: lastActivity}
}

func TestSetGlobalTrigger_Validation(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	_, err := h.svc.SetGlobalTrigger(ctx, "owner-1", "telepathy", nil)
	require.True(t, errors.Is(err, common.ErrValidation))

	_, err = h.svc.SetGlobalTrigger(ctx, "owner-1", models.MethodScheduledDate, []byte(`{"scheduled_date":"not-a-date"}`))
	require.True(t, errors.Is(err, common.ErrValidation))

	setting, err := h.svc.SetGlobalTrigger(ctx, "owner-1", models.MethodInactivity, []byte(`{"inactivity_days":30}`))
	require.NoError(t, err)
	require.Equal(t, models.MethodInactivity, setting.Method)
}

func TestEvaluateGlobalTrigger_NoSetting(t *testing.T) {
	h := newTriggerHarness(t)

	_, err := h.svc.EvaluateGlobalTrigger(context.Background(), "owner-1")
	require.True(t, errors.Is(err, common.ErrNotFound))
}

func TestEvaluateGlobalTrigger_ManualNeverFiresPeriodically(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	_, err := h.svc.SetGlobalTrigger(ctx, "owner-1", models.MethodManualTrigger, nil)
	require.NoError(t, err)

	trigger, err := h.svc.EvaluateGlobalTrigger(ctx, "owner-1")
	require.NoError(t, err)
	require.Nil(t, trigger)
}

func TestEvaluateGlobalTrigger_Inactivity(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	h.addUser("owner-1", time.Now().Add(-100*24*time.Hour))
	h.addUser("owner-2", time.Now().Add(-time.Hour))

	_, err := h.svc.SetGlobalTrigger(ctx, "owner-1", models.MethodInactivity, nil)
	require.NoError(t, err)
	_, err = h.svc.SetGlobalTrigger(ctx, "owner-2", models.MethodInactivity, nil)
	require.NoError(t, err)

	trigger, err := h.svc.EvaluateGlobalTrigger(ctx, "owner-1")
	require.NoError(t, err)
	require.NotNil(t, trigger)
	require.Equal(t, models.TriggerPending, trigger.Status)
	require.True(t, trigger.RequiresVerification)

	trigger, err = h.svc.EvaluateGlobalTrigger(ctx, "owner-2")
	require.NoError(t, err)
	require.Nil(t, trigger)
}

func TestEvaluateGlobalTrigger_InactivityDaysOverride(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	h.addUser("owner-1", time.Now().Add(-10*24*time.Hour))

	_, err := h.svc.SetGlobalTrigger(ctx, "owner-1", models.MethodInactivity, []byte(`{"inactivity_days":7}`))
	require.NoError(t, err)

	trigger, err := h.svc.EvaluateGlobalTrigger(ctx, "owner-1")
	require.NoError(t, err)
	require.NotNil(t, trigger, "7-day override should beat the 90-day default")
}

func TestEvaluateGlobalTrigger_ScheduledDate(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	past := time.Now().Add(-24 * time.Hour).Format("2006-01-02")
	_, err := h.svc.SetGlobalTrigger(ctx, "owner-1", models.MethodScheduledDate, []byte(`{"scheduled_date":"`+past+`"}`))
	require.NoError(t, err)

	trigger, err := h.svc.EvaluateGlobalTrigger(ctx, "owner-1")
	require.NoError(t, err)
	require.NotNil(t, trigger)
	require.False(t, trigger.RequiresVerification, "scheduled dates are self-evident")

	future := time.Now().Add(48 * time.Hour).Format("2006-01-02")
	_, err = h.svc.SetGlobalTrigger(ctx, "owner-2", models.MethodScheduledDate, []byte(`{"scheduled_date":"`+future+`"}`))
	require.NoError(t, err)

	trigger, err = h.svc.EvaluateGlobalTrigger(ctx, "owner-2")
	require.NoError(t, err)
	require.Nil(t, trigger)
}

func TestEvaluateGlobalTrigger_EvidenceGatedMethods(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	_, err := h.svc.SetGlobalTrigger(ctx, "owner-1", models.MethodTrustedContact, nil)
	require.NoError(t, err)

	trigger, err := h.svc.EvaluateGlobalTrigger(ctx, "owner-1")
	require.NoError(t, err)
	require.Nil(t, trigger, "no evidence on file yet")

	_, err = h.svc.SubmitVerification(ctx, "owner-1", models.MethodTrustedContact, "contact-7", "phone call")
	require.NoError(t, err)

	trigger, err = h.svc.EvaluateGlobalTrigger(ctx, "owner-1")
	require.NoError(t, err)
	require.NotNil(t, trigger)
	require.True(t, trigger.RequiresVerification)
}

func TestFire_OneLiveTriggerPerOwner(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	first, err := h.svc.FireManual(ctx, "owner-1")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := h.svc.FireManual(ctx, "owner-1")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID, "second fire must observe the live trigger, not create another")
	require.Len(t, h.rm.triggers.triggers, 1)
}

func TestSubmitVerification_Validation(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	_, err := h.svc.SubmitVerification(ctx, "owner-1", models.MethodManualTrigger, "v1", "")
	require.True(t, errors.Is(err, common.ErrValidation))

	_, err = h.svc.SubmitVerification(ctx, "owner-1", models.MethodDeathCertificate, "", "ref")
	require.True(t, errors.Is(err, common.ErrValidation))
}

func TestVerifyTrigger_Success(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	_, err := h.svc.SetGlobalTrigger(ctx, "owner-1", models.MethodHeirNotification, nil)
	require.NoError(t, err)
	rec, err := h.svc.SubmitVerification(ctx, "owner-1", models.MethodHeirNotification, "heir-user-3", "")
	require.NoError(t, err)

	trigger, err := h.svc.EvaluateGlobalTrigger(ctx, "owner-1")
	require.NoError(t, err)
	require.NotNil(t, trigger)

	h.mock.ExpectBegin()
	h.mock.ExpectCommit()

	verified, err := h.svc.VerifyTrigger(ctx, trigger.ID, "heir-user-3")
	require.NoError(t, err)
	require.Equal(t, models.TriggerProcessing, verified.Status)
	require.True(t, h.rm.verifications.recs[rec.ID].Consumed, "evidence is single-use")
}

func TestVerifyTrigger_WrongVerifier(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	_, err := h.svc.SetGlobalTrigger(ctx, "owner-1", models.MethodTrustedContact, nil)
	require.NoError(t, err)
	_, err = h.svc.SubmitVerification(ctx, "owner-1", models.MethodTrustedContact, "contact-1", "")
	require.NoError(t, err)

	trigger, err := h.svc.EvaluateGlobalTrigger(ctx, "owner-1")
	require.NoError(t, err)

	h.mock.ExpectBegin()
	h.mock.ExpectRollback()

	_, err = h.svc.VerifyTrigger(ctx, trigger.ID, "impostor")
	require.True(t, errors.Is(err, common.ErrStateConflict))

	require.Equal(t, models.TriggerPending, h.rm.triggers.triggers[trigger.ID].Status)
}

func TestVerifyTrigger_WindowElapsed(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	_, err := h.svc.SetGlobalTrigger(ctx, "owner-1", models.MethodTrustedContact, nil)
	require.NoError(t, err)
	_, err = h.svc.SubmitVerification(ctx, "owner-1", models.MethodTrustedContact, "contact-1", "")
	require.NoError(t, err)

	trigger, err := h.svc.EvaluateGlobalTrigger(ctx, "owner-1")
	require.NoError(t, err)

	h.rm.triggers.triggers[trigger.ID].TriggeredAt = time.Now().Add(-31 * 24 * time.Hour)

	_, err = h.svc.VerifyTrigger(ctx, trigger.ID, "contact-1")
	require.True(t, errors.Is(err, common.ErrExpired))
	require.Equal(t, models.TriggerFailed, h.rm.triggers.triggers[trigger.ID].Status)
}

func TestVerifyTrigger_NotRequired(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	trigger, err := h.svc.FireManual(ctx, "owner-1")
	require.NoError(t, err)

	_, err = h.svc.VerifyTrigger(ctx, trigger.ID, "anyone")
	require.True(t, errors.Is(err, common.ErrValidation))
}

func TestCancelTrigger(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	trigger, err := h.svc.FireManual(ctx, "owner-1")
	require.NoError(t, err)

	cancelled, err := h.svc.CancelTrigger(ctx, trigger.ID, "owner-1")
	require.NoError(t, err)
	require.Equal(t, models.TriggerCancelled, cancelled.Status)
	require.True(t, cancelled.CancelledAt.Valid)

	// Cancelling again conflicts; a stranger sees not-found.
	_, err = h.svc.CancelTrigger(ctx, trigger.ID, "owner-1")
	require.True(t, errors.Is(err, common.ErrStateConflict))
	_, err = h.svc.CancelTrigger(ctx, trigger.ID, "owner-2")
	require.True(t, errors.Is(err, common.ErrNotFound))
}

func TestCompleteTrigger_ManualFullFlow(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	h.rm.plans.plans["plan-1"] = &models.InheritancePlan{
		ID: "plan-1", OwnerID: "owner-1", PlanType: models.PlanViewOnly, IsActive: true,
	}
	h.rm.plans.links = []*plans.PlanLink{
		{PlanID: "plan-1", PlanType: models.PlanViewOnly, HeirID: "heir-1",
			HeirStatus: models.InvitationAccepted, VaultID: "vault-1", VaultCategory: models.VaultShareAfterDeath},
	}

	trigger, err := h.svc.FireManual(ctx, "owner-1")
	require.NoError(t, err)

	h.mock.ExpectBegin()
	h.mock.ExpectCommit()

	completed, err := h.svc.CompleteTrigger(ctx, trigger.ID)
	require.NoError(t, err)
	require.Equal(t, models.TriggerCompleted, completed.Status)
	require.True(t, completed.CompletedAt.Valid)

	require.True(t, h.rm.plans.plans["plan-1"].IsTriggered)

	grant, ok := h.rm.access.grants["heir-1/vault-1"]
	require.True(t, ok)
	require.True(t, grant.CanView)
	require.False(t, grant.CanExport)
	require.False(t, grant.CanEdit)
}

func TestCompleteTrigger_PendingVerificationRequired(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	_, err := h.svc.SetGlobalTrigger(ctx, "owner-1", models.MethodTrustedContact, nil)
	require.NoError(t, err)
	_, err = h.svc.SubmitVerification(ctx, "owner-1", models.MethodTrustedContact, "c1", "")
	require.NoError(t, err)
	trigger, err := h.svc.EvaluateGlobalTrigger(ctx, "owner-1")
	require.NoError(t, err)

	_, err = h.svc.CompleteTrigger(ctx, trigger.ID)
	require.True(t, errors.Is(err, common.ErrStateConflict))
	require.Equal(t, models.TriggerPending, h.rm.triggers.triggers[trigger.ID].Status)
}

func TestCompleteTrigger_RerunOnlyRepeatsFanOut(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	h.rm.plans.plans["plan-1"] = &models.InheritancePlan{
		ID: "plan-1", OwnerID: "owner-1", PlanType: models.PlanFullAccess, IsActive: true,
	}
	h.rm.plans.links = []*plans.PlanLink{
		{PlanID: "plan-1", PlanType: models.PlanFullAccess, HeirID: "heir-1",
			HeirStatus: models.InvitationAccepted, VaultID: "vault-1", VaultCategory: models.VaultShareAfterDeath},
	}

	trigger, err := h.svc.FireManual(ctx, "owner-1")
	require.NoError(t, err)

	h.mock.ExpectBegin()
	h.mock.ExpectCommit()
	_, err = h.svc.CompleteTrigger(ctx, trigger.ID)
	require.NoError(t, err)

	firstGrantedAt := h.rm.access.grants["heir-1/vault-1"].GrantedAt

	// Second invocation: no new transaction, identical grant key.
	again, err := h.svc.CompleteTrigger(ctx, trigger.ID)
	require.NoError(t, err)
	require.Equal(t, models.TriggerCompleted, again.Status)
	require.Len(t, h.rm.access.grants, 1)
	require.False(t, h.rm.access.grants["heir-1/vault-1"].GrantedAt.Before(firstGrantedAt))
}

func TestCompleteTrigger_CancelledConflicts(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	trigger, err := h.svc.FireManual(ctx, "owner-1")
	require.NoError(t, err)
	_, err = h.svc.CancelTrigger(ctx, trigger.ID, "owner-1")
	require.NoError(t, err)

	_, err = h.svc.CompleteTrigger(ctx, trigger.ID)
	require.True(t, errors.Is(err, common.ErrStateConflict))
}

func TestFailOverdueTriggers(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	_, err := h.svc.SetGlobalTrigger(ctx, "owner-1", models.MethodTrustedContact, nil)
	require.NoError(t, err)
	_, err = h.svc.SubmitVerification(ctx, "owner-1", models.MethodTrustedContact, "c1", "")
	require.NoError(t, err)
	trigger, err := h.svc.EvaluateGlobalTrigger(ctx, "owner-1")
	require.NoError(t, err)

	h.rm.triggers.triggers[trigger.ID].TriggeredAt = time.Now().Add(-31 * 24 * time.Hour)

	n, err := h.svc.FailOverdueTriggers(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Equal(t, models.TriggerFailed, h.rm.triggers.triggers[trigger.ID].Status)
}

func TestEvaluateAll(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	h.addUser("owner-1", time.Now().Add(-100*24*time.Hour))
	h.addUser("owner-2", time.Now())

	_, err := h.svc.SetGlobalTrigger(ctx, "owner-1", models.MethodInactivity, nil)
	require.NoError(t, err)
	_, err = h.svc.SetGlobalTrigger(ctx, "owner-2", models.MethodInactivity, nil)
	require.NoError(t, err)

	fired, err := h.svc.EvaluateAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, fired)
}

func TestCompleteEligible_AdvancesUnverifiedPending(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	trigger, err := h.svc.FireManual(ctx, "owner-1")
	require.NoError(t, err)

	h.mock.ExpectBegin()
	h.mock.ExpectCommit()

	n, err := h.svc.CompleteEligible(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, models.TriggerCompleted, h.rm.triggers.triggers[trigger.ID].Status)
}

func TestCompleteEligible_SkipsVerificationGated(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	_, err := h.svc.SetGlobalTrigger(ctx, "owner-1", models.MethodTrustedContact, nil)
	require.NoError(t, err)
	_, err = h.svc.SubmitVerification(ctx, "owner-1", models.MethodTrustedContact, "c1", "")
	require.NoError(t, err)
	trigger, err := h.svc.EvaluateGlobalTrigger(ctx, "owner-1")
	require.NoError(t, err)

	n, err := h.svc.CompleteEligible(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, models.TriggerPending, h.rm.triggers.triggers[trigger.ID].Status)
}

func TestEvaluateGlobalTrigger_NeverRefiresAfterCompletion(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	past := time.Now().Add(-24 * time.Hour).Format("2006-01-02")
	_, err := h.svc.SetGlobalTrigger(ctx, "owner-1", models.MethodScheduledDate, []byte(`{"scheduled_date":"`+past+`"}`))
	require.NoError(t, err)

	trigger, err := h.svc.EvaluateGlobalTrigger(ctx, "owner-1")
	require.NoError(t, err)
	require.NotNil(t, trigger)

	h.mock.ExpectBegin()
	h.mock.ExpectCommit()
	_, err = h.svc.CompleteTrigger(ctx, trigger.ID)
	require.NoError(t, err)

	// The date stays past, but the executed inheritance is final.
	again, err := h.svc.EvaluateGlobalTrigger(ctx, "owner-1")
	require.NoError(t, err)
	require.Nil(t, again)
	require.Len(t, h.rm.triggers.triggers, 1)
}

func TestGetTrigger_OwnerScoped(t *testing.T) {
	h := newTriggerHarness(t)
	ctx := context.Background()

	trigger, err := h.svc.FireManual(ctx, "owner-1")
	require.NoError(t, err)

	got, err := h.svc.GetTrigger(ctx, trigger.ID, "owner-1")
	require.NoError(t, err)
	require.Equal(t, trigger.ID, got.ID)

	_, err = h.svc.GetTrigger(ctx, trigger.ID, "owner-2")
	require.True(t, errors.Is(err, common.ErrNotFound))
}
