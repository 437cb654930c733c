package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/everkeep/everkeep/internal/common"
	"github.com/everkeep/everkeep/internal/server/models"
	"github.com/everkeep/everkeep/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// decode unmarshals and validates a request body. Validation failures are
// reported as common.ErrValidation so the error renderer maps them to 400.
func (s *Server) decode(r *http.Request, dst any) error {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		return fmt.Errorf("%w: malformed request body", common.ErrValidation)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", common.ErrValidation, err)
	}
	return nil
}

// ---- auth ----

type registerRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Salt        string `json:"salt" validate:"required,base64"`
	Verifier    string `json:"verifier" validate:"required,base64"`
	PublicKeyID string `json:"public_key_id" validate:"required"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := s.decode(r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	salt, _ := base64.StdEncoding.DecodeString(req.Salt)
	verifier, _ := base64.StdEncoding.DecodeString(req.Verifier)

	user, err := s.users.Register(r.Context(), req.Email, salt, verifier, req.PublicKeyID)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]string{"id": user.ID, "email": user.Email})
}

type saltRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (s *Server) handleGetSalt(w http.ResponseWriter, r *http.Request) {
	var req saltRequest
	if err := s.decode(r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	salt, err := s.users.GetSalt(r.Context(), req.Email)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"salt": base64.StdEncoding.EncodeToString(salt)})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Verifier string `json:"verifier" validate:"required,base64"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decode(r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	verifier, _ := base64.StdEncoding.DecodeString(req.Verifier)

	pair, err := s.users.Login(r.Context(), req.Email, verifier)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := s.decode(r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	pair, err := s.users.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

// ---- invitations / heirs ----

type heirResponse struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Relationship     string     `json:"relationship,omitempty"`
	AccessLevel      string     `json:"access_level"`
	InvitationCode   string     `json:"invitation_code,omitempty"`
	InvitationStatus string     `json:"invitation_status"`
	ExpiresAt        time.Time  `json:"expires_at"`
	HasAccepted      bool       `json:"has_accepted"`
	AcceptedAt       *time.Time `json:"accepted_at,omitempty"`
	IsActive         bool       `json:"is_active"`
}

func toHeirResponse(h *models.Heir) heirResponse {
	resp := heirResponse{
		ID:               h.ID,
		Name:             h.Name,
		Relationship:     h.Relationship,
		AccessLevel:      string(h.AccessLevel),
		InvitationCode:   h.InvitationCode,
		InvitationStatus: string(h.InvitationStatus),
		ExpiresAt:        h.InvitationExpiresAt,
		HasAccepted:      h.HasAccepted,
		IsActive:         h.IsActive,
	}
	if h.AcceptedAt.Valid {
		t := h.AcceptedAt.Time
		resp.AcceptedAt = &t
	}
	return resp
}

type createHeirRequest struct {
	Name         string `json:"name" validate:"required"`
	Relationship string `json:"relationship"`
	AccessLevel  string `json:"access_level" validate:"required,oneof=full partial view"`
}

func (s *Server) handleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	var req createHeirRequest
	if err := s.decode(r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	heir, err := s.invitations.CreateInvitation(r.Context(), UserIDFromContext(r.Context()), services.CreateHeirRequest{
		Name:         req.Name,
		Relationship: req.Relationship,
		AccessLevel:  models.AccessLevel(req.AccessLevel),
	})
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toHeirResponse(heir))
}

func (s *Server) handleListHeirs(w http.ResponseWriter, r *http.Request) {
	heirs, err := s.invitations.ListHeirs(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		renderError(w, r, err)
		return
	}
	resp := make([]heirResponse, 0, len(heirs))
	for _, h := range heirs {
		resp = append(resp, toHeirResponse(h))
	}
	render.JSON(w, r, resp)
}

type codeRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

func (s *Server) handleValidateCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := s.decode(r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	result, err := s.invitations.ValidateCode(r.Context(), req.Code)
	if err != nil {
		renderError(w, r, err)
		return
	}
	resp := map[string]any{"valid": result.Valid}
	if result.Valid {
		resp["owner_id"] = result.Heir.OwnerID
		resp["heir_name"] = result.Heir.Name
		resp["access_level"] = string(result.Heir.AccessLevel)
	} else {
		resp["reason"] = result.Reason
	}
	render.JSON(w, r, resp)
}

type acceptInvitationRequest struct {
	Code         string `json:"code" validate:"required,len=6"`
	BoxPublicKey string `json:"box_public_key" validate:"required,base64"`
}

func (s *Server) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req acceptInvitationRequest
	if err := s.decode(r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	key, _ := base64.StdEncoding.DecodeString(req.BoxPublicKey)

	heir, err := s.invitations.AcceptInvitation(r.Context(), UserIDFromContext(r.Context()), req.Code, key)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, toHeirResponse(heir))
}

func (s *Server) handleRejectInvitation(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := s.decode(r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	heir, err := s.invitations.RejectInvitation(r.Context(), req.Code)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, toHeirResponse(heir))
}

func (s *Server) handleCancelInvitation(w http.ResponseWriter, r *http.Request) {
	heirID := chi.URLParam(r, "heirID")
	if err := s.invitations.CancelInvitation(r.Context(), UserIDFromContext(r.Context()), heirID); err != nil {
		renderError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

func (s *Server) handleListHeirAccess(w http.ResponseWriter, r *http.Request) {
	heirID := chi.URLParam(r, "heirID")
	rows, err := s.access.ListHeirAccess(r.Context(), UserIDFromContext(r.Context()), heirID)
	if err != nil {
		renderError(w, r, err)
		return
	}
	type accessRow struct {
		VaultID   string    `json:"vault_id"`
		CanView   bool      `json:"can_view"`
		CanExport bool      `json:"can_export"`
		CanEdit   bool      `json:"can_edit"`
		GrantedAt time.Time `json:"granted_at"`
	}
	resp := make([]accessRow, 0, len(rows))
	for _, a := range rows {
		resp = append(resp, accessRow{a.VaultID, a.CanView, a.CanExport, a.CanEdit, a.GrantedAt})
	}
	render.JSON(w, r, resp)
}

// ---- vaults ----

type createVaultRequest struct {
	Name     string `json:"name" validate:"required"`
	Category string `json:"category" validate:"required,oneof=share_after_death handle_after_death delete_after_death sign_off_after_death"`
}

type vaultResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleCreateVault(w http.ResponseWriter, r *http.Request) {
	var req createVaultRequest
	if err := s.decode(r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	v, err := s.vaults.CreateVault(r.Context(), UserIDFromContext(r.Context()), req.Name, models.VaultCategory(req.Category))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, vaultResponse{v.ID, v.Name, string(v.Category), v.CreatedAt})
}

func (s *Server) handleListVaults(w http.ResponseWriter, r *http.Request) {
	vaults, err := s.vaults.ListVaults(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		renderError(w, r, err)
		return
	}
	resp := make([]vaultResponse, 0, len(vaults))
	for _, v := range vaults {
		resp = append(resp, vaultResponse{v.ID, v.Name, string(v.Category), v.CreatedAt})
	}
	render.JSON(w, r, resp)
}

type addItemRequest struct {
	Name       string `json:"name" validate:"required"`
	Envelope   string `json:"envelope" validate:"required"`
	StorageKey string `json:"storage_key"`
}

type itemResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Envelope   string    `json:"envelope"`
	StorageKey string    `json:"storage_key,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Server) handleAddVaultItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := s.decode(r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	item, err := s.vaults.AddItem(r.Context(), UserIDFromContext(r.Context()),
		chi.URLParam(r, "vaultID"), req.Name, req.Envelope, req.StorageKey)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, itemResponse{item.ID, item.Name, item.Envelope, item.StorageKey, item.CreatedAt})
}

func (s *Server) handleListVaultItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.vaults.ListItems(r.Context(), UserIDFromContext(r.Context()), chi.URLParam(r, "vaultID"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	resp := make([]itemResponse, 0, len(items))
	for _, it := range items {
		resp = append(resp, itemResponse{it.ID, it.Name, it.Envelope, it.StorageKey, it.CreatedAt})
	}
	render.JSON(w, r, resp)
}

func (s *Server) handlePresignPut(w http.ResponseWriter, r *http.Request) {
	key, url, err := s.vaults.GetPresignedPutURL(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"url": url, "key": key})
}

type presignGetRequest struct {
	Key string `json:"key" validate:"required"`
}

func (s *Server) handlePresignGet(w http.ResponseWriter, r *http.Request) {
	var req presignGetRequest
	if err := s.decode(r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	url, err := s.vaults.GetPresignedGetURL(r.Context(), UserIDFromContext(r.Context()), req.Key)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"url": url})
}

// ---- plans ----

type createPlanRequest struct {
	Name             string `json:"name" validate:"required"`
	PlanType         string `json:"plan_type" validate:"required,oneof=full_access partial_access view_only destroy"`
	ActivationMethod string `json:"activation_method" validate:"required,oneof=manual_trigger scheduled_date inactivity trusted_contact death_certificate heir_notification"`
}

type planResponse struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	PlanType         string    `json:"plan_type"`
	ActivationMethod string    `json:"activation_method"`
	IsActive         bool      `json:"is_active"`
	IsTriggered      bool      `json:"is_triggered"`
	CreatedAt        time.Time `json:"created_at"`
}

func toPlanResponse(p *models.InheritancePlan) planResponse {
	return planResponse{
		ID:               p.ID,
		Name:             p.PlanName,
		PlanType:         string(p.PlanType),
		ActivationMethod: string(p.ActivationMethod),
		IsActive:         p.IsActive,
		IsTriggered:      p.IsTriggered,
		CreatedAt:        p.CreatedAt,
	}
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := s.decode(r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	plan, err := s.plans.CreatePlan(r.Context(), UserIDFromContext(r.Context()), req.Name,
		models.PlanType(req.PlanType), models.TriggerMethod(req.ActivationMethod))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toPlanResponse(plan))
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.plans.ListPlans(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		renderError(w, r, err)
		return
	}
	resp := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		resp = append(resp, toPlanResponse(p))
	}
	render.JSON(w, r, resp)
}

func (s *Server) handleLinkHeir(w http.ResponseWriter, r *http.Request) {
	err := s.plans.LinkHeir(r.Context(), UserIDFromContext(r.Context()),
		chi.URLParam(r, "planID"), chi.URLParam(r, "heirID"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

func (s *Server) handleLinkVault(w http.ResponseWriter, r *http.Request) {
	err := s.plans.LinkVault(r.Context(), UserIDFromContext(r.Context()),
		chi.URLParam(r, "planID"), chi.URLParam(r, "vaultID"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (s *Server) handleSetPlanActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := s.decode(r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	err := s.plans.SetActive(r.Context(), UserIDFromContext(r.Context()), chi.URLParam(r, "planID"), *req.Active)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

// ---- triggers ----

type setTriggerRequest struct {
	Method   string          `json:"method" validate:"required,oneof=manual_trigger scheduled_date inactivity trusted_contact death_certificate heir_notification"`
	Settings json.RawMessage `json:"settings"`
}

type triggerSettingResponse struct {
	Method    string          `json:"method"`
	Settings  json.RawMessage `json:"settings,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (s *Server) handleSetGlobalTrigger(w http.ResponseWriter, r *http.Request) {
	var req setTriggerRequest
	if err := s.decode(r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	setting, err := s.triggers.SetGlobalTrigger(r.Context(), UserIDFromContext(r.Context()),
		models.TriggerMethod(req.Method), req.Settings)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, triggerSettingResponse{string(setting.Method), setting.Settings, setting.UpdatedAt})
}

func (s *Server) handleGetGlobalTrigger(w http.ResponseWriter, r *http.Request) {
	setting, err := s.triggers.GetGlobalTrigger(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, triggerSettingResponse{string(setting.Method), setting.Settings, setting.UpdatedAt})
}

func (s *Server) handleRecordActivity(w http.ResponseWriter, r *http.Request) {
	if err := s.triggers.RecordActivity(r.Context(), UserIDFromContext(r.Context())); err != nil {
		renderError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

type submitVerificationRequest struct {
	Kind      string `json:"kind" validate:"required,oneof=trusted_contact death_certificate heir_notification"`
	OwnerID   string `json:"owner_id" validate:"required"`
	Reference string `json:"reference"`
}

func (s *Server) handleSubmitVerification(w http.ResponseWriter, r *http.Request) {
	var req submitVerificationRequest
	if err := s.decode(r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	rec, err := s.triggers.SubmitVerification(r.Context(), req.OwnerID,
		models.TriggerMethod(req.Kind), UserIDFromContext(r.Context()), req.Reference)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]string{"id": rec.ID})
}

type triggerResponse struct {
	ID                   string     `json:"id"`
	OwnerID              string     `json:"owner_id"`
	Status               string     `json:"status"`
	TriggerReason        string     `json:"trigger_reason,omitempty"`
	RequiresVerification bool       `json:"requires_verification"`
	TriggeredAt          time.Time  `json:"triggered_at"`
	VerifiedAt           *time.Time `json:"verified_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	CancelledAt          *time.Time `json:"cancelled_at,omitempty"`
}

func toTriggerResponse(t *models.InheritanceTrigger) triggerResponse {
	resp := triggerResponse{
		ID:                   t.ID,
		OwnerID:              t.OwnerID,
		Status:               string(t.Status),
		TriggerReason:        t.TriggerReason,
		RequiresVerification: t.RequiresVerification,
		TriggeredAt:          t.TriggeredAt,
	}
	if t.VerifiedAt.Valid {
		v := t.VerifiedAt.Time
		resp.VerifiedAt = &v
	}
	if t.CompletedAt.Valid {
		v := t.CompletedAt.Time
		resp.CompletedAt = &v
	}
	if t.CancelledAt.Valid {
		v := t.CancelledAt.Time
		resp.CancelledAt = &v
	}
	return resp
}

func (s *Server) handleEvaluateTrigger(w http.ResponseWriter, r *http.Request) {
	trigger, err := s.triggers.EvaluateGlobalTrigger(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		renderError(w, r, err)
		return
	}
	if trigger == nil {
		render.JSON(w, r, map[string]any{"fired": false})
		return
	}
	render.JSON(w, r, toTriggerResponse(trigger))
}

func (s *Server) handleFireManual(w http.ResponseWriter, r *http.Request) {
	trigger, err := s.triggers.FireManual(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toTriggerResponse(trigger))
}

func (s *Server) handleGetTrigger(w http.ResponseWriter, r *http.Request) {
	trigger, err := s.triggers.GetTrigger(r.Context(), chi.URLParam(r, "triggerID"), UserIDFromContext(r.Context()))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, toTriggerResponse(trigger))
}

func (s *Server) handleVerifyTrigger(w http.ResponseWriter, r *http.Request) {
	trigger, err := s.triggers.VerifyTrigger(r.Context(), chi.URLParam(r, "triggerID"), UserIDFromContext(r.Context()))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, toTriggerResponse(trigger))
}

func (s *Server) handleCancelTrigger(w http.ResponseWriter, r *http.Request) {
	trigger, err := s.triggers.CancelTrigger(r.Context(), chi.URLParam(r, "triggerID"), UserIDFromContext(r.Context()))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, toTriggerResponse(trigger))
}

func (s *Server) handleCompleteTrigger(w http.ResponseWriter, r *http.Request) {
	triggerID := chi.URLParam(r, "triggerID")
	// Only the owner may force completion; the scheduler advances everyone
	// else's triggers.
	if _, err := s.triggers.GetTrigger(r.Context(), triggerID, UserIDFromContext(r.Context())); err != nil {
		renderError(w, r, err)
		return
	}
	trigger, err := s.triggers.CompleteTrigger(r.Context(), triggerID)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, toTriggerResponse(trigger))
}

// ---- maintenance ----

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.sweep.Run(r.Context())
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, report)
}
