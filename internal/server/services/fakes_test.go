package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/everkeep/everkeep/internal/common"
	"github.com/everkeep/everkeep/internal/dbx"
	"github.com/everkeep/everkeep/internal/server/models"
	accessrepo "github.com/everkeep/everkeep/internal/server/repositories/access"
	heirsrepo "github.com/everkeep/everkeep/internal/server/repositories/heirs"
	plansrepo "github.com/everkeep/everkeep/internal/server/repositories/plans"
	refreshtokensrepo "github.com/everkeep/everkeep/internal/server/repositories/refreshtokens"
	settingsrepo "github.com/everkeep/everkeep/internal/server/repositories/settings"
	triggersrepo "github.com/everkeep/everkeep/internal/server/repositories/triggers"
	usersrepo "github.com/everkeep/everkeep/internal/server/repositories/users"
	vaultsrepo "github.com/everkeep/everkeep/internal/server/repositories/vaults"
	verificationsrepo "github.com/everkeep/everkeep/internal/server/repositories/verifications"
)

// In-memory fakes mirroring the conditional-write contracts of the Postgres
// repositories. Transactions flatten to direct calls; the fakes preserve the
// zero-rows semantics the services branch on.

// --- heirs ---

type fakeHeirsRepo struct {
	mu    sync.Mutex
	seq   int
	heirs map[string]*models.Heir

	createErr error
}

func newFakeHeirsRepo() *fakeHeirsRepo {
	return &fakeHeirsRepo{heirs: make(map[string]*models.Heir)}
}

func (f *fakeHeirsRepo) Create(ctx context.Context, heir *models.Heir) (*models.Heir, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	stored := *heir
	stored.ID = fmt.Sprintf("heir-%d", f.seq)
	stored.InvitationStatus = models.InvitationPending
	stored.CreatedAt = time.Now()
	f.heirs[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (f *fakeHeirsRepo) GetByID(ctx context.Context, id string) (*models.Heir, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.heirs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	out := *h
	return &out, nil
}

func (f *fakeHeirsRepo) GetByCode(ctx context.Context, code string) (*models.Heir, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.heirs {
		if h.InvitationCode == code {
			out := *h
			return &out, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeHeirsRepo) CodeExists(ctx context.Context, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.heirs {
		if h.InvitationCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeHeirsRepo) ListByOwner(ctx context.Context, ownerID string) ([]*models.Heir, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Heir
	for _, h := range f.heirs {
		if h.OwnerID == ownerID {
			c := *h
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeHeirsRepo) Accept(ctx context.Context, code, heirUserID string, boxPublicKey []byte) (*models.Heir, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.heirs {
		if h.InvitationCode == code && h.InvitationStatus == models.InvitationPending && h.InvitationExpiresAt.After(time.Now()) {
			h.InvitationStatus = models.InvitationAccepted
			h.HeirUserID = sql.NullString{String: heirUserID, Valid: true}
			h.BoxPublicKey = boxPublicKey
			h.HasAccepted = true
			h.AcceptedAt = sql.NullTime{Time: time.Now(), Valid: true}
			h.IsActive = true
			out := *h
			return &out, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeHeirsRepo) Reject(ctx context.Context, code string) (*models.Heir, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.heirs {
		if h.InvitationCode == code && h.InvitationStatus == models.InvitationPending && h.InvitationExpiresAt.After(time.Now()) {
			h.InvitationStatus = models.InvitationRejected
			out := *h
			return &out, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeHeirsRepo) ExpireOverdue(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, h := range f.heirs {
		if h.InvitationStatus == models.InvitationPending && !h.InvitationExpiresAt.After(time.Now()) {
			h.InvitationStatus = models.InvitationExpired
			n++
		}
	}
	return n, nil
}

func (f *fakeHeirsRepo) DeletePending(ctx context.Context, ownerID, heirID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.heirs[heirID]
	if !ok || h.OwnerID != ownerID || h.InvitationStatus != models.InvitationPending {
		return 0, nil
	}
	delete(f.heirs, heirID)
	return 1, nil
}

// --- triggers ---

type fakeTriggersRepo struct {
	mu       sync.Mutex
	seq      int
	triggers map[string]*models.InheritanceTrigger
}

func newFakeTriggersRepo() *fakeTriggersRepo {
	return &fakeTriggersRepo{triggers: make(map[string]*models.InheritanceTrigger)}
}

func (f *fakeTriggersRepo) CreateIfNone(ctx context.Context, trigger *models.InheritanceTrigger) (*models.InheritanceTrigger, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.triggers {
		if t.OwnerID == trigger.OwnerID && !t.Status.Terminal() {
			return nil, false, nil
		}
	}
	f.seq++
	stored := *trigger
	stored.ID = fmt.Sprintf("trg-%d", f.seq)
	stored.Status = models.TriggerPending
	stored.TriggeredAt = time.Now()
	f.triggers[stored.ID] = &stored
	out := stored
	return &out, true, nil
}

func (f *fakeTriggersRepo) GetByID(ctx context.Context, id string) (*models.InheritanceTrigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.triggers[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	out := *t
	return &out, nil
}

func (f *fakeTriggersRepo) GetLiveByOwner(ctx context.Context, ownerID string) (*models.InheritanceTrigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.triggers {
		if t.OwnerID == ownerID && !t.Status.Terminal() {
			out := *t
			return &out, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeTriggersRepo) HasCompleted(ctx context.Context, ownerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.triggers {
		if t.OwnerID == ownerID && t.Status == models.TriggerCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTriggersRepo) ListCompletable(ctx context.Context) ([]*models.InheritanceTrigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.InheritanceTrigger
	for _, t := range f.triggers {
		if t.Status == models.TriggerProcessing || (t.Status == models.TriggerPending && !t.RequiresVerification) {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeTriggersRepo) MarkProcessing(ctx context.Context, id string) (int64, error) {
	return f.transition(id, models.TriggerPending, models.TriggerProcessing)
}

func (f *fakeTriggersRepo) MarkProcessingUnverified(ctx context.Context, id string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.triggers[id]
	if !ok || t.Status != models.TriggerPending || t.RequiresVerification {
		return 0, nil
	}
	t.Status = models.TriggerProcessing
	return 1, nil
}

func (f *fakeTriggersRepo) MarkCompleted(ctx context.Context, id string) (int64, error) {
	n, err := f.transition(id, models.TriggerProcessing, models.TriggerCompleted)
	if n == 1 {
		f.mu.Lock()
		f.triggers[id].CompletedAt = sql.NullTime{Time: time.Now(), Valid: true}
		f.mu.Unlock()
	}
	return n, err
}

func (f *fakeTriggersRepo) MarkCancelled(ctx context.Context, id, ownerID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.triggers[id]
	if !ok || t.OwnerID != ownerID || t.Status.Terminal() {
		return 0, nil
	}
	t.Status = models.TriggerCancelled
	t.CancelledAt = sql.NullTime{Time: time.Now(), Valid: true}
	return 1, nil
}

func (f *fakeTriggersRepo) FailOverdue(ctx context.Context, window time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, t := range f.triggers {
		if t.Status == models.TriggerPending && t.RequiresVerification && time.Since(t.TriggeredAt) > window {
			t.Status = models.TriggerFailed
			n++
		}
	}
	return n, nil
}

func (f *fakeTriggersRepo) transition(id string, from, to models.TriggerStatus) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.triggers[id]
	if !ok || t.Status != from {
		return 0, nil
	}
	t.Status = to
	return 1, nil
}

// --- plans ---

type fakePlansRepo struct {
	mu    sync.Mutex
	seq   int
	plans map[string]*models.InheritancePlan
	links []*plansrepo.PlanLink
}

func newFakePlansRepo() *fakePlansRepo {
	return &fakePlansRepo{plans: make(map[string]*models.InheritancePlan)}
}

func (f *fakePlansRepo) Create(ctx context.Context, plan *models.InheritancePlan) (*models.InheritancePlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	stored := *plan
	stored.ID = fmt.Sprintf("plan-%d", f.seq)
	stored.IsActive = true
	f.plans[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (f *fakePlansRepo) GetByID(ctx context.Context, id string) (*models.InheritancePlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plans[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (f *fakePlansRepo) ListByOwner(ctx context.Context, ownerID string) ([]*models.InheritancePlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.InheritancePlan
	for _, p := range f.plans {
		if p.OwnerID == ownerID {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakePlansRepo) LinkHeir(ctx context.Context, planID, heirID string) error  { return nil }
func (f *fakePlansRepo) LinkVault(ctx context.Context, planID, vaultID string) error { return nil }

func (f *fakePlansRepo) SetActive(ctx context.Context, ownerID, planID string, active bool) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plans[planID]
	if !ok || p.OwnerID != ownerID {
		return 0, nil
	}
	p.IsActive = active
	return 1, nil
}

func (f *fakePlansRepo) MarkTriggeredByOwner(ctx context.Context, ownerID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, p := range f.plans {
		if p.OwnerID == ownerID && p.IsActive && !p.IsTriggered {
			p.IsTriggered = true
			n++
		}
	}
	return n, nil
}

func (f *fakePlansRepo) ListActiveLinks(ctx context.Context, ownerID string) ([]*plansrepo.PlanLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*plansrepo.PlanLink, len(f.links))
	copy(out, f.links)
	return out, nil
}

// --- access ---

type fakeAccessRepo struct {
	mu        sync.Mutex
	grants    map[string]*models.HeirVaultAccess
	deletions map[string]string // vaultID -> triggerID

	upsertErr error
}

func newFakeAccessRepo() *fakeAccessRepo {
	return &fakeAccessRepo{
		grants:    make(map[string]*models.HeirVaultAccess),
		deletions: make(map[string]string),
	}
}

func (f *fakeAccessRepo) Upsert(ctx context.Context, grant *models.HeirVaultAccess) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *grant
	stored.GrantedAt = time.Now()
	f.grants[grant.HeirID+"/"+grant.VaultID] = &stored
	return nil
}

func (f *fakeAccessRepo) ListByHeir(ctx context.Context, heirID string) ([]*models.HeirVaultAccess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.HeirVaultAccess
	for _, g := range f.grants {
		if g.HeirID == heirID {
			c := *g
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeAccessRepo) ListByVault(ctx context.Context, vaultID string) ([]*models.HeirVaultAccess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.HeirVaultAccess
	for _, g := range f.grants {
		if g.VaultID == vaultID {
			c := *g
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeAccessRepo) EnqueueDeletion(ctx context.Context, vaultID, triggerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.deletions[vaultID]; !ok {
		f.deletions[vaultID] = triggerID
	}
	return nil
}

// --- verifications ---

type fakeVerificationsRepo struct {
	mu   sync.Mutex
	seq  int
	recs map[string]*models.VerificationRecord
}

func newFakeVerificationsRepo() *fakeVerificationsRepo {
	return &fakeVerificationsRepo{recs: make(map[string]*models.VerificationRecord)}
}

func (f *fakeVerificationsRepo) Create(ctx context.Context, rec *models.VerificationRecord) (*models.VerificationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	stored := *rec
	stored.ID = fmt.Sprintf("ver-%d", f.seq)
	stored.CreatedAt = time.Now()
	f.recs[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (f *fakeVerificationsRepo) FindUnconsumed(ctx context.Context, ownerID string, kind models.TriggerMethod) (*models.VerificationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var oldest *models.VerificationRecord
	for _, r := range f.recs {
		if r.OwnerID == ownerID && r.Kind == kind && !r.Consumed {
			if oldest == nil || r.CreatedAt.Before(oldest.CreatedAt) {
				oldest = r
			}
		}
	}
	if oldest == nil {
		return nil, common.ErrNotFound
	}
	out := *oldest
	return &out, nil
}

func (f *fakeVerificationsRepo) Consume(ctx context.Context, id string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[id]
	if !ok || r.Consumed {
		return 0, nil
	}
	r.Consumed = true
	return 1, nil
}

// --- settings ---

type fakeSettingsRepo struct {
	mu       sync.Mutex
	settings map[string]*models.GlobalTriggerSetting
}

func newFakeSettingsRepo() *fakeSettingsRepo {
	return &fakeSettingsRepo{settings: make(map[string]*models.GlobalTriggerSetting)}
}

func (f *fakeSettingsRepo) Upsert(ctx context.Context, setting *models.GlobalTriggerSetting) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *setting
	stored.UpdatedAt = time.Now()
	f.settings[setting.OwnerID] = &stored
	return nil
}

func (f *fakeSettingsRepo) Get(ctx context.Context, ownerID string) (*models.GlobalTriggerSetting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.settings[ownerID]
	if !ok {
		return nil, common.ErrNotFound
	}
	out := *s
	return &out, nil
}

func (f *fakeSettingsRepo) ListAll(ctx context.Context) ([]*models.GlobalTriggerSetting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.GlobalTriggerSetting
	for _, s := range f.settings {
		c := *s
		out = append(out, &c)
	}
	return out, nil
}

// --- users ---

type fakeUsersRepo struct {
	mu    sync.Mutex
	seq   int
	users map[string]*models.User
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{users: make(map[string]*models.User)}
}

func (f *fakeUsersRepo) Create(ctx context.Context, user *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return nil, common.ErrStateConflict
		}
	}
	f.seq++
	stored := *user
	stored.ID = fmt.Sprintf("user-%d", f.seq)
	stored.LastActivityAt = time.Now()
	f.users[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (f *fakeUsersRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (f *fakeUsersRepo) TouchActivity(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.LastActivityAt = time.Now()
	}
	return nil
}

func (f *fakeUsersRepo) SetPublicKeyID(ctx context.Context, id, publicKeyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.PublicKeyID = publicKeyID
	}
	return nil
}

// --- refresh tokens ---

type fakeRefreshRepo struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
}

func newFakeRefreshRepo() *fakeRefreshRepo {
	return &fakeRefreshRepo{tokens: make(map[string]*models.RefreshToken)}
}

func (f *fakeRefreshRepo) Create(ctx context.Context, userID string, token string, validity time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[token] = &models.RefreshToken{UserID: userID, Token: token, Expires: time.Now().Add(validity)}
	return nil
}

func (f *fakeRefreshRepo) Find(ctx context.Context, token string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[token]
	if !ok {
		return nil, common.ErrNotFound
	}
	out := *t
	return &out, nil
}

func (f *fakeRefreshRepo) Delete(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, token)
	return nil
}

// --- vaults ---

type fakeVaultsRepo struct {
	mu     sync.Mutex
	seq    int
	vaults map[string]*models.Vault
	items  map[string][]*models.VaultItem
}

func newFakeVaultsRepo() *fakeVaultsRepo {
	return &fakeVaultsRepo{
		vaults: make(map[string]*models.Vault),
		items:  make(map[string][]*models.VaultItem),
	}
}

func (f *fakeVaultsRepo) Create(ctx context.Context, vault *models.Vault) (*models.Vault, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	stored := *vault
	stored.ID = fmt.Sprintf("vault-%d", f.seq)
	f.vaults[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (f *fakeVaultsRepo) GetByID(ctx context.Context, id string) (*models.Vault, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vaults[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	out := *v
	return &out, nil
}

func (f *fakeVaultsRepo) ListByOwner(ctx context.Context, ownerID string) ([]*models.Vault, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Vault
	for _, v := range f.vaults {
		if v.OwnerID == ownerID {
			c := *v
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeVaultsRepo) AddItem(ctx context.Context, item *models.VaultItem) (*models.VaultItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	stored := *item
	stored.ID = fmt.Sprintf("item-%d", f.seq)
	f.items[item.VaultID] = append(f.items[item.VaultID], &stored)
	out := stored
	return &out, nil
}

func (f *fakeVaultsRepo) ListItems(ctx context.Context, vaultID string) ([]*models.VaultItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.VaultItem
	for _, it := range f.items[vaultID] {
		c := *it
		out = append(out, &c)
	}
	return out, nil
}

// --- manager ---

type fakeRepoManager struct {
	heirs         *fakeHeirsRepo
	triggers      *fakeTriggersRepo
	plans         *fakePlansRepo
	access        *fakeAccessRepo
	verifications *fakeVerificationsRepo
	settings      *fakeSettingsRepo
	users         *fakeUsersRepo
	refresh       *fakeRefreshRepo
	vaults        *fakeVaultsRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		heirs:         newFakeHeirsRepo(),
		triggers:      newFakeTriggersRepo(),
		plans:         newFakePlansRepo(),
		access:        newFakeAccessRepo(),
		verifications: newFakeVerificationsRepo(),
		settings:      newFakeSettingsRepo(),
		users:         newFakeUsersRepo(),
		refresh:       newFakeRefreshRepo(),
		vaults:        newFakeVaultsRepo(),
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository                 { return m.users }
func (m *fakeRepoManager) RefreshTokens(db dbx.DBTX) refreshtokensrepo.Repository { return m.refresh }
func (m *fakeRepoManager) Heirs(db dbx.DBTX) heirsrepo.Repository                 { return m.heirs }
func (m *fakeRepoManager) Vaults(db dbx.DBTX) vaultsrepo.Repository               { return m.vaults }
func (m *fakeRepoManager) Plans(db dbx.DBTX) plansrepo.Repository                 { return m.plans }
func (m *fakeRepoManager) Triggers(db dbx.DBTX) triggersrepo.Repository           { return m.triggers }
func (m *fakeRepoManager) Verifications(db dbx.DBTX) verificationsrepo.Repository {
	return m.verifications
}
func (m *fakeRepoManager) Access(db dbx.DBTX) accessrepo.Repository     { return m.access }
func (m *fakeRepoManager) Settings(db dbx.DBTX) settingsrepo.Repository { return m.settings }
