package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/everkeep/everkeep/internal/logging"
	"github.com/everkeep/everkeep/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// Server hosts the HTTP API for the service operations.
type Server struct {
	address     string
	logger      logging.Logger
	users       *services.UserService
	invitations *services.InvitationService
	vaults      *services.VaultService
	plans       *services.PlanService
	triggers    *services.TriggerService
	access      *services.AccessService
	sweep       *services.SweepService
	jwtSecret   []byte
	validate    *validator.Validate
}

// NewServer wires the services into an HTTP server bound to address.
func NewServer(address string, l logging.Logger,
	us *services.UserService, is *services.InvitationService, vs *services.VaultService,
	ps *services.PlanService, ts *services.TriggerService, as *services.AccessService,
	ss *services.SweepService, secretKey string) *Server {
	return &Server{
		address:     address,
		logger:      l.With("module", "http_server"),
		users:       us,
		invitations: is,
		vaults:      vs,
		plans:       ps,
		triggers:    ts,
		access:      as,
		sweep:       ss,
		jwtSecret:   []byte(secretKey),
		validate:    validator.New(),
	}
}

// Router builds the chi router. Public routes cover registration, login and
// invitation redemption; everything else requires a bearer token.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		// Public surface.
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/salt", s.handleGetSalt)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)
		r.Post("/invitations/validate", s.handleValidateCode)

		// Scheduler hook; deployments fence it off at the network layer.
		r.Post("/internal/sweep", s.handleSweep)

		// Authenticated surface.
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/invitations/accept", s.handleAcceptInvitation)
			r.Post("/invitations/reject", s.handleRejectInvitation)

			r.Post("/heirs", s.handleCreateInvitation)
			r.Get("/heirs", s.handleListHeirs)
			r.Delete("/heirs/{heirID}/invitation", s.handleCancelInvitation)
			r.Get("/heirs/{heirID}/access", s.handleListHeirAccess)

			r.Post("/vaults", s.handleCreateVault)
			r.Get("/vaults", s.handleListVaults)
			r.Post("/vaults/{vaultID}/items", s.handleAddVaultItem)
			r.Get("/vaults/{vaultID}/items", s.handleListVaultItems)
			r.Post("/attachments/presign-put", s.handlePresignPut)
			r.Post("/attachments/presign-get", s.handlePresignGet)

			r.Post("/plans", s.handleCreatePlan)
			r.Get("/plans", s.handleListPlans)
			r.Post("/plans/{planID}/heirs/{heirID}", s.handleLinkHeir)
			r.Post("/plans/{planID}/vaults/{vaultID}", s.handleLinkVault)
			r.Patch("/plans/{planID}/active", s.handleSetPlanActive)

			r.Put("/trigger-setting", s.handleSetGlobalTrigger)
			r.Get("/trigger-setting", s.handleGetGlobalTrigger)
			r.Post("/activity", s.handleRecordActivity)
			r.Post("/verifications", s.handleSubmitVerification)

			r.Post("/triggers/evaluate", s.handleEvaluateTrigger)
			r.Post("/triggers/fire", s.handleFireManual)
			r.Get("/triggers/{triggerID}", s.handleGetTrigger)
			r.Post("/triggers/{triggerID}/verify", s.handleVerifyTrigger)
			r.Post("/triggers/{triggerID}/cancel", s.handleCancelTrigger)
			r.Post("/triggers/{triggerID}/complete", s.handleCompleteTrigger)
		})
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
