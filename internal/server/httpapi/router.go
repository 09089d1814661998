// Package httpapi is the HTTP/JSON boundary for the identity services.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/server/auth"
	"github.com/dmitrijs2005/medkeeper/internal/server/config"
	"github.com/dmitrijs2005/medkeeper/internal/server/models"
	"github.com/dmitrijs2005/medkeeper/internal/server/services"
)

type LoginFlow interface {
	Initiate(ctx context.Context, meta services.RequestMeta, email, password string) (*services.InitiateResult, error)
	Verify(ctx context.Context, meta services.RequestMeta, email, code string) (*services.VerifyResult, error)
}

type ResetFlow interface {
	RequestReset(ctx context.Context, meta services.RequestMeta, email string) error
	ConfirmReset(ctx context.Context, meta services.RequestMeta, email, code, newPassword string) error
}

type ProfileReader interface {
	Profile(ctx context.Context, userID string) (*models.Profile, error)
}

type AuditLister interface {
	List(ctx context.Context, meta services.RequestMeta, page, limit int) (*services.AuditPage, error)
}

type AuditExporter interface {
	Export(ctx context.Context, meta services.RequestMeta, since time.Time) (*services.ArchiveResult, error)
}

// Deps are the services the router dispatches to.
type Deps struct {
	Login    LoginFlow
	Reset    ResetFlow
	Profiles ProfileReader
	Audit    AuditLister
	Archive  AuditExporter
	Tokens   *auth.TokenIssuer
}

type Handlers struct {
	cfg    *config.Config
	deps   Deps
	logger logging.Logger
}

func NewRouter(cfg *config.Config, deps Deps, logger logging.Logger) http.Handler {
	h := &Handlers{cfg: cfg, deps: deps, logger: logger.With("module", "http")}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(RequestLogger(h.logger, cfg.TrustProxy))
	r.Use(SecurityHeaders)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			AllowCredentials: true,
		}))
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.Login)
			r.Post("/login/verify", h.LoginVerify)
			r.Post("/request-password-reset", h.RequestPasswordReset)
			r.Post("/reset-password", h.ResetPassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(Authn(deps.Tokens))
			r.Get("/me", h.Me)

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireRole(models.RoleAdmin))
				r.Get("/audit-logs", h.ListAuditLogs)
				r.Post("/audit-logs/export", h.ExportAuditLogs)
			})
		})
	})

	return r
}
