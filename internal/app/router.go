package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/authmatrix/internal/actions"
	audithttp "github.com/odyssey-erp/authmatrix/internal/audit/http"
	"github.com/odyssey-erp/authmatrix/internal/auth"
	"github.com/odyssey-erp/authmatrix/internal/matrix"
	"github.com/odyssey-erp/authmatrix/internal/observability"
	"github.com/odyssey-erp/authmatrix/internal/platform/httpx"
	"github.com/odyssey-erp/authmatrix/internal/rbac"
	"github.com/odyssey-erp/authmatrix/internal/roles"
	"github.com/odyssey-erp/authmatrix/internal/shared"
	"github.com/odyssey-erp/authmatrix/internal/users"
	"github.com/odyssey-erp/authmatrix/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Gate           rbac.Gate
	Metrics        *observability.Metrics

	AuthHandler    *auth.Handler
	MatrixHandler  *matrix.Handler
	RolesHandler   *roles.Handler
	ActionsHandler *actions.Handler
	UsersHandler   *users.Handler
	AuditHandler   *audithttp.Handler
	JobHandler     *jobs.Handler
}

// NewRouter constructs the chi.Router with console defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}

	r.Group(func(r chi.Router) {
		r.Use(params.Gate.Authenticate)
		if params.MatrixHandler != nil {
			r.Route("/matrix", params.MatrixHandler.MountRoutes)
		}
		if params.RolesHandler != nil {
			r.Route("/roles", params.RolesHandler.MountRoutes)
		}
		if params.ActionsHandler != nil {
			r.Route("/actions", params.ActionsHandler.MountRoutes)
		}
		if params.UsersHandler != nil {
			r.Route("/users", params.UsersHandler.MountRoutes)
		}
		if params.AuditHandler != nil {
			r.Route("/audit", params.AuditHandler.MountRoutes)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "")
	})
	return r
}
