package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/authmatrix/internal/platform/httpx"
	"github.com/odyssey-erp/authmatrix/internal/rbac"
	"github.com/odyssey-erp/authmatrix/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	profiles       rbac.ProfileSource
	audit          rbac.AuditRecorder
}

// NewHandler constructs a Handler instance. audit may be nil.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager, profiles rbac.ProfileSource, audit rbac.AuditRecorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
		profiles:       profiles,
		audit:          audit,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/session", h.showSession)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

// SessionView describes the caller to the console front end.
type SessionView struct {
	Authenticated bool          `json:"authenticated"`
	CSRFToken     string        `json:"csrf_token"`
	Profile       *rbac.Profile `json:"profile,omitempty"`
	Role          *string       `json:"role,omitempty"`
	Capability    string        `json:"capability,omitempty"`
}

func (h *Handler) showSession(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	token, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		h.logger.Error("ensure csrf token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	view := SessionView{CSRFToken: token}
	if raw := sess.User(); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			principal, err := rbac.LoadPrincipal(r.Context(), h.profiles, id)
			switch {
			case err == nil:
				view = withPrincipal(view, principal)
			case errors.Is(err, shared.ErrUnauthorized):
				// the profile was removed; the stale session is anonymous from now on
				sess.SetUser("")
			default:
				h.logger.Error("load session principal", slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
		}
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	var creds Credentials
	if err := httpx.DecodeJSON(r, &creds); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.validator.Struct(Credentials{Email: normaliseEmail(creds.Email), Password: creds.Password}); err != nil {
		httpx.RespondError(w, err)
		return
	}

	acct, err := h.service.Authenticate(r.Context(), creds.Email, creds.Password)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			h.record(r.Context(), r, 0, "auth.login_failed", normaliseEmail(creds.Email))
		} else {
			h.logger.Error("authenticate", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	principal, err := rbac.LoadPrincipal(r.Context(), h.profiles, acct.ID)
	if err != nil {
		if !errors.Is(err, shared.ErrUnauthorized) {
			h.logger.Error("load principal", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}

	if err := h.sessionManager.Renew(r.Context(), sess); err != nil {
		h.logger.Error("renew session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	sess.SetUser(strconv.FormatInt(acct.ID, 10))
	token, err := h.csrfManager.Rotate(r.Context(), sess)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.record(r.Context(), r, acct.ID, "auth.login", strconv.FormatInt(acct.ID, 10))
	h.logger.Info("login", slog.Int64("account_id", acct.ID), slog.String("capability", principal.Capability.String()))
	httpx.JSON(w, http.StatusOK, withPrincipal(SessionView{CSRFToken: token}, principal))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if raw := sess.User(); raw != "" {
			id, _ := strconv.ParseInt(raw, 10, 64)
			h.record(r.Context(), r, id, "auth.logout", raw)
		}
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) record(ctx context.Context, r *http.Request, actorID int64, action, entityID string) {
	if h.audit == nil {
		return
	}
	err := h.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "account",
		EntityID: entityID,
		Meta: map[string]any{
			"remote_addr": r.RemoteAddr,
			"request_id":  middleware.GetReqID(ctx),
			"user_agent":  r.UserAgent(),
		},
	})
	if err != nil {
		h.logger.Warn("audit auth event", slog.String("action", action), slog.Any("error", err))
	}
}

func withPrincipal(view SessionView, p rbac.Principal) SessionView {
	view.Authenticated = true
	view.Profile = p.Profile
	view.Role = p.RoleName
	view.Capability = p.Capability.String()
	return view
}
