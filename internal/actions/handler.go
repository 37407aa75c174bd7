package actions

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/authmatrix/internal/platform/httpx"
	"github.com/odyssey-erp/authmatrix/internal/rbac"
)

// Handler exposes the action catalog.
type Handler struct {
	logger  *slog.Logger
	service *Service
	gate    rbac.Gate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gate rbac.Gate) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, gate: gate}
}

// MountRoutes registers action routes behind an authenticated router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireEdit)
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListActions(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.fail(w, "list actions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"actions": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	action, err := h.service.GetAction(r.Context(), id)
	if err != nil {
		h.fail(w, "get action", err)
		return
	}
	httpx.JSON(w, http.StatusOK, action)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal, _ := rbac.PrincipalFromContext(r.Context())
	action, err := h.service.CreateAction(r.Context(), principal, in)
	if err != nil {
		h.fail(w, "create action", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, action)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal, _ := rbac.PrincipalFromContext(r.Context())
	action, err := h.service.UpdateAction(r.Context(), principal, id, in)
	if err != nil {
		h.fail(w, "update action", err)
		return
	}
	httpx.JSON(w, http.StatusOK, action)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
