package matrix

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/authmatrix/internal/platform/httpx"
	"github.com/odyssey-erp/authmatrix/internal/rbac"
	"github.com/odyssey-erp/authmatrix/internal/shared"
)

// SnapshotLoader supplies the current snapshot.
type SnapshotLoader interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// Mutator writes matrix cells.
type Mutator interface {
	SetPermission(ctx context.Context, principal rbac.Principal, in rbac.SetPermissionInput) (rbac.Permission, error)
	TogglePermission(ctx context.Context, principal rbac.Principal, roleID, actionID int64) (rbac.Permission, error)
}

// PDFRenderer turns export rows into a PDF document.
type PDFRenderer interface {
	RenderMatrixPDF(ctx context.Context, rows []ExportRow, generatedAt time.Time) ([]byte, error)
}

// Handler serves the grid, single cells, cell edits and exports.
type Handler struct {
	logger  *slog.Logger
	loader  SnapshotLoader
	mutator Mutator
	gate    rbac.Gate
	pdf     PDFRenderer
	now     func() time.Time
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, loader SnapshotLoader, mutator Mutator, gate rbac.Gate) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, loader: loader, mutator: mutator, gate: gate, now: time.Now}
}

// WithPDF enables GET /export.pdf.
func (h *Handler) WithPDF(renderer PDFRenderer) *Handler {
	h.pdf = renderer
	return h
}

// MountRoutes registers matrix routes. Callers must run gate.Authenticate first.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.grid)
	r.Get("/cells/{roleID}/{actionID}", h.cell)
	r.Get("/export.csv", h.exportCSV)
	r.Get("/export.xlsx", h.exportXLSX)
	if h.pdf != nil {
		r.Get("/export.pdf", h.exportPDF)
	}
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireEdit)
		r.Put("/cells/{roleID}/{actionID}", h.setCell)
		r.Post("/cells/{roleID}/{actionID}/toggle", h.toggleCell)
	})
}

func (h *Handler) grid(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	httpx.JSON(w, http.StatusOK, Project(snap, Filter{Category: q.Get("category"), Search: q.Get("search")}))
}

func (h *Handler) cell(w http.ResponseWriter, r *http.Request) {
	roleID, actionID, ok := cellParams(w, r)
	if !ok {
		return
	}
	h.respondCell(w, r, roleID, actionID)
}

type setCellRequest struct {
	Status     string   `json:"status"`
	LimitValue *float64 `json:"limit_value"`
	Conditions *string  `json:"conditions"`
}

func (h *Handler) setCell(w http.ResponseWriter, r *http.Request) {
	roleID, actionID, ok := cellParams(w, r)
	if !ok {
		return
	}
	var req setCellRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal, _ := rbac.PrincipalFromContext(r.Context())
	_, err := h.mutator.SetPermission(r.Context(), principal, rbac.SetPermissionInput{
		RoleID:     roleID,
		ActionID:   actionID,
		Status:     rbac.Status(req.Status),
		LimitValue: req.LimitValue,
		Conditions: req.Conditions,
	})
	if err != nil {
		h.respondMutationError(w, err)
		return
	}
	h.respondCell(w, r, roleID, actionID)
}

func (h *Handler) toggleCell(w http.ResponseWriter, r *http.Request) {
	roleID, actionID, ok := cellParams(w, r)
	if !ok {
		return
	}
	principal, _ := rbac.PrincipalFromContext(r.Context())
	if _, err := h.mutator.TogglePermission(r.Context(), principal, roleID, actionID); err != nil {
		h.respondMutationError(w, err)
		return
	}
	h.respondCell(w, r, roleID, actionID)
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, Flatten(snap)); err != nil {
		h.logger.Error("matrix export csv", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.attachment(w, "text/csv; charset=utf-8", CSVFilename(h.now()), buf.Bytes())
}

func (h *Handler) exportXLSX(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, Flatten(snap)); err != nil {
		h.logger.Error("matrix export xlsx", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.attachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", XLSXFilename(h.now()), buf.Bytes())
}

func (h *Handler) exportPDF(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	at := h.now()
	pdf, err := h.pdf.RenderMatrixPDF(r.Context(), Flatten(snap), at)
	if err != nil {
		h.logger.Error("matrix export pdf", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Render Failed", "")
		return
	}
	h.attachment(w, "application/pdf", PDFFilename(at), pdf)
}

func (h *Handler) attachment(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) respondCell(w http.ResponseWriter, r *http.Request, roleID, actionID int64) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	c, found := CellAt(snap, roleID, actionID)
	if !found {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) respondMutationError(w http.ResponseWriter, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error("matrix mutation", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) (*Snapshot, bool) {
	snap, err := h.loader.Load(r.Context())
	if err != nil {
		h.logger.Error("matrix load snapshot", slog.Any("error", err))
		httpx.RespondError(w, err)
		return nil, false
	}
	return snap, true
}

func cellParams(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	roleID, err := httpx.IDParam(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	actionID, err := httpx.IDParam(r, "actionID")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	return roleID, actionID, true
}
