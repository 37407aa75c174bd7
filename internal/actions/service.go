// Package actions manages the catalog of guarded operations shown as matrix rows.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/odyssey-erp/authmatrix/internal/rbac"
	"github.com/odyssey-erp/authmatrix/internal/shared"
	"github.com/odyssey-erp/authmatrix/internal/store"
)

// RepositoryPort defines data access methods for actions.
type RepositoryPort interface {
	ListActions(ctx context.Context, filter store.ActionFilter) ([]rbac.Action, error)
	GetAction(ctx context.Context, id int64) (rbac.Action, error)
	InsertAction(ctx context.Context, action rbac.Action) (rbac.Action, error)
	UpdateAction(ctx context.Context, action rbac.Action) (rbac.Action, error)
}

// Input is the editable part of an action.
type Input struct {
	Name        string `json:"name" validate:"required,max=150"`
	Description string `json:"description" validate:"max=1000"`
	Category    string `json:"category" validate:"required,max=100"`
}

func (in *Input) normalise() {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.TrimSpace(in.Category)
}

// Config carries the optional collaborators of Service.
type Config struct {
	Audit       rbac.AuditRecorder
	Invalidator shared.CacheInvalidator
	Logger      *slog.Logger
}

// Service handles action catalog logic.
type Service struct {
	repo        RepositoryPort
	validator   *shared.Validator
	audit       rbac.AuditRecorder
	invalidator shared.CacheInvalidator
	logger      *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		validator:   shared.NewValidator(),
		audit:       cfg.Audit,
		invalidator: cfg.Invalidator,
		logger:      logger,
	}
}

// ListActions returns actions ordered by category then name, optionally restricted to one category.
func (s *Service) ListActions(ctx context.Context, category string) ([]rbac.Action, error) {
	return s.repo.ListActions(ctx, store.ActionFilter{Category: category})
}

// GetAction returns an action by id.
func (s *Service) GetAction(ctx context.Context, id int64) (rbac.Action, error) {
	return s.repo.GetAction(ctx, id)
}

// CreateAction adds an action. It starts denied for every role.
func (s *Service) CreateAction(ctx context.Context, principal rbac.Principal, in Input) (rbac.Action, error) {
	if !rbac.CanEdit(principal.Capability) {
		return rbac.Action{}, fmt.Errorf("create action: %w", shared.ErrForbidden)
	}
	in.normalise()
	if err := s.validator.Struct(in); err != nil {
		return rbac.Action{}, err
	}
	action, err := s.repo.InsertAction(ctx, rbac.Action{Name: in.Name, Description: in.Description, Category: in.Category})
	if err != nil {
		return rbac.Action{}, fmt.Errorf("create action %q: %w", in.Name, err)
	}
	s.afterCommit(ctx, principal, "action.create", action)
	return action, nil
}

// UpdateAction replaces the name, description and category of an action.
func (s *Service) UpdateAction(ctx context.Context, principal rbac.Principal, id int64, in Input) (rbac.Action, error) {
	if !rbac.CanEdit(principal.Capability) {
		return rbac.Action{}, fmt.Errorf("update action: %w", shared.ErrForbidden)
	}
	in.normalise()
	if err := s.validator.Struct(in); err != nil {
		return rbac.Action{}, err
	}
	action, err := s.repo.UpdateAction(ctx, rbac.Action{ID: id, Name: in.Name, Description: in.Description, Category: in.Category})
	if err != nil {
		return rbac.Action{}, fmt.Errorf("update action %d: %w", id, err)
	}
	s.afterCommit(ctx, principal, "action.update", action)
	return action, nil
}

func (s *Service) afterCommit(ctx context.Context, principal rbac.Principal, op string, action rbac.Action) {
	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx); err != nil {
			s.logger.Warn("matrix cache invalidate", slog.Any("error", err))
		}
	}
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  principal.AccountID,
		Action:   op,
		Entity:   "action",
		EntityID: strconv.FormatInt(action.ID, 10),
		Meta:     map[string]any{"name": action.Name, "category": action.Category},
	})
	if err != nil {
		s.logger.Warn("audit action change", slog.String("action", op), slog.Any("error", err))
	}
}
