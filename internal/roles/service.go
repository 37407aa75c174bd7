package roles

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/odyssey-erp/authmatrix/internal/rbac"
	"github.com/odyssey-erp/authmatrix/internal/shared"
)

// Config carries the optional collaborators of Service.
type Config struct {
	Audit       rbac.AuditRecorder
	Invalidator shared.CacheInvalidator
	Logger      *slog.Logger
}

// Service handles role business logic.
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

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole returns a role by id.
func (s *Service) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole adds a role. New roles are never system roles.
func (s *Service) CreateRole(ctx context.Context, principal rbac.Principal, in CreateInput) (rbac.Role, error) {
	if !rbac.CanEdit(principal.Capability) {
		return rbac.Role{}, fmt.Errorf("create role: %w", shared.ErrForbidden)
	}
	in.normalise()
	if err := s.validator.Struct(in); err != nil {
		return rbac.Role{}, err
	}
	if in.Color == "" {
		in.Color = rbac.DefaultRoleColor
	}
	role, err := s.repo.InsertRole(ctx, rbac.Role{Name: in.Name, Description: in.Description, Color: in.Color})
	if err != nil {
		return rbac.Role{}, fmt.Errorf("create role %q: %w", in.Name, err)
	}
	s.afterCommit(ctx, principal, "role.create", role.ID, map[string]any{"name": role.Name})
	return role, nil
}

// UpdateRole edits a role. System roles keep their name; description and color may change.
func (s *Service) UpdateRole(ctx context.Context, principal rbac.Principal, id int64, in UpdateInput) (rbac.Role, error) {
	if !rbac.CanEdit(principal.Capability) {
		return rbac.Role{}, fmt.Errorf("update role: %w", shared.ErrForbidden)
	}
	in.normalise()
	if err := s.validator.Struct(in); err != nil {
		return rbac.Role{}, err
	}
	var (
		out      rbac.Role
		previous string
	)
	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if current.IsSystemRole && current.Name != in.Name {
			return shared.ErrSystemRole
		}
		previous = current.Name
		current.Name = in.Name
		current.Description = in.Description
		if in.Color != "" {
			current.Color = in.Color
		}
		out, err = s.repo.UpdateRole(ctx, current)
		return err
	})
	if err != nil {
		return rbac.Role{}, fmt.Errorf("update role %d: %w", id, err)
	}
	s.afterCommit(ctx, principal, "role.update", out.ID, map[string]any{"name": out.Name, "previous_name": previous})
	return out, nil
}

// DeleteRole removes a role with its permission rows. Profiles holding it lose their role.
func (s *Service) DeleteRole(ctx context.Context, principal rbac.Principal, id int64) error {
	if !rbac.CanEdit(principal.Capability) {
		return fmt.Errorf("delete role: %w", shared.ErrForbidden)
	}
	var name string
	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if current.IsSystemRole {
			return shared.ErrSystemRole
		}
		name = current.Name
		return s.repo.DeleteRole(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete role %d: %w", id, err)
	}
	s.afterCommit(ctx, principal, "role.delete", id, map[string]any{"name": name})
	return nil
}

func (s *Service) afterCommit(ctx context.Context, principal rbac.Principal, action string, id int64, meta map[string]any) {
	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx); err != nil {
			s.logger.Warn("matrix cache invalidate", slog.Any("error", err))
		}
	}
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  principal.AccountID,
			Action:   action,
			Entity:   "role",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     meta,
		})
		if err != nil {
			s.logger.Warn("audit role change", slog.String("action", action), slog.Any("error", err))
		}
	}
	s.logger.Info("role changed", slog.String("action", action), slog.Int64("role_id", id), slog.Int64("actor_id", principal.AccountID))
}
