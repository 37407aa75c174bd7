package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/odyssey-erp/authmatrix/internal/shared"
)

const maxConditionsLength = 2000

// Repository is the store surface the permission mutator needs.
type Repository interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	FindPermission(ctx context.Context, roleID, actionID int64) (Permission, error)
	InsertPermission(ctx context.Context, p Permission) (Permission, error)
	UpdatePermission(ctx context.Context, id int64, patch PermissionPatch) (Permission, error)
}

// AuditRecorder persists audit entries for confirmed writes.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MutationMetrics counts committed permission writes.
type MutationMetrics interface {
	PermissionMutated(status string)
}

// ServiceConfig carries the optional collaborators of Service.
type ServiceConfig struct {
	Audit       AuditRecorder
	Invalidator shared.CacheInvalidator
	Metrics     MutationMetrics
	Logger      *slog.Logger
}

// Service reads and writes matrix cells.
type Service struct {
	repo        Repository
	audit       AuditRecorder
	invalidator shared.CacheInvalidator
	metrics     MutationMetrics
	logger      *slog.Logger
}

// NewService constructs a Service backed by repo.
func NewService(repo Repository, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		audit:       cfg.Audit,
		invalidator: cfg.Invalidator,
		metrics:     cfg.Metrics,
		logger:      logger,
	}
}

// SetPermissionInput describes a cell write. Nil LimitValue or Conditions leave an existing
// value unchanged and store NULL on insert.
type SetPermissionInput struct {
	RoleID     int64    `json:"role_id"`
	ActionID   int64    `json:"action_id"`
	Status     Status   `json:"status"`
	LimitValue *float64 `json:"limit_value"`
	Conditions *string  `json:"conditions"`
}

// SetPermission records the decision for a (role, action) pair. An existing row is updated in
// place; otherwise one is inserted.
func (s *Service) SetPermission(ctx context.Context, principal Principal, in SetPermissionInput) (Permission, error) {
	if !CanEdit(principal.Capability) {
		return Permission{}, fmt.Errorf("set permission: %w", shared.ErrForbidden)
	}
	status, err := validateSet(in)
	if err != nil {
		return Permission{}, err
	}
	in.Status = status

	perm, op, err := s.upsert(ctx, in)
	if errors.Is(err, shared.ErrDuplicate) {
		// A concurrent writer inserted the pair first; the retry takes the update path.
		perm, op, err = s.upsert(ctx, in)
	}
	if err != nil {
		return Permission{}, fmt.Errorf("set permission role=%d action=%d: %w", in.RoleID, in.ActionID, err)
	}

	s.afterCommit(ctx, principal, perm, op)
	return perm, nil
}

// TogglePermission advances the pair to the next status in the edit cycle. The current status
// is read from the store, never from a cached view.
func (s *Service) TogglePermission(ctx context.Context, principal Principal, roleID, actionID int64) (Permission, error) {
	if !CanEdit(principal.Capability) {
		return Permission{}, fmt.Errorf("toggle permission: %w", shared.ErrForbidden)
	}
	if err := validateIDs(roleID, actionID); err != nil {
		return Permission{}, err
	}
	current := StatusDenied
	existing, err := s.repo.FindPermission(ctx, roleID, actionID)
	switch {
	case err == nil:
		current = existing.Status
	case errors.Is(err, shared.ErrNotFound):
	default:
		return Permission{}, fmt.Errorf("toggle permission role=%d action=%d: %w", roleID, actionID, err)
	}
	return s.SetPermission(ctx, principal, SetPermissionInput{
		RoleID:   roleID,
		ActionID: actionID,
		Status:   current.Next(),
	})
}

func (s *Service) upsert(ctx context.Context, in SetPermissionInput) (Permission, string, error) {
	var (
		out Permission
		op  string
	)
	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.FindPermission(ctx, in.RoleID, in.ActionID)
		switch {
		case err == nil:
			status := in.Status
			out, err = s.repo.UpdatePermission(ctx, existing.ID, PermissionPatch{
				Status:     &status,
				LimitValue: in.LimitValue,
				Conditions: in.Conditions,
			})
			op = "update"
			return err
		case errors.Is(err, shared.ErrNotFound):
			out, err = s.repo.InsertPermission(ctx, Permission{
				RoleID:     in.RoleID,
				ActionID:   in.ActionID,
				Status:     in.Status,
				LimitValue: in.LimitValue,
				Conditions: in.Conditions,
			})
			op = "insert"
			return err
		default:
			return err
		}
	})
	return out, op, err
}

func (s *Service) afterCommit(ctx context.Context, principal Principal, perm Permission, op string) {
	if s.metrics != nil {
		s.metrics.PermissionMutated(string(perm.Status))
	}
	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx); err != nil {
			s.logger.Warn("matrix cache invalidate", slog.Any("error", err))
		}
	}
	if s.audit != nil {
		meta := map[string]any{
			"op":        op,
			"role_id":   perm.RoleID,
			"action_id": perm.ActionID,
			"status":    string(perm.Status),
		}
		if perm.LimitValue != nil {
			meta["limit_value"] = *perm.LimitValue
		}
		if perm.Conditions != nil {
			meta["conditions"] = *perm.Conditions
		}
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  principal.AccountID,
			Action:   "permission." + op,
			Entity:   "permission",
			EntityID: strconv.FormatInt(perm.ID, 10),
			Meta:     meta,
		})
		if err != nil {
			s.logger.Error("audit permission write", slog.Any("error", err), slog.Int64("permission_id", perm.ID))
		}
	}
	s.logger.Info("permission written",
		slog.String("op", op),
		slog.Int64("role_id", perm.RoleID),
		slog.Int64("action_id", perm.ActionID),
		slog.String("status", string(perm.Status)),
		slog.Int64("actor_id", principal.AccountID),
	)
}

func validateIDs(roleID, actionID int64) error {
	verr := &shared.ValidationError{Fields: map[string]string{}}
	if roleID <= 0 {
		verr.Fields["role_id"] = "must be a positive integer"
	}
	if actionID <= 0 {
		verr.Fields["action_id"] = "must be a positive integer"
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func validateSet(in SetPermissionInput) (Status, error) {
	verr := &shared.ValidationError{Fields: map[string]string{}}
	if err := validateIDs(in.RoleID, in.ActionID); err != nil {
		var idErr *shared.ValidationError
		if errors.As(err, &idErr) {
			for k, v := range idErr.Fields {
				verr.Fields[k] = v
			}
		}
	}
	status, err := ParseStatus(string(in.Status))
	if err != nil {
		verr.Fields["status"] = "must be one of granted, denied, conditional"
	}
	if in.LimitValue != nil {
		v := *in.LimitValue
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			verr.Fields["limit_value"] = "must be a non-negative number"
		}
	}
	if in.Conditions != nil && len(*in.Conditions) > maxConditionsLength {
		verr.Fields["conditions"] = "must be at most " + strconv.Itoa(maxConditionsLength) + " characters"
	}
	if len(verr.Fields) > 0 {
		return "", verr
	}
	return status, nil
}
