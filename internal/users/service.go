package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/odyssey-erp/authmatrix/internal/auth"
	"github.com/odyssey-erp/authmatrix/internal/rbac"
	"github.com/odyssey-erp/authmatrix/internal/shared"
)

// IdentityProvider creates and removes sign-in accounts.
type IdentityProvider interface {
	SignUp(ctx context.Context, email, password string) (auth.Account, error)
	DeleteAccount(ctx context.Context, id int64) error
}

// Notifier tells a new user their account exists.
type Notifier interface {
	NotifyProvisioned(ctx context.Context, email, fullName string) error
}

// Config carries the optional collaborators of Service.
type Config struct {
	Audit    rbac.AuditRecorder
	Notifier Notifier
	Logger   *slog.Logger
}

// Service handles user business logic.
type Service struct {
	repo      RepositoryPort
	identity  IdentityProvider
	validator *shared.Validator
	audit     rbac.AuditRecorder
	notifier  Notifier
	logger    *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, identity IdentityProvider, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		identity:  identity,
		validator: shared.NewValidator(),
		audit:     cfg.Audit,
		notifier:  cfg.Notifier,
		logger:    logger,
	}
}

// ListUsers returns all profiles ordered by full name with their role names.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	profiles, err := s.repo.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	names := make(map[int64]string, len(roles))
	for _, r := range roles {
		names[r.ID] = r.Name
	}
	out := make([]User, 0, len(profiles))
	for _, p := range profiles {
		var roleName *string
		if p.RoleID != nil {
			if name, ok := names[*p.RoleID]; ok {
				roleName = &name
			}
		}
		out = append(out, toUser(p, roleName))
	}
	return out, nil
}

// Provision creates the account and profile for a new user. When the profile cannot be stored
// the account is removed again so no half-provisioned user remains.
func (s *Service) Provision(ctx context.Context, principal rbac.Principal, in ProvisionInput) (User, error) {
	if !rbac.CanAdminister(principal.Capability) {
		return User{}, fmt.Errorf("provision user: %w", shared.ErrForbidden)
	}
	in.normalise()
	if err := s.validator.Struct(in); err != nil {
		return User{}, err
	}
	var roleName *string
	if in.RoleID != nil {
		role, err := s.repo.GetRole(ctx, *in.RoleID)
		if err != nil {
			return User{}, fmt.Errorf("provision user: role %d: %w", *in.RoleID, err)
		}
		roleName = &role.Name
	}
	profile, err := s.createAccountAndProfile(ctx, in)
	if err != nil {
		return User{}, fmt.Errorf("provision user %s: %w", in.Email, err)
	}

	s.record(ctx, principal.AccountID, "user.provision", profile.ID, map[string]any{"email": profile.Email, "role_id": profile.RoleID})
	if s.notifier != nil {
		if err := s.notifier.NotifyProvisioned(ctx, profile.Email, profile.FullName); err != nil {
			s.logger.Warn("enqueue welcome email", slog.Int64("profile_id", profile.ID), slog.Any("error", err))
		}
	}
	s.logger.Info("user provisioned", slog.Int64("profile_id", profile.ID), slog.Int64("actor_id", principal.AccountID))
	return toUser(profile, roleName), nil
}

// AssignRole sets the role of a profile; a nil role clears it.
func (s *Service) AssignRole(ctx context.Context, principal rbac.Principal, profileID int64, roleID *int64) (User, error) {
	if !rbac.CanAdminister(principal.Capability) {
		return User{}, fmt.Errorf("assign role: %w", shared.ErrForbidden)
	}
	if err := s.validator.Struct(AssignRoleInput{RoleID: roleID}); err != nil {
		return User{}, err
	}
	var roleName *string
	if roleID != nil {
		role, err := s.repo.GetRole(ctx, *roleID)
		if err != nil {
			return User{}, fmt.Errorf("assign role %d: %w", *roleID, err)
		}
		roleName = &role.Name
	}
	profile, err := s.repo.UpdateProfileRole(ctx, profileID, roleID)
	if err != nil {
		return User{}, fmt.Errorf("assign role to profile %d: %w", profileID, err)
	}
	s.record(ctx, principal.AccountID, "user.assign_role", profileID, map[string]any{"role_id": roleID})
	return toUser(profile, roleName), nil
}

// Bootstrap provisions an Admin when no profile exists yet. It reports whether it created one.
func (s *Service) Bootstrap(ctx context.Context, email, password, fullName string) (bool, error) {
	count, err := s.repo.CountProfiles(ctx)
	if err != nil {
		return false, fmt.Errorf("bootstrap admin: %w", err)
	}
	if count > 0 {
		return false, nil
	}
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return false, fmt.Errorf("bootstrap admin: %w", err)
	}
	var adminID *int64
	for _, r := range roles {
		if r.Name == rbac.RoleNameAdmin {
			id := r.ID
			adminID = &id
			break
		}
	}
	if adminID == nil {
		return false, fmt.Errorf("bootstrap admin: role %q: %w", rbac.RoleNameAdmin, shared.ErrNotFound)
	}
	if fullName == "" {
		fullName = "Administrator"
	}
	in := ProvisionInput{Email: email, Password: password, FullName: fullName, RoleID: adminID}
	in.normalise()
	if err := s.validator.Struct(in); err != nil {
		return false, err
	}
	profile, err := s.createAccountAndProfile(ctx, in)
	if err != nil {
		return false, fmt.Errorf("bootstrap admin: %w", err)
	}
	s.record(ctx, profile.ID, "user.bootstrap", profile.ID, map[string]any{"email": profile.Email})
	return true, nil
}

func (s *Service) createAccountAndProfile(ctx context.Context, in ProvisionInput) (rbac.Profile, error) {
	acct, err := s.identity.SignUp(ctx, in.Email, in.Password)
	if err != nil {
		return rbac.Profile{}, err
	}
	profile, err := s.repo.InsertProfile(ctx, rbac.Profile{
		ID:       acct.ID,
		FullName: in.FullName,
		Email:    acct.Email,
		RoleID:   in.RoleID,
	})
	if err != nil {
		if cerr := s.identity.DeleteAccount(ctx, acct.ID); cerr != nil {
			s.logger.Error("remove orphaned account", slog.Int64("account_id", acct.ID), slog.Any("error", cerr))
			return rbac.Profile{}, errors.Join(err, cerr)
		}
		return rbac.Profile{}, err
	}
	return profile, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, profileID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "profile",
		EntityID: strconv.FormatInt(profileID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit user change", slog.String("action", action), slog.Any("error", err))
	}
}

func toUser(p rbac.Profile, roleName *string) User {
	return User{
		ID:         p.ID,
		FullName:   p.FullName,
		Email:      p.Email,
		RoleID:     p.RoleID,
		RoleName:   roleName,
		Capability: rbac.CapabilityOf(roleName).String(),
		CreatedAt:  p.CreatedAt,
	}
}
