package users

import (
	"context"

	"github.com/odyssey-erp/authmatrix/internal/rbac"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListProfiles(ctx context.Context) ([]rbac.Profile, error)
	GetProfile(ctx context.Context, id int64) (rbac.Profile, error)
	InsertProfile(ctx context.Context, profile rbac.Profile) (rbac.Profile, error)
	UpdateProfileRole(ctx context.Context, id int64, roleID *int64) (rbac.Profile, error)
	CountProfiles(ctx context.Context) (int, error)
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	GetRole(ctx context.Context, id int64) (rbac.Role, error)
}
