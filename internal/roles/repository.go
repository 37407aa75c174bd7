package roles

import (
	"context"

	"github.com/odyssey-erp/authmatrix/internal/rbac"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	GetRole(ctx context.Context, id int64) (rbac.Role, error)
	InsertRole(ctx context.Context, role rbac.Role) (rbac.Role, error)
	UpdateRole(ctx context.Context, role rbac.Role) (rbac.Role, error)
	DeleteRole(ctx context.Context, id int64) error
}
