// Package store persists roles, actions, permissions, profiles, accounts and audit logs.
package store

import (
	"context"
	"time"

	"github.com/odyssey-erp/authmatrix/internal/auth"
	"github.com/odyssey-erp/authmatrix/internal/rbac"
	"github.com/odyssey-erp/authmatrix/internal/shared"
)

// Table names a persisted entity set.
type Table string

const (
	TableRoles       Table = "roles"
	TableActions     Table = "actions"
	TablePermissions Table = "permissions"
	TableProfiles    Table = "profiles"
	TableAccounts    Table = "accounts"
	TableAuditLogs   Table = "audit_logs"
)

// ActionFilter narrows ListActions. An empty Category matches every category.
type ActionFilter struct {
	Category string
}

// AuditFilter narrows ListAuditLogs. Zero values disable a criterion.
type AuditFilter struct {
	From    time.Time
	To      time.Time
	ActorID int64
	Entity  string
	Action  string
	Limit   int
	Offset  int
}

// Store is implemented by the Postgres and in-memory drivers. Every method observes the
// transaction started by RunInTx when called with the context it provides.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	RunInReadTx(ctx context.Context, fn func(ctx context.Context) error) error

	ListRoles(ctx context.Context) ([]rbac.Role, error)
	GetRole(ctx context.Context, id int64) (rbac.Role, error)
	InsertRole(ctx context.Context, role rbac.Role) (rbac.Role, error)
	UpdateRole(ctx context.Context, role rbac.Role) (rbac.Role, error)
	DeleteRole(ctx context.Context, id int64) error

	ListActions(ctx context.Context, filter ActionFilter) ([]rbac.Action, error)
	GetAction(ctx context.Context, id int64) (rbac.Action, error)
	InsertAction(ctx context.Context, action rbac.Action) (rbac.Action, error)
	UpdateAction(ctx context.Context, action rbac.Action) (rbac.Action, error)

	ListPermissions(ctx context.Context) ([]rbac.Permission, error)
	FindPermission(ctx context.Context, roleID, actionID int64) (rbac.Permission, error)
	InsertPermission(ctx context.Context, p rbac.Permission) (rbac.Permission, error)
	UpdatePermission(ctx context.Context, id int64, patch rbac.PermissionPatch) (rbac.Permission, error)

	ListProfiles(ctx context.Context) ([]rbac.Profile, error)
	GetProfile(ctx context.Context, id int64) (rbac.Profile, error)
	InsertProfile(ctx context.Context, p rbac.Profile) (rbac.Profile, error)
	UpdateProfileRole(ctx context.Context, id int64, roleID *int64) (rbac.Profile, error)
	CountProfiles(ctx context.Context) (int, error)

	InsertAccount(ctx context.Context, a auth.Account) (auth.Account, error)
	FindAccountByEmail(ctx context.Context, email string) (auth.Account, error)
	DeleteAccount(ctx context.Context, id int64) error

	InsertAuditLog(ctx context.Context, log shared.AuditLog) error
	ListAuditLogs(ctx context.Context, filter AuditFilter) ([]shared.AuditLog, error)
}
