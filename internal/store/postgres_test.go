package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/authmatrix/internal/auth"
	"github.com/odyssey-erp/authmatrix/internal/platform/db"
	"github.com/odyssey-erp/authmatrix/internal/rbac"
	"github.com/odyssey-erp/authmatrix/internal/shared"
)

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(TableRoles, nil))
	assert.ErrorIs(t, translate(TableRoles, pgx.ErrNoRows), shared.ErrNotFound)

	dup := translate(TablePermissions, &pgconn.PgError{Code: "23505", ConstraintName: "permissions_role_action_key"})
	assert.ErrorIs(t, dup, shared.ErrDuplicate)
	assert.Contains(t, dup.Error(), "permissions_role_action_key")

	fk := translate(TablePermissions, &pgconn.PgError{Code: "23503"})
	assert.ErrorIs(t, fk, shared.ErrNotFound)

	other := errors.New("connection reset")
	wrapped := translate(TableActions, other)
	assert.ErrorIs(t, wrapped, other)
	assert.NotErrorIs(t, wrapped, shared.ErrNotFound)
}

func TestPgTypeHelpers(t *testing.T) {
	assert.False(t, optionalText("   ").Valid)
	assert.Equal(t, "Finance", optionalText(" Finance ").String)
	assert.False(t, pgFloat8(nil).Valid)
	v := 2.5
	assert.Equal(t, 2.5, pgFloat8(&v).Float64)
	assert.False(t, pgTimestamptz(time.Time{}).Valid)
}

// TestPostgresIntegration runs against a disposable database named by TEST_PG_DSN.
func TestPostgresIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.New(ctx, dsn, 4)
	require.NoError(t, err)
	defer pool.Close()
	_, err = pool.Exec(ctx, `DROP TABLE IF EXISTS audit_logs, profiles, accounts, permissions, actions, roles CASCADE`)
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, pool))
	require.NoError(t, Migrate(ctx, pool), "migrate is idempotent")

	s := NewPostgres(pool)

	roles, err := s.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 3)

	manager, err := s.InsertRole(ctx, rbac.Role{Name: "Manager", Color: rbac.DefaultRoleColor})
	require.NoError(t, err)
	_, err = s.InsertRole(ctx, rbac.Role{Name: "Manager", Color: rbac.DefaultRoleColor})
	require.ErrorIs(t, err, shared.ErrDuplicate)

	approve, err := s.InsertAction(ctx, rbac.Action{Name: "Approve Expense Reports", Category: "Finance"})
	require.NoError(t, err)

	limit := 5000.0
	perm, err := s.InsertPermission(ctx, rbac.Permission{RoleID: manager.ID, ActionID: approve.ID, Status: rbac.StatusConditional, LimitValue: &limit})
	require.NoError(t, err)
	assert.Nil(t, perm.Conditions)

	_, err = s.InsertPermission(ctx, rbac.Permission{RoleID: manager.ID, ActionID: approve.ID, Status: rbac.StatusGranted})
	require.ErrorIs(t, err, shared.ErrDuplicate)

	_, err = s.InsertPermission(ctx, rbac.Permission{RoleID: manager.ID, ActionID: 99999, Status: rbac.StatusGranted})
	require.ErrorIs(t, err, shared.ErrNotFound)

	granted := rbac.StatusGranted
	updated, err := s.UpdatePermission(ctx, perm.ID, rbac.PermissionPatch{Status: &granted})
	require.NoError(t, err)
	assert.Equal(t, rbac.StatusGranted, updated.Status)
	require.NotNil(t, updated.LimitValue)
	assert.Equal(t, 5000.0, *updated.LimitValue)

	svc := rbac.NewService(s, rbac.ServiceConfig{})
	editor := rbac.Principal{AccountID: 1, Capability: rbac.CapabilityEdit}
	sign, err := s.InsertAction(ctx, rbac.Action{Name: "Sign Contracts", Category: "Legal"})
	require.NoError(t, err)
	// existing row: writers queue on the row lock; fresh pair: losers of the insert race update
	for _, actionID := range []int64{approve.ID, sign.ID} {
		var g errgroup.Group
		for i := range 8 {
			status := rbac.StatusDenied
			if i%2 == 0 {
				status = rbac.StatusConditional
			}
			g.Go(func() error {
				_, err := svc.SetPermission(ctx, editor, rbac.SetPermissionInput{RoleID: manager.ID, ActionID: actionID, Status: status})
				return err
			})
		}
		require.NoError(t, g.Wait())
		perms, err := s.ListPermissions(ctx)
		require.NoError(t, err)
		rows := 0
		for _, p := range perms {
			if p.RoleID == manager.ID && p.ActionID == actionID {
				rows++
			}
		}
		assert.Equal(t, 1, rows)
	}
	last, err := s.FindPermission(ctx, manager.ID, approve.ID)
	require.NoError(t, err)
	require.NotNil(t, last.LimitValue, "status-only writes keep the limit")
	assert.Equal(t, 5000.0, *last.LimitValue)

	txErr := errors.New("abort")
	err = s.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.InsertAction(ctx, rbac.Action{Name: "Deploy Code", Category: "Engineering"}); err != nil {
			return err
		}
		return txErr
	})
	require.ErrorIs(t, err, txErr)
	actions, err := s.ListActions(ctx, ActionFilter{Category: "Engineering"})
	require.NoError(t, err)
	assert.Empty(t, actions, "rolled back insert is not visible")

	account, err := s.InsertAccount(ctx, auth.Account{Email: "ops@example.com", PasswordHash: "x", IsActive: true})
	require.NoError(t, err)
	profile, err := s.InsertProfile(ctx, rbac.Profile{ID: account.ID, FullName: "Ops", Email: account.Email, RoleID: &manager.ID})
	require.NoError(t, err)

	require.NoError(t, s.DeleteRole(ctx, manager.ID))
	_, err = s.FindPermission(ctx, manager.ID, approve.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	profile, err = s.GetProfile(ctx, profile.ID)
	require.NoError(t, err)
	assert.Nil(t, profile.RoleID)

	require.NoError(t, s.InsertAuditLog(ctx, shared.AuditLog{ActorID: account.ID, Action: "role.delete", Entity: "role", EntityID: "1", Meta: map[string]any{"name": "Manager"}, At: time.Now()}))
	logs, err := s.ListAuditLogs(ctx, AuditFilter{Entity: "role"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Manager", logs[0].Meta["name"])
}
