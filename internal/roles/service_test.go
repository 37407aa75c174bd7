package roles_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/authmatrix/internal/rbac"
	"github.com/odyssey-erp/authmatrix/internal/roles"
	"github.com/odyssey-erp/authmatrix/internal/shared"
	"github.com/odyssey-erp/authmatrix/internal/store"
	"github.com/odyssey-erp/authmatrix/internal/store/memstore"
)

type invalidations struct{ n int }

func (i *invalidations) Invalidate(context.Context) error {
	i.n++
	return nil
}

var (
	editor = rbac.Principal{AccountID: 7, Capability: rbac.CapabilityEdit}
	viewer = rbac.Principal{AccountID: 8, Capability: rbac.CapabilityView}
)

func newService(t *testing.T) (*roles.Service, *memstore.Store, *invalidations) {
	t.Helper()
	st := memstore.New()
	inv := &invalidations{}
	svc := roles.NewService(st, roles.Config{Audit: shared.NewAuditLogger(st), Invalidator: inv})
	return svc, st, inv
}

func systemRole(t *testing.T, st *memstore.Store, name string) rbac.Role {
	t.Helper()
	list, err := st.ListRoles(context.Background())
	require.NoError(t, err)
	for _, r := range list {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("role %q missing", name)
	return rbac.Role{}
}

func TestCreateRoleDefaultsColorAndAudits(t *testing.T) {
	ctx := context.Background()
	svc, st, inv := newService(t)

	role, err := svc.CreateRole(ctx, editor, roles.CreateInput{Name: "  Manager ", Description: "Line managers"})
	require.NoError(t, err)
	assert.Equal(t, "Manager", role.Name)
	assert.Equal(t, rbac.DefaultRoleColor, role.Color)
	assert.False(t, role.IsSystemRole)
	assert.Equal(t, 1, inv.n)

	logs, err := st.ListAuditLogs(ctx, store.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "role.create", logs[0].Action)
	assert.Equal(t, int64(7), logs[0].ActorID)
}

func TestCreateRoleRejections(t *testing.T) {
	ctx := context.Background()
	svc, st, inv := newService(t)

	_, err := svc.CreateRole(ctx, viewer, roles.CreateInput{Name: "Manager"})
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.CreateRole(ctx, editor, roles.CreateInput{Name: "   "})
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "name")

	_, err = svc.CreateRole(ctx, editor, roles.CreateInput{Name: "Manager", Color: "red"})
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "color")

	_, err = svc.CreateRole(ctx, editor, roles.CreateInput{Name: rbac.RoleNameAdmin})
	require.ErrorIs(t, err, shared.ErrDuplicate)

	all, err := st.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Zero(t, inv.n)
}

func TestUpdateRole(t *testing.T) {
	ctx := context.Background()
	svc, _, inv := newService(t)
	role, err := svc.CreateRole(ctx, editor, roles.CreateInput{Name: "Manager", Color: "#111111"})
	require.NoError(t, err)

	updated, err := svc.UpdateRole(ctx, editor, role.ID, roles.UpdateInput{Name: "Team Lead", Description: "Leads"})
	require.NoError(t, err)
	assert.Equal(t, "Team Lead", updated.Name)
	assert.Equal(t, "#111111", updated.Color, "empty color keeps the current one")
	assert.Equal(t, 2, inv.n)

	_, err = svc.UpdateRole(ctx, editor, 999, roles.UpdateInput{Name: "Ghost"})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSystemRolesAreProtected(t *testing.T) {
	ctx := context.Background()
	svc, st, inv := newService(t)
	admin := systemRole(t, st, rbac.RoleNameAdmin)

	_, err := svc.UpdateRole(ctx, editor, admin.ID, roles.UpdateInput{Name: "Superuser"})
	require.ErrorIs(t, err, shared.ErrSystemRole)

	recolored, err := svc.UpdateRole(ctx, editor, admin.ID, roles.UpdateInput{Name: rbac.RoleNameAdmin, Color: "#000000"})
	require.NoError(t, err)
	assert.Equal(t, "#000000", recolored.Color)

	err = svc.DeleteRole(ctx, editor, admin.ID)
	require.ErrorIs(t, err, shared.ErrSystemRole)
	_, err = st.GetRole(ctx, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, inv.n)
}

func TestDeleteRoleCascades(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newService(t)
	role, err := svc.CreateRole(ctx, editor, roles.CreateInput{Name: "Contractor"})
	require.NoError(t, err)
	action, err := st.InsertAction(ctx, rbac.Action{Name: "Deploy Code", Category: "Engineering"})
	require.NoError(t, err)
	_, err = st.InsertPermission(ctx, rbac.Permission{RoleID: role.ID, ActionID: action.ID, Status: rbac.StatusGranted})
	require.NoError(t, err)

	require.ErrorIs(t, svc.DeleteRole(ctx, viewer, role.ID), shared.ErrForbidden)
	require.NoError(t, svc.DeleteRole(ctx, editor, role.ID))

	perms, err := st.ListPermissions(ctx)
	require.NoError(t, err)
	assert.Empty(t, perms)
	require.ErrorIs(t, svc.DeleteRole(ctx, editor, role.ID), shared.ErrNotFound)
}
