package actions_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/authmatrix/internal/actions"
	"github.com/odyssey-erp/authmatrix/internal/auth"
	"github.com/odyssey-erp/authmatrix/internal/rbac"
	"github.com/odyssey-erp/authmatrix/internal/shared"
	"github.com/odyssey-erp/authmatrix/internal/store"
	"github.com/odyssey-erp/authmatrix/internal/store/memstore"
)

type invalidations struct{ n int }

func (i *invalidations) Invalidate(context.Context) error {
	i.n++
	return nil
}

var editor = rbac.Principal{AccountID: 1, Capability: rbac.CapabilityEdit}

func TestCreateAndFilterActions(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	inv := &invalidations{}
	svc := actions.NewService(st, actions.Config{Audit: shared.NewAuditLogger(st), Invalidator: inv})

	for _, in := range []actions.Input{
		{Name: "Approve Budget", Category: "Finance"},
		{Name: " Deploy Code ", Description: "Ship it", Category: " Engineering"},
		{Name: "Approve Expense Reports", Category: "Finance"},
	} {
		_, err := svc.CreateAction(ctx, editor, in)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, inv.n)

	all, err := svc.ListActions(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Deploy Code", all[0].Name)
	assert.Equal(t, "Engineering", all[0].Category)

	finance, err := svc.ListActions(ctx, "Finance")
	require.NoError(t, err)
	require.Len(t, finance, 2)
	assert.Equal(t, "Approve Budget", finance[0].Name)

	logs, err := st.ListAuditLogs(ctx, store.AuditFilter{Entity: "action"})
	require.NoError(t, err)
	assert.Len(t, logs, 3)
}

func TestCreateActionValidation(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	svc := actions.NewService(st, actions.Config{})

	_, err := svc.CreateAction(ctx, rbac.Principal{}, actions.Input{Name: "X", Category: "Y"})
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.CreateAction(ctx, editor, actions.Input{Name: "Deploy Code"})
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "is required", verr.Fields["category"])

	_, err = svc.CreateAction(ctx, editor, actions.Input{Name: "Deploy Code", Category: "Engineering"})
	require.NoError(t, err)
	_, err = svc.CreateAction(ctx, editor, actions.Input{Name: "Deploy Code", Category: "Ops"})
	require.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestUpdateAction(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	svc := actions.NewService(st, actions.Config{})
	a, err := svc.CreateAction(ctx, editor, actions.Input{Name: "Deploy Code", Category: "Engineering"})
	require.NoError(t, err)

	updated, err := svc.UpdateAction(ctx, editor, a.ID, actions.Input{Name: "Deploy Code", Description: "Production only", Category: "Ops"})
	require.NoError(t, err)
	assert.Equal(t, "Ops", updated.Category)
	assert.Equal(t, "Production only", updated.Description)

	_, err = svc.UpdateAction(ctx, editor, 404, actions.Input{Name: "Nope", Category: "Ops"})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestHandlerCatalogRoutes(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	svc := actions.NewService(st, actions.Config{})
	gate := rbac.Gate{Profiles: st}

	roleList, err := st.ListRoles(ctx)
	require.NoError(t, err)
	users := map[string]string{}
	for _, role := range roleList {
		acct, err := st.InsertAccount(ctx, auth.Account{Email: strings.ReplaceAll(role.Name, " ", "") + "@example.com", PasswordHash: "x"})
		require.NoError(t, err)
		_, err = st.InsertProfile(ctx, rbac.Profile{ID: acct.ID, FullName: role.Name, Email: acct.Email, RoleID: &role.ID})
		require.NoError(t, err)
		users[role.Name] = strconv.FormatInt(acct.ID, 10)
	}

	r := chi.NewRouter()
	r.Route("/actions", func(r chi.Router) {
		r.Use(gate.Authenticate)
		actions.NewHandler(nil, svc, gate).MountRoutes(r)
	})
	send := func(role, method, target, body string) int {
		req := httptest.NewRequest(method, target, strings.NewReader(body))
		sess := &shared.Session{ID: "s"}
		sess.SetUser(users[role])
		req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr.Code
	}

	body := `{"name":"Deploy Code","category":"Engineering"}`
	assert.Equal(t, http.StatusForbidden, send(rbac.RoleNameViewOnly, http.MethodPost, "/actions/", body))
	assert.Equal(t, http.StatusCreated, send(rbac.RoleNameEditView, http.MethodPost, "/actions/", body))
	assert.Equal(t, http.StatusConflict, send(rbac.RoleNameAdmin, http.MethodPost, "/actions/", body))
	assert.Equal(t, http.StatusOK, send(rbac.RoleNameViewOnly, http.MethodGet, "/actions/?category=Engineering", ""))
	assert.Equal(t, http.StatusOK, send(rbac.RoleNameAdmin, http.MethodPut, "/actions/1", `{"name":"Deploy","category":"Ops"}`))
	assert.Equal(t, http.StatusNotFound, send(rbac.RoleNameViewOnly, http.MethodGet, "/actions/2", ""))
}
