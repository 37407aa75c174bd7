package users_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/authmatrix/internal/rbac"
	"github.com/odyssey-erp/authmatrix/internal/shared"
	"github.com/odyssey-erp/authmatrix/internal/store/memstore"
	"github.com/odyssey-erp/authmatrix/internal/users"
)

func TestHandlerAdminOnlyMutations(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	svc := newService(st, st, nil)
	gate := rbac.Gate{Profiles: st}

	created, err := svc.Bootstrap(ctx, "root@example.com", "password123", "Root")
	require.NoError(t, err)
	require.True(t, created)
	rootAcct, err := st.FindAccountByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	editID := roleByName(t, st, rbac.RoleNameEditView)
	ed, err := svc.Provision(ctx, admin, users.ProvisionInput{Email: "ed@example.com", Password: "password123", FullName: "Ed", RoleID: &editID})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Route("/users", func(r chi.Router) {
		r.Use(gate.Authenticate)
		users.NewHandler(nil, svc, gate).MountRoutes(r)
	})
	send := func(userID int64, method, target, body string) int {
		req := httptest.NewRequest(method, target, strings.NewReader(body))
		sess := &shared.Session{ID: "s"}
		sess.SetUser(strconv.FormatInt(userID, 10))
		req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr.Code
	}

	newUser := `{"email":"x@example.com","password":"password123","full_name":"X"}`
	assert.Equal(t, http.StatusOK, send(ed.ID, http.MethodGet, "/users/", ""))
	assert.Equal(t, http.StatusForbidden, send(ed.ID, http.MethodPost, "/users/", newUser))
	assert.Equal(t, http.StatusCreated, send(rootAcct.ID, http.MethodPost, "/users/", newUser))
	assert.Equal(t, http.StatusConflict, send(rootAcct.ID, http.MethodPost, "/users/", newUser))

	target := "/users/" + strconv.FormatInt(ed.ID, 10) + "/role"
	assert.Equal(t, http.StatusForbidden, send(ed.ID, http.MethodPut, target, `{"role_id":null}`))
	assert.Equal(t, http.StatusOK, send(rootAcct.ID, http.MethodPut, target, `{"role_id":null}`))
	profile, err := st.GetProfile(ctx, ed.ID)
	require.NoError(t, err)
	assert.Nil(t, profile.RoleID)
}
