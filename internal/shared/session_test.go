package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "sid", "secret", time.Hour, false), mr
}

func requestWithCookie(value string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if value != "" {
		r.AddCookie(&http.Cookie{Name: "sid", Value: value})
	}
	return r
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	sm, mr := newTestManager(t)

	sess, err := sm.Load(ctx, requestWithCookie(""))
	require.NoError(t, err)
	sess.SetUser("42")
	sess.Set("k", "v")

	rr := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rr, nil, sess))
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sess.ID, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookies[0].SameSite)
	assert.True(t, mr.Exists("authmatrix:session:"+sess.ID))

	loaded, err := sm.Load(ctx, requestWithCookie(sess.ID))
	require.NoError(t, err)
	assert.Equal(t, "42", loaded.User())
	assert.Equal(t, "v", loaded.Get("k"))

	// a clean session is not rewritten
	rr = httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rr, nil, loaded))
	assert.Empty(t, rr.Result().Cookies())
}

func TestSessionUnknownCookieGetsFreshID(t *testing.T) {
	sm, _ := newTestManager(t)
	sess, err := sm.Load(context.Background(), requestWithCookie("attacker-chosen"))
	require.NoError(t, err)
	assert.NotEqual(t, "attacker-chosen", sess.ID)
	assert.Empty(t, sess.User())
}

func TestSessionRenewDropsOldKey(t *testing.T) {
	ctx := context.Background()
	sm, mr := newTestManager(t)

	sess, err := sm.Load(ctx, requestWithCookie(""))
	require.NoError(t, err)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), nil, sess))
	loaded, err := sm.Load(ctx, requestWithCookie(sess.ID))
	require.NoError(t, err)

	oldID := loaded.ID
	require.NoError(t, sm.Renew(ctx, loaded))
	assert.NotEqual(t, oldID, loaded.ID)
	assert.False(t, mr.Exists("authmatrix:session:"+oldID))

	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), nil, loaded))
	assert.True(t, mr.Exists("authmatrix:session:"+loaded.ID))
}

func TestSessionDestroyExpiresCookie(t *testing.T) {
	ctx := context.Background()
	sm, mr := newTestManager(t)
	sess, err := sm.Load(ctx, requestWithCookie(""))
	require.NoError(t, err)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), nil, sess))

	sm.Destroy(sess)
	rr := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rr, nil, sess))
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
	assert.False(t, mr.Exists("authmatrix:session:"+sess.ID))
}

func TestSessionContext(t *testing.T) {
	assert.Nil(t, SessionFromContext(context.Background()))
	sess := &Session{ID: "x"}
	assert.Same(t, sess, SessionFromContext(ContextWithSession(context.Background(), sess)))
}
