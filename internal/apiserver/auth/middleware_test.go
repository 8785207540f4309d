package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"natours/internal/shared/model"
	"natours/internal/shared/storage"
	"natours/pkg/logging"
)

var testCfg = Config{JWTSecret: "test-secret", TokenTTL: time.Hour}

// echoActor 把操作者写回响应头
func echoActor(w http.ResponseWriter, r *http.Request) {
	if a := ActorFrom(r.Context()); a != nil {
		w.Header().Set("X-Actor", a.ID+"/"+string(a.Role))
	}
	w.WriteHeader(http.StatusOK)
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken(testCfg, "5c8a1d5b0190b214360dc057", model.UserRoleGuide)
	require.NoError(t, err)

	claims, err := ParseToken(testCfg, token)
	require.NoError(t, err)
	assert.Equal(t, "5c8a1d5b0190b214360dc057", claims.Subject)
	assert.Equal(t, "guide", claims.Role)

	_, err = ParseToken(Config{JWTSecret: "other"}, token)
	assert.Error(t, err)

	expired, err := GenerateToken(Config{JWTSecret: "test-secret", TokenTTL: -time.Minute}, "u1", model.UserRoleUser)
	require.NoError(t, err)
	_, err = ParseToken(testCfg, expired)
	assert.Error(t, err)
}

func TestMiddlewareWithoutLookup(t *testing.T) {
	h := Middleware(testCfg, nil, logging.Discard())(http.HandlerFunc(echoActor))
	token, err := GenerateToken(testCfg, "u1", model.UserRoleAdmin)
	require.NoError(t, err)

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
		actor  string
	}{
		{"anonymous", func(r *http.Request) {}, http.StatusOK, ""},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK, "u1/admin"},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: TokenCookie, Value: token}) }, http.StatusOK, "u1/admin"},
		{"logged out cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: TokenCookie, Value: "loggedout"}) }, http.StatusOK, ""},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc.def.ghi") }, http.StatusUnauthorized, ""},
		{"basic scheme ignored", func(r *http.Request) { r.Header.Set("Authorization", "Basic dXNlcg==") }, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/tours", nil)
			tt.setup(r)
			rec := serve(h, r)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.actor, rec.Header().Get("X-Actor"))
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	h := Middleware(Config{}, nil, logging.Discard())(http.HandlerFunc(echoActor))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer whatever")
	rec := serve(h, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Actor"))
}

func TestMiddlewareLookup(t *testing.T) {
	changed := time.Now().Add(time.Hour)
	users := map[string]*model.User{
		"admin":   {Role: model.UserRoleAdmin},
		"changed": {Role: model.UserRoleUser, PasswordChangedAt: &changed},
	}
	lookup := func(_ context.Context, id string) (*model.User, error) {
		if u, ok := users[id]; ok {
			return u, nil
		}
		return nil, storage.ErrNotFound
	}
	h := Middleware(testCfg, lookup, logging.Discard())(http.HandlerFunc(echoActor))

	request := func(id string, role model.UserRole) *httptest.ResponseRecorder {
		token, err := GenerateToken(testCfg, id, role)
		require.NoError(t, err)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		return serve(h, r)
	}

	// 存储中的角色优先于令牌中的角色
	rec := request("admin", model.UserRoleUser)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin/admin", rec.Header().Get("X-Actor"))

	rec = request("gone", model.UserRoleUser)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "no longer exists")

	rec = request("changed", model.UserRoleUser)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "changed password")
}

func TestGuard(t *testing.T) {
	g := NewGuard(testCfg, logging.Discard())
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

	withActor := func(role model.UserRole) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if role != "" {
			r = r.WithContext(WithActor(r.Context(), &Actor{ID: "u1", Role: role}))
		}
		return r
	}

	assert.Equal(t, http.StatusUnauthorized, serve(g.Protect(ok), withActor("")).Code)
	assert.Equal(t, http.StatusOK, serve(g.Protect(ok), withActor(model.UserRoleUser)).Code)

	adminOnly := g.RestrictTo(model.UserRoleAdmin, model.UserRoleLeadGuide)(ok)
	assert.Equal(t, http.StatusUnauthorized, serve(adminOnly, withActor("")).Code)
	assert.Equal(t, http.StatusForbidden, serve(adminOnly, withActor(model.UserRoleGuide)).Code)
	assert.Equal(t, http.StatusOK, serve(adminOnly, withActor(model.UserRoleLeadGuide)).Code)

	open := NewGuard(Config{}, logging.Discard())
	assert.Equal(t, http.StatusOK, serve(open.RestrictTo(model.UserRoleAdmin)(ok), withActor("")).Code)
}

func TestRequireActor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := RequireActor(r)
	assert.Error(t, err)

	r = r.WithContext(WithActor(r.Context(), &Actor{ID: "u1"}))
	a, err := RequireActor(r)
	require.NoError(t, err)
	assert.Equal(t, "u1", a.ID)
}
