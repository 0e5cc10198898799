package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionCookie(t *testing.T, uid uint) *http.Cookie {
	t.Helper()
	rr := httptest.NewRecorder()
	CreateSession(rr, uid)
	for _, c := range rr.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatalf("missing session cookie")
	return nil
}

func TestSessionCookieFormat(t *testing.T) {
	c := sessionCookie(t, 7)
	assert.Regexp(t, regexp.MustCompile(`^[0-9]+\.[A-Za-z0-9_-]+$`), c.Value)
}

func TestParseSessionRejectsTampering(t *testing.T) {
	c := sessionCookie(t, 7)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	uid, ok := ParseSession(req)
	require.True(t, ok)
	assert.Equal(t, uint(7), uid)

	forged := &http.Cookie{Name: sessionCookieName, Value: "8." + c.Value[2:]}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(forged)
	_, ok = ParseSession(req)
	assert.False(t, ok)
}

func TestTokenRoundTrip(t *testing.T) {
	tok, exp, err := IssueToken(42, "finance", 3)
	require.NoError(t, err)
	assert.False(t, exp.IsZero())

	claims, err := ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "finance", claims.Profile)
	assert.Equal(t, uint(3), claims.DepartementID)

	_, err = ParseToken(tok + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddlewareBearerToken(t *testing.T) {
	tok, _, err := IssueToken(9, "demandeur", 1)
	require.NoError(t, err)

	var got uint
	h := Middleware(RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = UserIDFromContext(r.Context())
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, uint(9), got)
}

func TestRequireAuth(t *testing.T) {
	h := Middleware(RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rr.Body.String())

	SetUserVerifier(func(_ context.Context, uid uint) bool { return uid != 5 })
	t.Cleanup(func() { SetUserVerifier(nil) })

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(sessionCookie(t, 5))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "disabled user must be rejected")
}

func TestLoginLimiter(t *testing.T) {
	l := NewLoginLimiter(1, 2)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"), "limits are per IP")
}
