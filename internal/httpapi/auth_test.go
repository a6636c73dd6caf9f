package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTAuthentication(t *testing.T) {
	auth := NewAuthenticator("secret")
	var seen Identity
	h := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = identityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	token, err := auth.SignToken(Claims{
		UserID: "u-1",
		Role:   RoleStaff,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/offices/Library/queue", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, Identity{UserID: "u-1", Role: RoleStaff}, seen)
	assert.True(t, seen.IsStaff())

	req = httptest.NewRequest(http.MethodGet, "/api/offices/Library/queue", nil)
	req.Header.Set("X-User-ID", "u-1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := NewAuthenticator("other").SignToken(Claims{UserID: "u-1"})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/offices/Library/queue", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTSubjectFallbackAndExpiry(t *testing.T) {
	auth := NewAuthenticator("secret")

	token, err := auth.SignToken(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u-7"}})
	require.NoError(t, err)
	identity, err := auth.parseToken(token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u-7", Role: RoleVisitor}, identity)

	expired, err := auth.SignToken(Claims{
		UserID:           "u-7",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	})
	require.NoError(t, err)
	_, err = auth.parseToken(expired)
	assert.ErrorIs(t, err, errInvalidIdentity)
}

func TestPublicEndpoints(t *testing.T) {
	assert.True(t, isPublicEndpoint(httptest.NewRequest(http.MethodGet, "/healthz", nil)))
	assert.True(t, isPublicEndpoint(httptest.NewRequest(http.MethodGet, "/metrics", nil)))
	assert.False(t, isPublicEndpoint(httptest.NewRequest(http.MethodGet, "/api/tickets/t-1", nil)))
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer abc"))
	assert.Equal(t, "", bearerToken("Basic abc"))
	assert.Equal(t, "", bearerToken("Bearer"))
}
