package controllers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signSession(t *testing.T, secret, userID string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestResolveUserIDFromBearerHeader(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil)
	req.Header.Set("Authorization", "Bearer "+signSession(t, "test-secret", "u1", time.Hour))

	userID, err := ResolveUserID(req)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestResolveUserIDFromCookie(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: signSession(t, "test-secret", "u2", time.Hour)})

	userID, err := ResolveUserID(req)
	require.NoError(t, err)
	assert.Equal(t, "u2", userID)
}

func TestResolveUserIDHeaderWinsOverCookie(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil)
	req.Header.Set("Authorization", "Bearer "+signSession(t, "test-secret", "header-user", time.Hour))
	req.AddCookie(&http.Cookie{Name: "session", Value: signSession(t, "test-secret", "cookie-user", time.Hour)})

	userID, err := ResolveUserID(req)
	require.NoError(t, err)
	assert.Equal(t, "header-user", userID)
}

func TestResolveUserIDRejections(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "test-secret")

	t.Run("no credential", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		_, err := ResolveUserID(req)
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signSession(t, "other-secret", "u1", time.Hour))
		_, err := ResolveUserID(req)
		assert.Error(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signSession(t, "test-secret", "u1", -time.Hour))
		_, err := ResolveUserID(req)
		assert.Error(t, err)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer not.a.jwt")
		_, err := ResolveUserID(req)
		assert.Error(t, err)
	})
}
