package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractAccessToken(t *testing.T) {
	t.Run("Cookie Preferred", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "access_token", Value: "cookie_token"})
		// Add header as well to ensure cookie takes precedence
		req.Header.Set("Authorization", "Bearer header_token")

		token := ExtractAccessToken(req)
		assert.Equal(t, "cookie_token", token)
	})

	t.Run("Header Fallback", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer header_token")

		token := ExtractAccessToken(req)
		assert.Equal(t, "header_token", token)
	})

	t.Run("Empty Cookie Falls Back to Header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "access_token", Value: ""})
		req.Header.Set("Authorization", "Bearer header_token")

		token := ExtractAccessToken(req)
		assert.Equal(t, "header_token", token)
	})

	t.Run("No Token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)

		token := ExtractAccessToken(req)
		assert.Empty(t, token)
	})

	t.Run("Malformed Header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic user:pass")

		token := ExtractAccessToken(req)
		assert.Empty(t, token)
	})
}

func TestParseToken(t *testing.T) {
	const secret = "test-secret"

	t.Run("Round trip", func(t *testing.T) {
		tok, err := GenerateToken(secret, 42, "c@example.com", "user", time.Hour)
		require.NoError(t, err)

		claims, err := ParseToken(secret, tok)
		require.NoError(t, err)
		assert.Equal(t, uint(42), claims.UserID)
		assert.Equal(t, "c@example.com", claims.Email)
		assert.Equal(t, "user", claims.Role)
	})

	t.Run("Wrong secret", func(t *testing.T) {
		tok, err := GenerateToken(secret, 42, "", "user", time.Hour)
		require.NoError(t, err)

		_, err = ParseToken("other", tok)
		assert.Error(t, err)
	})

	t.Run("Expired", func(t *testing.T) {
		tok, err := GenerateToken(secret, 42, "", "user", -time.Minute)
		require.NoError(t, err)

		_, err = ParseToken(secret, tok)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("Missing user", func(t *testing.T) {
		tok, err := GenerateToken(secret, 0, "", "user", time.Hour)
		require.NoError(t, err)

		_, err = ParseToken(secret, tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Unsigned", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodNone, CustomClaims{UserID: 1})
		s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = ParseToken(secret, s)
		assert.Error(t, err)
	})

	t.Run("No secret", func(t *testing.T) {
		_, err := GenerateToken("", 1, "", "user", time.Hour)
		assert.ErrorIs(t, err, ErrMissingSecret)
		_, err = ParseToken("", "x")
		assert.ErrorIs(t, err, ErrMissingSecret)
	})
}
