package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storefront-be/internal/auth"
	"storefront-be/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func ok(t *testing.T, check func(r *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuth(t *testing.T) {
	t.Run("Missing Token", func(t *testing.T) {
		next := ok(t, func(r *http.Request) {
			_, found := utils.GetUserIDFromContext(r.Context())
			assert.False(t, found, "Context should not contain user ID")
		})

		w := httptest.NewRecorder()
		Auth(secret)(next).ServeHTTP(w, httptest.NewRequest("GET", "/orders", nil))

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Invalid Token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/orders", nil)
		req.Header.Set("Authorization", "Bearer invalid-token")
		w := httptest.NewRecorder()

		Auth(secret)(http.NotFoundHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Valid Token", func(t *testing.T) {
		tok, err := auth.GenerateToken(secret, 1, "a@example.com", utils.RoleAdmin, time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest("GET", "/orders", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()

		next := ok(t, func(r *http.Request) {
			userID, found := utils.GetUserIDFromContext(r.Context())
			assert.True(t, found)
			assert.Equal(t, uint(1), userID)
			assert.Equal(t, utils.RoleAdmin, utils.GetUserRoleFromContext(r.Context()))
		})

		Auth(secret)(next).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Expired Token", func(t *testing.T) {
		tok, err := auth.GenerateToken(secret, 1, "", "user", -time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest("GET", "/orders", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()

		Auth(secret)(http.NotFoundHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Malformed Header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/orders", nil)
		req.Header.Set("Authorization", "Basic user:pass")
		w := httptest.NewRecorder()

		Auth(secret)(ok(t, nil)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(utils.RoleAdmin)(ok(t, nil))

	tests := []struct {
		name string
		ctx  context.Context
		want int
	}{
		{"Anonymous", context.Background(), http.StatusUnauthorized},
		{"Customer", utils.SetUserContext(context.Background(), 2, "", utils.RoleCustomer), http.StatusForbidden},
		{"Admin", utils.SetUserContext(context.Background(), 1, "", utils.RoleAdmin), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest("PATCH", "/admin/orders/x/status", nil).WithContext(tt.ctx))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestIdempotencyKey(t *testing.T) {
	t.Run("Copies header to context", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/orders/x/cancel", nil)
		req.Header.Set(IdempotencyHeader, "abc-123")
		w := httptest.NewRecorder()

		IdempotencyKey(ok(t, func(r *http.Request) {
			assert.Equal(t, "abc-123", utils.IdempotencyKeyFrom(r.Context()))
		})).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Absent", func(t *testing.T) {
		w := httptest.NewRecorder()
		IdempotencyKey(ok(t, func(r *http.Request) {
			assert.Empty(t, utils.IdempotencyKeyFrom(r.Context()))
		})).ServeHTTP(w, httptest.NewRequest("POST", "/orders", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Too long", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/orders", nil)
		req.Header.Set(IdempotencyHeader, strings.Repeat("k", 256))
		w := httptest.NewRecorder()

		IdempotencyKey(http.NotFoundHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := NewRateLimiter(ctx)
	handler := rl.Middleware(ok(t, nil))

	t.Run("Webhook burst is strict", func(t *testing.T) {
		codes := map[int]int{}
		for i := 0; i < burstStrict+3; i++ {
			req := httptest.NewRequest("POST", "/webhooks/payments", nil)
			req.RemoteAddr = "10.0.0.1:1234"
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			codes[w.Code]++
		}
		assert.Equal(t, burstStrict, codes[http.StatusOK])
		assert.Equal(t, 3, codes[http.StatusTooManyRequests])
	})

	t.Run("Separate callers have separate buckets", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/webhooks/payments", nil)
		req.RemoteAddr = "10.0.0.2:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Evicts idle visitors", func(t *testing.T) {
		now := time.Now()
		idle := &RateLimiter{visitors: map[string]*visitor{}, now: func() time.Time { return now }}
		idle.get("ip:10.0.0.3:general", limitGeneral, burstGeneral)

		idle.now = func() time.Time { return now.Add(10 * time.Minute) }
		idle.evict()
		assert.Empty(t, idle.visitors)
	})
}

func TestResolveRateTier(t *testing.T) {
	_, _, tier := resolveRateTier(httptest.NewRequest("GET", "/orders", nil))
	assert.Equal(t, "general", tier)
	_, _, tier = resolveRateTier(httptest.NewRequest("POST", "/orders/x/cancel", nil))
	assert.Equal(t, "write", tier)
	_, _, tier = resolveRateTier(httptest.NewRequest("POST", "/webhooks/payments", nil))
	assert.Equal(t, "strict", tier)
}

func TestRecover(t *testing.T) {
	handler := Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/orders", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
