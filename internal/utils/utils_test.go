package utils

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserContext(t *testing.T) {
	t.Run("SetUserContext and GetUserIDFromContext", func(t *testing.T) {
		ctx := SetUserContext(context.Background(), 100, "user@example.com", RoleCustomer)

		id, ok := GetUserIDFromContext(ctx)
		assert.True(t, ok)
		assert.Equal(t, uint(100), id)
		assert.Equal(t, "user@example.com", GetUserEmailFromContext(ctx))
		assert.Equal(t, RoleCustomer, GetUserRoleFromContext(ctx))
		assert.False(t, IsAdmin(ctx))
	})

	t.Run("Admin", func(t *testing.T) {
		ctx := SetUserContext(context.Background(), 1, "admin@example.com", RoleAdmin)
		assert.True(t, IsAdmin(ctx))
	})

	t.Run("GetUserIDFromContext with empty context", func(t *testing.T) {
		_, ok := GetUserIDFromContext(context.Background())
		assert.False(t, ok)
	})
}

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, "", IdempotencyKeyFrom(context.Background()))
	assert.Equal(t, "k-1", IdempotencyKeyFrom(WithIdempotencyKey(context.Background(), "k-1")))
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name        string
		page, limit string
		wantPage    int32
		wantLimit   int32
	}{
		{"Defaults", "", "", 1, 20},
		{"Valid", "3", "50", 3, 50},
		{"Negative", "-2", "-5", 1, 20},
		{"ClampLimit", "1", "1000", 1, 100},
		{"Garbage", "x", "y", 1, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, limit := ParsePagination(tt.page, tt.limit)
			assert.Equal(t, tt.wantPage, page)
			assert.Equal(t, tt.wantLimit, limit)
		})
	}
}

func TestWriteJSONError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSONError(w, "order not found", http.StatusNotFound)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "order not found", body["error"])
}
