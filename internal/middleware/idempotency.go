package middleware

import (
	"net/http"

	"storefront-be/internal/utils"
)

const (
	IdempotencyHeader    = "Idempotency-Key"
	maxIdempotencyKeyLen = 255
)

// IdempotencyKey copies the Idempotency-Key header onto the request context.
func IdempotencyKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			writeError(w, http.StatusBadRequest, "idempotency key too long")
			return
		}
		next.ServeHTTP(w, r.WithContext(utils.WithIdempotencyKey(r.Context(), key)))
	})
}
