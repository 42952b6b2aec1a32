package middlewares

import (
	"context"
	"net/http"
)

// contextKey is an unexported type for context keys in this package, so
// values cannot collide with keys set by other packages.
type contextKey string

// HeaderXIdempotencyKey carries the caller-supplied workflow run ID. A
// repeated request with the same key fails with a conflict instead of
// starting a second run.
const HeaderXIdempotencyKey = "X-Idempotency-Key"

const contextKeyIdempotencyKey contextKey = "x-idempotency-key"

// AttachIdempotencyKey copies the idempotency header into the request
// context where the handlers read it.
func AttachIdempotencyKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderXIdempotencyKey)
		ctx := context.WithValue(r.Context(), contextKeyIdempotencyKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdempotencyKeyFromContext returns the idempotency key, or "" when the
// caller sent none.
func IdempotencyKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(contextKeyIdempotencyKey).(string)
	return key
}
