package request

import (
	"context"
	"net/http"
	"time"
)

type contextKeyRequestTime struct{}

// Timestamp pins a single "now" for the request so that every timestamp a
// handler derives (issue time, expiry, verified_at) agrees.
func Timestamp(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithTime(r.Context(), time.Now())))
	})
}

// Now returns the time pinned by Timestamp, or the wall clock outside a
// request.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(contextKeyRequestTime{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins t in ctx.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, contextKeyRequestTime{}, t)
}
