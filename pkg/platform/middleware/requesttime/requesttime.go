// Package requesttime pins one "now" per request. Every expiry check and
// every event timestamp inside a request reads the same instant.
package requesttime

import (
	"net/http"
	"time"

	"soulid/pkg/requestcontext"
)

// Middleware pins the wall clock, in UTC.
func Middleware(next http.Handler) http.Handler {
	return WithClock(time.Now)(next)
}

// WithClock pins now() instead of the wall clock. Tests use it to move
// requests across name expiries.
func WithClock(now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), now().UTC())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
