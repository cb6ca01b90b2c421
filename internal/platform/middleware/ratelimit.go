package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// Throttle limits requests per client IP over a one-minute window.
// A non-positive limit disables throttling.
func Throttle(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(requestsPerMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
}

// ThrottleBy limits requests per key returned by keyFn over a one-minute
// window. Requests for which keyFn fails fall back to the client IP.
func ThrottleBy(requestsPerMinute int, keyFn func(r *http.Request) string) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(requestsPerMinute, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		if key := keyFn(r); key != "" {
			return key, nil
		}
		return httprate.KeyByIP(r)
	}))
}
