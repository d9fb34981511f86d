package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/framingui/keygate/internal/ratelimit"
)

// LoginRateLimit limits login attempts per IP address. Failed logins carry
// no subject to key on, so the caller address is the only usable window.
func LoginRateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

// RateLimit gates a route group with the shared limiter, keyed by the
// authenticated user. It must run after RequireSession. Quota headers are
// stamped on every response, allowed or denied.
func RateLimit(limiter ratelimit.Limiter, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetSession(r.Context())
			subject := r.RemoteAddr
			if principal != nil {
				subject = principal.UserID
			}

			res, err := limiter.Allow(r.Context(), route, subject)
			if err != nil {
				writeAuthError(w, http.StatusInternalServerError, "Rate limiter unavailable")
				return
			}

			SetRateLimitHeaders(w, res)
			if !res.Allowed {
				retry := res.RetryAfter(time.Now())
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeAuthError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SetRateLimitHeaders stamps the standard quota headers from a limiter
// verdict.
func SetRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
}
