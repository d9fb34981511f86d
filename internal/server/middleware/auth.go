package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/framingui/keygate/internal/service"
)

type contextKeyAuth string

// SessionKey is the context key for the authenticated session principal.
const SessionKey contextKeyAuth = "session_principal"

// SessionCookie is the cookie carrying the session token for browser
// clients. API clients send the same token as a Bearer header.
const SessionCookie = "keygate_session"

// RequireSession validates the request's session token and attaches the
// principal to the context. The token is read from the Authorization header
// (Bearer scheme) or, failing that, the session cookie. On failure a 401
// JSON error response is returned.
func RequireSession(sessions *service.SessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				token = strings.TrimPrefix(h, "Bearer ")
			} else if c, err := r.Cookie(SessionCookie); err == nil {
				token = c.Value
			}

			if token == "" {
				writeAuthError(w, http.StatusUnauthorized, "Authentication required. Provide a Bearer session token.")
				return
			}

			principal, err := sessions.ValidateToken(r.Context(), token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "Invalid or expired session")
				return
			}

			ctx := context.WithValue(r.Context(), SessionKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSession extracts the authenticated principal from the context.
// Returns nil for an unauthenticated request.
func GetSession(ctx context.Context) *service.SessionPrincipal {
	if p, ok := ctx.Value(SessionKey).(*service.SessionPrincipal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Constructed by hand to avoid an import cycle with the handler package.
	w.Write([]byte(`{"error":{"code":` + httpStatusString(status) + `,"message":"` + message + `"}}`))
}

func httpStatusString(code int) string {
	switch code {
	case 401:
		return "401"
	case 403:
		return "403"
	case 429:
		return "429"
	default:
		return "500"
	}
}
