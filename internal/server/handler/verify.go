package handler

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/framingui/keygate/internal/entitlement"
	"github.com/framingui/keygate/internal/model"
	"github.com/framingui/keygate/internal/server/middleware"
	"github.com/framingui/keygate/internal/service"
)

// VerifyHandler serves the MCP credential verification endpoint.
type VerifyHandler struct {
	verifier *service.Verifier
	logger   *slog.Logger
}

func NewVerifyHandler(verifier *service.Verifier, logger *slog.Logger) *VerifyHandler {
	return &VerifyHandler{verifier: verifier, logger: logger}
}

// Verify handles GET /api/mcp/verify. The credential travels in the
// Authorization header; the response body always carries a top-level
// "valid" field so MCP clients can branch without inspecting status codes.
//
// Status mapping: 200 valid, 401 rejected, 429 throttled, 500 backend
// failure. A backend failure is never reported as 401.
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	res, err := h.verifier.Verify(r.Context(), r.Header.Get("Authorization"), clientIP(r))
	if err != nil {
		h.logger.Error("verification backend failure",
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		// The limiter may have ruled before the backend fell over; its
		// verdict still rides on the response.
		if res != nil {
			middleware.SetRateLimitHeaders(w, res.RateLimit)
		}
		writeJSON(w, http.StatusInternalServerError, model.VerifyFailure{
			Valid:   false,
			Error:   "internal_error",
			Message: "Verification service temporarily unavailable",
		})
		return
	}

	middleware.SetRateLimitHeaders(w, res.RateLimit)

	switch res.Status {
	case service.StatusAuthorized:
		writeJSON(w, http.StatusOK, successBody(res))

	case service.StatusRateLimited:
		w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, model.VerifyFailure{
			Valid:      false,
			Error:      res.Reason.Public(),
			Message:    res.Reason.Message(),
			RetryAfter: res.RetryAfter,
		})

	default:
		writeJSON(w, http.StatusUnauthorized, model.VerifyFailure{
			Valid:   false,
			Error:   res.Reason.Public(),
			Message: res.Reason.Message(),
		})
	}
}

func successBody(res *service.Result) model.VerifySuccess {
	return model.VerifySuccess{
		Valid: true,
		User: model.VerifyUser{
			ID:    res.User.ID,
			Email: res.User.Email,
			Plan:  res.User.Plan,
		},
		Licenses: wireLicenses(res.Entitlements),
		Themes: model.VerifyThemes{
			Free:     emptyNotNull(res.Entitlements.FreeThemes),
			Licensed: emptyNotNull(res.Entitlements.LicensedThemes),
		},
	}
}

func wireLicenses(ents *entitlement.Entitlements) []model.VerifyLicense {
	out := make([]model.VerifyLicense, 0, len(ents.Licenses))
	for _, lic := range ents.Licenses {
		wire := model.VerifyLicense{
			ThemeID:  lic.ThemeID,
			Tier:     lic.Tier,
			IsActive: lic.IsActive,
		}
		if lic.ExpiresAt != nil {
			s := lic.ExpiresAt.UTC().Format(time.RFC3339)
			wire.ExpiresAt = &s
		}
		out = append(out, wire)
	}
	return out
}

// emptyNotNull keeps empty theme lists serializing as [] rather than null.
func emptyNotNull(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// clientIP prefers the address chi's RealIP middleware resolved into
// RemoteAddr, stripping the port when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
