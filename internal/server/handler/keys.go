package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/framingui/keygate/internal/model"
	"github.com/framingui/keygate/internal/server/middleware"
	"github.com/framingui/keygate/internal/service"
)

// KeyHandler serves the authenticated key-management routes. Every route
// requires a session principal in the context.
type KeyHandler struct {
	keys   *service.KeyService
	logger *slog.Logger
}

func NewKeyHandler(keys *service.KeyService, logger *slog.Logger) *KeyHandler {
	return &KeyHandler{keys: keys, logger: logger}
}

// keySummary is the list/create wire form of a key. The hash never appears;
// the prefix is enough for a user to match a key in their tooling.
type keySummary struct {
	ID         string     `json:"id"`
	Prefix     string     `json:"prefix"`
	Label      string     `json:"label"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	RevokedAt  *time.Time `json:"revokedAt"`
}

func toSummary(k model.APIKey) keySummary {
	return keySummary{
		ID:         k.ID,
		Prefix:     k.KeyPrefix,
		Label:      k.Label,
		CreatedAt:  k.CreatedAt,
		LastUsedAt: k.LastUsedAt,
		ExpiresAt:  k.ExpiresAt,
		RevokedAt:  k.RevokedAt,
	}
}

// List handles GET /api/user/api-keys.
func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetSession(r.Context())

	keys, err := h.keys.List(r.Context(), principal.UserID)
	if err != nil {
		h.logger.Error("listing api keys", "error", err, "user_id", principal.UserID)
		writeError(w, http.StatusInternalServerError, "Failed to list API keys")
		return
	}

	out := make([]keySummary, 0, len(keys))
	for _, k := range keys {
		out = append(out, toSummary(k))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys": out})
}

type createKeyRequest struct {
	Label     string     `json:"label"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// Create handles POST /api/user/api-keys. The response is the only place
// the plaintext key ever appears.
func (h *KeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetSession(r.Context())

	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Label == "" {
		writeError(w, http.StatusBadRequest, "Label is required")
		return
	}
	if len(req.Label) > 100 {
		writeError(w, http.StatusBadRequest, "Label must be 100 characters or fewer")
		return
	}

	issued, err := h.keys.Create(r.Context(), principal.UserID, req.Label, req.ExpiresAt)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrKeyQuota):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrPastExpiry):
			writeError(w, http.StatusBadRequest, "Expiry must be in the future")
		default:
			h.logger.Error("creating api key", "error", err, "user_id", principal.UserID)
			writeError(w, http.StatusInternalServerError, "Failed to create API key")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"key":     issued.Plaintext,
		"details": toSummary(issued.Key),
		"warning": "Store this key now. It will not be shown again.",
	})
}

// Revoke handles DELETE /api/user/api-keys/{keyID}. Revocation is terminal
// and scoped to the keys the session owner holds.
func (h *KeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetSession(r.Context())
	keyID := chi.URLParam(r, "keyID")

	err := h.keys.Revoke(r.Context(), principal.UserID, keyID)
	if err != nil {
		if errors.Is(err, service.ErrKeyNotFound) {
			writeError(w, http.StatusNotFound, "API key not found")
			return
		}
		h.logger.Error("revoking api key", "error", err, "user_id", principal.UserID)
		writeError(w, http.StatusInternalServerError, "Failed to revoke API key")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"revoked": true, "id": keyID})
}
