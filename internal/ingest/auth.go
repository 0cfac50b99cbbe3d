package ingest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/interpretcore/core/internal/auth"
)

type issueTokenRequest struct {
	Role       string `json:"role"`
	ListenerID string `json:"listenerId,omitempty"`
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// handleIssueToken mints an opaque room access token pair scoping the
// caller to one room and role. POST /api/v1/rooms/{slug}/tokens
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if s.jwt == nil {
		writeError(w, http.StatusServiceUnavailable, "token issuance is not configured")
		return
	}

	slug := chi.URLParam(r, "slug")
	if err := s.validator.ValidateRoomSlug(slug); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	var role auth.Role
	switch req.Role {
	case string(auth.RoleSpeaker):
		role = auth.RoleSpeaker
	case string(auth.RoleListener):
		role = auth.RoleListener
	default:
		writeError(w, http.StatusBadRequest, "role must be speaker or listener")
		return
	}

	listenerID := req.ListenerID
	if listenerID == "" {
		listenerID = uuid.NewString()
	}

	pair, err := s.jwt.GenerateTokenPair(slug, listenerID, role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// handleRefreshToken exchanges a valid refresh token for a new pair.
// POST /api/v1/auth/refresh
func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	if s.jwt == nil {
		writeError(w, http.StatusServiceUnavailable, "token issuance is not configured")
		return
	}

	var req refreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	pair, err := s.jwt.RefreshAccessToken(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}

	writeJSON(w, http.StatusOK, pair)
}
