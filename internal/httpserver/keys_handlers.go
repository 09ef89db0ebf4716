package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labiium/routiium/internal/auth"
)

type generateKeyRequest struct {
	Label      *string  `json:"label"`
	TTLSeconds *int64   `json:"ttl_seconds"`
	ExpiresAt  *int64   `json:"expires_at"`
	Scopes     []string `json:"scopes"`
}

func (s *Server) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		s.respondError(w, http.StatusServiceUnavailable, "API key manager unavailable")
		return
	}
	var req generateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var ttl time.Duration
	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		t := time.Unix(*req.ExpiresAt, 0).UTC()
		expiresAt = &t
	} else if req.TTLSeconds != nil {
		if *req.TTLSeconds <= 0 {
			s.respondError(w, http.StatusBadRequest, "ttl_seconds must be > 0")
			return
		}
		ttl = time.Duration(*req.TTLSeconds) * time.Second
	}

	gen, err := s.keys.Generate(r.Context(), req.Label, ttl, expiresAt, req.Scopes)
	if err != nil {
		if errors.Is(err, auth.ErrExpirationRequired) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if expiresAt != nil && !expiresAt.After(time.Now()) {
			s.respondError(w, http.StatusBadRequest, "expires_at must be in the future")
			return
		}
		s.respondError(w, http.StatusInternalServerError, "failed to generate key: "+err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, gen)
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		s.respondError(w, http.StatusServiceUnavailable, "API key manager unavailable")
		return
	}
	keys, err := s.keys.List(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to list keys: "+err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, keys)
}

type revokeKeyRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		s.respondError(w, http.StatusServiceUnavailable, "API key manager unavailable")
		return
	}
	var req revokeKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		s.respondError(w, http.StatusBadRequest, "id required")
		return
	}
	revoked, err := s.keys.Revoke(r.Context(), req.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to revoke: "+err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"revoked": revoked, "id": req.ID})
}

type setExpirationRequest struct {
	ID         string `json:"id"`
	ExpiresAt  *int64 `json:"expires_at"`
	TTLSeconds *int64 `json:"ttl_seconds"`
}

func (s *Server) handleSetKeyExpiration(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		s.respondError(w, http.StatusServiceUnavailable, "API key manager unavailable")
		return
	}
	var req setExpirationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		s.respondError(w, http.StatusBadRequest, "id required")
		return
	}

	// Precedence: expires_at over ttl_seconds; neither clears the expiry.
	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		t := time.Unix(*req.ExpiresAt, 0).UTC()
		expiresAt = &t
	} else if req.TTLSeconds != nil {
		t := time.Now().UTC().Add(time.Duration(*req.TTLSeconds) * time.Second)
		expiresAt = &t
	}

	updated, err := s.keys.SetExpiration(r.Context(), req.ID, expiresAt)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to set expiration: "+err.Error())
		return
	}
	resp := map[string]any{"updated": updated, "id": req.ID}
	if expiresAt != nil {
		resp["expires_at"] = expiresAt.Unix()
	}
	s.respondJSON(w, http.StatusOK, resp)
}
