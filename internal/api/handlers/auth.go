package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dvloznov/notion-ledger/internal/api/middleware"
	"github.com/dvloznov/notion-ledger/internal/auth"
	"github.com/dvloznov/notion-ledger/internal/cache"
	"github.com/dvloznov/notion-ledger/internal/ledger"
	"github.com/dvloznov/notion-ledger/internal/logger"
	"github.com/dvloznov/notion-ledger/internal/summary"
)

// AuthHandler handles /auth.
type AuthHandler struct {
	gate *auth.Gate
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(gate *auth.Gate) *AuthHandler {
	return &AuthHandler{gate: gate}
}

// ServeHTTP dispatches on method.
func (h *AuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.Login(w, r)
	case http.MethodGet:
		h.Check(w, r)
	default:
		methodNotAllowed(w)
	}
}

// Login exchanges a PIN for the bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PIN string `json:"pin"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, r, err, "Authentication failed")
		return
	}
	if strings.TrimSpace(req.PIN) == "" {
		writeFailure(w, r, ledger.MissingFields("pin"), "Authentication failed")
		return
	}

	token, err := h.gate.Exchange(req.PIN)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Warn().Str("remote_ip", middleware.ClientIP(r)).Msg("Wrong PIN")
		writeFailure(w, r, err, "Authentication failed")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"token":   token,
	})
}

// Check reports whether the request carries a valid bearer token.
func (h *AuthHandler) Check(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok || !h.gate.Valid(token) {
		middleware.WriteJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"success":       false,
			"authenticated": false,
			"error":         auth.ErrUnauthorized.Error(),
		})
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"authenticated": true,
	})
}

// Cache targets accepted by POST /cache/invalidate.
const (
	TargetAll      = "all"
	TargetEntries  = "entries"
	TargetAccounts = "accounts"
)

// CacheHandler handles POST /cache/invalidate.
type CacheHandler struct {
	cache cache.Cache
}

// NewCacheHandler creates a cache handler.
func NewCacheHandler(c cache.Cache) *CacheHandler {
	return &CacheHandler{cache: c}
}

// Invalidate drops the cached values of target. An empty target means all.
func (h *CacheHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req struct {
		Target string `json:"target"`
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		writeFailure(w, r, ledger.Invalid("body", "Invalid request body"), "Failed to invalidate cache")
		return
	}

	var message string
	switch target := strings.ToLower(strings.TrimSpace(req.Target)); target {
	case "", TargetAll:
		h.cache.Clear()
		message = "All cache cleared"
	case TargetEntries:
		n := h.cache.DeleteByPattern(cache.EntriesPattern)
		n += h.cache.DeleteByPattern(summary.KeyPattern)
		message = "Entries cache cleared"
		log := logger.FromContext(r.Context())
		log.Debug().Int("removed", n).Msg("Entries cache cleared")
	case TargetAccounts:
		h.cache.Delete(cache.AccountsKey)
		message = "Accounts cache cleared"
	default:
		writeFailure(w, r, ledger.Invalid("target", "unknown cache target %q, expected all, entries or accounts", req.Target), "Failed to invalidate cache")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": message,
		"stats":   h.cache.Stats(),
	})
}
