package handlers

import (
	"net/http"

	"github.com/dvloznov/notion-ledger/internal/api/middleware"
	"github.com/dvloznov/notion-ledger/internal/cache"
	"github.com/dvloznov/notion-ledger/internal/ledger"
	"github.com/dvloznov/notion-ledger/internal/logger"
	"github.com/shopspring/decimal"
)

// AccountsHandler handles /accounts and /accounts/carrier.
type AccountsHandler struct {
	repo  ledger.Repository
	cache cache.Cache
}

// NewAccountsHandler creates an accounts handler.
func NewAccountsHandler(repo ledger.Repository, c cache.Cache) *AccountsHandler {
	if c == nil {
		c = cache.Noop{}
	}
	return &AccountsHandler{repo: repo, cache: c}
}

type accountRequest struct {
	ID             string           `json:"id"`
	Name           *string          `json:"name"`
	Type           *string          `json:"type"`
	InitialBalance *decimal.Decimal `json:"initialBalance"`
}

// ServeHTTP dispatches /accounts on method.
func (h *AccountsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.ListAccounts(w, r)
	case http.MethodPost:
		h.CreateAccount(w, r)
	case http.MethodPut:
		h.UpdateAccount(w, r)
	default:
		methodNotAllowed(w)
	}
}

// ListAccounts handles GET /accounts
func (h *AccountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.repo.ListAccounts(r.Context())
	if err != nil {
		writeFailure(w, r, err, "Failed to list accounts")
		return
	}
	if accounts == nil {
		accounts = []ledger.Account{}
	}
	middleware.WriteData(w, http.StatusOK, accounts)
}

// CreateAccount handles POST /accounts
func (h *AccountsHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, r, err, "Failed to create account")
		return
	}

	in := ledger.AccountInput{
		Name:           str(req.Name),
		Type:           str(req.Type),
		InitialBalance: decimal.Zero,
	}
	if req.InitialBalance != nil {
		in.InitialBalance = *req.InitialBalance
	}

	id, err := h.repo.CreateAccount(r.Context(), in)
	if err != nil {
		writeFailure(w, r, err, "Failed to create account")
		return
	}
	h.cache.Delete(cache.AccountsKey)

	log := logger.FromContext(r.Context())

	log.Info().Str("account_id", id).Str("name", in.Name).Msg("Account created")
	middleware.WriteData(w, http.StatusOK, map[string]string{"id": id})
}

// UpdateAccount handles PUT /accounts. A rename shows up in entry listings,
// so entry caches are dropped too.
func (h *AccountsHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, r, err, "Failed to update account")
		return
	}
	if err := requireID(req.ID); err != nil {
		writeFailure(w, r, err, "Failed to update account")
		return
	}

	patch := ledger.AccountPatch{
		Name:           req.Name,
		Type:           req.Type,
		InitialBalance: req.InitialBalance,
	}
	if err := h.repo.UpdateAccount(r.Context(), req.ID, patch); err != nil {
		writeFailure(w, r, err, "Failed to update account")
		return
	}
	if !patch.Empty() {
		h.cache.Delete(cache.AccountsKey)
		if patch.Name != nil {
			invalidateEntries(r, h.cache)
		}
	}

	middleware.WriteData(w, http.StatusOK, map[string]bool{"success": true})
}

// Carrier handles GET and PUT /accounts/carrier.
func (h *AccountsHandler) Carrier(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.GetCarrier(w, r)
	case http.MethodPut:
		h.SetCarrier(w, r)
	default:
		methodNotAllowed(w)
	}
}

// GetCarrier returns the carrier account, or null when none is flagged.
func (h *AccountsHandler) GetCarrier(w http.ResponseWriter, r *http.Request) {
	acc, err := h.repo.CarrierAccount(r.Context())
	if err != nil {
		writeFailure(w, r, err, "Failed to get carrier account")
		return
	}
	middleware.WriteData(w, http.StatusOK, acc)
}

// SetCarrier makes accountId the only carrier account and returns it.
func (h *AccountsHandler) SetCarrier(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"accountId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, r, err, "Failed to set carrier account")
		return
	}

	if err := h.repo.SetSoleCarrierAccount(r.Context(), req.AccountID); err != nil {
		writeFailure(w, r, err, "Failed to set carrier account")
		return
	}
	h.cache.Delete(cache.AccountsKey)

	acc, err := h.repo.GetAccount(r.Context(), req.AccountID)
	if err != nil {
		writeFailure(w, r, err, "Failed to get carrier account")
		return
	}
	middleware.WriteData(w, http.StatusOK, acc)
}
