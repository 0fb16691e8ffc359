package handlers

import (
	"net/http"
	"time"

	"github.com/dvloznov/notion-ledger/internal/api/middleware"
	"github.com/dvloznov/notion-ledger/internal/cache"
	"github.com/dvloznov/notion-ledger/internal/ledger"
	"github.com/dvloznov/notion-ledger/internal/logger"
	"github.com/shopspring/decimal"
)

// EntriesHandler handles /entries.
type EntriesHandler struct {
	repo  ledger.Repository
	cache cache.Cache
	ttl   time.Duration
}

// NewEntriesHandler creates an entries handler. Listings are cached for ttl;
// ttl <= 0 keeps them until a mutation invalidates them.
func NewEntriesHandler(repo ledger.Repository, c cache.Cache, ttl time.Duration) *EntriesHandler {
	if c == nil {
		c = cache.Noop{}
	}
	return &EntriesHandler{repo: repo, cache: c, ttl: ttl}
}

type entryRequest struct {
	ID       string           `json:"id"`
	Name     *string          `json:"name"`
	Category *string          `json:"category"`
	Date     *string          `json:"date"`
	Amount   *decimal.Decimal `json:"amount"`
	Account  *string          `json:"account"`
	Note     *string          `json:"note"`
}

// ServeHTTP dispatches on method.
func (h *EntriesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.ListEntries(w, r)
	case http.MethodPost:
		h.CreateEntry(w, r)
	case http.MethodPut:
		h.UpdateEntry(w, r)
	case http.MethodDelete:
		h.DeleteEntry(w, r)
	default:
		methodNotAllowed(w)
	}
}

// ListEntries handles GET /entries?startDate&endDate
func (h *EntriesHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := optionalDate("startDate", q.Get("startDate"))
	if err != nil {
		writeFailure(w, r, err, "Failed to list entries")
		return
	}
	end, err := optionalDate("endDate", q.Get("endDate"))
	if err != nil {
		writeFailure(w, r, err, "Failed to list entries")
		return
	}
	if start != nil && end != nil && end.Before(*start) {
		writeFailure(w, r, ledger.Invalid("endDate", "endDate must not be before startDate"), "Failed to list entries")
		return
	}

	key := cache.EntriesKey(start, end)
	if v, ok := h.cache.Get(key, h.ttl); ok {
		if entries, ok := v.([]ledger.Entry); ok {
			middleware.WriteData(w, http.StatusOK, entries)
			return
		}
	}

	entries, err := h.repo.ListEntries(r.Context(), start, end)
	if err != nil {
		writeFailure(w, r, err, "Failed to list entries")
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	h.cache.Set(key, entries)

	middleware.WriteData(w, http.StatusOK, entries)
}

// CreateEntry handles POST /entries
func (h *EntriesHandler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, r, err, "Failed to create entry")
		return
	}

	in := ledger.EntryInput{
		Name:     str(req.Name),
		Category: str(req.Category),
		Amount:   req.Amount,
		Account:  str(req.Account),
		Note:     str(req.Note),
	}
	date, err := optionalDate("date", str(req.Date))
	if err != nil {
		writeFailure(w, r, err, "Failed to create entry")
		return
	}
	if date != nil {
		in.Date = *date
	}

	id, err := h.repo.CreateEntry(r.Context(), in)
	if err != nil {
		writeFailure(w, r, err, "Failed to create entry")
		return
	}
	invalidateEntries(r, h.cache)

	log := logger.FromContext(r.Context())

	log.Info().Str("entry_id", id).Str("account", in.Account).Msg("Entry created")
	middleware.WriteData(w, http.StatusOK, map[string]string{"id": id})
}

// UpdateEntry handles PUT /entries. Only supplied fields change.
func (h *EntriesHandler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, r, err, "Failed to update entry")
		return
	}
	if err := requireID(req.ID); err != nil {
		writeFailure(w, r, err, "Failed to update entry")
		return
	}

	patch := ledger.EntryPatch{
		Name:     req.Name,
		Category: req.Category,
		Amount:   req.Amount,
		Account:  req.Account,
		Note:     req.Note,
	}
	if req.Date != nil {
		date, err := ledger.ParseDate(*req.Date)
		if err != nil {
			writeFailure(w, r, ledger.Invalid("date", "invalid date: %v", err), "Failed to update entry")
			return
		}
		patch.Date = &date
	}

	if err := h.repo.UpdateEntry(r.Context(), req.ID, patch); err != nil {
		writeFailure(w, r, err, "Failed to update entry")
		return
	}
	if !patch.Empty() {
		invalidateEntries(r, h.cache)
	}

	middleware.WriteData(w, http.StatusOK, map[string]bool{"success": true})
}

// DeleteEntry handles DELETE /entries?id=
func (h *EntriesHandler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if err := requireID(id); err != nil {
		writeFailure(w, r, err, "Failed to delete entry")
		return
	}

	if err := h.repo.ArchiveEntry(r.Context(), id); err != nil {
		writeFailure(w, r, err, "Failed to delete entry")
		return
	}
	invalidateEntries(r, h.cache)

	log := logger.FromContext(r.Context())

	log.Info().Str("entry_id", id).Msg("Entry archived")
	middleware.WriteData(w, http.StatusOK, map[string]bool{"success": true})
}
