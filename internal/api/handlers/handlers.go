// Package handlers implements the ledger HTTP endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/notion-ledger/internal/api/middleware"
	"github.com/dvloznov/notion-ledger/internal/auth"
	"github.com/dvloznov/notion-ledger/internal/cache"
	"github.com/dvloznov/notion-ledger/internal/jobs"
	"github.com/dvloznov/notion-ledger/internal/ledger"
	"github.com/dvloznov/notion-ledger/internal/logger"
	"github.com/dvloznov/notion-ledger/internal/summary"
)

const maxBodyBytes = 1 << 20

// upstreamTimeoutMessage is shown when the store did not answer in time.
const upstreamTimeoutMessage = "Upstream request timed out, please retry"

// writeFailure maps err to a status and a caller-safe message. Causes of
// unexpected failures are logged, never returned.
func writeFailure(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	log := logger.FromContext(r.Context())

	var ve *ledger.ValidationError
	switch {
	case errors.As(err, &ve):
		middleware.WriteError(w, http.StatusBadRequest, ve.Message)
	case errors.Is(err, auth.ErrUnauthorized):
		middleware.WriteError(w, http.StatusUnauthorized, auth.ErrUnauthorized.Error())
	case errors.Is(err, ledger.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, notFoundMessage(err))
	case errors.Is(err, ledger.ErrUpstreamTimeout):
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Upstream timeout")
		middleware.WriteError(w, http.StatusInternalServerError, upstreamTimeoutMessage)
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg(fallback)
		middleware.WriteError(w, http.StatusInternalServerError, fallback)
	}
}

// notFoundMessage keeps the description of what was missing and drops the
// operation prefixes added while the error travelled up.
func notFoundMessage(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "+ledger.ErrNotFound.Error()); i >= 0 {
		head := msg[:i]
		if j := strings.LastIndex(head, ": "); j >= 0 {
			head = head[j+2:]
		}
		return head + ": " + msg[i+2:]
	}
	return msg
}

func methodNotAllowed(w http.ResponseWriter) {
	middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return ledger.Invalid("body", "Invalid request body")
	}
	return nil
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// optionalDate parses a query or body date; empty means absent.
func optionalDate(field, value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	t, err := ledger.ParseDate(value)
	if err != nil {
		return nil, ledger.Invalid(field, "invalid %s: %v", field, err)
	}
	return &t, nil
}

// yearMonth reads year and month query parameters. A missing year defaults
// to now; month is only defaulted when defaultMonth is set.
func yearMonth(r *http.Request, now time.Time, defaultMonth bool) (year, month int, err error) {
	q := r.URL.Query()

	year = now.Year()
	if s := q.Get("year"); s != "" {
		if year, err = strconv.Atoi(s); err != nil || year < 1 {
			return 0, 0, ledger.Invalid("year", "year must be a positive integer")
		}
	}

	if defaultMonth {
		month = int(now.Month())
	}
	if s := q.Get("month"); s != "" {
		if month, err = strconv.Atoi(s); err != nil || month < 1 || month > 12 {
			return 0, 0, ledger.Invalid("month", "month must be between 1 and 12")
		}
	}
	return year, month, nil
}

// periodOf is the month when month > 0, else the whole year.
func periodOf(year, month int) (ledger.Period, error) {
	if month > 0 {
		return ledger.MonthPeriod(year, month)
	}
	return ledger.YearPeriod(year), nil
}

// invalidateEntries drops every cached value derived from entries.
func invalidateEntries(r *http.Request, c cache.Cache) {
	n := c.DeleteByPattern(cache.EntriesPattern)
	n += c.DeleteByPattern(summary.KeyPattern)
	log := logger.FromContext(r.Context())
	log.Debug().Int("removed", n).Msg("Invalidated entry caches")
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore) *JobsHandler {
	return &JobsHandler{store: store}
}

// GetJob handles GET /jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeFailure(w, r, err, "Failed to get job")
		return
	}

	middleware.WriteData(w, http.StatusOK, job)
}

// ListJobs handles GET /jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Status:      jobs.JobStatus(query.Get("status")),
		RequestedBy: query.Get("requestedBy"),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeFailure(w, r, err, "Failed to list jobs")
		return
	}

	middleware.WriteData(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// HealthHandler handles GET /health
func HealthHandler(now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   now().Format(time.RFC3339),
		})
	}
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ledger.MissingFields("id")
	}
	return nil
}
