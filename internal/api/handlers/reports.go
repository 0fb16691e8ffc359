package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dvloznov/notion-ledger/internal/api/middleware"
	"github.com/dvloznov/notion-ledger/internal/cache"
	"github.com/dvloznov/notion-ledger/internal/export"
	"github.com/dvloznov/notion-ledger/internal/infra/gcs"
	"github.com/dvloznov/notion-ledger/internal/jobs"
	"github.com/dvloznov/notion-ledger/internal/ledger"
	"github.com/dvloznov/notion-ledger/internal/logger"
	"github.com/dvloznov/notion-ledger/internal/summary"
	"github.com/shopspring/decimal"
)

// SummaryHandler handles GET /summary.
type SummaryHandler struct {
	service *summary.Service
	now     func() time.Time
}

// NewSummaryHandler creates a summary handler.
func NewSummaryHandler(service *summary.Service, now func() time.Time) *SummaryHandler {
	if now == nil {
		now = time.Now
	}
	return &SummaryHandler{service: service, now: now}
}

// GetSummary returns the monthly and yearly summaries. Year and month
// default to the current date.
func (h *SummaryHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	year, month, err := yearMonth(r, h.now(), true)
	if err != nil {
		writeFailure(w, r, err, "Failed to compute summary")
		return
	}

	monthly, err := h.service.Monthly(r.Context(), year, month)
	if err != nil {
		writeFailure(w, r, err, "Failed to compute summary")
		return
	}
	yearly, err := h.service.Yearly(r.Context(), year)
	if err != nil {
		writeFailure(w, r, err, "Failed to compute summary")
		return
	}

	middleware.WriteData(w, http.StatusOK, map[string]*summary.Summary{
		"monthly": monthly,
		"yearly":  yearly,
	})
}

// TransferHandler handles POST /transfer.
type TransferHandler struct {
	writer ledger.EntryWriter
	cache  cache.Cache
}

// NewTransferHandler creates a transfer handler.
func NewTransferHandler(writer ledger.EntryWriter, c cache.Cache) *TransferHandler {
	if c == nil {
		c = cache.Noop{}
	}
	return &TransferHandler{writer: writer, cache: c}
}

// CreateTransfer records both legs of a transfer.
func (h *TransferHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var body struct {
		FromAccount string           `json:"fromAccount"`
		ToAccount   string           `json:"toAccount"`
		Amount      *decimal.Decimal `json:"amount"`
		Date        string           `json:"date"`
		Note        string           `json:"note"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeFailure(w, r, err, "Failed to create transfer")
		return
	}

	req := ledger.TransferRequest{
		FromAccount: body.FromAccount,
		ToAccount:   body.ToAccount,
		Note:        body.Note,
	}
	if body.Amount != nil {
		req.Amount = *body.Amount
	}
	date, err := optionalDate("date", body.Date)
	if err != nil {
		writeFailure(w, r, err, "Failed to create transfer")
		return
	}
	if date != nil {
		req.Date = *date
	}

	result, err := ledger.Transfer(r.Context(), h.writer, req)
	if err != nil {
		writeFailure(w, r, err, "Failed to create transfer")
		return
	}
	invalidateEntries(r, h.cache)

	log := logger.FromContext(r.Context())

	log.Info().
		Str("from_id", result.FromID).
		Str("to_id", result.ToID).
		Str("amount", req.Amount.String()).
		Msg("Transfer recorded")

	middleware.WriteData(w, http.StatusCreated, result)
}

// InvoicesHandler handles /invoices and /invoices/import.
type InvoicesHandler struct {
	repo      ledger.Repository
	publisher jobs.Publisher
	now       func() time.Time
}

// NewInvoicesHandler creates an invoices handler. A nil publisher disables
// imports.
func NewInvoicesHandler(repo ledger.Repository, publisher jobs.Publisher, now func() time.Time) *InvoicesHandler {
	if now == nil {
		now = time.Now
	}
	return &InvoicesHandler{repo: repo, publisher: publisher, now: now}
}

// ListInvoices handles GET /invoices?year&month. The period defaults to the
// current month.
func (h *InvoicesHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	year, month, err := yearMonth(r, h.now(), true)
	if err != nil {
		writeFailure(w, r, err, "Failed to list invoices")
		return
	}
	p, err := periodOf(year, month)
	if err != nil {
		writeFailure(w, r, err, "Failed to list invoices")
		return
	}

	entries, err := h.repo.ListInvoiceEntries(r.Context(), p)
	if err != nil {
		writeFailure(w, r, err, "Failed to list invoices")
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	middleware.WriteData(w, http.StatusOK, entries)
}

// EnqueueImport handles POST /invoices/import.
func (h *InvoicesHandler) EnqueueImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if h.publisher == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Invoice import is not configured")
		return
	}

	job := &jobs.ImportInvoicesJob{RequestedBy: "api"}
	if err := h.publisher.PublishImportInvoices(r.Context(), job); err != nil {
		writeFailure(w, r, err, "Failed to enqueue invoice import")
		return
	}

	log := logger.FromContext(r.Context())

	log.Info().Str("job_id", job.JobID).Msg("Invoice import enqueued")
	middleware.WriteData(w, http.StatusAccepted, map[string]interface{}{
		"jobId":  job.JobID,
		"status": job.Status,
	})
}

// Uploader stores a rendered export and returns where it landed.
type Uploader interface {
	Upload(ctx context.Context, objectName, contentType string, r io.Reader) (string, error)
}

// ExportHandler handles /export.
type ExportHandler struct {
	entries  ledger.EntryReader
	uploader Uploader
	now      func() time.Time
}

// NewExportHandler creates an export handler. A nil uploader disables
// bucket uploads; downloads keep working.
func NewExportHandler(entries ledger.EntryReader, uploader Uploader, now func() time.Time) *ExportHandler {
	if now == nil {
		now = time.Now
	}
	return &ExportHandler{entries: entries, uploader: uploader, now: now}
}

// ServeHTTP dispatches on method.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.Download(w, r)
	case http.MethodPost:
		h.Upload(w, r)
	default:
		methodNotAllowed(w)
	}
}

// render reads year, month and format from the query and renders the
// matching entries. Without a month the whole year is exported.
func (h *ExportHandler) render(r *http.Request) (*bytes.Buffer, export.Format, string, error) {
	year, month, err := yearMonth(r, h.now(), false)
	if err != nil {
		return nil, "", "", err
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		return nil, "", "", err
	}
	p, err := periodOf(year, month)
	if err != nil {
		return nil, "", "", err
	}

	entries, err := h.entries.ListEntries(r.Context(), &p.Start, &p.End)
	if err != nil {
		return nil, "", "", err
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, entries); err != nil {
		return nil, "", "", fmt.Errorf("Export: rendering %s: %w", format, err)
	}

	name := fmt.Sprintf("ledger-%d", year)
	if month > 0 {
		name = fmt.Sprintf("ledger-%d-%02d", year, month)
	}
	return &buf, format, name + "." + string(format), nil
}

// Download handles GET /export and sends the file as an attachment.
func (h *ExportHandler) Download(w http.ResponseWriter, r *http.Request) {
	buf, format, filename, err := h.render(r)
	if err != nil {
		writeFailure(w, r, err, "Failed to export entries")
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, buf)
}

// Upload handles POST /export and stores the file in the export bucket.
func (h *ExportHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.uploader == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Export bucket is not configured")
		return
	}

	buf, format, filename, err := h.render(r)
	if err != nil {
		writeFailure(w, r, err, "Failed to export entries")
		return
	}

	object := gcs.ObjectName(h.now(), string(format))
	uri, err := h.uploader.Upload(r.Context(), object, format.ContentType(), buf)
	if err != nil {
		writeFailure(w, r, err, "Failed to upload export")
		return
	}

	log := logger.FromContext(r.Context())

	log.Info().Str("uri", uri).Str("file", filename).Msg("Export uploaded")
	middleware.WriteData(w, http.StatusCreated, map[string]string{
		"uri":      uri,
		"filename": filename,
	})
}
