// Package invoice imports e-invoices from the scraper service into the
// ledger, classifying each one with an LLM.
package invoice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/notion-ledger/internal/ledger"
)

// Invoice is one e-invoice as reported by the scraper.
type Invoice struct {
	Date    string `json:"日期"`
	Number  string `json:"發票號碼"`
	Seller  string `json:"店家"`
	Amount  int64  `json:"金額"`
	Details string `json:"明細,omitempty"`
}

// IssuedAt parses the invoice date. hasTime is false when the scraper only
// reported a calendar day.
func (inv Invoice) IssuedAt() (t time.Time, hasTime bool, err error) {
	t, err = ledger.ParseDate(inv.Date)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, strings.Contains(inv.Date, "T"), nil
}

// Source yields the invoices of the current month.
type Source interface {
	FetchInvoices(ctx context.Context) ([]Invoice, error)
}

type scrapeResponse struct {
	Success  bool      `json:"success"`
	Message  string    `json:"message"`
	Invoices []Invoice `json:"invoices"`
}

// ScraperClient talks to the scraper service over HTTP. The scraper logs in
// to the e-invoice portal on every call, so requests are slow.
type ScraperClient struct {
	baseURL string
	http    *http.Client
}

// NewScraperClient creates a client for the scraper at baseURL.
func NewScraperClient(baseURL string, timeout time.Duration) *ScraperClient {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &ScraperClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// FetchInvoices implements Source.
func (c *ScraperClient) FetchInvoices(ctx context.Context) ([]Invoice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/scrape", nil)
	if err != nil {
		return nil, fmt.Errorf("FetchInvoices: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("FetchInvoices: call scraper: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("FetchInvoices: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("FetchInvoices: scraper returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out scrapeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("FetchInvoices: decode response: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("FetchInvoices: scraper reported failure: %s", out.Message)
	}

	return out.Invoices, nil
}

var _ Source = (*ScraperClient)(nil)
