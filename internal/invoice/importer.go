package invoice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/notion-ledger/internal/cache"
	"github.com/dvloznov/notion-ledger/internal/ledger"
	"github.com/dvloznov/notion-ledger/internal/logger"
	"github.com/dvloznov/notion-ledger/internal/summary"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Store is the part of the ledger repository the importer writes through.
type Store interface {
	CarrierAccount(ctx context.Context) (*ledger.Account, error)
	InvoiceNumbers(ctx context.Context, p ledger.Period) (map[string]bool, error)
	CreateEntry(ctx context.Context, in ledger.EntryInput) (string, error)
}

// SavedInvoice describes one invoice recorded as a ledger entry.
type SavedInvoice struct {
	Date          string          `json:"date"`
	InvoiceNumber string          `json:"invoiceNumber"`
	Seller        string          `json:"seller"`
	Amount        decimal.Decimal `json:"amount"`
	Details       string          `json:"details,omitempty"`
	EntryID       string          `json:"entryId"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	Account       string          `json:"account"`
	Note          string          `json:"note"`
}

// Result reports the outcome of an import, including a partial one.
type Result struct {
	SavedCount    int            `json:"savedCount"`
	SkippedCount  int            `json:"skippedCount"`
	ScrapedCount  int            `json:"scrapedCount"`
	SavedInvoices []SavedInvoice `json:"savedInvoices"`
	ErrorDetail   string         `json:"errorDetail,omitempty"`
}

// Notifier is told when an import saved entries, so caches held by other
// processes can be dropped.
type Notifier interface {
	EntriesChanged(ctx context.Context) error
}

// Options tunes an Importer.
type Options struct {
	// FallbackAccount is used when no account is flagged as carrier.
	FallbackAccount string
	// Concurrency bounds parallel classification calls. Zero means 4.
	Concurrency int
	// Notifier, when set, is called after entries were saved.
	Notifier Notifier
}

// Importer records new e-invoices as expense entries.
type Importer struct {
	source      Source
	classifier  Classifier
	store       Store
	cache       cache.Cache
	fallback    string
	concurrency int
	notifier    Notifier
}

// NewImporter wires an importer. A nil cache disables invalidation.
func NewImporter(source Source, classifier Classifier, store Store, c cache.Cache, opts Options) *Importer {
	if c == nil {
		c = cache.Noop{}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Importer{
		source:      source,
		classifier:  classifier,
		store:       store,
		cache:       c,
		fallback:    strings.TrimSpace(opts.FallbackAccount),
		concurrency: opts.Concurrency,
		notifier:    opts.Notifier,
	}
}

type pending struct {
	inv      Invoice
	issuedAt time.Time
	class    Classification
}

// Import fetches the scraper's invoices and saves those not yet recorded.
// When a write fails after others succeeded, the partial Result is returned
// together with the error.
func (im *Importer) Import(ctx context.Context) (*Result, error) {
	log := logger.FromContext(ctx)

	account, err := im.accountName(ctx)
	if err != nil {
		return nil, err
	}

	invoices, err := im.source.FetchInvoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("Import: fetching invoices: %w", err)
	}

	result := &Result{ScrapedCount: len(invoices), SavedInvoices: []SavedInvoice{}}
	log.Info().Int("scraped", len(invoices)).Str("account", account).Msg("Fetched invoices")
	if len(invoices) == 0 {
		return result, nil
	}

	todo, err := im.newInvoices(ctx, invoices, result)
	if err != nil {
		return nil, err
	}

	if err := im.classify(ctx, todo); err != nil {
		return nil, fmt.Errorf("Import: classifying invoices: %w", err)
	}

	// Sequential: a failed write leaves the earlier invoices saved.
	for _, p := range todo {
		saved, err := im.save(ctx, p, account)
		if err != nil {
			result.ErrorDetail = err.Error()
			im.invalidate(ctx, result.SavedCount)
			log.Error().Err(err).
				Int("saved", result.SavedCount).
				Str("invoice_number", p.inv.Number).
				Msg("Invoice import stopped")
			return result, fmt.Errorf("Import: saving invoice %s: %w", p.inv.Number, err)
		}
		result.SavedInvoices = append(result.SavedInvoices, saved)
		result.SavedCount++
	}

	im.invalidate(ctx, result.SavedCount)
	log.Info().
		Int("saved", result.SavedCount).
		Int("skipped", result.SkippedCount).
		Int("scraped", result.ScrapedCount).
		Msg("Invoice import finished")

	return result, nil
}

func (im *Importer) accountName(ctx context.Context) (string, error) {
	carrier, err := im.store.CarrierAccount(ctx)
	if err != nil {
		return "", fmt.Errorf("Import: resolving carrier account: %w", err)
	}
	if carrier != nil {
		return carrier.Name, nil
	}
	if im.fallback != "" {
		return im.fallback, nil
	}
	return "", ledger.Invalid("account", "no account is flagged as carrier and no fallback account is configured")
}

// newInvoices drops invoices already in the ledger, repeated within the
// batch, or carrying an unreadable date. Dropped invoices count as skipped.
func (im *Importer) newInvoices(ctx context.Context, invoices []Invoice, result *Result) ([]*pending, error) {
	log := logger.FromContext(ctx)

	var (
		parsed []*pending
		period ledger.Period
	)
	for _, inv := range invoices {
		at, _, err := inv.IssuedAt()
		if err != nil || strings.TrimSpace(inv.Number) == "" {
			log.Warn().Err(err).Str("invoice_number", inv.Number).Msg("Skipping unreadable invoice")
			result.SkippedCount++
			continue
		}
		day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
		if len(parsed) == 0 || day.Before(period.Start) {
			period.Start = day
		}
		if len(parsed) == 0 || day.After(period.End) {
			period.End = day
		}
		parsed = append(parsed, &pending{inv: inv, issuedAt: at})
	}
	if len(parsed) == 0 {
		return nil, nil
	}

	known, err := im.store.InvoiceNumbers(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("Import: loading recorded invoice numbers: %w", err)
	}
	if known == nil {
		known = map[string]bool{}
	}

	var todo []*pending
	for _, p := range parsed {
		if known[p.inv.Number] {
			result.SkippedCount++
			continue
		}
		known[p.inv.Number] = true
		todo = append(todo, p)
	}
	return todo, nil
}

func (im *Importer) classify(ctx context.Context, todo []*pending) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.concurrency)

	for _, p := range todo {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p.class = im.classifier.Classify(gctx, p.inv)
			return nil
		})
	}
	return g.Wait()
}

func (im *Importer) save(ctx context.Context, p *pending, account string) (SavedInvoice, error) {
	amount := decimal.NewFromInt(p.inv.Amount).Abs().Neg()

	note := strings.TrimSpace(p.inv.Details)
	if note == "" {
		note = p.inv.Number + " - " + p.inv.Seller
	}

	id, err := im.store.CreateEntry(ctx, ledger.EntryInput{
		Name:          p.class.Name,
		Category:      p.class.Category,
		Date:          p.issuedAt,
		Amount:        &amount,
		Account:       account,
		Note:          note,
		InvoiceNumber: p.inv.Number,
		Seller:        p.inv.Seller,
	})
	if err != nil {
		return SavedInvoice{}, err
	}

	return SavedInvoice{
		Date:          p.inv.Date,
		InvoiceNumber: p.inv.Number,
		Seller:        p.inv.Seller,
		Amount:        amount,
		Details:       p.inv.Details,
		EntryID:       id,
		Name:          p.class.Name,
		Category:      p.class.Category,
		Account:       account,
		Note:          note,
	}, nil
}

func (im *Importer) invalidate(ctx context.Context, saved int) {
	if saved == 0 {
		return
	}
	n := im.cache.DeleteByPattern(cache.EntriesPattern)
	n += im.cache.DeleteByPattern(summary.KeyPattern)
	log := logger.FromContext(ctx)
	log.Debug().Int("removed", n).Msg("Invalidated entry and summary caches")

	if im.notifier == nil {
		return
	}
	// The entries are saved; a failed notification only delays their
	// appearance until the remote cache expires.
	if err := im.notifier.EntriesChanged(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to invalidate remote caches")
	}
}
