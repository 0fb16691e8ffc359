// Package notion stores ledger entries and accounts in two Notion databases.
package notion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/dvloznov/notion-ledger/internal/cache"
	"github.com/dvloznov/notion-ledger/internal/ledger"
	"github.com/dvloznov/notion-ledger/internal/logger"
	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
)

const (
	// AccountsKey caches the raw account rows used to resolve relations.
	AccountsKey = cache.AccountsKey

	pageSize = 100

	// suggestDistance is the largest edit distance offered as "did you mean".
	suggestDistance = 2
)

// Config identifies the databases and how the account index is cached.
type Config struct {
	EntriesDatabaseID  string
	AccountsDatabaseID string
	Schema             Schema
	// AccountIndexTTL bounds how long account rows are reused. Zero means 30s.
	AccountIndexTTL time.Duration
}

// Repository implements ledger.Repository on Notion.
type Repository struct {
	svc        NotionService
	cache      cache.Cache
	entriesDB  string
	accountsDB string
	schema     Schema
	accountTTL time.Duration
}

// NewRepository creates a repository. A nil cache disables account index reuse.
func NewRepository(svc NotionService, c cache.Cache, cfg Config) *Repository {
	if c == nil {
		c = cache.Noop{}
	}
	if cfg.AccountIndexTTL <= 0 {
		cfg.AccountIndexTTL = 30 * time.Second
	}
	return &Repository{
		svc:        svc,
		cache:      c,
		entriesDB:  cfg.EntriesDatabaseID,
		accountsDB: cfg.AccountsDatabaseID,
		schema:     cfg.Schema.WithDefaults(),
		accountTTL: cfg.AccountIndexTTL,
	}
}

// queryAll runs a database query and follows cursors until exhausted.
func (r *Repository) queryAll(ctx context.Context, databaseID string, filter notionapi.Filter, sorts []notionapi.SortObject) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			Filter:   filter,
			Sorts:    sorts,
			PageSize: pageSize,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := r.svc.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, err
		}

		for _, p := range resp.Results {
			if !p.Archived {
				allPages = append(allPages, p)
			}
		}

		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}

// accountRows returns accounts without computed sums, reusing the cached
// listing while it is fresh.
func (r *Repository) accountRows(ctx context.Context) ([]ledger.Account, error) {
	if v, ok := r.cache.Get(AccountsKey, r.accountTTL); ok {
		if rows, ok := v.([]ledger.Account); ok {
			return rows, nil
		}
	}

	pages, err := r.queryAll(ctx, r.accountsDB, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("accountRows: querying accounts: %w", err)
	}

	rows := make([]ledger.Account, 0, len(pages))
	for _, p := range pages {
		rows = append(rows, r.toAccount(p))
	}
	r.cache.Set(AccountsKey, rows)

	return rows, nil
}

func (r *Repository) toAccount(p notionapi.Page) ledger.Account {
	initial := extractNumber(p.Properties, r.schema.AccountInitialBalance)
	return ledger.Account{
		ID:               string(p.ID),
		Name:             extractTitle(p.Properties, r.schema.AccountName),
		Type:             extractSelect(p.Properties, r.schema.AccountType),
		InitialBalance:   initial,
		TransactionSum:   decimal.Zero,
		Balance:          initial,
		IsCarrierAccount: extractCheckbox(p.Properties, r.schema.AccountCarrier),
	}
}

func accountNames(rows []ledger.Account) map[string]string {
	names := make(map[string]string, len(rows))
	for _, a := range rows {
		names[normalizeID(a.ID)] = a.Name
	}
	return names
}

func (r *Repository) toEntry(p notionapi.Page, names map[string]string) ledger.Entry {
	props := p.Properties
	return ledger.Entry{
		ID:            string(p.ID),
		Name:          extractTitle(props, r.schema.EntryName),
		Category:      extractSelect(props, r.schema.EntryCategory),
		Date:          extractDate(props, r.schema.EntryDate),
		Amount:        extractNumber(props, r.schema.EntryAmount),
		Account:       names[extractRelation(props, r.schema.EntryAccount)],
		Note:          extractRichText(props, r.schema.EntryNote),
		InvoiceNumber: extractRichText(props, r.schema.EntryInvoiceNumber),
		Seller:        extractRichText(props, r.schema.EntrySeller),
	}
}

func (r *Repository) dateConditions(start, end *time.Time) []notionapi.Filter {
	var conds []notionapi.Filter
	if start != nil {
		d := notionapi.Date(dayStart(*start))
		conds = append(conds, notionapi.PropertyFilter{
			Property: r.schema.EntryDate,
			Date:     &notionapi.DateFilterCondition{OnOrAfter: &d},
		})
	}
	if end != nil {
		// Closed range: anything before the following midnight.
		d := notionapi.Date(dayStart(*end).AddDate(0, 0, 1))
		conds = append(conds, notionapi.PropertyFilter{
			Property: r.schema.EntryDate,
			Date:     &notionapi.DateFilterCondition{Before: &d},
		})
	}
	return conds
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (r *Repository) byDateDesc() []notionapi.SortObject {
	return []notionapi.SortObject{
		{Property: r.schema.EntryDate, Direction: notionapi.SortOrderDESC},
	}
}

func (r *Repository) listEntries(ctx context.Context, conds []notionapi.Filter) ([]ledger.Entry, error) {
	rows, err := r.accountRows(ctx)
	if err != nil {
		return nil, err
	}
	names := accountNames(rows)

	var filter notionapi.Filter
	if len(conds) > 0 {
		filter = notionapi.AndCompoundFilter(conds)
	}

	pages, err := r.queryAll(ctx, r.entriesDB, filter, r.byDateDesc())
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}

	entries := make([]ledger.Entry, 0, len(pages))
	for _, p := range pages {
		entries = append(entries, r.toEntry(p, names))
	}
	return entries, nil
}

// ListEntries implements ledger.EntryReader. Each present bound narrows the
// range; the range is closed at both ends.
func (r *Repository) ListEntries(ctx context.Context, start, end *time.Time) ([]ledger.Entry, error) {
	entries, err := r.listEntries(ctx, r.dateConditions(start, end))
	if err != nil {
		return nil, fmt.Errorf("ListEntries: %w", err)
	}
	return entries, nil
}

// ListInvoiceEntries returns entries in p that carry an invoice number.
func (r *Repository) ListInvoiceEntries(ctx context.Context, p ledger.Period) ([]ledger.Entry, error) {
	conds := append([]notionapi.Filter{
		notionapi.PropertyFilter{
			Property: r.schema.EntryInvoiceNumber,
			RichText: &notionapi.TextFilterCondition{IsNotEmpty: true},
		},
	}, r.dateConditions(&p.Start, &p.End)...)

	entries, err := r.listEntries(ctx, conds)
	if err != nil {
		return nil, fmt.Errorf("ListInvoiceEntries: %w", err)
	}

	out := entries[:0]
	for _, e := range entries {
		if e.InvoiceNumber != "" {
			out = append(out, e)
		}
	}
	return out, nil
}

// InvoiceNumbers returns the invoice numbers already recorded in p.
func (r *Repository) InvoiceNumbers(ctx context.Context, p ledger.Period) (map[string]bool, error) {
	entries, err := r.ListInvoiceEntries(ctx, p)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.InvoiceNumber] = true
	}
	return seen, nil
}

// ListAccounts returns every account with its transaction sum computed from
// all live entries.
func (r *Repository) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := r.accountRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListAccounts: %w", err)
	}

	pages, err := r.queryAll(ctx, r.entriesDB, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("ListAccounts: querying entries: %w", err)
	}

	sums := make(map[string]decimal.Decimal, len(rows))
	for _, p := range pages {
		id := extractRelation(p.Properties, r.schema.EntryAccount)
		if id == "" {
			continue
		}
		sums[id] = sums[id].Add(extractNumber(p.Properties, r.schema.EntryAmount))
	}

	accounts := make([]ledger.Account, len(rows))
	for i, a := range rows {
		sum, ok := sums[normalizeID(a.ID)]
		if !ok {
			sum = decimal.Zero
		}
		a.TransactionSum = sum
		a.Balance = a.InitialBalance.Add(sum)
		accounts[i] = a
	}
	return accounts, nil
}

// GetAccount returns one account with computed balance.
func (r *Repository) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	accounts, err := r.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	want := normalizeID(id)
	for i := range accounts {
		if normalizeID(accounts[i].ID) == want {
			return &accounts[i], nil
		}
	}
	return nil, ledger.NotFoundf("account %q", id)
}

// FindAccountByName resolves an exact account name. On a miss the error
// suggests a close name when there is one.
func (r *Repository) FindAccountByName(ctx context.Context, name string) (*ledger.Account, error) {
	rows, err := r.accountRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindAccountByName: %w", err)
	}

	name = strings.TrimSpace(name)
	best, bestDist := "", suggestDistance+1
	for i := range rows {
		if rows[i].Name == name {
			a := rows[i]
			return &a, nil
		}
		if d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(rows[i].Name)); d < bestDist {
			best, bestDist = rows[i].Name, d
		}
	}

	if best != "" {
		return nil, ledger.NotFoundf("account %q (did you mean %q?)", name, best)
	}
	return nil, ledger.NotFoundf("account %q", name)
}

func (r *Repository) entryProperties(in ledger.EntryInput, accountID string) notionapi.Properties {
	props := notionapi.Properties{
		r.schema.EntryName:     titleProperty(strings.TrimSpace(in.Name)),
		r.schema.EntryCategory: selectProperty(strings.TrimSpace(in.Category)),
		r.schema.EntryDate:     dateProperty(in.Date),
		r.schema.EntryAmount:   numberProperty(*in.Amount),
		r.schema.EntryAccount:  relationProperty(accountID),
		r.schema.EntryNote:     richTextProperty(in.Note),
	}
	if in.InvoiceNumber != "" {
		props[r.schema.EntryInvoiceNumber] = richTextProperty(in.InvoiceNumber)
	}
	if in.Seller != "" {
		props[r.schema.EntrySeller] = richTextProperty(in.Seller)
	}
	return props
}

// CreateEntry implements ledger.EntryWriter.
func (r *Repository) CreateEntry(ctx context.Context, in ledger.EntryInput) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}

	acc, err := r.FindAccountByName(ctx, in.Account)
	if err != nil {
		return "", fmt.Errorf("CreateEntry: %w", err)
	}

	page, err := r.svc.CreatePage(ctx, r.entriesDB, r.entryProperties(in, acc.ID))
	if err != nil {
		return "", fmt.Errorf("CreateEntry: %w", err)
	}

	log := logger.FromContext(ctx)

	log.Debug().
		Str("entry_id", string(page.ID)).
		Str("account", acc.Name).
		Msg("Created entry")

	return string(page.ID), nil
}

// UpdateEntry writes only the fields set in patch. A new account name is
// resolved to its page id first.
func (r *Repository) UpdateEntry(ctx context.Context, id string, patch ledger.EntryPatch) error {
	if strings.TrimSpace(id) == "" {
		return ledger.MissingFields("id")
	}
	if patch.Empty() {
		return nil
	}

	props := notionapi.Properties{}
	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return ledger.Invalid("name", "name must not be empty")
		}
		props[r.schema.EntryName] = titleProperty(strings.TrimSpace(*patch.Name))
	}
	if patch.Category != nil {
		if strings.TrimSpace(*patch.Category) == "" {
			return ledger.Invalid("category", "category must not be empty")
		}
		props[r.schema.EntryCategory] = selectProperty(strings.TrimSpace(*patch.Category))
	}
	if patch.Date != nil {
		props[r.schema.EntryDate] = dateProperty(*patch.Date)
	}
	if patch.Amount != nil {
		props[r.schema.EntryAmount] = numberProperty(*patch.Amount)
	}
	if patch.Note != nil {
		props[r.schema.EntryNote] = richTextProperty(*patch.Note)
	}
	if patch.Account != nil {
		acc, err := r.FindAccountByName(ctx, *patch.Account)
		if err != nil {
			return fmt.Errorf("UpdateEntry: %w", err)
		}
		props[r.schema.EntryAccount] = relationProperty(acc.ID)
	}

	if _, err := r.svc.UpdatePage(ctx, id, props); err != nil {
		return fmt.Errorf("UpdateEntry: %w", err)
	}
	return nil
}

// ArchiveEntry implements ledger.EntryWriter.
func (r *Repository) ArchiveEntry(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ledger.MissingFields("id")
	}
	if err := r.svc.ArchivePage(ctx, id); err != nil {
		return fmt.Errorf("ArchiveEntry: %w", err)
	}
	return nil
}

// CreateAccount adds an account row. New accounts are never the carrier.
func (r *Repository) CreateAccount(ctx context.Context, in ledger.AccountInput) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}

	props := notionapi.Properties{
		r.schema.AccountName:           titleProperty(strings.TrimSpace(in.Name)),
		r.schema.AccountInitialBalance: numberProperty(in.InitialBalance),
		r.schema.AccountCarrier:        checkboxProperty(false),
	}
	if t := strings.TrimSpace(in.Type); t != "" {
		props[r.schema.AccountType] = selectProperty(t)
	}

	page, err := r.svc.CreatePage(ctx, r.accountsDB, props)
	if err != nil {
		return "", fmt.Errorf("CreateAccount: %w", err)
	}
	r.cache.Delete(AccountsKey)

	return string(page.ID), nil
}

// UpdateAccount writes only the fields set in patch.
func (r *Repository) UpdateAccount(ctx context.Context, id string, patch ledger.AccountPatch) error {
	if strings.TrimSpace(id) == "" {
		return ledger.MissingFields("id")
	}
	if patch.Empty() {
		return nil
	}

	props := notionapi.Properties{}
	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return ledger.Invalid("name", "name must not be empty")
		}
		props[r.schema.AccountName] = titleProperty(strings.TrimSpace(*patch.Name))
	}
	if patch.Type != nil {
		props[r.schema.AccountType] = selectProperty(strings.TrimSpace(*patch.Type))
	}
	if patch.InitialBalance != nil {
		props[r.schema.AccountInitialBalance] = numberProperty(*patch.InitialBalance)
	}

	if _, err := r.svc.UpdatePage(ctx, id, props); err != nil {
		return fmt.Errorf("UpdateAccount: %w", err)
	}
	r.cache.Delete(AccountsKey)

	return nil
}

// CarrierAccount returns the carrier-flagged account with computed balance,
// or nil when no account is flagged.
func (r *Repository) CarrierAccount(ctx context.Context) (*ledger.Account, error) {
	accounts, err := r.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("CarrierAccount: %w", err)
	}
	for i := range accounts {
		if accounts[i].IsCarrierAccount {
			return &accounts[i], nil
		}
	}
	return nil, nil
}

// SetSoleCarrierAccount clears the carrier flag on every other account and
// then sets it on id. The store has no transactions, so a failure undoes
// the steps already taken; if that fails too the accounts left in the wrong
// state are logged for manual repair.
func (r *Repository) SetSoleCarrierAccount(ctx context.Context, id string) error {
	log := logger.FromContext(ctx)

	if strings.TrimSpace(id) == "" {
		return ledger.MissingFields("accountId")
	}

	// Read through to the store; a stale index could miss a flagged account.
	r.cache.Delete(AccountsKey)
	defer r.cache.Delete(AccountsKey)

	rows, err := r.accountRows(ctx)
	if err != nil {
		return fmt.Errorf("SetSoleCarrierAccount: %w", err)
	}

	want := normalizeID(id)
	var target *ledger.Account
	var others []string
	for i := range rows {
		if normalizeID(rows[i].ID) == want {
			target = &rows[i]
			continue
		}
		if rows[i].IsCarrierAccount {
			others = append(others, rows[i].ID)
		}
	}
	if target == nil {
		return ledger.NotFoundf("account %q", id)
	}

	var cleared []string
	for _, other := range others {
		if _, err := r.svc.UpdatePage(ctx, other, notionapi.Properties{
			r.schema.AccountCarrier: checkboxProperty(false),
		}); err != nil {
			r.restoreCarrierFlags(ctx, cleared)
			return fmt.Errorf("SetSoleCarrierAccount: clearing %s: %w", other, err)
		}
		cleared = append(cleared, other)
	}

	if _, err := r.svc.UpdatePage(ctx, target.ID, notionapi.Properties{
		r.schema.AccountCarrier: checkboxProperty(true),
	}); err != nil {
		r.restoreCarrierFlags(ctx, cleared)
		return fmt.Errorf("SetSoleCarrierAccount: flagging %s: %w", target.ID, err)
	}

	log.Info().
		Str("account_id", target.ID).
		Str("account_name", target.Name).
		Int("cleared", len(cleared)).
		Msg("Carrier account set")

	return nil
}

// restoreCarrierFlags re-flags accounts cleared by a failed carrier swap.
func (r *Repository) restoreCarrierFlags(ctx context.Context, ids []string) {
	log := logger.FromContext(ctx)

	var stranded []string
	for _, id := range ids {
		if _, err := r.svc.UpdatePage(ctx, id, notionapi.Properties{
			r.schema.AccountCarrier: checkboxProperty(true),
		}); err != nil {
			log.Warn().Err(err).Str("account_id", id).Msg("Failed to restore carrier flag")
			stranded = append(stranded, id)
		}
	}
	if len(stranded) > 0 {
		log.Error().
			Strs("account_ids", stranded).
			Msg("Carrier swap failed and could not be rolled back, manual repair required")
	}
}

var _ ledger.Repository = (*Repository)(nil)
