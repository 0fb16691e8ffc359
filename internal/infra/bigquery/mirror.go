// Package bigquery mirrors ledger entries into a BigQuery table for ad-hoc
// analysis. Notion stays the system of record.
package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/notion-ledger/internal/ledger"
	"github.com/dvloznov/notion-ledger/internal/logger"
	"google.golang.org/api/option"
)

// batchSize bounds rows per streaming insert request.
const batchSize = 500

// EntryRow is one mirrored ledger entry.
type EntryRow struct {
	EntryID   string     `bigquery:"entry_id"`   // REQUIRED
	EntryDate civil.Date `bigquery:"entry_date"` // REQUIRED

	Name     string   `bigquery:"name"`     // REQUIRED
	Category string   `bigquery:"category"` // REQUIRED
	Amount   *big.Rat `bigquery:"amount"`   // REQUIRED NUMERIC
	Account  string   `bigquery:"account"`  // REQUIRED

	Note          bigquery.NullString `bigquery:"note"`           // NULLABLE
	InvoiceNumber bigquery.NullString `bigquery:"invoice_number"` // NULLABLE
	Seller        bigquery.NullString `bigquery:"seller"`         // NULLABLE

	// IsExcluded marks transfers and advances left out of income/expense.
	IsExcluded bool `bigquery:"is_excluded"`

	MirroredTS time.Time `bigquery:"mirrored_ts"` // REQUIRED
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

// NewEntryRow converts a ledger entry.
func NewEntryRow(e ledger.Entry, mirroredAt time.Time) *EntryRow {
	return &EntryRow{
		EntryID:       e.ID,
		EntryDate:     civil.DateOf(e.Date),
		Name:          e.Name,
		Category:      e.Category,
		Amount:        e.Amount.Rat(),
		Account:       e.Account,
		Note:          nullString(e.Note),
		InvoiceNumber: nullString(e.InvoiceNumber),
		Seller:        nullString(e.Seller),
		IsExcluded:    ledger.IsExcludedCategory(e.Category),
		MirroredTS:    mirroredAt,
	}
}

// putter is satisfied by *bigquery.Inserter.
type putter interface {
	Put(ctx context.Context, src interface{}) error
}

// Mirror streams entries into one table.
type Mirror struct {
	client   *bigquery.Client
	inserter putter
	now      func() time.Time
}

// NewMirror connects to projectID and targets dataset.table. With an empty
// credentialsFile Application Default Credentials are used.
func NewMirror(ctx context.Context, projectID, dataset, table, credentialsFile string) (*Mirror, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewMirror: creating client: %w", err)
	}

	// Use fully qualified table name to avoid project ID issues
	inserter := client.DatasetInProject(projectID, dataset).Table(table).Inserter()
	return &Mirror{client: client, inserter: inserter, now: time.Now}, nil
}

// Close closes the BigQuery client connection.
func (m *Mirror) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// MirrorEntries inserts entries in batches and returns how many rows were
// sent. The entry id is the insert id, so re-mirroring the same entries
// shortly after is deduplicated by BigQuery on a best-effort basis.
func (m *Mirror) MirrorEntries(ctx context.Context, entries []ledger.Entry) (int, error) {
	log := logger.FromContext(ctx)
	now := m.now().UTC()

	sent := 0
	for start := 0; start < len(entries); start += batchSize {
		end := start + batchSize
		if end > len(entries) {
			end = len(entries)
		}

		savers := make([]*bigquery.StructSaver, 0, end-start)
		for _, e := range entries[start:end] {
			savers = append(savers, &bigquery.StructSaver{
				Struct:   NewEntryRow(e, now),
				InsertID: e.ID,
			})
		}

		if err := m.inserter.Put(ctx, savers); err != nil {
			return sent, fmt.Errorf("MirrorEntries: inserting rows %d-%d: %w", start, end-1, err)
		}
		sent += len(savers)

		log.Debug().Int("rows", len(savers)).Int("sent", sent).Msg("Mirrored entry batch")
	}

	return sent, nil
}
