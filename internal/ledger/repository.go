package ledger

import (
	"context"
	"time"
)

// EntryReader lists ledger entries.
type EntryReader interface {
	// ListEntries returns entries sorted by date, newest first. When both
	// bounds are given only entries dated inside [start, end] are returned.
	ListEntries(ctx context.Context, start, end *time.Time) ([]Entry, error)
}

// EntryWriter creates and archives ledger entries.
type EntryWriter interface {
	// CreateEntry persists a new entry and returns its store id. The account
	// name must resolve to an existing account.
	CreateEntry(ctx context.Context, in EntryInput) (string, error)

	// ArchiveEntry soft-deletes an entry.
	ArchiveEntry(ctx context.Context, id string) error
}

// Repository is the full set of store operations used by the API.
type Repository interface {
	EntryReader
	EntryWriter

	UpdateEntry(ctx context.Context, id string, patch EntryPatch) error

	ListAccounts(ctx context.Context) ([]Account, error)
	GetAccount(ctx context.Context, id string) (*Account, error)
	CreateAccount(ctx context.Context, in AccountInput) (string, error)
	UpdateAccount(ctx context.Context, id string, patch AccountPatch) error

	// CarrierAccount returns the account flagged as carrier, or nil.
	CarrierAccount(ctx context.Context) (*Account, error)

	// SetSoleCarrierAccount flags id and clears the flag everywhere else.
	SetSoleCarrierAccount(ctx context.Context, id string) error

	// ListInvoiceEntries returns entries in p that carry an invoice number.
	ListInvoiceEntries(ctx context.Context, p Period) ([]Entry, error)

	// InvoiceNumbers returns the invoice numbers already recorded in p.
	InvoiceNumbers(ctx context.Context, p Period) (map[string]bool, error)
}
