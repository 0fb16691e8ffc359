package notion

import (
	"fmt"
	"strings"
)

// Schema names the Notion properties of the entries and accounts databases.
// Property types are fixed: entry name is a title, category a select, date a
// date, amount a number, account a relation to the accounts database, the
// rest rich text. Account name is a title, type a select, initial balance a
// number and the carrier flag a checkbox.
type Schema struct {
	EntryName          string `mapstructure:"entry_name"`
	EntryCategory      string `mapstructure:"entry_category"`
	EntryDate          string `mapstructure:"entry_date"`
	EntryAmount        string `mapstructure:"entry_amount"`
	EntryAccount       string `mapstructure:"entry_account"`
	EntryNote          string `mapstructure:"entry_note"`
	EntryInvoiceNumber string `mapstructure:"entry_invoice_number"`
	EntrySeller        string `mapstructure:"entry_seller"`

	AccountName           string `mapstructure:"account_name"`
	AccountType           string `mapstructure:"account_type"`
	AccountInitialBalance string `mapstructure:"account_initial_balance"`
	AccountCarrier        string `mapstructure:"account_carrier"`
}

// DefaultSchema returns the property names of a freshly created workspace.
func DefaultSchema() Schema {
	return Schema{
		EntryName:          "Name",
		EntryCategory:      "Category",
		EntryDate:          "Date",
		EntryAmount:        "Amount",
		EntryAccount:       "Account",
		EntryNote:          "Note",
		EntryInvoiceNumber: "Invoice Number",
		EntrySeller:        "Seller",

		AccountName:           "Name",
		AccountType:           "Type",
		AccountInitialBalance: "Initial Balance",
		AccountCarrier:        "Carrier",
	}
}

// WithDefaults fills blank names from DefaultSchema.
func (s Schema) WithDefaults() Schema {
	d := DefaultSchema()
	fill := func(v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			*v = def
		}
	}
	fill(&s.EntryName, d.EntryName)
	fill(&s.EntryCategory, d.EntryCategory)
	fill(&s.EntryDate, d.EntryDate)
	fill(&s.EntryAmount, d.EntryAmount)
	fill(&s.EntryAccount, d.EntryAccount)
	fill(&s.EntryNote, d.EntryNote)
	fill(&s.EntryInvoiceNumber, d.EntryInvoiceNumber)
	fill(&s.EntrySeller, d.EntrySeller)
	fill(&s.AccountName, d.AccountName)
	fill(&s.AccountType, d.AccountType)
	fill(&s.AccountInitialBalance, d.AccountInitialBalance)
	fill(&s.AccountCarrier, d.AccountCarrier)
	return s
}

// Validate rejects duplicate property names within one database.
func (s Schema) Validate() error {
	entryProps := []string{s.EntryName, s.EntryCategory, s.EntryDate, s.EntryAmount,
		s.EntryAccount, s.EntryNote, s.EntryInvoiceNumber, s.EntrySeller}
	accountProps := []string{s.AccountName, s.AccountType, s.AccountInitialBalance, s.AccountCarrier}

	for db, props := range map[string][]string{"entries": entryProps, "accounts": accountProps} {
		seen := make(map[string]bool, len(props))
		for _, p := range props {
			if seen[p] {
				return fmt.Errorf("Schema: %s database property %q used twice", db, p)
			}
			seen[p] = true
		}
	}
	return nil
}
