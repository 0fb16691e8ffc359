package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts leave the API as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Category names offered by the UI and emitted by the invoice classifier.
const (
	CategoryFood             = "food"
	CategoryTransport        = "transport"
	CategoryShopping         = "shopping"
	CategoryDaily            = "daily"
	CategoryEntertainment    = "entertainment"
	CategoryMedical          = "medical"
	CategoryEducation        = "education"
	CategorySalary           = "salary"
	CategoryBonus            = "bonus"
	CategoryInvestment       = "investment"
	CategoryOther            = "other"
	CategoryTransfer         = "transfer"
	CategoryAdvancePayment   = "advance-payment"
	CategoryAdvanceRepayment = "advance-repayment"
)

// Categories is the full vocabulary in display order.
var Categories = []string{
	CategoryFood,
	CategoryTransport,
	CategoryShopping,
	CategoryDaily,
	CategoryEntertainment,
	CategoryMedical,
	CategoryEducation,
	CategorySalary,
	CategoryBonus,
	CategoryInvestment,
	CategoryOther,
	CategoryTransfer,
	CategoryAdvancePayment,
	CategoryAdvanceRepayment,
}

// excludedCategories represent internal movement or reimbursable float,
// not real income or expense.
var excludedCategories = map[string]bool{
	CategoryTransfer:         true,
	CategoryAdvancePayment:   true,
	CategoryAdvanceRepayment: true,
}

// IsExcludedCategory reports whether entries of this category stay out of
// income/expense aggregation.
func IsExcludedCategory(category string) bool {
	return excludedCategories[strings.TrimSpace(category)]
}

// Entry is a single ledger line item.
type Entry struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Date     time.Time       `json:"date"`
	Amount   decimal.Decimal `json:"amount"`
	Account  string          `json:"account"`
	Note     string          `json:"note,omitempty"`

	// Set on entries ingested from the e-invoice portal.
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
	Seller        string `json:"seller,omitempty"`
}

// Account is a named money container.
type Account struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Type             string          `json:"type"`
	InitialBalance   decimal.Decimal `json:"initialBalance"`
	TransactionSum   decimal.Decimal `json:"transactionSum"`
	Balance          decimal.Decimal `json:"balance"`
	IsCarrierAccount bool            `json:"isCarrierAccount"`
}

// EntryInput carries the fields for a new entry. Account is an account name.
type EntryInput struct {
	Name          string
	Category      string
	Date          time.Time
	Amount        *decimal.Decimal
	Account       string
	Note          string
	InvoiceNumber string
	Seller        string
}

// Validate reports every missing required field at once.
func (in EntryInput) Validate() error {
	var missing []string
	if strings.TrimSpace(in.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(in.Category) == "" {
		missing = append(missing, "category")
	}
	if in.Date.IsZero() {
		missing = append(missing, "date")
	}
	if in.Amount == nil {
		missing = append(missing, "amount")
	}
	if strings.TrimSpace(in.Account) == "" {
		missing = append(missing, "account")
	}
	if len(missing) > 0 {
		return MissingFields(missing...)
	}
	return nil
}

// EntryPatch is a partial update; nil fields are left untouched.
type EntryPatch struct {
	Name     *string
	Category *string
	Date     *time.Time
	Amount   *decimal.Decimal
	Account  *string
	Note     *string
}

// Empty reports whether the patch changes nothing.
func (p EntryPatch) Empty() bool {
	return p.Name == nil && p.Category == nil && p.Date == nil &&
		p.Amount == nil && p.Account == nil && p.Note == nil
}

// AccountInput carries the fields for a new account.
type AccountInput struct {
	Name           string
	Type           string
	InitialBalance decimal.Decimal
}

// Validate checks the required account fields.
func (in AccountInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return MissingFields("name")
	}
	return nil
}

// AccountPatch is a partial account update.
type AccountPatch struct {
	Name           *string
	Type           *string
	InitialBalance *decimal.Decimal
}

// Empty reports whether the patch changes nothing.
func (p AccountPatch) Empty() bool {
	return p.Name == nil && p.Type == nil && p.InitialBalance == nil
}
