// Package summary folds ledger entries into income and expense totals.
package summary

import (
	"github.com/dvloznov/notion-ledger/internal/ledger"
	"github.com/shopspring/decimal"
)

// Summary is the income/expense rollup of a period.
type Summary struct {
	Period            ledger.Period              `json:"period"`
	TotalIncome       decimal.Decimal            `json:"totalIncome"`
	TotalExpense      decimal.Decimal            `json:"totalExpense"`
	Balance           decimal.Decimal            `json:"balance"`
	ByCategoryIncome  map[string]decimal.Decimal `json:"byCategoryIncome"`
	ByCategoryExpense map[string]decimal.Decimal `json:"byCategoryExpense"`
}

// Compute aggregates entries. Entries in an excluded category and entries
// with a zero amount contribute nothing; positive amounts count as income,
// negative amounts as expense by absolute value.
func Compute(entries []ledger.Entry) Summary {
	s := Summary{
		TotalIncome:       decimal.Zero,
		TotalExpense:      decimal.Zero,
		ByCategoryIncome:  make(map[string]decimal.Decimal),
		ByCategoryExpense: make(map[string]decimal.Decimal),
	}

	for _, e := range entries {
		if ledger.IsExcludedCategory(e.Category) || e.Amount.IsZero() {
			continue
		}
		if e.Amount.IsPositive() {
			s.TotalIncome = s.TotalIncome.Add(e.Amount)
			s.ByCategoryIncome[e.Category] = s.ByCategoryIncome[e.Category].Add(e.Amount)
			continue
		}
		abs := e.Amount.Abs()
		s.TotalExpense = s.TotalExpense.Add(abs)
		s.ByCategoryExpense[e.Category] = s.ByCategoryExpense[e.Category].Add(abs)
	}

	s.Balance = s.TotalIncome.Sub(s.TotalExpense)
	return s
}
