package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/notion-ledger/internal/logger"
	"github.com/shopspring/decimal"
)

// TransferRequest moves money between two accounts.
type TransferRequest struct {
	FromAccount string
	ToAccount   string
	Amount      decimal.Decimal
	Date        time.Time
	Note        string
}

// Validate checks the transfer before any write happens.
func (r TransferRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.FromAccount) == "" {
		missing = append(missing, "fromAccount")
	}
	if strings.TrimSpace(r.ToAccount) == "" {
		missing = append(missing, "toAccount")
	}
	if r.Date.IsZero() {
		missing = append(missing, "date")
	}
	if len(missing) > 0 {
		return MissingFields(missing...)
	}
	if strings.TrimSpace(r.FromAccount) == strings.TrimSpace(r.ToAccount) {
		return Invalid("toAccount", "fromAccount and toAccount must differ")
	}
	if !r.Amount.IsPositive() {
		return Invalid("amount", "amount must be greater than 0")
	}
	return nil
}

// TransferResult holds the ids of both legs.
type TransferResult struct {
	FromID string `json:"fromId"`
	ToID   string `json:"toId"`
}

// Transfer writes a debit on the source account and a credit on the target,
// both categorised as transfer. The store offers no transactions, so a failed
// credit is compensated by archiving the debit. If compensation fails too the
// orphaned debit is logged for manual repair.
func Transfer(ctx context.Context, w EntryWriter, req TransferRequest) (*TransferResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx)

	from := strings.TrimSpace(req.FromAccount)
	to := strings.TrimSpace(req.ToAccount)

	debit := req.Amount.Neg()
	fromID, err := w.CreateEntry(ctx, EntryInput{
		Name:     "Transfer to " + to,
		Category: CategoryTransfer,
		Date:     req.Date,
		Amount:   &debit,
		Account:  from,
		Note:     req.Note,
	})
	if err != nil {
		return nil, fmt.Errorf("Transfer: writing debit leg: %w", err)
	}

	credit := req.Amount
	toID, err := w.CreateEntry(ctx, EntryInput{
		Name:     "Transfer from " + from,
		Category: CategoryTransfer,
		Date:     req.Date,
		Amount:   &credit,
		Account:  to,
		Note:     req.Note,
	})
	if err != nil {
		if archiveErr := w.ArchiveEntry(ctx, fromID); archiveErr != nil {
			log.Error().
				Err(archiveErr).
				AnErr("cause", err).
				Str("orphan_entry_id", fromID).
				Str("from_account", from).
				Str("to_account", to).
				Str("amount", req.Amount.String()).
				Msg("Transfer left a debit without credit, manual repair required")
			return nil, fmt.Errorf("Transfer: writing credit leg failed and debit %s could not be rolled back: %w", fromID, err)
		}
		log.Warn().
			Err(err).
			Str("rolled_back_entry_id", fromID).
			Msg("Transfer credit failed, debit rolled back")
		return nil, fmt.Errorf("Transfer: writing credit leg: %w", err)
	}

	return &TransferResult{FromID: fromID, ToID: toID}, nil
}
