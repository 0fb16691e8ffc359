package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// mockEntryWriter records writes and fails on demand.
type mockEntryWriter struct {
	created        []EntryInput
	archived       []string
	CreateFunc     func(call int, in EntryInput) (string, error)
	ArchiveEntryFn func(id string) error
}

func (m *mockEntryWriter) CreateEntry(ctx context.Context, in EntryInput) (string, error) {
	m.created = append(m.created, in)
	if m.CreateFunc != nil {
		return m.CreateFunc(len(m.created), in)
	}
	return "entry-" + in.Account, nil
}

func (m *mockEntryWriter) ArchiveEntry(ctx context.Context, id string) error {
	m.archived = append(m.archived, id)
	if m.ArchiveEntryFn != nil {
		return m.ArchiveEntryFn(id)
	}
	return nil
}

func transferReq() TransferRequest {
	return TransferRequest{
		FromAccount: "Cash",
		ToAccount:   "Bank",
		Amount:      decimal.NewFromInt(300),
		Date:        time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	}
}

func TestTransfer_WritesTwoLegs(t *testing.T) {
	w := &mockEntryWriter{}

	res, err := Transfer(context.Background(), w, transferReq())
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if res.FromID != "entry-Cash" || res.ToID != "entry-Bank" {
		t.Errorf("unexpected ids: %+v", res)
	}
	if len(w.created) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(w.created))
	}

	debit, credit := w.created[0], w.created[1]
	if debit.Account != "Cash" || !debit.Amount.Equal(decimal.NewFromInt(-300)) || debit.Category != CategoryTransfer {
		t.Errorf("unexpected debit leg: %+v amount=%s", debit, debit.Amount)
	}
	if credit.Account != "Bank" || !credit.Amount.Equal(decimal.NewFromInt(300)) || credit.Category != CategoryTransfer {
		t.Errorf("unexpected credit leg: %+v amount=%s", credit, credit.Amount)
	}
	if len(w.archived) != 0 {
		t.Errorf("expected no compensation, got %v", w.archived)
	}
}

func TestTransfer_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TransferRequest)
		field  string
	}{
		{"same account", func(r *TransferRequest) { r.ToAccount = "Cash" }, "toAccount"},
		{"zero amount", func(r *TransferRequest) { r.Amount = decimal.Zero }, "amount"},
		{"negative amount", func(r *TransferRequest) { r.Amount = decimal.NewFromInt(-5) }, "amount"},
		{"missing from", func(r *TransferRequest) { r.FromAccount = " " }, "fromAccount"},
		{"missing date", func(r *TransferRequest) { r.Date = time.Time{} }, "date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := transferReq()
			tt.mutate(&req)
			w := &mockEntryWriter{}

			_, err := Transfer(context.Background(), w, req)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Fields[0] != tt.field {
				t.Errorf("field = %v, want %s", ve.Fields, tt.field)
			}
			if len(w.created) != 0 {
				t.Errorf("expected no writes on validation failure, got %d", len(w.created))
			}
		})
	}
}

func TestTransfer_CompensatesFailedCredit(t *testing.T) {
	creditErr := errors.New("store unavailable")
	w := &mockEntryWriter{
		CreateFunc: func(call int, in EntryInput) (string, error) {
			if call == 2 {
				return "", creditErr
			}
			return "debit-1", nil
		},
	}

	_, err := Transfer(context.Background(), w, transferReq())
	if !errors.Is(err, creditErr) {
		t.Fatalf("expected credit error, got %v", err)
	}
	if len(w.archived) != 1 || w.archived[0] != "debit-1" {
		t.Errorf("expected debit to be archived, got %v", w.archived)
	}
}

func TestTransfer_CompensationFailureNamesOrphan(t *testing.T) {
	w := &mockEntryWriter{
		CreateFunc: func(call int, in EntryInput) (string, error) {
			if call == 2 {
				return "", errors.New("credit failed")
			}
			return "debit-9", nil
		},
		ArchiveEntryFn: func(id string) error { return errors.New("archive failed") },
	}

	_, err := Transfer(context.Background(), w, transferReq())
	if err == nil || !strings.Contains(err.Error(), "debit-9") {
		t.Fatalf("expected error naming orphaned debit, got %v", err)
	}
}

func TestTransfer_DebitFailureWritesNothingElse(t *testing.T) {
	w := &mockEntryWriter{
		CreateFunc: func(call int, in EntryInput) (string, error) {
			return "", NotFoundf("account %q", in.Account)
		},
	}

	_, err := Transfer(context.Background(), w, transferReq())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(w.created) != 1 {
		t.Errorf("expected a single attempted write, got %d", len(w.created))
	}
}
