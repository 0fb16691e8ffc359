package bigquery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/notion-ledger/internal/ledger"
	"github.com/shopspring/decimal"
)

type mockPutter struct {
	batches [][]*bigquery.StructSaver
	PutFunc func(call int) error
}

func (m *mockPutter) Put(ctx context.Context, src interface{}) error {
	if m.PutFunc != nil {
		if err := m.PutFunc(len(m.batches) + 1); err != nil {
			return err
		}
	}
	m.batches = append(m.batches, src.([]*bigquery.StructSaver))
	return nil
}

func newTestMirror(p putter) *Mirror {
	fixed := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	return &Mirror{inserter: p, now: func() time.Time { return fixed }}
}

func entries(n int) []ledger.Entry {
	out := make([]ledger.Entry, n)
	for i := range out {
		out[i] = ledger.Entry{
			ID:       fmt.Sprintf("page-%04d", i),
			Name:     "lunch",
			Category: "food",
			Date:     time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC),
			Amount:   decimal.RequireFromString("-120.5"),
			Account:  "Cash",
		}
	}
	return out
}

func TestNewEntryRow(t *testing.T) {
	at := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	row := NewEntryRow(ledger.Entry{
		ID:            "page-1",
		Name:          "Transfer to Savings",
		Category:      "transfer",
		Date:          time.Date(2024, 3, 5, 23, 30, 0, 0, time.UTC),
		Amount:        decimal.RequireFromString("-1000.25"),
		Account:       "Bank",
		InvoiceNumber: "AB1",
	}, at)

	if row.EntryDate != (civil.Date{Year: 2024, Month: time.March, Day: 5}) {
		t.Errorf("EntryDate = %v", row.EntryDate)
	}
	if row.Amount.FloatString(2) != "-1000.25" {
		t.Errorf("Amount = %s", row.Amount.FloatString(2))
	}
	if !row.IsExcluded {
		t.Error("transfer should be flagged as excluded")
	}
	if row.Note.Valid || !row.InvoiceNumber.Valid || row.InvoiceNumber.StringVal != "AB1" {
		t.Errorf("unexpected nullable fields: note=%v invoice=%v", row.Note, row.InvoiceNumber)
	}
	if !row.MirroredTS.Equal(at) {
		t.Errorf("MirroredTS = %v", row.MirroredTS)
	}
}

func TestMirrorEntries_Batches(t *testing.T) {
	p := &mockPutter{}
	m := newTestMirror(p)

	sent, err := m.MirrorEntries(context.Background(), entries(1203))
	if err != nil {
		t.Fatalf("MirrorEntries failed: %v", err)
	}
	if sent != 1203 {
		t.Errorf("sent = %d, want 1203", sent)
	}
	if len(p.batches) != 3 || len(p.batches[0]) != 500 || len(p.batches[2]) != 203 {
		t.Fatalf("unexpected batching: %d batches", len(p.batches))
	}

	first := p.batches[0][0]
	if first.InsertID != "page-0000" {
		t.Errorf("InsertID = %q, want entry id", first.InsertID)
	}
	if row, ok := first.Struct.(*EntryRow); !ok || row.EntryID != "page-0000" {
		t.Errorf("unexpected struct %#v", first.Struct)
	}
}

func TestMirrorEntries_Empty(t *testing.T) {
	p := &mockPutter{}
	sent, err := newTestMirror(p).MirrorEntries(context.Background(), nil)
	if err != nil || sent != 0 || len(p.batches) != 0 {
		t.Errorf("expected no-op, got sent=%d err=%v batches=%d", sent, err, len(p.batches))
	}
}

func TestMirrorEntries_ReportsPartialProgress(t *testing.T) {
	boom := errors.New("quota exceeded")
	p := &mockPutter{PutFunc: func(call int) error {
		if call == 2 {
			return boom
		}
		return nil
	}}

	sent, err := newTestMirror(p).MirrorEntries(context.Background(), entries(700))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped put error, got %v", err)
	}
	if sent != 500 {
		t.Errorf("sent = %d, want 500", sent)
	}
}
