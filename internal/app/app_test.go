package app

import (
	"context"
	"testing"

	"github.com/dvloznov/notion-ledger/internal/config"
	"github.com/dvloznov/notion-ledger/internal/invoice"
	"github.com/dvloznov/notion-ledger/internal/ledger"
)

func TestNewClassifier_FallsBackWithoutKey(t *testing.T) {
	c, err := NewClassifier(context.Background(), &config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(invoice.FallbackClassifier); !ok {
		t.Fatalf("expected fallback classifier, got %T", c)
	}
	got := c.Classify(context.Background(), invoice.Invoice{Number: "AB1"})
	if got.Name != "purchase" || got.Category != ledger.CategoryOther {
		t.Errorf("Classify() = %+v", got)
	}
}

func TestNewClassifier_Gemini(t *testing.T) {
	cfg := &config.Config{Gemini: config.GeminiConfig{APIKey: "test-key", Model: "gemini-2.5-flash"}}
	c, err := NewClassifier(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*invoice.GeminiClassifier); !ok {
		t.Errorf("expected Gemini classifier, got %T", c)
	}
}

func TestNewImporter(t *testing.T) {
	cfg := &config.Config{
		Scraper: config.ScraperConfig{URL: "http://localhost:5000"},
		Invoice: config.InvoiceConfig{ClassifyConcurrency: 2},
	}
	im, err := NewImporter(context.Background(), cfg, NewRepository(cfg, nil), nil, nil)
	if err != nil || im == nil {
		t.Fatalf("NewImporter() = %v, %v", im, err)
	}
}
