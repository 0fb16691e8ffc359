// Package app builds the collaborators shared by the binaries from config.
package app

import (
	"context"

	"github.com/dvloznov/notion-ledger/internal/api/client"
	"github.com/dvloznov/notion-ledger/internal/cache"
	"github.com/dvloznov/notion-ledger/internal/config"
	"github.com/dvloznov/notion-ledger/internal/infra/notion"
	"github.com/dvloznov/notion-ledger/internal/invoice"
	"github.com/dvloznov/notion-ledger/internal/logger"
)

// NewRepository connects to the configured Notion databases.
func NewRepository(cfg *config.Config, c cache.Cache) *notion.Repository {
	client := notion.NewNotionClient(cfg.Notion.Token, notion.ClientOptions{
		Timeout:           cfg.Notion.Timeout,
		RequestsPerSecond: cfg.Notion.RequestsPerSecond,
	})
	return notion.NewRepository(client, c, notion.Config{
		EntriesDatabaseID:  cfg.Notion.EntriesDBID,
		AccountsDatabaseID: cfg.Notion.AccountsDBID,
		Schema:             cfg.Notion.Schema,
		AccountIndexTTL:    cfg.Cache.AccountIndexTTL,
	})
}

// NewClassifier returns the Gemini classifier, or the fallback one when no
// API key is configured.
func NewClassifier(ctx context.Context, cfg *config.Config) (invoice.Classifier, error) {
	if cfg.Gemini.APIKey == "" {
		log := logger.FromContext(ctx)
		log.Warn().Msg("No Gemini API key configured - invoices will not be classified")
		return invoice.FallbackClassifier{}, nil
	}
	return invoice.NewGeminiClassifier(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
}

// NewAPIClient returns a client for the configured API server, or nil when
// api.url is not set.
func NewAPIClient(cfg *config.Config) *client.Client {
	if cfg.API.URL == "" {
		return nil
	}
	return client.New(cfg.API.URL, cfg.Auth.PIN, cfg.API.Timeout)
}

// NewImporter wires the scraper, the classifier and store for invoice imports.
// api is told about saved entries; pass nil inside the API process itself.
func NewImporter(ctx context.Context, cfg *config.Config, store invoice.Store, c cache.Cache, api *client.Client) (*invoice.Importer, error) {
	classifier, err := NewClassifier(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts := invoice.Options{
		FallbackAccount: cfg.Invoice.FallbackAccount,
		Concurrency:     cfg.Invoice.ClassifyConcurrency,
	}
	if api != nil {
		opts.Notifier = api
	}
	return invoice.NewImporter(
		invoice.NewScraperClient(cfg.Scraper.URL, cfg.Scraper.Timeout),
		classifier,
		store,
		c,
		opts,
	), nil
}
