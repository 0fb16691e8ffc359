package notion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/notion-ledger/internal/ledger"
	"github.com/jomei/notionapi"
	"golang.org/x/time/rate"
)

// NotionService defines the interface for interacting with Notion API.
// This interface enables mocking and testing of Notion operations.
type NotionService interface {
	// CreatePage creates a new page in a Notion database with the given properties.
	CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)

	// UpdatePage updates an existing Notion page with the given properties.
	UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error)

	// QueryDatabase queries a Notion database with the given filter.
	QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)

	// ArchivePage soft-deletes a page.
	ArchivePage(ctx context.Context, pageID string) error
}

const (
	defaultTimeout           = 15 * time.Second
	defaultRequestsPerSecond = 3
)

// ClientOptions bounds calls made by NotionClient.
type ClientOptions struct {
	// Timeout applies to each API call. Zero means 15s.
	Timeout time.Duration
	// RequestsPerSecond throttles all calls made through the client. Zero means 3.
	RequestsPerSecond float64
}

// NotionClient is the concrete implementation of NotionService using the official Notion SDK.
type NotionClient struct {
	client  *notionapi.Client
	limiter *rate.Limiter
	timeout time.Duration
}

// NewNotionClient creates a new NotionClient with the provided API token.
func NewNotionClient(token string, opts ClientOptions) *NotionClient {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = defaultRequestsPerSecond
	}
	return &NotionClient{
		client:  notionapi.NewClient(notionapi.Token(token)),
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		timeout: opts.Timeout,
	}
}

// CreatePage creates a new page in a Notion database with the given properties.
func (n *NotionClient) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: properties,
	}

	var page *notionapi.Page
	err := n.call(ctx, "CreatePage", func(ctx context.Context) error {
		var err error
		page, err = n.client.Page.Create(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	return page, nil
}

// UpdatePage updates an existing Notion page with the given properties.
func (n *NotionClient) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	req := &notionapi.PageUpdateRequest{
		Properties: properties,
	}

	var page *notionapi.Page
	err := n.call(ctx, "UpdatePage", func(ctx context.Context) error {
		var err error
		page, err = n.client.Page.Update(ctx, notionapi.PageID(pageID), req)
		return err
	})
	if err != nil {
		return nil, err
	}

	return page, nil
}

// QueryDatabase queries a Notion database with the given filter.
func (n *NotionClient) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	var resp *notionapi.DatabaseQueryResponse
	err := n.call(ctx, "QueryDatabase", func(ctx context.Context) error {
		var err error
		resp, err = n.client.Database.Query(ctx, notionapi.DatabaseID(databaseID), req)
		return err
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// ArchivePage archives a Notion page by setting its archived property to true.
func (n *NotionClient) ArchivePage(ctx context.Context, pageID string) error {
	req := &notionapi.PageUpdateRequest{
		Archived: true,
	}

	return n.call(ctx, "ArchivePage", func(ctx context.Context) error {
		_, err := n.client.Page.Update(ctx, notionapi.PageID(pageID), req)
		return err
	})
}

// call runs fn under the rate limiter and the per-call timeout.
func (n *NotionClient) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if err := n.limiter.Wait(ctx); err != nil {
		// Wait fails early when the deadline cannot be met.
		if ctx.Err() == nil || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: waiting for rate limit: %w", op, ledger.ErrUpstreamTimeout)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := fn(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", op, ledger.ErrUpstreamTimeout)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

var _ NotionService = (*NotionClient)(nil)
