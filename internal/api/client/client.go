// Package client calls the ledger API from the other binaries. They write to
// the store directly and use it to drop the API's cached views afterwards.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/notion-ledger/internal/api/handlers"
	"github.com/dvloznov/notion-ledger/internal/auth"
)

// Client talks to a running API server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the API at baseURL that authenticates with pin.
// A timeout <= 0 means 10 seconds.
func New(baseURL, pin string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   auth.HashPIN(pin),
		http:    &http.Client{Timeout: timeout},
	}
}

// InvalidateCache asks the API to drop cached values for target, one of the
// handlers.Target* values.
func (c *Client) InvalidateCache(ctx context.Context, target string) error {
	raw, err := json.Marshal(map[string]string{"target": target})
	if err != nil {
		return fmt.Errorf("InvalidateCache: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/cache/invalidate", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("InvalidateCache: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("InvalidateCache: call api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("InvalidateCache: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("InvalidateCache: api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// EntriesChanged drops the API's entry listings and summaries.
func (c *Client) EntriesChanged(ctx context.Context) error {
	return c.InvalidateCache(ctx, handlers.TargetEntries)
}

// AccountsChanged drops the API's account index.
func (c *Client) AccountsChanged(ctx context.Context) error {
	return c.InvalidateCache(ctx, handlers.TargetAccounts)
}
