// Package fill is the HTTP client for the listing filler and order intake
// services.
package fill

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

// Client builds fill transactions through the filler service and posts raw
// orders to the order intake API.
type Client struct {
	fillerURL  string
	orderURL   string
	apiKey     string
	httpClient *http.Client
}

var (
	_ domain.ListingFiller = (*Client)(nil)
	_ domain.OrderIntake   = (*Client)(nil)
)

// NewClient creates a client. orderURL may be empty when raw order intake is
// not configured.
func NewClient(fillerURL, orderURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		fillerURL: fillerURL,
		orderURL:  orderURL,
		apiKey:    apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type fillRequest struct {
	Listings []domain.ListingDetails `json:"listings"`
	Taker    string                  `json:"taker"`
	Currency string                  `json:"currency"`
	Options  domain.FillOptions      `json:"options"`
}

type fillResponse struct {
	TxData  domain.TxData `json:"txData"`
	Success []bool        `json:"success"`
}

// FillListingsTx returns the fill transaction and, per listing, whether its
// simulation succeeded.
func (c *Client) FillListingsTx(ctx context.Context, listings []domain.ListingDetails, taker, currency string, opts domain.FillOptions) (domain.TxData, []bool, error) {
	body, err := c.doPost(ctx, c.fillerURL+"/fill/listings", fillRequest{
		Listings: listings,
		Taker:    taker,
		Currency: currency,
		Options:  opts,
	})
	if err != nil {
		return domain.TxData{}, nil, fmt.Errorf("fill: fill listings: %w", err)
	}

	var resp fillResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.TxData{}, nil, fmt.Errorf("fill: decode fill response: %w", err)
	}
	if len(resp.Success) != len(listings) {
		return domain.TxData{}, nil, fmt.Errorf("fill: got %d success flags for %d listings", len(resp.Success), len(listings))
	}
	return resp.TxData, resp.Success, nil
}

type postOrderRequest struct {
	Order struct {
		Kind string          `json:"kind"`
		Data json.RawMessage `json:"data"`
	} `json:"order"`
}

type postOrderResponse struct {
	OrderID string `json:"orderId"`
	Message string `json:"message"`
}

// PostOrder submits a raw signed order and returns the id it was stored under.
func (c *Client) PostOrder(ctx context.Context, kind string, data []byte) (string, error) {
	if c.orderURL == "" {
		return "", errors.New("fill: order intake not configured")
	}

	var req postOrderRequest
	req.Order.Kind = kind
	req.Order.Data = data

	body, err := c.doPost(ctx, c.orderURL+"/order", req)
	if err != nil {
		return "", fmt.Errorf("fill: post %s order: %w", kind, err)
	}

	var resp postOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("fill: decode order response: %w", err)
	}
	if resp.OrderID == "" {
		return "", fmt.Errorf("fill: post %s order: no id returned (%s)", kind, resp.Message)
	}
	return resp.OrderID, nil
}

func (c *Client) doPost(ctx context.Context, url string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
