// Package pricefeed fetches the reference spot price of the traded asset.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrPriceMissing     = errors.New("pricefeed: asset missing from response")
	ErrNonPositivePrice = errors.New("pricefeed: non-positive price")
)

// simplePriceResponse mirrors CoinGecko's /simple/price payload:
//
//	{"tether-gold": {"usd": 2650.12}}
type simplePriceResponse map[string]map[string]decimal.Decimal

type Config struct {
	URL      string
	AssetID  string
	Currency string
	Timeout  time.Duration
}

// Client makes exactly one request per FetchPrice call. There is no cache
// and no retry; callers keep their previous value on failure.
type Client struct {
	endpoint   string
	assetID    string
	currency   string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("pricefeed: parse url: %w", err)
	}
	q := u.Query()
	q.Set("ids", cfg.AssetID)
	q.Set("vs_currencies", cfg.Currency)
	u.RawQuery = q.Encode()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		endpoint: u.String(),
		assetID:  cfg.AssetID,
		currency: cfg.Currency,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// FetchPrice returns the current positive price of the configured asset.
func (c *Client) FetchPrice(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pricefeed: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pricefeed: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, fmt.Errorf("pricefeed: unexpected status %d: %s", resp.StatusCode, body)
	}

	var payload simplePriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("pricefeed: decode response: %w", err)
	}

	quotes, ok := payload[c.assetID]
	if !ok {
		return decimal.Zero, ErrPriceMissing
	}
	price, ok := quotes[c.currency]
	if !ok {
		return decimal.Zero, ErrPriceMissing
	}
	if !price.IsPositive() {
		return decimal.Zero, ErrNonPositivePrice
	}
	return price, nil
}
