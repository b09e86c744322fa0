/**
 * @description
 * This package provides a client for the external price oracle API. It
 * encapsulates the logic for fetching the latest exchange rate of the
 * collateral asset in the accounting unit (USD), with a fixed 8-decimal
 * price precision.
 *
 * @notes
 * - The oracle is untrusted: the client surfaces the raw quote and the
 *   engine decides whether a non-positive or stale value is acceptable
 *   (it is not).
 *
 * @dependencies
 * - context, encoding/json, fmt, math/big, net/http, time: Standard Go libraries.
 */
package oracleclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PriceDecimals is the fixed fractional precision of oracle quotes.
const PriceDecimals = 8

// PriceQuote is the latest exchange rate reported by the oracle.
type PriceQuote struct {
	Price     *big.Int  // 8-decimal fixed point
	Decimals  int
	UpdatedAt time.Time
	Source    string
}

// Client is a client for the price oracle API.
type Client struct {
	baseURL    string
	pair       string
	httpClient *http.Client
}

// NewClient creates a new oracle client for a single collateral/USD pair.
func NewClient(baseURL, pair string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		pair:       strings.TrimSpace(pair),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// latestPriceResponse is the oracle's wire format. The price is a decimal
// string because 8-decimal rates can exceed safe JSON number precision.
type latestPriceResponse struct {
	Data struct {
		Pair      string    `json:"pair"`
		Price     string    `json:"price"`
		Decimals  int       `json:"decimals"`
		UpdatedAt time.Time `json:"updated_at"`
		Source    string    `json:"source"`
	} `json:"data"`
}

// LatestPrice fetches the current quote for the configured pair.
func (c *Client) LatestPrice(ctx context.Context) (*PriceQuote, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("oracle base url is empty")
	}

	endpoint := fmt.Sprintf("%s/prices/%s/latest", c.baseURL, url.PathEscape(c.pair))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute oracle request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("oracle returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload latestPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode oracle response: %w", err)
	}
	if payload.Data.Decimals != PriceDecimals {
		return nil, fmt.Errorf("oracle reported %d decimals, expected %d", payload.Data.Decimals, PriceDecimals)
	}

	price, ok := new(big.Int).SetString(strings.TrimSpace(payload.Data.Price), 10)
	if !ok {
		return nil, fmt.Errorf("oracle returned unparseable price %q", payload.Data.Price)
	}

	return &PriceQuote{
		Price:     price,
		Decimals:  payload.Data.Decimals,
		UpdatedAt: payload.Data.UpdatedAt,
		Source:    payload.Data.Source,
	}, nil
}
