/**
 * @description
 * This package provides a client for the companion token ledger service. The
 * issuance engine instructs it to mint and burn tokens and reads balances
 * from it; the token's own transfer semantics live entirely on the other
 * side of this interface.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, math/big, net/http, strings, time:
 *   Standard Go libraries.
 */
package tokenclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrInsufficientTokenBalance is returned when a burn instruction is
// rejected because the account's balance or allowance is too small.
var ErrInsufficientTokenBalance = errors.New("token ledger rejected burn: insufficient balance")

// Client is a client for the companion token ledger service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new token ledger client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// supplyInstruction is the payload for mint and burn instructions. Amounts
// travel as decimal strings (18-decimal fixed point).
type supplyInstruction struct {
	AccountAddress string `json:"account_address"`
	Amount         string `json:"amount"`
}

// balanceResponse is the token ledger's balance read response.
type balanceResponse struct {
	Data struct {
		AccountAddress string `json:"account_address"`
		Balance        string `json:"balance"`
	} `json:"data"`
}

// errorResponse represents an error from the token ledger API.
type errorResponse struct {
	Errors []struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// Mint instructs the ledger to mint `amount` tokens to the account.
func (c *Client) Mint(ctx context.Context, accountAddress string, amount *big.Int) error {
	return c.instruct(ctx, "/internal/tokens/mint", accountAddress, amount)
}

// BurnFrom instructs the ledger to burn `amount` tokens from the account's
// balance/allowance. Fails when the balance is insufficient.
func (c *Client) BurnFrom(ctx context.Context, accountAddress string, amount *big.Int) error {
	return c.instruct(ctx, "/internal/tokens/burn", accountAddress, amount)
}

// BalanceOf reads the account's current token balance.
func (c *Client) BalanceOf(ctx context.Context, accountAddress string) (*big.Int, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("token ledger base url is empty")
	}

	endpoint := fmt.Sprintf("%s/internal/tokens/balances/%s", c.baseURL, url.PathEscape(accountAddress))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create balance request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute balance request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, c.decodeError(resp)
	}

	var payload balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode balance response: %w", err)
	}
	balance, ok := new(big.Int).SetString(strings.TrimSpace(payload.Data.Balance), 10)
	if !ok {
		return nil, fmt.Errorf("token ledger returned unparseable balance %q", payload.Data.Balance)
	}
	return balance, nil
}

func (c *Client) instruct(ctx context.Context, path string, accountAddress string, amount *big.Int) error {
	if c.baseURL == "" {
		return fmt.Errorf("token ledger base url is empty")
	}
	if amount == nil {
		return fmt.Errorf("amount is nil")
	}

	body, err := json.Marshal(supplyInstruction{AccountAddress: accountAddress, Amount: amount.String()})
	if err != nil {
		return fmt.Errorf("failed to marshal instruction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create instruction request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute instruction request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.decodeError(resp)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", c.apiKey)
	}
}

func (c *Client) decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload errorResponse
	if err := json.Unmarshal(raw, &payload); err == nil && len(payload.Errors) > 0 {
		if payload.Errors[0].Code == "insufficient_balance" {
			return ErrInsufficientTokenBalance
		}
		return fmt.Errorf("token ledger error (%d): %s - %s", resp.StatusCode, payload.Errors[0].Code, payload.Errors[0].Detail)
	}
	return fmt.Errorf("token ledger returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}
