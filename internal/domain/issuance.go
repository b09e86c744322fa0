/**
 * @description
 * This file defines the core domain models for the issuance-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Collateral amounts and USD values use 18-decimal fixed point and oracle
 *   prices use 8-decimal fixed point, so they are carried as `*big.Int`
 *   everywhere. API payloads serialize them as decimal strings because the
 *   magnitudes overflow int64 and JSON numbers lose precision.
 * - Using distinct types for API requests, database records, and event
 *   payloads keeps the layers decoupled and type safe.
 */

package domain

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Fixed-point scales used across the service.
const (
	// OracleDecimals is the fractional precision of oracle price quotes.
	OracleDecimals = 8
	// ValueDecimals is the fractional precision of collateral amounts and
	// USD-denominated values.
	ValueDecimals = 18
)

// OracleScale is 10^OracleDecimals, the divisor applied when converting a
// collateral amount into its USD value.
var OracleScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(OracleDecimals), nil)

// CollateralPosition is a user's recorded collateral USD value.
// It maps directly to the `collateral_positions` table.
type CollateralPosition struct {
	AccountAddress string    `json:"account_address"`
	USDValue       *big.Int  `json:"usd_value"` // 18-decimal fixed point
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IssuanceTransaction is the central ledger record for any mint or redeem.
// This struct maps directly to the `issuance_transactions` table.
type IssuanceTransaction struct {
	ID               uuid.UUID `json:"id"`
	AccountAddress   string    `json:"account_address"`
	Type             string    `json:"type"`   // 'mint' or 'redeem'
	Status           string    `json:"status"` // 'pending', 'completed', 'failed'
	CollateralAmount *big.Int  `json:"collateral_amount"` // zero for redeems
	USDValue         *big.Int  `json:"usd_value"`         // gross for mints, burned value for redeems
	NetAmount        *big.Int  `json:"net_amount"`
	FeeAmount        *big.Int  `json:"fee_amount"`
	OraclePrice      *big.Int  `json:"oracle_price"` // 8-decimal fixed point, zero for redeems
	FailureReason    *string   `json:"failure_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// FeeConfig is the mutable minting fee configuration read by every mint.
type FeeConfig struct {
	RateBps          int64  `json:"rate_bps"`
	RecipientAccount string `json:"recipient_account"`
}

// DepositRequest is the DTO for incoming deposit-and-mint API requests.
type DepositRequest struct {
	CollateralAmount string `json:"collateral_amount"` // 18-decimal fixed point, decimal string
}

// RedeemRequest is the DTO for incoming redeem-and-burn API requests.
type RedeemRequest struct {
	BurnAmount string `json:"burn_amount"` // 18-decimal fixed point, decimal string
}

// SetFeeRequest is the DTO for fee-controller rate updates.
type SetFeeRequest struct {
	RateBps int64 `json:"rate_bps"`
}

// RoleChangeRequest is the DTO for admin grant/revoke calls.
type RoleChangeRequest struct {
	AccountAddress string `json:"account_address"`
	Role           string `json:"role"`
}

// DepositObservedPayload is published when collateral value is credited.
type DepositObservedPayload struct {
	AccountAddress string    `json:"account_address"`
	USDValue       string    `json:"usd_value"`
	Timestamp      time.Time `json:"timestamp"`
}

// MintObservedPayload is published when companion tokens are minted.
type MintObservedPayload struct {
	AccountAddress string    `json:"account_address"`
	Amount         string    `json:"amount"`
	Timestamp      time.Time `json:"timestamp"`
}

// RedeemObservedPayload is published when collateral value is debited.
type RedeemObservedPayload struct {
	AccountAddress string    `json:"account_address"`
	USDValue       string    `json:"usd_value"`
	Timestamp      time.Time `json:"timestamp"`
}

// BurnObservedPayload is published when companion tokens are burned.
type BurnObservedPayload struct {
	AccountAddress string    `json:"account_address"`
	Amount         string    `json:"amount"`
	Timestamp      time.Time `json:"timestamp"`
}

// FeeCollectedPayload is published when a minting fee is routed to the
// fee recipient.
type FeeCollectedPayload struct {
	AccountAddress string    `json:"account_address"` // fee recipient
	Amount         string    `json:"amount"`
	Kind           string    `json:"kind"` // e.g. 'minting_fee'
	Timestamp      time.Time `json:"timestamp"`
}
