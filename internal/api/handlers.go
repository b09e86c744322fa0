/**
 * @description
 * This file contains the HTTP handlers for the issuance-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the issuance engine, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, errors, log, math/big, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameter extraction.
 * - internal/app, internal/domain: For engine logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/issuance-service/internal/app"
	"github.com/transfa/issuance-service/internal/domain"
)

// IssuanceHandlers holds the issuance engine that handlers will use.
type IssuanceHandlers struct {
	engine *app.Engine
}

// NewIssuanceHandlers creates the handler set for the issuance API.
func NewIssuanceHandlers(engine *app.Engine) *IssuanceHandlers {
	return &IssuanceHandlers{engine: engine}
}

// issuanceResponse is sent back after an accepted deposit or redeem. Amounts
// are decimal strings (18-decimal fixed point).
type issuanceResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	USDValue      string `json:"usd_value"`
	NetAmount     string `json:"net_amount"`
	FeeAmount     string `json:"fee_amount"`
	OraclePrice   string `json:"oracle_price,omitempty"`
}

// positionResponse reports an account's recorded collateral value.
type positionResponse struct {
	AccountAddress string `json:"account_address"`
	USDValue       string `json:"usd_value"`
}

func buildIssuanceResponse(tx *domain.IssuanceTransaction) issuanceResponse {
	resp := issuanceResponse{
		TransactionID: tx.ID.String(),
		Status:        tx.Status,
		Type:          tx.Type,
		USDValue:      tx.USDValue.String(),
		NetAmount:     tx.NetAmount.String(),
		FeeAmount:     "0",
	}
	if tx.FeeAmount != nil {
		resp.FeeAmount = tx.FeeAmount.String()
	}
	if tx.OraclePrice != nil && tx.OraclePrice.Sign() > 0 {
		resp.OraclePrice = tx.OraclePrice.String()
	}
	return resp
}

// DepositHandler handles deposit-and-mint requests.
func (h *IssuanceHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := GetCallerAccount(r.Context())
	if !ok {
		http.Error(w, "Could not get account from context", http.StatusInternalServerError)
		return
	}

	var req domain.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=deposit outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	amount, err := parseAmount(req.CollateralAmount)
	if err != nil {
		log.Printf("level=warn component=api endpoint=deposit outcome=reject reason=invalid_amount account=%s value=%q", account, req.CollateralAmount)
		h.writeError(w, http.StatusBadRequest, "collateral_amount must be a positive integer string")
		return
	}

	log.Printf("level=info component=api endpoint=deposit outcome=accepted account=%s amount=%s", account, amount)

	tx, err := h.engine.DepositAndMint(r.Context(), account, amount, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.writeEngineError(w, "deposit", account, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, buildIssuanceResponse(tx))
}

// RedeemHandler handles redeem-and-burn requests.
func (h *IssuanceHandlers) RedeemHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := GetCallerAccount(r.Context())
	if !ok {
		http.Error(w, "Could not get account from context", http.StatusInternalServerError)
		return
	}

	var req domain.RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=redeem outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	amount, err := parseAmount(req.BurnAmount)
	if err != nil {
		log.Printf("level=warn component=api endpoint=redeem outcome=reject reason=invalid_amount account=%s value=%q", account, req.BurnAmount)
		h.writeError(w, http.StatusBadRequest, "burn_amount must be a positive integer string")
		return
	}

	log.Printf("level=info component=api endpoint=redeem outcome=accepted account=%s amount=%s", account, amount)

	tx, err := h.engine.RedeemAndBurn(r.Context(), account, amount, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.writeEngineError(w, "redeem", account, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, buildIssuanceResponse(tx))
}

// GetPositionHandler returns the caller's recorded collateral value.
func (h *IssuanceHandlers) GetPositionHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := GetCallerAccount(r.Context())
	if !ok {
		http.Error(w, "Could not get account from context", http.StatusInternalServerError)
		return
	}

	value, err := h.engine.CollateralValue(r.Context(), account)
	if err != nil {
		log.Printf("level=warn component=api endpoint=position outcome=failed account=%s err=%v", account, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to read collateral position")
		return
	}

	h.writeJSON(w, http.StatusOK, positionResponse{AccountAddress: account, USDValue: value.String()})
}

// ListTransactionsHandler returns the caller's mint/redeem history.
func (h *IssuanceHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := GetCallerAccount(r.Context())
	if !ok {
		http.Error(w, "Could not get account from context", http.StatusInternalServerError)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	transactions, err := h.engine.ListTransactions(r.Context(), account, limit, offset)
	if err != nil {
		log.Printf("level=warn component=api endpoint=transactions outcome=failed account=%s err=%v", account, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}

	responses := make([]issuanceResponse, 0, len(transactions))
	for i := range transactions {
		responses = append(responses, buildIssuanceResponse(&transactions[i]))
	}
	h.writeJSON(w, http.StatusOK, responses)
}

// GetFeeConfigHandler returns the current minting fee configuration.
func (h *IssuanceHandlers) GetFeeConfigHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.FeeConfig())
}

// SetFeeHandler handles fee-controller rate updates.
func (h *IssuanceHandlers) SetFeeHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetCallerAccount(r.Context())
	if !ok {
		http.Error(w, "Could not get account from context", http.StatusInternalServerError)
		return
	}

	var req domain.SetFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.engine.SetMintingFee(caller, req.RateBps); err != nil {
		h.writeEngineError(w, "set_fee", caller, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.engine.FeeConfig())
}

// PauseHandler halts issuance starting with the next call.
func (h *IssuanceHandlers) PauseHandler(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

// UnpauseHandler restores normal operation.
func (h *IssuanceHandlers) UnpauseHandler(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *IssuanceHandlers) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	caller, ok := GetCallerAccount(r.Context())
	if !ok {
		http.Error(w, "Could not get account from context", http.StatusInternalServerError)
		return
	}

	var err error
	if paused {
		err = h.engine.Pause(caller)
	} else {
		err = h.engine.Unpause(caller)
	}
	if err != nil {
		h.writeEngineError(w, "pause", caller, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"paused": h.engine.Paused()})
}

// GrantRoleHandler assigns a capability to an account.
func (h *IssuanceHandlers) GrantRoleHandler(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, true)
}

// RevokeRoleHandler removes a capability from an account.
func (h *IssuanceHandlers) RevokeRoleHandler(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, false)
}

func (h *IssuanceHandlers) changeRole(w http.ResponseWriter, r *http.Request, grant bool) {
	caller, ok := GetCallerAccount(r.Context())
	if !ok {
		http.Error(w, "Could not get account from context", http.StatusInternalServerError)
		return
	}

	var req domain.RoleChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.AccountAddress) == "" {
		h.writeError(w, http.StatusBadRequest, "account_address is required")
		return
	}

	role, err := app.ParseRole(req.Role)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if grant {
		err = h.engine.GrantRole(caller, req.AccountAddress, role)
	} else {
		err = h.engine.RevokeRole(caller, req.AccountAddress, role)
	}
	if err != nil {
		h.writeEngineError(w, "role_change", caller, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_address": req.AccountAddress,
		"role":            string(role),
		"granted":         h.engine.HasRole(req.AccountAddress, role),
	})
}

// HasRoleHandler reports whether an account holds a capability.
func (h *IssuanceHandlers) HasRoleHandler(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	role, err := app.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_address": account,
		"role":            string(role),
		"granted":         h.engine.HasRole(account, role),
	})
}

// writeEngineError maps engine error kinds onto HTTP status codes. Error
// kinds surface verbatim so callers can relay them to the end user.
func (h *IssuanceHandlers) writeEngineError(w http.ResponseWriter, endpoint, account string, err error) {
	log.Printf("level=warn component=api endpoint=%s outcome=failed account=%s err=%v", endpoint, account, err)

	var rateLimited *app.RateLimitedError
	switch {
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(rateLimited.RetryAfterSeconds))
		h.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, app.ErrZeroAmount):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidFee):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInsufficientBalance):
		h.writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, app.ErrSystemPaused):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, app.ErrUnauthorized):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrDuplicateRequest):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrReentrantCall):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrOraclePriceInvalid):
		h.writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, app.ErrTransferFailed):
		h.writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// parseAmount parses a positive 18-decimal fixed-point integer string.
func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is empty")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q is not a non-negative integer", raw)
	}
	return amount, nil
}

// writeJSON is a helper for writing JSON responses.
func (h *IssuanceHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *IssuanceHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
