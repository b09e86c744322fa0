/**
 * @description
 * This file contains the core business logic for the issuance-service. The `Engine`
 * struct orchestrates deposit-and-mint and redeem-and-burn flows, coordinating
 * between the collateral ledger repository, the price oracle, the companion token
 * ledger, and the message broker.
 *
 * Key features:
 * - Values deposited collateral with a fresh oracle read on every mint.
 * - Splits the gross USD value into net/fee under the configurable minting fee.
 * - Gates administrative mutations (fee, pause, roles) behind the role registry.
 * - Serializes mutating calls under a per-engine lock, rejects reentrant
 *   invocations, and compensates partial ledger writes before releasing the
 *   lock, so a failed call leaves no observable state change.
 *
 * @dependencies
 * - context, errors, fmt, log, math/big, sync, time: Standard Go libraries.
 * - crypto/sha256, encoding/hex: Request replay-protection hashing.
 * - github.com/google/uuid: For issuance transaction record identifiers.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/oracleclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/issuance-service/internal/domain"
	"github.com/transfa/issuance-service/internal/store"
	"github.com/transfa/issuance-service/pkg/oracleclient"
	"github.com/transfa/issuance-service/pkg/rabbitmq"
)

const eventsExchange = "issuance.events"

var (
	ErrZeroAmount          = errors.New("amount must be greater than zero")
	ErrSystemPaused        = errors.New("system is paused")
	ErrInvalidFee          = errors.New("minting fee rate exceeds maximum")
	ErrReentrantCall       = errors.New("reentrant engine call rejected")
	ErrOraclePriceInvalid  = errors.New("oracle price is invalid or stale")
	ErrTransferFailed      = errors.New("companion token instruction failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicateRequest    = errors.New("request has already been processed")
)

// PriceOracle supplies the current collateral exchange rate. The engine reads
// it fresh on every mint and never caches a quote across calls.
type PriceOracle interface {
	LatestPrice(ctx context.Context) (*oracleclient.PriceQuote, error)
}

// TokenLedger is the narrow interface to the companion token's own balance
// ledger. Mint/burn happen on the engine's instruction only.
type TokenLedger interface {
	Mint(ctx context.Context, accountAddress string, amount *big.Int) error
	BurnFrom(ctx context.Context, accountAddress string, amount *big.Int) error
	BalanceOf(ctx context.Context, accountAddress string) (*big.Int, error)
}

// RateLimiter is the distributed limiter consulted before deposit/redeem.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RateLimitedError is returned when an account exceeds its per-minute
// deposit or redeem budget.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %d seconds", e.RetryAfterSeconds)
}

// Engine provides the core issuance business logic. All privileged state
// (fee configuration, pause flag, role grants) is owned by one Engine
// instance and mutated only through its methods.
type Engine struct {
	repo          store.Repository
	oracle        PriceOracle
	tokens        TokenLedger
	eventProducer rabbitmq.Publisher
	roles         *RoleRegistry

	// mu serializes the ledger-mutating entry points and gates read
	// accessors, so no caller can observe the window between a ledger
	// write and its compensation. Reentrant callbacks are detected via a
	// context marker before the lock is taken.
	mu sync.RWMutex

	adminMu      sync.RWMutex
	feeRateBps   int64
	feeRecipient string
	paused       bool

	rateLimiter        RateLimiter
	depositLimitPerMin int
	redeemLimitPerMin  int

	oracleMaxAge   time.Duration
	idempotencyTTL time.Duration
	now            func() time.Time
}

// NewEngine creates a new issuance engine instance. The operator account is
// seeded with every role; the initial fee rate is clamped to the allowed
// range the same way config clamping works elsewhere in the platform.
func NewEngine(
	repo store.Repository,
	oracle PriceOracle,
	tokens TokenLedger,
	producer rabbitmq.Publisher,
	operatorAccount string,
	feeRecipient string,
	feeRateBps int64,
	oracleMaxAge time.Duration,
	idempotencyTTL time.Duration,
) *Engine {
	if !validFeeRate(feeRateBps) {
		log.Printf("level=warn component=engine msg=\"initial fee rate out of range; clamping\" rate_bps=%d max_bps=%d", feeRateBps, MaxMintingFeeBps)
		if feeRateBps < 0 {
			feeRateBps = 0
		} else {
			feeRateBps = MaxMintingFeeBps
		}
	}
	return &Engine{
		repo:           repo,
		oracle:         oracle,
		tokens:         tokens,
		eventProducer:  producer,
		roles:          NewRoleRegistry(operatorAccount),
		feeRateBps:     feeRateBps,
		feeRecipient:   feeRecipient,
		oracleMaxAge:   oracleMaxAge,
		idempotencyTTL: idempotencyTTL,
		now:            time.Now,
	}
}

// engineContextKey marks a context as being inside a mutating call on a
// specific engine. A callback from the token ledger that re-enters the
// engine carries the marker, so it is rejected instead of deadlocking on
// the engine lock.
type engineContextKey struct{}

func markEntered(ctx context.Context, e *Engine) context.Context {
	return context.WithValue(ctx, engineContextKey{}, e)
}

func isEntered(ctx context.Context, e *Engine) bool {
	entered, ok := ctx.Value(engineContextKey{}).(*Engine)
	return ok && entered == e
}

// SetRateLimiter wires the distributed rate limiter. Limits of zero disable
// the corresponding check.
func (e *Engine) SetRateLimiter(limiter RateLimiter, depositPerMinute, redeemPerMinute int) {
	e.rateLimiter = limiter
	e.depositLimitPerMin = depositPerMinute
	e.redeemLimitPerMin = redeemPerMinute
}

// DepositAndMint values the deposited collateral at the current oracle
// price, credits the account's collateral ledger with the gross USD value,
// and instructs the token ledger to mint net/fee to the depositor and fee
// recipient respectively.
func (e *Engine) DepositAndMint(ctx context.Context, accountAddress string, collateralAmount *big.Int, idempotencyKey string) (*domain.IssuanceTransaction, error) {
	if err := e.consumeRateLimit(ctx, "issuance:deposit", accountAddress, e.depositLimitPerMin); err != nil {
		return nil, err
	}

	// Reject an actual reentrant invocation (the token ledger calling back
	// into the engine) before taking the lock, then serialize against every
	// other mutating call. The lock is released on every exit path.
	if isEntered(ctx, e) {
		return nil, ErrReentrantCall
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx = markEntered(ctx, e)

	// 1. Validate the amount.
	if collateralAmount == nil || collateralAmount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	// 2. Check the pause flag. Flips take effect on the next call only.
	if e.isPaused() {
		return nil, ErrSystemPaused
	}

	// 2.5. Replay protection for callers supplying an idempotency key.
	requestHash, err := e.checkReplay(ctx, accountAddress, "mint", collateralAmount, idempotencyKey)
	if err != nil {
		return nil, err
	}

	// 3. Read the oracle price, fresh on every call.
	price, err := e.readValidatedPrice(ctx)
	if err != nil {
		return nil, err
	}

	// grossValue = price * collateralAmount / 10^8, truncating.
	grossValue := new(big.Int).Mul(price, collateralAmount)
	grossValue.Quo(grossValue, domain.OracleScale)
	if grossValue.Sign() == 0 {
		// The deposit is too small to be worth anything at the current
		// price; minting zero tokens would only pollute the ledger.
		return nil, ErrZeroAmount
	}

	rateBps, feeRecipient := e.feeConfigSnapshot()

	// 4. Credit the collateral ledger with the gross value.
	if err := e.repo.CreditCollateral(ctx, accountAddress, grossValue); err != nil {
		return nil, fmt.Errorf("failed to credit collateral ledger: %w", err)
	}

	// 5. Split the gross value into net and fee.
	netAmount, feeAmount := splitFee(grossValue, rateBps)

	// Create the pending issuance record before instructing the token ledger.
	txRecord := &domain.IssuanceTransaction{
		ID:               uuid.New(),
		AccountAddress:   accountAddress,
		Type:             "mint",
		Status:           "pending",
		CollateralAmount: collateralAmount,
		USDValue:         grossValue,
		NetAmount:        netAmount,
		FeeAmount:        feeAmount,
		OraclePrice:      price,
	}
	if err := e.repo.CreateIssuanceTransaction(ctx, txRecord); err != nil {
		e.compensateCredit(ctx, accountAddress, grossValue, "mint record creation failure")
		return nil, fmt.Errorf("failed to create issuance record: %w", err)
	}

	// 6. Instruct the token ledger to mint the net amount to the depositor.
	if err := e.tokens.Mint(ctx, accountAddress, netAmount); err != nil {
		e.compensateCredit(ctx, accountAddress, grossValue, "net mint failure")
		e.markRecordFailed(ctx, txRecord.ID, fmt.Sprintf("net mint failed: %v", err))
		return nil, fmt.Errorf("%w: net mint: %v", ErrTransferFailed, err)
	}

	// 7. Mint the fee to the fee recipient when a fee applies.
	if feeAmount.Sign() > 0 {
		if err := e.tokens.Mint(ctx, feeRecipient, feeAmount); err != nil {
			// Unwind the net mint before the collateral compensation so the
			// token supply and the ledger stay consistent.
			if burnErr := e.tokens.BurnFrom(ctx, accountAddress, netAmount); burnErr != nil {
				log.Printf("level=error component=engine msg=\"CRITICAL: failed to unwind net mint after fee mint failure\" account=%s amount=%s err=%v", accountAddress, netAmount, burnErr)
			}
			e.compensateCredit(ctx, accountAddress, grossValue, "fee mint failure")
			e.markRecordFailed(ctx, txRecord.ID, fmt.Sprintf("fee mint failed: %v", err))
			return nil, fmt.Errorf("%w: fee mint: %v", ErrTransferFailed, err)
		}
	}

	if err := e.repo.MarkIssuanceTransactionCompleted(ctx, txRecord.ID); err != nil {
		log.Printf("level=warn component=engine msg=\"failed to finalize issuance record\" tx_id=%s err=%v", txRecord.ID, err)
	}
	txRecord.Status = "completed"

	if requestHash != "" {
		if err := e.repo.MarkRequestProcessed(ctx, requestHash, accountAddress, e.idempotencyTTL); err != nil {
			log.Printf("level=warn component=engine msg=\"failed to mark request processed\" account=%s err=%v", accountAddress, err)
		}
	}

	// 8. Emit observation events.
	observedAt := e.now().UTC()
	e.publish("collateral.deposit.observed", domain.DepositObservedPayload{
		AccountAddress: accountAddress,
		USDValue:       grossValue.String(),
		Timestamp:      observedAt,
	})
	e.publish("token.mint.observed", domain.MintObservedPayload{
		AccountAddress: accountAddress,
		Amount:         netAmount.String(),
		Timestamp:      observedAt,
	})
	if feeAmount.Sign() > 0 {
		e.publish("fee.collected", domain.FeeCollectedPayload{
			AccountAddress: feeRecipient,
			Amount:         feeAmount.String(),
			Kind:           "minting_fee",
			Timestamp:      observedAt,
		})
	}

	log.Printf("level=info component=engine msg=\"deposit minted\" account=%s gross=%s net=%s fee=%s price=%s", accountAddress, grossValue, netAmount, feeAmount, price)
	return txRecord, nil
}

// RedeemAndBurn debits the account's collateral ledger 1:1 against the
// burned token amount and instructs the token ledger to burn. No redemption
// fee applies and no collateral asset is transferred back; only the ledger
// and token supply are adjusted.
func (e *Engine) RedeemAndBurn(ctx context.Context, accountAddress string, burnAmount *big.Int, idempotencyKey string) (*domain.IssuanceTransaction, error) {
	if err := e.consumeRateLimit(ctx, "issuance:redeem", accountAddress, e.redeemLimitPerMin); err != nil {
		return nil, err
	}

	if isEntered(ctx, e) {
		return nil, ErrReentrantCall
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx = markEntered(ctx, e)

	// 1. Validate the amount.
	if burnAmount == nil || burnAmount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	// 2. Check the pause flag.
	if e.isPaused() {
		return nil, ErrSystemPaused
	}

	requestHash, err := e.checkReplay(ctx, accountAddress, "redeem", burnAmount, idempotencyKey)
	if err != nil {
		return nil, err
	}

	// 3. The account must hold at least the burn amount of companion tokens.
	tokenBalance, err := e.tokens.BalanceOf(ctx, accountAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to read token balance: %w", err)
	}
	if tokenBalance.Cmp(burnAmount) < 0 {
		return nil, ErrInsufficientBalance
	}

	// 4. Debit the collateral ledger. The guarded update enforces
	// non-negativity, so an over-redeem fails here with nothing mutated.
	if err := e.repo.DebitCollateral(ctx, accountAddress, burnAmount); err != nil {
		if errors.Is(err, store.ErrInsufficientCollateral) {
			return nil, ErrInsufficientBalance
		}
		return nil, fmt.Errorf("failed to debit collateral ledger: %w", err)
	}

	txRecord := &domain.IssuanceTransaction{
		ID:             uuid.New(),
		AccountAddress: accountAddress,
		Type:           "redeem",
		Status:         "pending",
		USDValue:       burnAmount,
		NetAmount:      burnAmount,
	}
	if err := e.repo.CreateIssuanceTransaction(ctx, txRecord); err != nil {
		e.compensateDebit(ctx, accountAddress, burnAmount, "redeem record creation failure")
		return nil, fmt.Errorf("failed to create issuance record: %w", err)
	}

	// 5. Instruct the token ledger to burn.
	if err := e.tokens.BurnFrom(ctx, accountAddress, burnAmount); err != nil {
		e.compensateDebit(ctx, accountAddress, burnAmount, "burn failure")
		e.markRecordFailed(ctx, txRecord.ID, fmt.Sprintf("burn failed: %v", err))
		return nil, fmt.Errorf("%w: burn: %v", ErrTransferFailed, err)
	}

	if err := e.repo.MarkIssuanceTransactionCompleted(ctx, txRecord.ID); err != nil {
		log.Printf("level=warn component=engine msg=\"failed to finalize issuance record\" tx_id=%s err=%v", txRecord.ID, err)
	}
	txRecord.Status = "completed"

	if requestHash != "" {
		if err := e.repo.MarkRequestProcessed(ctx, requestHash, accountAddress, e.idempotencyTTL); err != nil {
			log.Printf("level=warn component=engine msg=\"failed to mark request processed\" account=%s err=%v", accountAddress, err)
		}
	}

	// 6. Emit observation events.
	observedAt := e.now().UTC()
	e.publish("token.burn.observed", domain.BurnObservedPayload{
		AccountAddress: accountAddress,
		Amount:         burnAmount.String(),
		Timestamp:      observedAt,
	})
	e.publish("collateral.redeem.observed", domain.RedeemObservedPayload{
		AccountAddress: accountAddress,
		USDValue:       burnAmount.String(),
		Timestamp:      observedAt,
	})

	log.Printf("level=info component=engine msg=\"redeem burned\" account=%s amount=%s", accountAddress, burnAmount)
	return txRecord, nil
}

// SetMintingFee updates the fee rate. Requires the FEE_CONTROLLER role; the
// new rate takes effect on the next mint.
func (e *Engine) SetMintingFee(caller string, rateBps int64) error {
	if err := e.roles.RequireRole(caller, RoleFeeController); err != nil {
		return err
	}
	if !validFeeRate(rateBps) {
		return fmt.Errorf("%w: %d bps (max %d)", ErrInvalidFee, rateBps, MaxMintingFeeBps)
	}
	e.adminMu.Lock()
	e.feeRateBps = rateBps
	e.adminMu.Unlock()
	log.Printf("level=info component=engine msg=\"minting fee updated\" caller=%s rate_bps=%d", caller, rateBps)
	return nil
}

// Pause halts deposits and redemptions starting with the next call.
// Requires the ADMIN role; in-flight calls are unaffected.
func (e *Engine) Pause(caller string) error {
	if err := e.roles.RequireRole(caller, RoleAdmin); err != nil {
		return err
	}
	e.adminMu.Lock()
	e.paused = true
	e.adminMu.Unlock()
	log.Printf("level=info component=engine msg=\"system paused\" caller=%s", caller)
	return nil
}

// Unpause restores normal operation. Requires the ADMIN role.
func (e *Engine) Unpause(caller string) error {
	if err := e.roles.RequireRole(caller, RoleAdmin); err != nil {
		return err
	}
	e.adminMu.Lock()
	e.paused = false
	e.adminMu.Unlock()
	log.Printf("level=info component=engine msg=\"system unpaused\" caller=%s", caller)
	return nil
}

// GrantRole assigns a capability to an account. Requires the ADMIN role.
func (e *Engine) GrantRole(caller string, accountAddress string, role Role) error {
	if err := e.roles.RequireRole(caller, RoleAdmin); err != nil {
		return err
	}
	e.roles.Grant(accountAddress, role)
	log.Printf("level=info component=engine msg=\"role granted\" caller=%s account=%s role=%s", caller, accountAddress, role)
	return nil
}

// RevokeRole removes a capability from an account. Requires the ADMIN role.
func (e *Engine) RevokeRole(caller string, accountAddress string, role Role) error {
	if err := e.roles.RequireRole(caller, RoleAdmin); err != nil {
		return err
	}
	e.roles.Revoke(accountAddress, role)
	log.Printf("level=info component=engine msg=\"role revoked\" caller=%s account=%s role=%s", caller, accountAddress, role)
	return nil
}

// HasRole reports whether an account holds a capability.
func (e *Engine) HasRole(accountAddress string, role Role) bool {
	return e.roles.HasRole(accountAddress, role)
}

// CollateralValue returns an account's recorded collateral USD value. The
// read shares the engine lock with the mutating calls, so it can never see
// a partial write that a later compensation rolls back.
func (e *Engine) CollateralValue(ctx context.Context, accountAddress string) (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.repo.GetCollateralValue(ctx, accountAddress)
}

// FeeConfig returns a snapshot of the current fee configuration.
func (e *Engine) FeeConfig() domain.FeeConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rateBps, recipient := e.feeConfigSnapshot()
	return domain.FeeConfig{RateBps: rateBps, RecipientAccount: recipient}
}

// ListTransactions returns an account's mint/redeem history.
func (e *Engine) ListTransactions(ctx context.Context, accountAddress string, limit, offset int) ([]domain.IssuanceTransaction, error) {
	return e.repo.FindIssuanceTransactionsByAccount(ctx, accountAddress, limit, offset)
}

// Paused reports the current pause flag.
func (e *Engine) Paused() bool {
	return e.isPaused()
}

func (e *Engine) isPaused() bool {
	e.adminMu.RLock()
	defer e.adminMu.RUnlock()
	return e.paused
}

func (e *Engine) feeConfigSnapshot() (int64, string) {
	e.adminMu.RLock()
	defer e.adminMu.RUnlock()
	return e.feeRateBps, e.feeRecipient
}

// readValidatedPrice fetches the latest oracle quote and rejects
// non-positive or stale values instead of silently proceeding.
func (e *Engine) readValidatedPrice(ctx context.Context) (*big.Int, error) {
	quote, err := e.oracle.LatestPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: oracle read failed: %v", ErrOraclePriceInvalid, err)
	}
	if quote == nil || quote.Price == nil || quote.Price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive price", ErrOraclePriceInvalid)
	}
	if e.oracleMaxAge > 0 && !quote.UpdatedAt.IsZero() {
		if age := e.now().Sub(quote.UpdatedAt); age > e.oracleMaxAge {
			return nil, fmt.Errorf("%w: quote is %s old (max %s)", ErrOraclePriceInvalid, age.Truncate(time.Second), e.oracleMaxAge)
		}
	}
	return quote.Price, nil
}

// checkReplay hashes the request when an idempotency key is supplied and
// rejects hashes that were already marked processed. The hash is marked only
// after the operation succeeds.
func (e *Engine) checkReplay(ctx context.Context, accountAddress, operation string, amount *big.Int, idempotencyKey string) (string, error) {
	if idempotencyKey == "" {
		return "", nil
	}
	sum := sha256.Sum256([]byte(accountAddress + "|" + operation + "|" + amount.String() + "|" + idempotencyKey))
	requestHash := hex.EncodeToString(sum[:])
	processed, err := e.repo.IsRequestProcessed(ctx, requestHash)
	if err != nil {
		return "", fmt.Errorf("failed to check request replay state: %w", err)
	}
	if processed {
		return "", ErrDuplicateRequest
	}
	return requestHash, nil
}

func (e *Engine) consumeRateLimit(ctx context.Context, scope, accountAddress string, limit int) error {
	if e.rateLimiter == nil || limit <= 0 {
		return nil
	}
	count, retryAfter, err := e.rateLimiter.ConsumeRateLimit(ctx, scope, accountAddress, limit, time.Minute)
	if err != nil {
		// Degrade open: a limiter outage must not block issuance.
		log.Printf("level=warn component=engine msg=\"rate limiter unavailable; skipping check\" scope=%s err=%v", scope, err)
		return nil
	}
	if count > limit {
		return &RateLimitedError{RetryAfterSeconds: retryAfter}
	}
	return nil
}

// compensateCredit reverses a collateral credit after a downstream failure.
func (e *Engine) compensateCredit(ctx context.Context, accountAddress string, amount *big.Int, cause string) {
	if err := e.repo.DebitCollateral(ctx, accountAddress, amount); err != nil {
		log.Printf("level=error component=engine msg=\"CRITICAL: failed to reverse collateral credit after %s\" account=%s amount=%s err=%v", cause, accountAddress, amount, err)
	}
}

// compensateDebit reverses a collateral debit after a downstream failure.
func (e *Engine) compensateDebit(ctx context.Context, accountAddress string, amount *big.Int, cause string) {
	if err := e.repo.CreditCollateral(ctx, accountAddress, amount); err != nil {
		log.Printf("level=error component=engine msg=\"CRITICAL: failed to reverse collateral debit after %s\" account=%s amount=%s err=%v", cause, accountAddress, amount, err)
	}
}

func (e *Engine) markRecordFailed(ctx context.Context, transactionID uuid.UUID, reason string) {
	if err := e.repo.MarkIssuanceTransactionFailed(ctx, transactionID, reason); err != nil {
		log.Printf("level=warn component=engine msg=\"failed to mark issuance record failed\" tx_id=%s err=%v", transactionID, err)
	}
}

func (e *Engine) publish(routingKey string, body interface{}) {
	if e.eventProducer == nil {
		return
	}
	if err := e.eventProducer.Publish(context.Background(), eventsExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=engine msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}
