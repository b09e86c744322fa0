/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to collateral positions, issuance transactions, and processed requests.
 *
 * @notes
 * - USD values and token amounts are stored as NUMERIC(78,0) so 18-decimal
 *   fixed-point magnitudes never overflow. They cross the driver boundary as
 *   decimal strings and are parsed into `*big.Int` on the way out.
 * - DebitCollateral performs the non-negativity check and the decrement in a
 *   single guarded UPDATE so the balance can never be observed negative.
 *
 * @dependencies
 * - context, errors, fmt, math/big, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/issuance-service/internal/domain"
)

var (
	ErrPositionNotFound       = errors.New("collateral position not found")
	ErrInsufficientCollateral = errors.New("insufficient collateral value")
	ErrInvalidAmount          = errors.New("amount must be a non-negative integer")
	ErrTransactionNotFound    = errors.New("issuance transaction not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreditCollateral increases the account's recorded USD value, creating the
// position row on first deposit.
func (r *PostgresRepository) CreditCollateral(ctx context.Context, accountAddress string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	query := `
		INSERT INTO collateral_positions (account_address, usd_value, created_at, updated_at)
		VALUES ($1, $2::numeric, now(), now())
		ON CONFLICT (account_address)
		DO UPDATE SET usd_value = collateral_positions.usd_value + EXCLUDED.usd_value, updated_at = now()
	`
	if _, err := r.db.Exec(ctx, query, accountAddress, amount.String()); err != nil {
		return fmt.Errorf("failed to credit collateral: %w", err)
	}
	return nil
}

// DebitCollateral decreases the account's recorded USD value. The guarded
// UPDATE refuses to drive the value negative; when no row is updated the
// caller gets ErrInsufficientCollateral regardless of whether the position
// exists, since an absent position is a zero balance.
func (r *PostgresRepository) DebitCollateral(ctx context.Context, accountAddress string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	query := `
		UPDATE collateral_positions
		SET usd_value = usd_value - $2::numeric, updated_at = now()
		WHERE account_address = $1 AND usd_value >= $2::numeric
	`
	tag, err := r.db.Exec(ctx, query, accountAddress, amount.String())
	if err != nil {
		return fmt.Errorf("failed to debit collateral: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientCollateral
	}
	return nil
}

// GetCollateralValue returns the account's recorded USD value. Unknown
// accounts read as zero; positions are created implicitly on first deposit.
func (r *PostgresRepository) GetCollateralValue(ctx context.Context, accountAddress string) (*big.Int, error) {
	var raw string
	query := `SELECT usd_value::text FROM collateral_positions WHERE account_address = $1`
	err := r.db.QueryRow(ctx, query, accountAddress).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("failed to parse stored usd_value %q", raw)
	}
	return value, nil
}

// GetCollateralPosition returns the full position row for an account.
func (r *PostgresRepository) GetCollateralPosition(ctx context.Context, accountAddress string) (*domain.CollateralPosition, error) {
	var (
		position domain.CollateralPosition
		raw      string
	)
	query := `
		SELECT account_address, usd_value::text, created_at, updated_at
		FROM collateral_positions
		WHERE account_address = $1
	`
	err := r.db.QueryRow(ctx, query, accountAddress).Scan(&position.AccountAddress, &raw, &position.CreatedAt, &position.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("failed to parse stored usd_value %q", raw)
	}
	position.USDValue = value
	return &position, nil
}

// CreateIssuanceTransaction inserts a new mint/redeem ledger record.
func (r *PostgresRepository) CreateIssuanceTransaction(ctx context.Context, tx *domain.IssuanceTransaction) error {
	query := `
		INSERT INTO issuance_transactions
			(id, account_address, type, status, collateral_amount, usd_value, net_amount, fee_amount, oracle_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9::numeric, now(), now())
	`
	_, err := r.db.Exec(ctx, query,
		tx.ID,
		tx.AccountAddress,
		tx.Type,
		tx.Status,
		numericArg(tx.CollateralAmount),
		numericArg(tx.USDValue),
		numericArg(tx.NetAmount),
		numericArg(tx.FeeAmount),
		numericArg(tx.OraclePrice),
	)
	if err != nil {
		return fmt.Errorf("failed to create issuance transaction: %w", err)
	}
	return nil
}

// MarkIssuanceTransactionCompleted flips a pending record to completed.
func (r *PostgresRepository) MarkIssuanceTransactionCompleted(ctx context.Context, transactionID uuid.UUID) error {
	query := `UPDATE issuance_transactions SET status = 'completed', updated_at = now() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, transactionID)
	if err != nil {
		return fmt.Errorf("failed to mark issuance transaction completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// MarkIssuanceTransactionFailed flips a pending record to failed with a reason.
func (r *PostgresRepository) MarkIssuanceTransactionFailed(ctx context.Context, transactionID uuid.UUID, failureReason string) error {
	query := `
		UPDATE issuance_transactions
		SET status = 'failed', failure_reason = $2, updated_at = now()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, transactionID, failureReason)
	if err != nil {
		return fmt.Errorf("failed to mark issuance transaction failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// FindIssuanceTransactionsByAccount lists an account's mint/redeem history,
// newest first.
func (r *PostgresRepository) FindIssuanceTransactionsByAccount(ctx context.Context, accountAddress string, limit, offset int) ([]domain.IssuanceTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT id, account_address, type, status,
			collateral_amount::text, usd_value::text, net_amount::text, fee_amount::text, oracle_price::text,
			failure_reason, created_at, updated_at
		FROM issuance_transactions
		WHERE account_address = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, accountAddress, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.IssuanceTransaction
	for rows.Next() {
		var (
			tx                                          domain.IssuanceTransaction
			collateralRaw, usdRaw, netRaw, feeRaw, prRaw string
		)
		err := rows.Scan(
			&tx.ID, &tx.AccountAddress, &tx.Type, &tx.Status,
			&collateralRaw, &usdRaw, &netRaw, &feeRaw, &prRaw,
			&tx.FailureReason, &tx.CreatedAt, &tx.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if tx.CollateralAmount, err = parseNumeric(collateralRaw); err != nil {
			return nil, err
		}
		if tx.USDValue, err = parseNumeric(usdRaw); err != nil {
			return nil, err
		}
		if tx.NetAmount, err = parseNumeric(netRaw); err != nil {
			return nil, err
		}
		if tx.FeeAmount, err = parseNumeric(feeRaw); err != nil {
			return nil, err
		}
		if tx.OraclePrice, err = parseNumeric(prRaw); err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// IsRequestProcessed reports whether a request hash has already been
// completed and has not yet expired.
func (r *PostgresRepository) IsRequestProcessed(ctx context.Context, requestHash string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM processed_requests
			WHERE request_hash = $1 AND expires_at > now()
		)
	`
	if err := r.db.QueryRow(ctx, query, requestHash).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// MarkRequestProcessed records a completed request hash. Re-marking an
// existing hash refreshes its expiry rather than failing, so a retried mark
// after a crash is harmless.
func (r *PostgresRepository) MarkRequestProcessed(ctx context.Context, requestHash string, accountAddress string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	query := `
		INSERT INTO processed_requests (request_hash, account_address, expires_at, created_at)
		VALUES ($1, $2, now() + $3::interval, now())
		ON CONFLICT (request_hash)
		DO UPDATE SET expires_at = EXCLUDED.expires_at
	`
	interval := fmt.Sprintf("%d seconds", int64(ttl.Seconds()))
	if _, err := r.db.Exec(ctx, query, requestHash, accountAddress, interval); err != nil {
		return fmt.Errorf("failed to mark request processed: %w", err)
	}
	return nil
}

// PurgeExpiredProcessedRequests deletes replay-protection rows past their
// expiry. Called by the background sweeper.
func (r *PostgresRepository) PurgeExpiredProcessedRequests(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM processed_requests WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge processed requests: %w", err)
	}
	return tag.RowsAffected(), nil
}

// numericArg renders a big.Int for a NUMERIC column, treating nil as zero.
func numericArg(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseNumeric(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("failed to parse stored numeric %q", raw)
	}
	return value, nil
}
