/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the issuance-service. By defining an interface,
 * we decouple the engine's business logic from the specific database implementation
 * (PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, math/big, time: Standard Go libraries.
 * - github.com/google/uuid: For transaction record identifiers.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/issuance-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Collateral ledger methods. Values are 18-decimal fixed point and are
	// never allowed to go negative: DebitCollateral returns
	// ErrInsufficientCollateral when amount exceeds the recorded value.
	CreditCollateral(ctx context.Context, accountAddress string, amount *big.Int) error
	DebitCollateral(ctx context.Context, accountAddress string, amount *big.Int) error
	GetCollateralValue(ctx context.Context, accountAddress string) (*big.Int, error)
	GetCollateralPosition(ctx context.Context, accountAddress string) (*domain.CollateralPosition, error)

	// Issuance transaction record methods
	CreateIssuanceTransaction(ctx context.Context, tx *domain.IssuanceTransaction) error
	MarkIssuanceTransactionCompleted(ctx context.Context, transactionID uuid.UUID) error
	MarkIssuanceTransactionFailed(ctx context.Context, transactionID uuid.UUID, failureReason string) error
	FindIssuanceTransactionsByAccount(ctx context.Context, accountAddress string, limit, offset int) ([]domain.IssuanceTransaction, error)

	// Processed-request registry methods (replay protection).
	// IsRequestProcessed reports whether the hash has already completed;
	// MarkRequestProcessed records it after a successful operation.
	IsRequestProcessed(ctx context.Context, requestHash string) (bool, error)
	MarkRequestProcessed(ctx context.Context, requestHash string, accountAddress string, ttl time.Duration) error
	PurgeExpiredProcessedRequests(ctx context.Context) (int64, error)
}
