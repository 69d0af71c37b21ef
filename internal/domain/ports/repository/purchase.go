package repository

import (
	"context"

	"khip-entitlements/internal/domain/model"
)

// -----------------------------
// Purchases
// -----------------------------

// PurchaseRepository is the durable ledger of purchases. It holds no business
// rules beyond id/date assignment, the one-trial-per-user constraint and
// compare-and-set updates.
type PurchaseRepository interface {
	// Create assigns id and purchase date and stores the purchase.
	// Returns domain.ErrTrialAlreadyUsed when the user already owns a trial.
	Create(ctx context.Context, tx Tx, in model.PurchaseInput) (*model.Purchase, error)
	FindByID(ctx context.Context, tx Tx, id string) (*model.Purchase, error)
	// ListByUser returns the user's purchases oldest first.
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.Purchase, error)
	ListAll(ctx context.Context, tx Tx) ([]*model.Purchase, error)
	// ListByStatus returns report purchases in the given statuses, oldest first.
	ListByStatus(ctx context.Context, tx Tx, statuses ...model.PurchaseStatus) ([]*model.Purchase, error)
	CountByStatus(ctx context.Context, tx Tx) (map[model.PurchaseStatus]int, error)
	// Update applies the patch; ErrNotFound if absent, ErrConcurrencyConflict
	// if the patch expectations no longer hold.
	Update(ctx context.Context, tx Tx, id string, patch model.PurchasePatch) (*model.Purchase, error)
}
