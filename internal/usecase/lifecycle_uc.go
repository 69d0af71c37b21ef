package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"khip-entitlements/internal/domain"
	"khip-entitlements/internal/domain/model"
	"khip-entitlements/internal/domain/ports/repository"
	"khip-entitlements/internal/infra/logging"
	"khip-entitlements/internal/infra/metrics"
)

// Compile-time check
var _ LifecycleUseCase = (*lifecycleUC)(nil)

// LifecycleUseCase moves report purchases through draft, review and delivery.
// A transition that finds the purchase in the wrong state fails with
// domain.ErrInvalidTransition and changes nothing.
type LifecycleUseCase interface {
	GenerateDraft(ctx context.Context, purchaseID string) (*model.Purchase, error)
	ApproveAndDeliver(ctx context.Context, purchaseID, reportURL string) (*model.Purchase, error)
	MarkFailed(ctx context.Context, purchaseID, reason string) (*model.Purchase, error)
}

const purchaseLockTTL = 10 * time.Second

type lifecycleUC struct {
	purchases repository.PurchaseRepository
	tm        repository.TransactionManager
	locker    Locker
	log       *zerolog.Logger
	now       func() time.Time
}

// NewLifecycleUseCase builds the state machine; locker may be nil.
func NewLifecycleUseCase(purchases repository.PurchaseRepository, tm repository.TransactionManager, locker Locker, logger *zerolog.Logger) *lifecycleUC {
	l := logger.With().Str("component", "lifecycle").Logger()
	return &lifecycleUC{purchases: purchases, tm: tm, locker: locker, log: &l, now: time.Now}
}

// WithClock replaces the clock used for delivery dates.
func (u *lifecycleUC) WithClock(now func() time.Time) *lifecycleUC {
	u.now = now
	return u
}

func (u *lifecycleUC) GenerateDraft(ctx context.Context, purchaseID string) (*model.Purchase, error) {
	defer logging.TraceDuration(u.log, "LifecycleUC.GenerateDraft")()
	return u.transition(ctx, purchaseID, model.PurchaseStatusUnderReview, func(p *model.PurchasePatch) {})
}

func (u *lifecycleUC) ApproveAndDeliver(ctx context.Context, purchaseID, reportURL string) (*model.Purchase, error) {
	defer logging.TraceDuration(u.log, "LifecycleUC.ApproveAndDeliver")()
	reportURL = strings.TrimSpace(reportURL)
	if reportURL == "" {
		metrics.IncTransition(model.PurchaseStatusDelivered, "invalid")
		return nil, fmt.Errorf("%w: report url is required", domain.ErrValidation)
	}
	return u.transition(ctx, purchaseID, model.PurchaseStatusDelivered, func(p *model.PurchasePatch) {
		at := u.now().UTC()
		p.ReportURL = &reportURL
		p.DeliveryDate = &at
	})
}

// MarkFailed records the reason in the log only; purchases carry no failure
// field.
func (u *lifecycleUC) MarkFailed(ctx context.Context, purchaseID, reason string) (*model.Purchase, error) {
	defer logging.TraceDuration(u.log, "LifecycleUC.MarkFailed")()
	p, err := u.transition(ctx, purchaseID, model.PurchaseStatusFailed, func(p *model.PurchasePatch) {})
	if err == nil {
		logging.With(ctx, u.log).Warn().Str("purchase_id", purchaseID).Str("reason", reason).Msg("report purchase marked failed")
	}
	return p, err
}

// transition reads the purchase under a row lock, checks the edge and writes
// with a compare-and-set on the observed status and version.
func (u *lifecycleUC) transition(ctx context.Context, purchaseID string, to model.PurchaseStatus, fill func(*model.PurchasePatch)) (*model.Purchase, error) {
	if strings.TrimSpace(purchaseID) == "" {
		metrics.IncTransition(to, "invalid")
		return nil, fmt.Errorf("%w: empty purchase id", domain.ErrValidation)
	}
	log := logging.With(logging.WithPurchaseID(ctx, purchaseID), u.log)

	if u.locker != nil {
		key := purchaseLockKey(purchaseID)
		token, err := u.locker.TryLock(ctx, key, purchaseLockTTL)
		switch {
		case errors.Is(err, domain.ErrLockNotAcquired):
			metrics.IncTransition(to, "conflict")
			return nil, fmt.Errorf("%w: purchase %s is being modified", domain.ErrConcurrencyConflict, purchaseID)
		case err != nil:
			// row lock and compare-and-set still guard the write
			log.Warn().Err(err).Msg("purchase lock unavailable")
		default:
			defer func() {
				if err := u.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
					log.Warn().Err(err).Msg("purchase unlock failed")
				}
			}()
		}
	}

	var updated *model.Purchase
	err := u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		cur, err := u.purchases.FindByID(ctx, tx, purchaseID)
		if err != nil {
			return err
		}
		if err := cur.CheckTransition(to); err != nil {
			return err
		}
		patch := model.PurchasePatch{Status: &to, ExpectedStatus: cur.Status, ExpectedVersion: cur.Version}
		fill(&patch)
		updated, err = u.purchases.Update(ctx, tx, purchaseID, patch)
		return err
	})
	if err != nil {
		result := "error"
		switch {
		case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNotFound):
			result = "invalid"
		case errors.Is(err, domain.ErrConcurrencyConflict):
			result = "conflict"
		default:
			log.Error().Err(err).Str("to", string(to)).Msg("transition failed")
		}
		metrics.IncTransition(to, result)
		return nil, err
	}

	metrics.IncTransition(to, "ok")
	log.Info().Str("to", string(to)).Int("version", updated.Version).Msg("purchase transitioned")
	return updated, nil
}
