package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"khip-entitlements/internal/domain/model"
	"khip-entitlements/internal/domain/ports/repository"
)

// QueueItem decorates a queued purchase with values derived at read time.
// Nothing here is stored.
type QueueItem struct {
	Purchase          *model.Purchase `json:"purchase"`
	IsOverdue         bool            `json:"isOverdue"`
	TimeSincePurchase time.Duration   `json:"-"`
	Age               string          `json:"timeSincePurchase"`
}

// QueueCounts feeds the admin dashboard tiles. Pending is the whole queue
// (pending and under review); UnderReview and Overdue are subsets of it.
type QueueCounts struct {
	Pending     int `json:"pending"`
	UnderReview int `json:"underReview"`
	Overdue     int `json:"overdue"`
	Delivered   int `json:"delivered"`
}

// TransitionResult is returned by queue actions: the updated purchase and
// the queue as re-read after the change.
type TransitionResult struct {
	Purchase *model.Purchase `json:"purchase"`
	Queue    []QueueItem     `json:"queue"`
}

// Compile-time check
var _ AdminQueueUseCase = (*adminQueueUC)(nil)

type AdminQueueUseCase interface {
	PendingQueue(ctx context.Context, now time.Time) ([]QueueItem, error)
	Counts(ctx context.Context, now time.Time) (QueueCounts, error)
	AllPurchases(ctx context.Context) ([]*model.Purchase, error)
	GenerateDraft(ctx context.Context, purchaseID string, now time.Time) (*TransitionResult, error)
	ApproveAndDeliver(ctx context.Context, purchaseID, reportURL string, now time.Time) (*TransitionResult, error)
	MarkFailed(ctx context.Context, purchaseID, reason string, now time.Time) (*TransitionResult, error)
}

type adminQueueUC struct {
	purchases repository.PurchaseRepository
	lifecycle LifecycleUseCase
	log       *zerolog.Logger
}

func NewAdminQueueUseCase(purchases repository.PurchaseRepository, lifecycle LifecycleUseCase, logger *zerolog.Logger) *adminQueueUC {
	l := logger.With().Str("component", "admin_queue").Logger()
	return &adminQueueUC{purchases: purchases, lifecycle: lifecycle, log: &l}
}

func (u *adminQueueUC) PendingQueue(ctx context.Context, now time.Time) ([]QueueItem, error) {
	list, err := u.purchases.ListByStatus(ctx, repository.NoTX, model.PurchaseStatusPending, model.PurchaseStatusUnderReview)
	if err != nil {
		return nil, err
	}
	items := make([]QueueItem, 0, len(list))
	for _, p := range list {
		since := now.Sub(p.PurchaseDate)
		items = append(items, QueueItem{
			Purchase:          p,
			IsOverdue:         p.IsOverdue(now),
			TimeSincePurchase: since,
			Age:               FormatAge(since),
		})
	}
	return items, nil
}

func (u *adminQueueUC) Counts(ctx context.Context, now time.Time) (QueueCounts, error) {
	items, err := u.PendingQueue(ctx, now)
	if err != nil {
		return QueueCounts{}, err
	}
	byStatus, err := u.purchases.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		return QueueCounts{}, err
	}
	c := QueueCounts{Pending: len(items), Delivered: byStatus[model.PurchaseStatusDelivered]}
	for _, it := range items {
		if it.Purchase.Status == model.PurchaseStatusUnderReview {
			c.UnderReview++
		}
		if it.IsOverdue {
			c.Overdue++
		}
	}
	return c, nil
}

func (u *adminQueueUC) AllPurchases(ctx context.Context) ([]*model.Purchase, error) {
	return u.purchases.ListAll(ctx, repository.NoTX)
}

func (u *adminQueueUC) GenerateDraft(ctx context.Context, purchaseID string, now time.Time) (*TransitionResult, error) {
	p, err := u.lifecycle.GenerateDraft(ctx, purchaseID)
	return u.afterTransition(ctx, p, err, now)
}

func (u *adminQueueUC) ApproveAndDeliver(ctx context.Context, purchaseID, reportURL string, now time.Time) (*TransitionResult, error) {
	p, err := u.lifecycle.ApproveAndDeliver(ctx, purchaseID, reportURL)
	return u.afterTransition(ctx, p, err, now)
}

func (u *adminQueueUC) MarkFailed(ctx context.Context, purchaseID, reason string, now time.Time) (*TransitionResult, error) {
	p, err := u.lifecycle.MarkFailed(ctx, purchaseID, reason)
	return u.afterTransition(ctx, p, err, now)
}

func (u *adminQueueUC) afterTransition(ctx context.Context, p *model.Purchase, err error, now time.Time) (*TransitionResult, error) {
	if err != nil {
		return nil, err
	}
	queue, err := u.PendingQueue(ctx, now)
	if err != nil {
		u.log.Error().Err(err).Str("purchase_id", p.ID).Msg("queue reload failed after transition")
		return nil, err
	}
	return &TransitionResult{Purchase: p, Queue: queue}, nil
}

// FormatAge renders elapsed time the way the admin console shows it,
// truncated to whole hours, then whole days from 24h on.
func FormatAge(d time.Duration) string {
	hours := int(d / time.Hour)
	switch {
	case hours < 1:
		return "Less than 1 hour ago"
	case hours == 1:
		return "1 hour ago"
	case hours < 24:
		return fmt.Sprintf("%d hours ago", hours)
	}
	days := hours / 24
	if days == 1 {
		return "1 day ago"
	}
	return fmt.Sprintf("%d days ago", days)
}
