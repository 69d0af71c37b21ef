// Package memory holds the in-process purchase store used in dev mode and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"khip-entitlements/internal/domain"
	"khip-entitlements/internal/domain/model"
	"khip-entitlements/internal/domain/ports/repository"
	"khip-entitlements/internal/ids"
)

var _ repository.PurchaseRepository = (*PurchaseRepo)(nil)

// PurchaseRepo keeps purchases in insertion order behind a single mutex.
// Every read returns clones so callers cannot mutate stored records.
type PurchaseRepo struct {
	mu     sync.RWMutex
	byID   map[string]*model.Purchase
	order  []string
	trials map[string]string // user id -> trial purchase id

	now func() time.Time
}

func NewPurchaseRepo() *PurchaseRepo {
	return &PurchaseRepo{
		byID:   make(map[string]*model.Purchase),
		trials: make(map[string]string),
		now:    time.Now,
	}
}

// WithClock replaces the clock used for purchase dates.
func (r *PurchaseRepo) WithClock(now func() time.Time) *PurchaseRepo {
	r.now = now
	return r
}

func (r *PurchaseRepo) Create(ctx context.Context, tx repository.Tx, in model.PurchaseInput) (*model.Purchase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := r.now().UTC()
	p, err := model.NewPurchase(ids.NewAt(now), in, now)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p.Type == model.PurchaseTypeTrial {
		if existing, ok := r.trials[p.UserID]; ok {
			return nil, fmt.Errorf("%w: user %s already has trial %s", domain.ErrTrialAlreadyUsed, p.UserID, existing)
		}
		r.trials[p.UserID] = p.ID
	}
	r.byID[p.ID] = p
	r.order = append(r.order, p.ID)
	return p.Clone(), nil
}

func (r *PurchaseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Purchase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *PurchaseRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Purchase, error) {
	return r.filter(ctx, func(p *model.Purchase) bool { return p.UserID == userID })
}

func (r *PurchaseRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Purchase, error) {
	return r.filter(ctx, func(*model.Purchase) bool { return true })
}

func (r *PurchaseRepo) ListByStatus(ctx context.Context, tx repository.Tx, statuses ...model.PurchaseStatus) ([]*model.Purchase, error) {
	return r.filter(ctx, func(p *model.Purchase) bool {
		return p.IsReport() && slices.Contains(statuses, p.Status)
	})
}

func (r *PurchaseRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.PurchaseStatus]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[model.PurchaseStatus]int)
	for _, p := range r.byID {
		out[p.Status]++
	}
	return out, nil
}

// Update applies the patch atomically: expectations are checked and the
// record replaced under the write lock.
func (r *PurchaseRepo) Update(ctx context.Context, tx repository.Tx, id string, patch model.PurchasePatch) (*model.Purchase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	next := cur.Clone()
	if err := next.Apply(patch); err != nil {
		return nil, err
	}
	r.byID[id] = next
	return next.Clone(), nil
}

func (r *PurchaseRepo) filter(ctx context.Context, keep func(*model.Purchase) bool) ([]*model.Purchase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Purchase, 0)
	for _, id := range r.order {
		if p := r.byID[id]; keep(p) {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}
