package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"khip-entitlements/internal/domain/model"
	"khip-entitlements/internal/domain/ports/repository"
	"khip-entitlements/internal/infra/metrics"
	red "khip-entitlements/internal/infra/redis"
)

var _ repository.PurchaseRepository = (*purchaseRepoCacheDecorator)(nil)

// purchaseRepoCacheDecorator caches a user's purchase list, the read behind
// every entitlement check. Writes drop the owner's entry before and after the
// inner call; the TTL bounds staleness for writes that commit later.
type purchaseRepoCacheDecorator struct {
	inner  repository.PurchaseRepository
	cache  red.RedisClient
	ttl    time.Duration
	logger *zerolog.Logger
}

func NewPurchaseRepoCacheDecorator(inner repository.PurchaseRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.PurchaseRepository {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	l := logger.With().Str("component", "purchase_cache").Logger()
	return &purchaseRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, logger: &l}
}

func userPurchasesKey(userID string) string { return "purchases:user:" + userID }

func (d *purchaseRepoCacheDecorator) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Purchase, error) {
	// transactional reads must see the transaction's own view
	if tx != nil {
		return d.inner.ListByUser(ctx, tx, userID)
	}
	key := userPurchasesKey(userID)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var out []*model.Purchase
		if json.Unmarshal([]byte(val), &out) == nil {
			metrics.IncCacheRequest("user_purchases", "hit")
			return out, nil
		}
	} else if !red.IsNil(err) {
		d.logger.Warn().Err(err).Str("key", key).Msg("cache get failed")
	}

	metrics.IncCacheRequest("user_purchases", "miss")
	out, err := d.inner.ListByUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(out); err == nil {
		if err := d.cache.Set(ctx, key, b, d.ttl); err != nil {
			d.logger.Warn().Err(err).Str("key", key).Msg("cache set failed")
		}
	}
	return out, nil
}

func (d *purchaseRepoCacheDecorator) Create(ctx context.Context, tx repository.Tx, in model.PurchaseInput) (*model.Purchase, error) {
	d.invalidate(ctx, in.UserID)
	p, err := d.inner.Create(ctx, tx, in)
	if err != nil {
		return nil, err
	}
	d.invalidate(ctx, p.UserID)
	return p, nil
}

func (d *purchaseRepoCacheDecorator) Update(ctx context.Context, tx repository.Tx, id string, patch model.PurchasePatch) (*model.Purchase, error) {
	p, err := d.inner.Update(ctx, tx, id, patch)
	if err != nil {
		return nil, err
	}
	d.invalidate(ctx, p.UserID)
	return p, nil
}

func (d *purchaseRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Purchase, error) {
	return d.inner.FindByID(ctx, tx, id)
}

func (d *purchaseRepoCacheDecorator) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Purchase, error) {
	return d.inner.ListAll(ctx, tx)
}

func (d *purchaseRepoCacheDecorator) ListByStatus(ctx context.Context, tx repository.Tx, statuses ...model.PurchaseStatus) ([]*model.Purchase, error) {
	return d.inner.ListByStatus(ctx, tx, statuses...)
}

func (d *purchaseRepoCacheDecorator) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.PurchaseStatus]int, error) {
	return d.inner.CountByStatus(ctx, tx)
}

func (d *purchaseRepoCacheDecorator) invalidate(ctx context.Context, userID string) {
	if err := d.cache.Del(ctx, userPurchasesKey(userID)); err != nil {
		d.logger.Warn().Err(err).Str("user_id", userID).Msg("cache invalidation failed")
	}
}
