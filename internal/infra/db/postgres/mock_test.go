//go:build !integration

package postgres

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"khip-entitlements/internal/domain/model"
	"khip-entitlements/internal/domain/ports/repository"
	red "khip-entitlements/internal/infra/redis"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// --- Mocks for Cache Decorator Tests ---

// mockInnerPurchaseRepo mocks the database repository that the decorator wraps.
type mockInnerPurchaseRepo struct {
	CreateFunc        func(ctx context.Context, tx repository.Tx, in model.PurchaseInput) (*model.Purchase, error)
	FindByIDFunc      func(ctx context.Context, tx repository.Tx, id string) (*model.Purchase, error)
	ListByUserFunc    func(ctx context.Context, tx repository.Tx, userID string) ([]*model.Purchase, error)
	ListAllFunc       func(ctx context.Context, tx repository.Tx) ([]*model.Purchase, error)
	ListByStatusFunc  func(ctx context.Context, tx repository.Tx, statuses ...model.PurchaseStatus) ([]*model.Purchase, error)
	CountByStatusFunc func(ctx context.Context, tx repository.Tx) (map[model.PurchaseStatus]int, error)
	UpdateFunc        func(ctx context.Context, tx repository.Tx, id string, patch model.PurchasePatch) (*model.Purchase, error)
}

func (m *mockInnerPurchaseRepo) Create(ctx context.Context, tx repository.Tx, in model.PurchaseInput) (*model.Purchase, error) {
	return m.CreateFunc(ctx, tx, in)
}
func (m *mockInnerPurchaseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Purchase, error) {
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerPurchaseRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Purchase, error) {
	return m.ListByUserFunc(ctx, tx, userID)
}
func (m *mockInnerPurchaseRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Purchase, error) {
	return m.ListAllFunc(ctx, tx)
}
func (m *mockInnerPurchaseRepo) ListByStatus(ctx context.Context, tx repository.Tx, statuses ...model.PurchaseStatus) ([]*model.Purchase, error) {
	return m.ListByStatusFunc(ctx, tx, statuses...)
}
func (m *mockInnerPurchaseRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.PurchaseStatus]int, error) {
	return m.CountByStatusFunc(ctx, tx)
}
func (m *mockInnerPurchaseRepo) Update(ctx context.Context, tx repository.Tx, id string, patch model.PurchasePatch) (*model.Purchase, error) {
	return m.UpdateFunc(ctx, tx, id, patch)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc    func(ctx context.Context, key string) (string, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc    func(ctx context.Context, keys ...string) error
	PingFunc   func(ctx context.Context) error
	IncrFunc   func(ctx context.Context, key string) (int64, error)
	ExpireFunc func(ctx context.Context, key string, expiration time.Duration) error
	TTLFunc    func(ctx context.Context, key string) (time.Duration, error)
	CloseFunc  func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return m.ExpireFunc(ctx, key, expiration)
}
func (m *mockRedisClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	return m.TTLFunc(ctx, key)
}
func (m *mockRedisClient) Close() error { return m.CloseFunc() }
