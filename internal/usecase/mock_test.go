//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"khip-entitlements/internal/domain"
	"khip-entitlements/internal/domain/model"
	"khip-entitlements/internal/domain/ports/repository"
	"khip-entitlements/internal/infra/db/memory"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// ---- Clock ----

// testClock is a settable clock shared by the store and the use cases.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newMemoryRepo(clock *testClock) *memory.PurchaseRepo {
	return memory.NewPurchaseRepo().WithClock(clock.Now)
}

// ---- Purchase repository with overridable behaviour ----

// MockPurchaseRepo delegates to an in-memory store unless a func field is set.
type MockPurchaseRepo struct {
	*memory.PurchaseRepo

	ListByUserFunc func(ctx context.Context, tx repository.Tx, userID string) ([]*model.Purchase, error)
	FindByIDFunc   func(ctx context.Context, tx repository.Tx, id string) (*model.Purchase, error)
	UpdateFunc     func(ctx context.Context, tx repository.Tx, id string, patch model.PurchasePatch) (*model.Purchase, error)
}

var _ repository.PurchaseRepository = (*MockPurchaseRepo)(nil)

func NewMockPurchaseRepo(clock *testClock) *MockPurchaseRepo {
	return &MockPurchaseRepo{PurchaseRepo: newMemoryRepo(clock)}
}

func (m *MockPurchaseRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Purchase, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, tx, userID)
	}
	return m.PurchaseRepo.ListByUser(ctx, tx, userID)
}

func (m *MockPurchaseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Purchase, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	return m.PurchaseRepo.FindByID(ctx, tx, id)
}

func (m *MockPurchaseRepo) Update(ctx context.Context, tx repository.Tx, id string, patch model.PurchasePatch) (*model.Purchase, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, tx, id, patch)
	}
	return m.PurchaseRepo.Update(ctx, tx, id, patch)
}

// ---- Transaction manager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// ---- In-memory Locker ----

type MockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	ErrOn map[string]error
}

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}, ErrOn: map[string]error{}}
}

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, bad := l.ErrOn[key]; bad {
		return "", err
	}
	if tok, ok := l.held[key]; ok && tok != "" {
		return "", domain.ErrLockNotAcquired
	}
	tok := uuid.NewString()
	l.held[key] = tok
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		return nil
	}
	return errors.New("unlock token mismatch")
}

// ---- Limiter ----

type MockLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	Err    error
}

func NewMockLimiter() *MockLimiter { return &MockLimiter{counts: map[string]int{}} }

func (l *MockLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if l.Err != nil {
		return false, l.Err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[key]++
	return l.counts[key] <= limit, nil
}
