//go:build !integration

package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"khip-entitlements/internal/domain/model"
	"khip-entitlements/internal/infra/db/memory"
	"khip-entitlements/internal/infra/metrics"
	"khip-entitlements/internal/usecase"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type failingQueue struct {
	usecase.AdminQueueUseCase
	calls int
}

func (f *failingQueue) Counts(ctx context.Context, now time.Time) (usecase.QueueCounts, error) {
	f.calls++
	return usecase.QueueCounts{}, errors.New("store down")
}

func TestQueueWorker(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	logger := zerolog.New(nil)
	ctx := context.Background()

	now := t0
	clock := func() time.Time { return now }
	repo := memory.NewPurchaseRepo().WithClock(clock)
	lc := usecase.NewLifecycleUseCase(repo, memory.TxManager{}, nil, &logger).WithClock(clock)
	queue := usecase.NewAdminQueueUseCase(repo, lc, &logger)

	for _, c := range []string{"samsung-electronics", "sk-hynix"} {
		if _, err := repo.Create(ctx, nil, model.PurchaseInput{UserID: "u1", Type: model.PurchaseTypeSingleReport, CompanyID: c}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	now = t0.Add(30 * time.Hour)
	fresh, err := repo.Create(ctx, nil, model.PurchaseInput{UserID: "u2", Type: model.PurchaseTypeCustomReport, CompanyID: "naver"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := lc.GenerateDraft(ctx, fresh.ID); err != nil {
		t.Fatalf("draft: %v", err)
	}

	sampled := false
	w := NewQueueWorker(time.Minute, queue, func() (int32, int32, int32) {
		sampled = true
		return 10, 7, 3
	}, &logger).WithClock(clock)
	w.RunOnce(ctx)

	if !sampled {
		t.Error("expected pool stats to be sampled")
	}
	if n, err := testutil.GatherAndCount(reg, "report_queue"); err != nil || n != 4 {
		t.Fatalf("expected 4 report_queue series, got %d (%v)", n, err)
	}
	expect := map[string]float64{"pending": 3, "under_review": 1, "overdue": 2, "delivered": 0}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "report_queue" {
			continue
		}
		for _, m := range mf.GetMetric() {
			state := m.GetLabel()[0].GetValue()
			if got := m.GetGauge().GetValue(); got != expect[state] {
				t.Errorf("report_queue{state=%q} = %v, want %v", state, got, expect[state])
			}
		}
	}

	t.Run("store errors are logged, not fatal", func(t *testing.T) {
		fq := &failingQueue{}
		NewQueueWorker(time.Minute, fq, nil, &logger).RunOnce(ctx)
		if fq.calls != 1 {
			t.Errorf("expected one Counts call, got %d", fq.calls)
		}
	})

	t.Run("run stops with the context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- NewQueueWorker(10*time.Millisecond, queue, nil, &logger).Run(cctx) }()
		time.Sleep(30 * time.Millisecond)
		cancel()
		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("worker did not stop")
		}
	})
}
