//go:build !integration

package usecase_test

import (
	"context"
	"testing"
	"time"

	"khip-entitlements/internal/domain"
	"khip-entitlements/internal/domain/model"
	"khip-entitlements/internal/domain/ports/repository"
	"khip-entitlements/internal/usecase"
)

func TestAccessUseCase_Authorize(t *testing.T) {
	ctx := context.Background()

	newGateway := func(repo repository.PurchaseRepository) usecase.AccessUseCase {
		ent := usecase.NewEntitlementUseCase(repo, newTestLogger())
		return usecase.NewAccessUseCase(ent, newTestLogger())
	}

	t.Run("single report grants via single-report", func(t *testing.T) {
		repo := newMemoryRepo(newTestClock(t0))
		mustCreate(t, repo, model.PurchaseInput{UserID: "u1", Type: model.PurchaseTypeSingleReport, CompanyID: "samsung-electronics"})
		d := newGateway(repo).Authorize(ctx, "u1", "samsung-electronics", t0)
		if !d.Granted || d.Via != usecase.ViaSingleReport {
			t.Errorf("unexpected decision %+v", d)
		}
	})

	t.Run("priority is plan, then trial, then report", func(t *testing.T) {
		repo := newMemoryRepo(newTestClock(t0))
		mustCreate(t, repo, model.PurchaseInput{UserID: "u1", Type: model.PurchaseTypeSingleReport, CompanyID: "sk"})
		mustCreate(t, repo, model.PurchaseInput{UserID: "u1", Type: model.PurchaseTypeTrial})
		gw := newGateway(repo)
		if d := gw.Authorize(ctx, "u1", "sk", t0); d.Via != usecase.ViaTrial {
			t.Errorf("expected trial to win over report, got %s", d.Via)
		}
		mustCreate(t, repo, model.PurchaseInput{UserID: "u1", Type: model.PurchaseTypeSnapshotPlan})
		if d := gw.Authorize(ctx, "u1", "sk", t0); d.Via != usecase.ViaSnapshotPlan {
			t.Errorf("expected plan to win, got %s", d.Via)
		}
		// trial lapsed, plan still active
		if d := gw.Authorize(ctx, "u1", "other", t0.Add(8*day)); !d.Granted || d.Via != usecase.ViaSnapshotPlan {
			t.Errorf("expected plan access after the trial lapsed, got %+v", d)
		}
	})

	t.Run("no grant is denied", func(t *testing.T) {
		repo := newMemoryRepo(newTestClock(t0))
		d := newGateway(repo).Authorize(ctx, "u1", "samsung-electronics", t0)
		if d.Granted || d.Via != usecase.ViaNone {
			t.Errorf("unexpected decision %+v", d)
		}
	})

	t.Run("fails closed", func(t *testing.T) {
		repo := NewMockPurchaseRepo(newTestClock(t0))
		mustCreate(t, repo, model.PurchaseInput{UserID: "u1", Type: model.PurchaseTypeSnapshotPlan})
		gw := newGateway(repo)

		for name, ids := range map[string][2]string{
			"blank user":    {"", "samsung"},
			"blank company": {"u1", " "},
		} {
			if d := gw.Authorize(ctx, ids[0], ids[1], t0); d.Granted {
				t.Errorf("%s: expected denial, got %+v", name, d)
			}
		}

		repo.ListByUserFunc = func(ctx context.Context, tx repository.Tx, userID string) ([]*model.Purchase, error) {
			return nil, domain.ErrOperationFailed
		}
		if d := gw.Authorize(ctx, "u1", "samsung", t0); d.Granted || d.Via != usecase.ViaNone {
			t.Errorf("store errors must deny, got %+v", d)
		}

		repo.ListByUserFunc = func(ctx context.Context, tx repository.Tx, userID string) ([]*model.Purchase, error) {
			panic("boom")
		}
		if d := gw.Authorize(ctx, "u1", "samsung", t0); d.Granted {
			t.Errorf("a panic must deny, got %+v", d)
		}
	})

	t.Run("cancelled context denies", func(t *testing.T) {
		repo := newMemoryRepo(newTestClock(t0))
		mustCreate(t, repo, model.PurchaseInput{UserID: "u1", Type: model.PurchaseTypeSnapshotPlan})
		cctx, cancel := context.WithTimeout(ctx, -time.Second)
		defer cancel()
		if d := newGateway(repo).Authorize(cctx, "u1", "samsung", t0); d.Granted {
			t.Errorf("expected denial, got %+v", d)
		}
	})
}
