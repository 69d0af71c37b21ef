//go:build !integration

package metrics

import (
	"testing"

	"khip-entitlements/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	MustRegister(prometheus.NewRegistry())

	before := testutil.ToFloat64(purchasesCreatedTotal.WithLabelValues("trial"))
	IncPurchaseCreated(model.PurchaseTypeTrial)
	if got := testutil.ToFloat64(purchasesCreatedTotal.WithLabelValues("trial")); got != before+1 {
		t.Errorf("expected trial counter to grow by one, got %v -> %v", before, got)
	}

	IncAccessDecision(" Snapshot-Plan ", true)
	if got := testutil.ToFloat64(accessDecisionsTotal.WithLabelValues("snapshot-plan", "true")); got < 1 {
		t.Errorf("expected normalised label to be counted, got %v", got)
	}

	SetReportQueue(4, 1, 2, 9)
	if got := testutil.ToFloat64(reportQueue.WithLabelValues("overdue")); got != 2 {
		t.Errorf("expected overdue gauge 2, got %v", got)
	}
}
