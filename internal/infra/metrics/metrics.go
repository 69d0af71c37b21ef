package metrics

import (
	"strconv"
	"strings"

	"khip-entitlements/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		purchasesCreatedTotal,
		purchaseTransitionsTotal,
		accessDecisionsTotal,
		reportQueue,
	)
}

var (
	purchasesCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchases_created_total",
			Help: "Purchases recorded by the checkout intake, by type.",
		},
		[]string{"type"},
	)

	purchaseTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_transitions_total",
			Help: "Lifecycle transition attempts by target status and result.",
		},
		[]string{"to", "result"}, // result: 'ok', 'invalid', 'conflict', 'error'
	)

	accessDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_decisions_total",
			Help: "Access gateway decisions by grant type.",
		},
		[]string{"via", "granted"},
	)

	reportQueue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "report_queue",
			Help: "Current admin report queue by state.",
		},
		[]string{"state"}, // 'pending', 'under_review', 'overdue', 'delivered'
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncPurchaseCreated(t model.PurchaseType) {
	purchasesCreatedTotal.WithLabelValues(norm(string(t))).Inc()
}

func IncTransition(to model.PurchaseStatus, result string) {
	purchaseTransitionsTotal.WithLabelValues(norm(string(to)), norm(result)).Inc()
}

func IncAccessDecision(via string, granted bool) {
	accessDecisionsTotal.WithLabelValues(norm(via), strconv.FormatBool(granted)).Inc()
}

func SetReportQueue(pending, underReview, overdue, delivered int) {
	reportQueue.WithLabelValues("pending").Set(float64(pending))
	reportQueue.WithLabelValues("under_review").Set(float64(underReview))
	reportQueue.WithLabelValues("overdue").Set(float64(overdue))
	reportQueue.WithLabelValues("delivered").Set(float64(delivered))
}
