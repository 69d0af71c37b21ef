package model

import (
	"fmt"
	"slices"
	"time"

	"khip-entitlements/internal/domain"
)

type PurchaseStatus string

const (
	PurchaseStatusPending     PurchaseStatus = "pending"      // report ordered, nothing generated yet
	PurchaseStatusUnderReview PurchaseStatus = "under_review" // draft generated, waiting for staff approval
	PurchaseStatusDelivered   PurchaseStatus = "delivered"    // report url handed to the customer
	PurchaseStatusCompleted   PurchaseStatus = "completed"    // instantaneous grant (plan, trial)
	PurchaseStatusFailed      PurchaseStatus = "failed"       // report will not be delivered
)

// OverdueAfter is the delivery target for a pending report purchase.
const OverdueAfter = 24 * time.Hour

func (s PurchaseStatus) Valid() bool {
	switch s {
	case PurchaseStatusPending, PurchaseStatusUnderReview, PurchaseStatusDelivered,
		PurchaseStatusCompleted, PurchaseStatusFailed:
		return true
	}
	return false
}

func (s PurchaseStatus) Terminal() bool {
	return s == PurchaseStatusDelivered || s == PurchaseStatusCompleted || s == PurchaseStatusFailed
}

// GrantsReportAccess reports whether a report purchase in this status gives
// access to the snapshot view. Access starts at purchase time, not delivery.
func (s PurchaseStatus) GrantsReportAccess() bool {
	return s == PurchaseStatusPending || s == PurchaseStatusUnderReview || s == PurchaseStatusDelivered
}

// Transition is one edge of the report lifecycle.
type Transition struct {
	From PurchaseStatus
	To   PurchaseStatus
}

// reportTransitions is forward-only; completed never appears because grant
// purchases do not move.
var reportTransitions = map[Transition]bool{
	{PurchaseStatusPending, PurchaseStatusUnderReview}:   true, // draft generated
	{PurchaseStatusUnderReview, PurchaseStatusDelivered}: true, // approved by staff
	{PurchaseStatusPending, PurchaseStatusFailed}:        true,
	{PurchaseStatusUnderReview, PurchaseStatusFailed}:    true,
}

func CanTransition(from, to PurchaseStatus) bool {
	return reportTransitions[Transition{from, to}]
}

// TransitionsFrom returns the reachable statuses from s in a stable order.
func TransitionsFrom(s PurchaseStatus) []PurchaseStatus {
	out := make([]PurchaseStatus, 0, 2)
	for t := range reportTransitions {
		if t.From == s {
			out = append(out, t.To)
		}
	}
	slices.Sort(out)
	return out
}

// CheckTransition validates moving p to the target status.
func (p *Purchase) CheckTransition(to PurchaseStatus) error {
	if !p.IsReport() {
		return fmt.Errorf("%w: %s purchase %s has no lifecycle", domain.ErrInvalidTransition, p.Type, p.ID)
	}
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("%w: purchase %s cannot move from %s to %s", domain.ErrInvalidTransition, p.ID, p.Status, to)
	}
	return nil
}

// IsOverdue is derived on every read: a pending report older than OverdueAfter.
func (p *Purchase) IsOverdue(now time.Time) bool {
	return p.IsReport() && p.Status == PurchaseStatusPending && now.Sub(p.PurchaseDate) > OverdueAfter
}
