package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"khip-entitlements/internal/domain"
)

type PurchaseType string

const (
	PurchaseTypeSingleReport PurchaseType = "single-report"
	PurchaseTypeSnapshotPlan PurchaseType = "snapshot-plan"
	PurchaseTypeCustomReport PurchaseType = "custom-report"
	PurchaseTypeTrial        PurchaseType = "trial"
)

// Sentinel company ids used by grant purchases that do not target a single company.
const (
	CompanyTrialAccess    = "trial-access"
	CompanySnapshotPlan   = "snapshot-plan"
	CompanyCustomResearch = "custom-research"
)

const (
	TrialDuration        = 7 * 24 * time.Hour
	SnapshotPlanDuration = 30 * 24 * time.Hour

	DefaultCurrency = "USD"
)

func (t PurchaseType) Valid() bool {
	switch t {
	case PurchaseTypeSingleReport, PurchaseTypeSnapshotPlan, PurchaseTypeCustomReport, PurchaseTypeTrial:
		return true
	}
	return false
}

// IsReport reports whether purchases of this type are deliverables that go
// through the review workflow.
func (t PurchaseType) IsReport() bool {
	return t == PurchaseTypeSingleReport || t == PurchaseTypeCustomReport
}

// Terms holds the fields that only exist for a particular purchase type.
// The set of implementations is closed: ReportTerms, PlanTerms, TrialTerms.
type Terms interface {
	sealed()
}

// ReportTerms belongs to single-report and custom-report purchases.
type ReportTerms struct {
	ReportURL    string
	DeliveryDate *time.Time
}

// PlanTerms belongs to snapshot-plan purchases.
type PlanTerms struct {
	SubscriptionEndDate time.Time
}

// TrialTerms belongs to trial purchases.
type TrialTerms struct {
	TrialEndDate time.Time
}

func (ReportTerms) sealed() {}
func (PlanTerms) sealed()   {}
func (TrialTerms) sealed()  {}

// Purchase is one grant of access or one ordered deliverable. Purchases are
// append-only: only Status and the ReportTerms fields change after creation.
type Purchase struct {
	ID           string // ULID
	UserID       string
	Type         PurchaseType
	CompanyID    string
	CompanyName  string
	Status       PurchaseStatus
	Amount       int64 // minor units (cents); informational only
	Currency     string
	PurchaseDate time.Time
	Terms        Terms
	Version      int
}

// PurchaseInput is what the checkout collaborator supplies for a new purchase.
type PurchaseInput struct {
	UserID      string
	Type        PurchaseType
	CompanyID   string
	CompanyName string
	Amount      int64
	Currency    string
}

// NewPurchase validates the input and builds a purchase with the type-specific
// terms and initial status.
func NewPurchase(id string, in PurchaseInput, now time.Time) (*Purchase, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty purchase id", domain.ErrValidation)
	}
	if strings.TrimSpace(in.UserID) == "" {
		return nil, fmt.Errorf("%w: empty user id", domain.ErrValidation)
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown purchase type %q", domain.ErrValidation, in.Type)
	}
	if in.Amount < 0 {
		return nil, fmt.Errorf("%w: negative amount %d", domain.ErrValidation, in.Amount)
	}

	now = now.UTC()
	p := &Purchase{
		ID:           id,
		UserID:       in.UserID,
		Type:         in.Type,
		CompanyID:    strings.TrimSpace(in.CompanyID),
		CompanyName:  in.CompanyName,
		Amount:       in.Amount,
		Currency:     strings.ToUpper(strings.TrimSpace(in.Currency)),
		PurchaseDate: now,
		Version:      1,
	}
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}

	switch in.Type {
	case PurchaseTypeTrial:
		p.Status = PurchaseStatusCompleted
		p.Terms = TrialTerms{TrialEndDate: now.Add(TrialDuration)}
		if p.CompanyID == "" {
			p.CompanyID = CompanyTrialAccess
		}
	case PurchaseTypeSnapshotPlan:
		p.Status = PurchaseStatusCompleted
		p.Terms = PlanTerms{SubscriptionEndDate: now.Add(SnapshotPlanDuration)}
		if p.CompanyID == "" {
			p.CompanyID = CompanySnapshotPlan
		}
	case PurchaseTypeCustomReport:
		p.Status = PurchaseStatusPending
		p.Terms = ReportTerms{}
		if p.CompanyID == "" {
			p.CompanyID = CompanyCustomResearch
		}
	case PurchaseTypeSingleReport:
		if p.CompanyID == "" {
			return nil, fmt.Errorf("%w: single-report purchase needs a company id", domain.ErrValidation)
		}
		p.Status = PurchaseStatusPending
		p.Terms = ReportTerms{}
	}
	return p, nil
}

// AssembleTerms rebuilds the type-specific terms from flat, optional fields
// (database columns, JSON). Fields that do not belong to the type are rejected.
func AssembleTerms(t PurchaseType, reportURL string, deliveryDate, subscriptionEnd, trialEnd *time.Time) (Terms, error) {
	switch t {
	case PurchaseTypeSingleReport, PurchaseTypeCustomReport:
		if subscriptionEnd != nil || trialEnd != nil {
			return nil, fmt.Errorf("%w: %s purchase cannot carry grant end dates", domain.ErrValidation, t)
		}
		rt := ReportTerms{ReportURL: reportURL}
		if deliveryDate != nil {
			d := deliveryDate.UTC()
			rt.DeliveryDate = &d
		}
		return rt, nil
	case PurchaseTypeSnapshotPlan:
		if subscriptionEnd == nil || trialEnd != nil || reportURL != "" || deliveryDate != nil {
			return nil, fmt.Errorf("%w: snapshot-plan purchase must carry only a subscription end date", domain.ErrValidation)
		}
		return PlanTerms{SubscriptionEndDate: subscriptionEnd.UTC()}, nil
	case PurchaseTypeTrial:
		if trialEnd == nil || subscriptionEnd != nil || reportURL != "" || deliveryDate != nil {
			return nil, fmt.Errorf("%w: trial purchase must carry only a trial end date", domain.ErrValidation)
		}
		return TrialTerms{TrialEndDate: trialEnd.UTC()}, nil
	}
	return nil, fmt.Errorf("%w: unknown purchase type %q", domain.ErrValidation, t)
}

func (p *Purchase) IsReport() bool { return p.Type.IsReport() }

// SubscriptionEndDate is set only for snapshot-plan purchases.
func (p *Purchase) SubscriptionEndDate() (time.Time, bool) {
	if pt, ok := p.Terms.(PlanTerms); ok {
		return pt.SubscriptionEndDate, true
	}
	return time.Time{}, false
}

// TrialEndDate is set only for trial purchases.
func (p *Purchase) TrialEndDate() (time.Time, bool) {
	if tt, ok := p.Terms.(TrialTerms); ok {
		return tt.TrialEndDate, true
	}
	return time.Time{}, false
}

// Report returns the delivery fields of a report purchase.
func (p *Purchase) Report() (ReportTerms, bool) {
	rt, ok := p.Terms.(ReportTerms)
	return rt, ok
}

// InvoiceNumber is the customer-facing reference printed on invoices.
func (p *Purchase) InvoiceNumber() string {
	id := p.ID
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	return "KHIP-" + strings.ToUpper(id)
}

// Clone returns a deep copy safe to hand out of a store.
func (p *Purchase) Clone() *Purchase {
	if p == nil {
		return nil
	}
	cp := *p
	if rt, ok := p.Terms.(ReportTerms); ok && rt.DeliveryDate != nil {
		d := *rt.DeliveryDate
		rt.DeliveryDate = &d
		cp.Terms = rt
	}
	return &cp
}

// PurchasePatch is the only mutation a store accepts. ExpectedStatus and
// ExpectedVersion, when set, turn the update into a compare-and-set.
type PurchasePatch struct {
	Status       *PurchaseStatus
	ReportURL    *string
	DeliveryDate *time.Time

	ExpectedStatus  PurchaseStatus
	ExpectedVersion int
}

// Apply checks the patch preconditions and mutates p in place, bumping Version.
func (p *Purchase) Apply(patch PurchasePatch) error {
	if patch.ExpectedStatus != "" && p.Status != patch.ExpectedStatus {
		return fmt.Errorf("%w: purchase %s is %s, expected %s", domain.ErrConcurrencyConflict, p.ID, p.Status, patch.ExpectedStatus)
	}
	if patch.ExpectedVersion != 0 && p.Version != patch.ExpectedVersion {
		return fmt.Errorf("%w: purchase %s is at version %d, expected %d", domain.ErrConcurrencyConflict, p.ID, p.Version, patch.ExpectedVersion)
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrValidation, *patch.Status)
	}

	if patch.ReportURL != nil || patch.DeliveryDate != nil {
		rt, ok := p.Terms.(ReportTerms)
		if !ok {
			return fmt.Errorf("%w: %s purchase has no report fields", domain.ErrValidation, p.Type)
		}
		if patch.ReportURL != nil {
			rt.ReportURL = *patch.ReportURL
		}
		if patch.DeliveryDate != nil {
			d := patch.DeliveryDate.UTC()
			rt.DeliveryDate = &d
		}
		p.Terms = rt
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	p.Version++
	return nil
}

type purchaseJSON struct {
	ID                  string         `json:"id"`
	UserID              string         `json:"userId"`
	Type                PurchaseType   `json:"type"`
	CompanyID           string         `json:"companyId"`
	CompanyName         string         `json:"companyName"`
	Status              PurchaseStatus `json:"status"`
	Amount              int64          `json:"amount"`
	Currency            string         `json:"currency"`
	PurchaseDate        time.Time      `json:"purchaseDate"`
	DeliveryDate        *time.Time     `json:"deliveryDate,omitempty"`
	ReportURL           string         `json:"reportUrl,omitempty"`
	SubscriptionEndDate *time.Time     `json:"subscriptionEndDate,omitempty"`
	TrialEndDate        *time.Time     `json:"trialEndDate,omitempty"`
	InvoiceNumber       string         `json:"invoiceNumber"`
	Version             int            `json:"version"`
}

// MarshalJSON flattens the terms into the optional fields clients expect.
func (p Purchase) MarshalJSON() ([]byte, error) {
	out := purchaseJSON{
		ID:            p.ID,
		UserID:        p.UserID,
		Type:          p.Type,
		CompanyID:     p.CompanyID,
		CompanyName:   p.CompanyName,
		Status:        p.Status,
		Amount:        p.Amount,
		Currency:      p.Currency,
		PurchaseDate:  p.PurchaseDate,
		InvoiceNumber: p.InvoiceNumber(),
		Version:       p.Version,
	}
	switch t := p.Terms.(type) {
	case ReportTerms:
		out.ReportURL = t.ReportURL
		out.DeliveryDate = t.DeliveryDate
	case PlanTerms:
		end := t.SubscriptionEndDate
		out.SubscriptionEndDate = &end
	case TrialTerms:
		end := t.TrialEndDate
		out.TrialEndDate = &end
	}
	return json.Marshal(out)
}

func (p *Purchase) UnmarshalJSON(b []byte) error {
	var in purchaseJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	terms, err := AssembleTerms(in.Type, in.ReportURL, in.DeliveryDate, in.SubscriptionEndDate, in.TrialEndDate)
	if err != nil {
		return err
	}
	*p = Purchase{
		ID:           in.ID,
		UserID:       in.UserID,
		Type:         in.Type,
		CompanyID:    in.CompanyID,
		CompanyName:  in.CompanyName,
		Status:       in.Status,
		Amount:       in.Amount,
		Currency:     in.Currency,
		PurchaseDate: in.PurchaseDate,
		Terms:        terms,
		Version:      in.Version,
	}
	return nil
}

// DefaultReportURL is where the admin console publishes an approved report
// when staff do not supply a location.
func DefaultReportURL(purchaseID string) string {
	return "/reports/" + purchaseID + "-full-report.pdf"
}
