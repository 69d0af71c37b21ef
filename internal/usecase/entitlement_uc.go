package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"khip-entitlements/internal/domain"
	"khip-entitlements/internal/domain/model"
	"khip-entitlements/internal/domain/ports/repository"
	"khip-entitlements/internal/infra/logging"
)

// Compile-time check
var _ EntitlementUseCase = (*entitlementUC)(nil)

// EntitlementUseCase answers access questions from a user's purchases as of
// an explicit instant. Access is the union of independent grants.
type EntitlementUseCase interface {
	HasSnapshotPlan(ctx context.Context, userID string, now time.Time) (bool, error)
	HasActiveTrial(ctx context.Context, userID string, now time.Time) (bool, error)
	HasUsedTrial(ctx context.Context, userID string) (bool, error)
	HasAccessToCompany(ctx context.Context, userID, companyID string, now time.Time) (bool, error)
	HasCustomReportAccess(ctx context.Context, userID string) (bool, error)
	GetSubscriptionEndDate(ctx context.Context, userID string, now time.Time) (*time.Time, error)
	GetTrialEndDate(ctx context.Context, userID string, now time.Time) (*time.Time, error)
	// Snapshot evaluates every predicate from a single read.
	Snapshot(ctx context.Context, userID string, now time.Time) (*Entitlements, error)
	Now() time.Time
}

// Entitlements is the resolved view of one user's grants at At.
type Entitlements struct {
	UserID              string     `json:"userId"`
	At                  time.Time  `json:"at"`
	SnapshotPlan        bool       `json:"snapshotPlan"`
	ActiveTrial         bool       `json:"activeTrial"`
	UsedTrial           bool       `json:"usedTrial"`
	CustomReportAccess  bool       `json:"customReportAccess"`
	SubscriptionEndDate *time.Time `json:"subscriptionEndDate,omitempty"`
	TrialEndDate        *time.Time `json:"trialEndDate,omitempty"`
	// ReportCompanies lists companies unlocked by single-report purchases.
	ReportCompanies []string `json:"reportCompanies"`
}

// AccessVia names the grant that unlocked a company, in priority order
// snapshot-plan, trial, single-report.
func (e *Entitlements) AccessVia(companyID string) AccessVia {
	switch {
	case e.SnapshotPlan:
		return ViaSnapshotPlan
	case e.ActiveTrial:
		return ViaTrial
	case companyID != "" && slices.Contains(e.ReportCompanies, companyID):
		return ViaSingleReport
	}
	return ViaNone
}

type entitlementUC struct {
	purchases repository.PurchaseRepository
	log       *zerolog.Logger
	now       func() time.Time
}

func NewEntitlementUseCase(purchases repository.PurchaseRepository, logger *zerolog.Logger) *entitlementUC {
	l := logger.With().Str("component", "entitlements").Logger()
	return &entitlementUC{purchases: purchases, log: &l, now: time.Now}
}

// WithClock replaces the clock behind Now.
func (u *entitlementUC) WithClock(now func() time.Time) *entitlementUC {
	u.now = now
	return u
}

func (u *entitlementUC) Now() time.Time { return u.now() }

func (u *entitlementUC) HasSnapshotPlan(ctx context.Context, userID string, now time.Time) (bool, error) {
	e, err := u.Snapshot(ctx, userID, now)
	if err != nil {
		return false, err
	}
	return e.SnapshotPlan, nil
}

func (u *entitlementUC) HasActiveTrial(ctx context.Context, userID string, now time.Time) (bool, error) {
	e, err := u.Snapshot(ctx, userID, now)
	if err != nil {
		return false, err
	}
	return e.ActiveTrial, nil
}

func (u *entitlementUC) HasUsedTrial(ctx context.Context, userID string) (bool, error) {
	e, err := u.Snapshot(ctx, userID, u.now())
	if err != nil {
		return false, err
	}
	return e.UsedTrial, nil
}

func (u *entitlementUC) HasAccessToCompany(ctx context.Context, userID, companyID string, now time.Time) (bool, error) {
	if strings.TrimSpace(companyID) == "" {
		return false, fmt.Errorf("%w: empty company id", domain.ErrValidation)
	}
	e, err := u.Snapshot(ctx, userID, now)
	if err != nil {
		return false, err
	}
	return e.AccessVia(companyID) != ViaNone, nil
}

func (u *entitlementUC) HasCustomReportAccess(ctx context.Context, userID string) (bool, error) {
	e, err := u.Snapshot(ctx, userID, u.now())
	if err != nil {
		return false, err
	}
	return e.CustomReportAccess, nil
}

func (u *entitlementUC) GetSubscriptionEndDate(ctx context.Context, userID string, now time.Time) (*time.Time, error) {
	e, err := u.Snapshot(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	return e.SubscriptionEndDate, nil
}

func (u *entitlementUC) GetTrialEndDate(ctx context.Context, userID string, now time.Time) (*time.Time, error) {
	e, err := u.Snapshot(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	return e.TrialEndDate, nil
}

func (u *entitlementUC) Snapshot(ctx context.Context, userID string, now time.Time) (*Entitlements, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: empty user id", domain.ErrValidation)
	}
	list, err := u.purchases.ListByUser(ctx, repository.NoTX, userID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logging.With(ctx, u.log).Error().Err(err).Str("user_id", userID).Msg("list purchases failed")
		}
		return nil, err
	}
	return Resolve(userID, list, now), nil
}

// Resolve evaluates the grants in purchases at now. All expiry comparisons
// are strict: a grant ending at T is inactive at T.
func Resolve(userID string, purchases []*model.Purchase, now time.Time) *Entitlements {
	e := &Entitlements{UserID: userID, At: now, ReportCompanies: []string{}}
	for _, p := range purchases {
		if p.UserID != userID {
			continue
		}
		switch p.Type {
		case model.PurchaseTypeSnapshotPlan:
			end, ok := p.SubscriptionEndDate()
			if ok && end.After(now) {
				e.SnapshotPlan = true
				e.SubscriptionEndDate = later(e.SubscriptionEndDate, end)
			}
		case model.PurchaseTypeTrial:
			e.UsedTrial = true
			end, ok := p.TrialEndDate()
			if ok && end.After(now) {
				e.ActiveTrial = true
				e.TrialEndDate = later(e.TrialEndDate, end)
			}
		case model.PurchaseTypeSingleReport:
			if p.Status.GrantsReportAccess() && !slices.Contains(e.ReportCompanies, p.CompanyID) {
				e.ReportCompanies = append(e.ReportCompanies, p.CompanyID)
			}
		case model.PurchaseTypeCustomReport:
			if p.Status.GrantsReportAccess() {
				e.CustomReportAccess = true
			}
		}
	}
	slices.Sort(e.ReportCompanies)
	return e
}

func later(cur *time.Time, t time.Time) *time.Time {
	if cur != nil && !t.After(*cur) {
		return cur
	}
	return &t
}
