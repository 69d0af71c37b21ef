package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"khip-entitlements/internal/domain"
	"khip-entitlements/internal/domain/model"
	"khip-entitlements/internal/domain/ports/repository"
	"khip-entitlements/internal/infra/logging"
	"khip-entitlements/internal/infra/metrics"
)

// CreatePurchaseInput is what the checkout collaborator posts once per
// confirmed payment.
type CreatePurchaseInput struct {
	UserID      string `json:"userId" validate:"required,max=128"`
	Type        string `json:"type" validate:"required,oneof=single-report snapshot-plan custom-report trial"`
	CompanyID   string `json:"companyId" validate:"required_if=Type single-report,max=128"`
	CompanyName string `json:"companyName" validate:"max=256"`
	Amount      int64  `json:"amount" validate:"gte=0"`
	Currency    string `json:"currency" validate:"omitempty,len=3,alpha"`
}

// PurchaseSummary backs the profile page.
type PurchaseSummary struct {
	UserID              string     `json:"userId"`
	Tier                string     `json:"tier"` // premium while a snapshot plan is active
	Purchases           int        `json:"purchases"`
	ReportsDelivered    int        `json:"reportsDelivered"`
	ReportsInProgress   int        `json:"reportsInProgress"`
	ActiveSubscriptions int        `json:"activeSubscriptions"`
	SubscriptionEndDate *time.Time `json:"subscriptionEndDate,omitempty"`
	TrialEndDate        *time.Time `json:"trialEndDate,omitempty"`
	TotalSpent          int64      `json:"totalSpent"` // minor units of the default currency
}

// Compile-time check
var _ PurchaseUseCase = (*purchaseUC)(nil)

type PurchaseUseCase interface {
	Create(ctx context.Context, in CreatePurchaseInput) (*model.Purchase, error)
	// StartTrial grants the one-time 7 day trial.
	StartTrial(ctx context.Context, userID string) (*model.Purchase, error)
	// History lists the user's purchases newest first.
	History(ctx context.Context, userID string) ([]*model.Purchase, error)
	Summary(ctx context.Context, userID string, now time.Time) (*PurchaseSummary, error)
}

type TrialLimit struct {
	PerHour int
}

type purchaseUC struct {
	purchases    repository.PurchaseRepository
	entitlements EntitlementUseCase
	limiter      Limiter
	trialLimit   TrialLimit
	validate     *validator.Validate
	log          *zerolog.Logger
}

// NewPurchaseUseCase builds the checkout intake; limiter may be nil.
func NewPurchaseUseCase(purchases repository.PurchaseRepository, entitlements EntitlementUseCase, limiter Limiter, trialLimit TrialLimit, logger *zerolog.Logger) *purchaseUC {
	l := logger.With().Str("component", "purchases").Logger()
	if trialLimit.PerHour <= 0 {
		trialLimit.PerHour = 3
	}
	return &purchaseUC{
		purchases:    purchases,
		entitlements: entitlements,
		limiter:      limiter,
		trialLimit:   trialLimit,
		validate:     validator.New(),
		log:          &l,
	}
}

func (u *purchaseUC) Create(ctx context.Context, in CreatePurchaseInput) (*model.Purchase, error) {
	defer logging.TraceDuration(u.log, "PurchaseUC.Create")()
	if err := u.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, describeValidation(err))
	}
	if model.PurchaseType(in.Type) == model.PurchaseTypeTrial {
		return u.StartTrial(ctx, in.UserID)
	}
	return u.record(ctx, model.PurchaseInput{
		UserID:      in.UserID,
		Type:        model.PurchaseType(in.Type),
		CompanyID:   in.CompanyID,
		CompanyName: in.CompanyName,
		Amount:      in.Amount,
		Currency:    in.Currency,
	})
}

func (u *purchaseUC) StartTrial(ctx context.Context, userID string) (*model.Purchase, error) {
	defer logging.TraceDuration(u.log, "PurchaseUC.StartTrial")()
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: empty user id", domain.ErrValidation)
	}
	log := logging.With(logging.WithUserID(ctx, userID), u.log)

	if u.limiter != nil {
		ok, err := u.limiter.Allow(ctx, trialLimitKey(userID), u.trialLimit.PerHour, time.Hour)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("trial limiter unavailable")
		case !ok:
			return nil, fmt.Errorf("%w: too many trial attempts", domain.ErrRateLimited)
		}
	}

	// fast path; the store's uniqueness constraint is the real guard
	used, err := u.entitlements.HasUsedTrial(ctx, userID)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, fmt.Errorf("%w: user %s", domain.ErrTrialAlreadyUsed, userID)
	}
	return u.record(ctx, model.PurchaseInput{UserID: userID, Type: model.PurchaseTypeTrial})
}

func (u *purchaseUC) History(ctx context.Context, userID string) ([]*model.Purchase, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: empty user id", domain.ErrValidation)
	}
	list, err := u.purchases.ListByUser(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	slices.Reverse(list)
	return list, nil
}

func (u *purchaseUC) Summary(ctx context.Context, userID string, now time.Time) (*PurchaseSummary, error) {
	list, err := u.History(ctx, userID)
	if err != nil {
		return nil, err
	}
	e := Resolve(userID, list, now)
	s := &PurchaseSummary{
		UserID:              userID,
		Tier:                "free",
		Purchases:           len(list),
		SubscriptionEndDate: e.SubscriptionEndDate,
		TrialEndDate:        e.TrialEndDate,
	}
	if e.SnapshotPlan {
		s.Tier = "premium"
	}
	for _, p := range list {
		if p.Currency == model.DefaultCurrency && p.Status != model.PurchaseStatusFailed {
			s.TotalSpent += p.Amount
		}
		switch {
		case p.Status == model.PurchaseStatusDelivered:
			s.ReportsDelivered++
		case p.IsReport() && p.Status.GrantsReportAccess():
			s.ReportsInProgress++
		}
		if end, ok := p.SubscriptionEndDate(); ok && end.After(now) {
			s.ActiveSubscriptions++
		}
	}
	return s, nil
}

func (u *purchaseUC) record(ctx context.Context, in model.PurchaseInput) (*model.Purchase, error) {
	p, err := u.purchases.Create(ctx, repository.NoTX, in)
	if err != nil {
		if !errors.Is(err, domain.ErrValidation) && !errors.Is(err, domain.ErrTrialAlreadyUsed) {
			logging.With(ctx, u.log).Error().Err(err).Str("type", string(in.Type)).Msg("create purchase failed")
		}
		return nil, err
	}
	metrics.IncPurchaseCreated(p.Type)
	logging.With(logging.WithPurchaseID(ctx, p.ID), u.log).Info().
		Str("user_id", p.UserID).Str("type", string(p.Type)).Str("company_id", p.CompanyID).Int64("amount", p.Amount).
		Msg("purchase recorded")
	return p, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
