package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"khip-entitlements/internal/infra/logging"
	"khip-entitlements/internal/infra/metrics"
)

type AccessVia string

const (
	ViaSnapshotPlan AccessVia = "snapshot-plan"
	ViaTrial        AccessVia = "trial"
	ViaSingleReport AccessVia = "single-report"
	ViaNone         AccessVia = "none"
)

// Decision is the outcome of an authorization check. Via is informational;
// every granting type confers the same read access to a snapshot view.
type Decision struct {
	Granted bool      `json:"granted"`
	Via     AccessVia `json:"via"`
}

var denied = Decision{Granted: false, Via: ViaNone}

// Compile-time check
var _ AccessUseCase = (*accessUC)(nil)

// AccessUseCase is the single authorization checkpoint for report surfaces.
type AccessUseCase interface {
	// Authorize never returns an error: any failure is a denial.
	Authorize(ctx context.Context, userID, companyID string, now time.Time) Decision
}

type accessUC struct {
	entitlements EntitlementUseCase
	log          *zerolog.Logger
}

func NewAccessUseCase(entitlements EntitlementUseCase, logger *zerolog.Logger) *accessUC {
	l := logger.With().Str("component", "access_gateway").Logger()
	return &accessUC{entitlements: entitlements, log: &l}
}

func (u *accessUC) Authorize(ctx context.Context, userID, companyID string, now time.Time) (d Decision) {
	defer func() {
		metrics.IncAccessDecision(string(d.Via), d.Granted)
	}()
	defer func() {
		if r := recover(); r != nil {
			logging.With(ctx, u.log).Error().Interface("panic", r).Msg("authorize panicked, denying")
			d = denied
		}
	}()

	if strings.TrimSpace(userID) == "" || strings.TrimSpace(companyID) == "" {
		return denied
	}
	e, err := u.entitlements.Snapshot(ctx, userID, now)
	if err != nil {
		logging.With(ctx, u.log).Warn().Err(err).
			Str("user_id", userID).Str("company_id", companyID).
			Msg("entitlement lookup failed, denying")
		return denied
	}
	via := e.AccessVia(companyID)
	if via == ViaNone {
		return denied
	}
	return Decision{Granted: true, Via: via}
}
