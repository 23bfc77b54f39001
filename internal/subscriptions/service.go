package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/echowrite-ai/echowrite-backend/pkg/db"
	"github.com/echowrite-ai/echowrite-backend/pkg/db/models"
	"github.com/echowrite-ai/echowrite-backend/pkg/enums"
	pkgerrors "github.com/echowrite-ai/echowrite-backend/pkg/errors"
	"github.com/echowrite-ai/echowrite-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"
)

const subscriptionsTable = "subscriptions"

// Degradation marks a read that fell back to the synthetic free/active row
// instead of confirmed store state. Empty means the row is authoritative.
type Degradation string

const (
	DegradationNone         Degradation = ""
	DegradationTableMissing Degradation = "table_missing"
	DegradationUnreachable  Degradation = "store_unreachable"
)

// Degraded reports whether the read fell back to the synthetic default.
func (d Degradation) Degraded() bool { return d != DegradationNone }

type tableProbe interface {
	Exists(ctx context.Context, table string) (bool, error)
}

type providerClient interface {
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*stripe.Subscription, error)
}

// Service is the subscription state store.
type Service interface {
	Ensure(ctx context.Context, userID uuid.UUID) (*models.Subscription, Degradation, error)
	EffectivePlan(ctx context.Context, userID uuid.UUID, now time.Time) (enums.PlanID, Degradation)
	CancelAtPeriodEnd(ctx context.Context, userID uuid.UUID) error
}

// ServiceParams groups dependencies for the subscription state store.
type ServiceParams struct {
	Repo     Repository
	Probe    tableProbe
	Provider providerClient
	Logger   *logger.Logger
	Now      func() time.Time
}

type service struct {
	repo     Repository
	probe    tableProbe
	provider providerClient
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the subscription state store. Provider is optional; when
// absent CancelAtPeriodEnd reports a configuration error.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repo required")
	}
	if params.Probe == nil {
		return nil, fmt.Errorf("table probe required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:     params.Repo,
		probe:    params.Probe,
		provider: params.Provider,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// syntheticDefault is the free/active row served when the store is degraded.
func syntheticDefault(userID uuid.UUID) *models.Subscription {
	return &models.Subscription{
		UserID: userID,
		PlanID: enums.PlanFree,
		Status: enums.SubscriptionStatusActive,
	}
}

// Ensure returns the user's subscription row, lazily creating a free/active
// one. Infrastructure failures degrade to a synthetic free/active row with an
// explicit reason rather than erroring the request.
func (s *service) Ensure(ctx context.Context, userID uuid.UUID) (*models.Subscription, Degradation, error) {
	if userID == uuid.Nil {
		return nil, DegradationNone, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	exists, err := s.probe.Exists(ctx, subscriptionsTable)
	if err != nil {
		s.warnDegraded(ctx, userID, DegradationUnreachable, err)
		return syntheticDefault(userID), DegradationUnreachable, nil
	}
	if !exists {
		s.warnDegraded(ctx, userID, DegradationTableMissing, nil)
		return syntheticDefault(userID), DegradationTableMissing, nil
	}

	sub, err := s.repo.FindByUserID(ctx, userID)
	if err == nil {
		return sub, DegradationNone, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.warnDegraded(ctx, userID, DegradationUnreachable, err)
		return syntheticDefault(userID), DegradationUnreachable, nil
	}

	created := syntheticDefault(userID)
	if err := s.repo.Create(ctx, created); err != nil {
		if db.IsUniqueViolation(err, "") {
			// Concurrent ensure won the insert.
			if existing, findErr := s.repo.FindByUserID(ctx, userID); findErr == nil {
				return existing, DegradationNone, nil
			}
		}
		s.warnDegraded(ctx, userID, DegradationUnreachable, err)
		return syntheticDefault(userID), DegradationUnreachable, nil
	}
	return created, DegradationNone, nil
}

// EffectivePlan resolves the plan entitlement checks should apply. Degraded
// reads and lapsed paid subscriptions both resolve to free.
func (s *service) EffectivePlan(ctx context.Context, userID uuid.UUID, now time.Time) (enums.PlanID, Degradation) {
	sub, degradation, err := s.Ensure(ctx, userID)
	if err != nil || sub == nil {
		return enums.PlanFree, degradation
	}
	if IsPaidAndActive(sub, now) {
		return sub.PlanID, degradation
	}
	return enums.PlanFree, degradation
}

// IsPaidAndActive implements the paid-entitlement predicate: a non-free plan
// whose period has not lapsed, in a live status or inside the on_hold grace
// window.
func IsPaidAndActive(sub *models.Subscription, now time.Time) bool {
	if sub == nil || sub.PlanID == enums.PlanFree {
		return false
	}
	if sub.CurrentPeriodEnd != nil && !sub.CurrentPeriodEnd.After(now) {
		return false
	}
	switch sub.Status {
	case enums.SubscriptionStatusActive, enums.SubscriptionStatusTrialing, enums.SubscriptionStatusRenewed:
		return true
	case enums.SubscriptionStatusOnHold:
		return sub.GracePeriodEnds != nil && sub.GracePeriodEnds.After(now)
	default:
		return false
	}
}

// CancelAtPeriodEnd flags the remote subscription non-renewing, then mirrors
// the flag locally best-effort. Remote state is authoritative: a failed local
// mirror is still success.
func (s *service) CancelAtPeriodEnd(ctx context.Context, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if s.provider == nil {
		return pkgerrors.New(pkgerrors.CodeConfig, "payment provider is not configured")
	}

	sub, degradation, err := s.Ensure(ctx, userID)
	if err != nil {
		return err
	}
	if degradation.Degraded() || sub.ProviderSubscriptionID == nil || *sub.ProviderSubscriptionID == "" {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "no provider subscription to cancel")
	}

	if _, err := s.provider.SetCancelAtPeriodEnd(ctx, *sub.ProviderSubscriptionID, true); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "flagging provider subscription non-renewing (check api key, environment, and subscription id)")
	}

	if err := s.repo.SetCancelAtPeriodEnd(ctx, userID, true, s.now()); err != nil {
		if s.logg != nil {
			ctx := s.logg.WithUserID(ctx, userID.String())
			s.logg.Warn(ctx, "cancel flag mirrored remotely but local write failed")
		}
	}
	return nil
}

func (s *service) warnDegraded(ctx context.Context, userID uuid.UUID, reason Degradation, cause error) {
	if s.logg == nil {
		return
	}
	fields := map[string]any{"user_id": userID.String(), "reason": string(reason)}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	s.logg.Warn(s.logg.WithFields(ctx, fields), "subscription store degraded, serving free tier")
}
