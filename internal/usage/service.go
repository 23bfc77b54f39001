package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/echowrite-ai/echowrite-backend/internal/catalog"
	"github.com/echowrite-ai/echowrite-backend/internal/subscriptions"
	"github.com/echowrite-ai/echowrite-backend/pkg/db/models"
	"github.com/echowrite-ai/echowrite-backend/pkg/enums"
	pkgerrors "github.com/echowrite-ai/echowrite-backend/pkg/errors"
	"github.com/echowrite-ai/echowrite-backend/pkg/logger"
	"github.com/echowrite-ai/echowrite-backend/pkg/metrics"
	"github.com/echowrite-ai/echowrite-backend/pkg/timeutil"
	"github.com/google/uuid"
)

const usageEventsTable = "usage_events"

// Decision is the outcome of a quota check. Limit and Remaining are nil for
// unlimited plans.
type Decision struct {
	Allowed   bool         `json:"allowed"`
	Plan      enums.PlanID `json:"plan"`
	Used      int64        `json:"used"`
	Limit     *int         `json:"limit"`
	Remaining *int         `json:"remaining"`
}

type planResolver interface {
	EffectivePlan(ctx context.Context, userID uuid.UUID, now time.Time) (enums.PlanID, subscriptions.Degradation)
}

type planSource interface {
	Get(id enums.PlanID) (catalog.Plan, bool)
}

type tableProbe interface {
	Exists(ctx context.Context, table string) (bool, error)
}

// reservationStore is the optional redis surface backing atomic quota
// reservations.
type reservationStore interface {
	IncrByWithTTL(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error)
	DecrBy(ctx context.Context, key string, n int64) (int64, error)
	QuotaKey(userID, quotaType, day string) string
}

// Service is the usage quota engine.
type Service interface {
	Consume(ctx context.Context, userID uuid.UUID, quotaType enums.QuotaType, units int, tz string) (Decision, error)
	Peek(ctx context.Context, userID uuid.UUID, quotaType enums.QuotaType, tz string) (Decision, error)
	Record(ctx context.Context, userID uuid.UUID, quotaType enums.QuotaType, tokens int64) error
	Release(ctx context.Context, userID uuid.UUID, quotaType enums.QuotaType, units int, tz string) error
}

// ServiceParams groups dependencies for the quota engine.
type ServiceParams struct {
	Repo         Repository
	Plans        planSource
	Subscription planResolver
	Probe        tableProbe
	Reservations reservationStore
	Metrics      *metrics.BillingMetrics
	Logger       *logger.Logger
	Now          func() time.Time
}

type service struct {
	repo         Repository
	plans        planSource
	subscription planResolver
	probe        tableProbe
	reservations reservationStore
	metrics      *metrics.BillingMetrics
	logg         *logger.Logger
	now          func() time.Time
}

// NewService builds the quota engine. Reservations is optional; without it
// quota checks fall back to database count-then-act.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("usage repo required")
	}
	if params.Plans == nil {
		return nil, fmt.Errorf("plan source required")
	}
	if params.Subscription == nil {
		return nil, fmt.Errorf("subscription resolver required")
	}
	if params.Probe == nil {
		return nil, fmt.Errorf("table probe required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:         params.Repo,
		plans:        params.Plans,
		subscription: params.Subscription,
		probe:        params.Probe,
		reservations: params.Reservations,
		metrics:      params.Metrics,
		logg:         params.Logger,
		now:          now,
	}, nil
}

// Consume decides whether the user may perform units more actions of the
// given type today. Denials return a USAGE_LIMIT_EXCEEDED error carrying the
// decision details alongside the decision itself.
func (s *service) Consume(ctx context.Context, userID uuid.UUID, quotaType enums.QuotaType, units int, tz string) (Decision, error) {
	if userID == uuid.Nil {
		return Decision{}, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !quotaType.IsValid() {
		return Decision{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid quota type %q", quotaType))
	}
	if units <= 0 {
		return Decision{}, pkgerrors.New(pkgerrors.CodeValidation, "units must be positive")
	}

	now := s.now()
	decision := s.decide(ctx, userID, quotaType, units, tz, now)

	if decision.Allowed {
		s.metrics.IncQuotaDecision(quotaType.String(), "allowed")
		return decision, nil
	}

	s.metrics.IncQuotaDecision(quotaType.String(), "denied")
	return decision, pkgerrors.New(pkgerrors.CodeQuotaExceeded, "daily usage limit reached").
		WithDetails(map[string]any{
			"plan":      decision.Plan,
			"type":      quotaType,
			"used":      decision.Used,
			"limit":     decision.Limit,
			"remaining": decision.Remaining,
		})
}

// Peek reports current usage without reserving anything.
func (s *service) Peek(ctx context.Context, userID uuid.UUID, quotaType enums.QuotaType, tz string) (Decision, error) {
	if userID == uuid.Nil {
		return Decision{}, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !quotaType.IsValid() {
		return Decision{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid quota type %q", quotaType))
	}

	now := s.now()
	plan, limit := s.effectiveLimit(ctx, userID, quotaType, now)
	used := s.countUsed(ctx, userID, quotaType, tz, now)

	decision := Decision{Allowed: true, Plan: plan, Used: used}
	if limit != nil {
		decision.Limit = limit
		remaining := *limit - int(used)
		if remaining < 0 {
			remaining = 0
		}
		decision.Remaining = &remaining
		decision.Allowed = used < int64(*limit)
	}
	return decision, nil
}

// Record appends a usage event after a successful metered call.
func (s *service) Record(ctx context.Context, userID uuid.UUID, quotaType enums.QuotaType, tokens int64) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	event := &models.UsageEvent{
		UserID:   userID,
		Endpoint: quotaType.String(),
		Tokens:   tokens,
	}
	if err := s.repo.CreateEvent(ctx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording usage event")
	}
	return nil
}

// Release hands back a consumed reservation when the metered call fails
// after the quota check, so the failed attempt does not count against the
// day. No-op without a reservation store; the database never saw the event.
func (s *service) Release(ctx context.Context, userID uuid.UUID, quotaType enums.QuotaType, units int, tz string) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !quotaType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid quota type %q", quotaType))
	}
	if units <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "units must be positive")
	}
	if s.reservations == nil {
		return nil
	}

	now := s.now()
	day := timeutil.LocalDate(tz, now)
	key := s.reservations.QuotaKey(userID.String(), quotaType.String(), day)
	if _, err := s.reservations.DecrBy(ctx, key, int64(units)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "releasing quota reservation")
	}
	return nil
}

func (s *service) decide(ctx context.Context, userID uuid.UUID, quotaType enums.QuotaType, units int, tz string, now time.Time) Decision {
	plan, limit := s.effectiveLimit(ctx, userID, quotaType, now)

	if limit == nil {
		// Unlimited plans never consult the reservation counter.
		used := s.countUsed(ctx, userID, quotaType, tz, now)
		return Decision{Allowed: true, Plan: plan, Used: used}
	}

	if s.reservations != nil {
		if decision, ok := s.reserve(ctx, userID, quotaType, units, tz, now, plan, *limit); ok {
			return decision
		}
		// Reservation store unavailable; fall through to the database count.
	}

	used := s.countUsed(ctx, userID, quotaType, tz, now)
	return buildDecision(plan, used, *limit, units)
}

// reserve performs the atomic increment-and-compare against redis, rolling
// back the reservation when the check denies.
func (s *service) reserve(ctx context.Context, userID uuid.UUID, quotaType enums.QuotaType, units int, tz string, now time.Time, plan enums.PlanID, limit int) (Decision, bool) {
	day := timeutil.LocalDate(tz, now)
	key := s.reservations.QuotaKey(userID.String(), quotaType.String(), day)
	ttl := timeutil.UntilEndOfDay(tz, now)

	afterReserve, err := s.reservations.IncrByWithTTL(ctx, key, int64(units), ttl)
	if err != nil {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithQuotaType(ctx, quotaType.String()), "quota reservation store unavailable, falling back to database count")
		}
		return Decision{}, false
	}

	used := afterReserve - int64(units)
	if afterReserve > int64(limit) {
		if _, rollbackErr := s.reservations.DecrBy(ctx, key, int64(units)); rollbackErr != nil && s.logg != nil {
			s.logg.Warn(s.logg.WithQuotaType(ctx, quotaType.String()), "releasing denied quota reservation failed")
		}
		return buildDecision(plan, used, limit, units), true
	}
	return buildDecision(plan, used, limit, units), true
}

func (s *service) effectiveLimit(ctx context.Context, userID uuid.UUID, quotaType enums.QuotaType, now time.Time) (enums.PlanID, *int) {
	planID, _ := s.subscription.EffectivePlan(ctx, userID, now)
	plan, ok := s.plans.Get(planID)
	if !ok {
		// Unknown plan ids gate as free.
		planID = enums.PlanFree
		plan, _ = s.plans.Get(planID)
	}
	return planID, plan.LimitFor(quotaType)
}

// countUsed counts today's usage events, failing open to zero when the table
// is missing or the store is unreachable.
func (s *service) countUsed(ctx context.Context, userID uuid.UUID, quotaType enums.QuotaType, tz string, now time.Time) int64 {
	exists, err := s.probe.Exists(ctx, usageEventsTable)
	if err != nil || !exists {
		s.metrics.IncQuotaDecision(quotaType.String(), "degraded")
		return 0
	}

	start, end := timeutil.DayBounds(tz, now)
	used, err := s.repo.CountInWindow(ctx, userID, quotaType.String(), start, end)
	if err != nil {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithQuotaType(ctx, quotaType.String()), "usage count failed, treating as zero")
		}
		s.metrics.IncQuotaDecision(quotaType.String(), "degraded")
		return 0
	}
	return used
}

func buildDecision(plan enums.PlanID, used int64, limit, units int) Decision {
	remaining := limit - int(used)
	if remaining < 0 {
		remaining = 0
	}
	lim := limit
	return Decision{
		Allowed:   used+int64(units) <= int64(limit),
		Plan:      plan,
		Used:      used,
		Limit:     &lim,
		Remaining: &remaining,
	}
}
