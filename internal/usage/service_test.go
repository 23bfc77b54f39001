package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/echowrite-ai/echowrite-backend/internal/catalog"
	"github.com/echowrite-ai/echowrite-backend/internal/subscriptions"
	"github.com/echowrite-ai/echowrite-backend/pkg/db/models"
	"github.com/echowrite-ai/echowrite-backend/pkg/enums"
	pkgerrors "github.com/echowrite-ai/echowrite-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type stubUsageRepo struct {
	count    int64
	countErr error
	window   struct {
		start, end time.Time
		endpoint   string
	}
	created []*models.UsageEvent
	failAdd error
}

func (s *stubUsageRepo) CountInWindow(ctx context.Context, userID uuid.UUID, endpoint string, start, end time.Time) (int64, error) {
	s.window.start = start
	s.window.end = end
	s.window.endpoint = endpoint
	return s.count, s.countErr
}

func (s *stubUsageRepo) CreateEvent(ctx context.Context, event *models.UsageEvent) error {
	if s.failAdd != nil {
		return s.failAdd
	}
	s.created = append(s.created, event)
	return nil
}

func (s *stubUsageRepo) WithTx(tx *gorm.DB) Repository { return s }

type stubPlanSource struct {
	plans []catalog.Plan
}

func (s *stubPlanSource) Get(id enums.PlanID) (catalog.Plan, bool) {
	for _, plan := range s.plans {
		if plan.ID == id {
			return plan, true
		}
	}
	return catalog.Plan{}, false
}

type stubResolver struct {
	plan enums.PlanID
}

func (s *stubResolver) EffectivePlan(ctx context.Context, userID uuid.UUID, now time.Time) (enums.PlanID, subscriptions.Degradation) {
	return s.plan, subscriptions.DegradationNone
}

type stubUsageProbe struct {
	exists bool
	err    error
}

func (s *stubUsageProbe) Exists(ctx context.Context, table string) (bool, error) {
	return s.exists, s.err
}

type stubReservations struct {
	counters  map[string]int64
	ttls      map[string]time.Duration
	incrErr   error
	decrCalls int
}

func newStubReservations() *stubReservations {
	return &stubReservations{counters: make(map[string]int64), ttls: make(map[string]time.Duration)}
}

func (s *stubReservations) IncrByWithTTL(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	if s.incrErr != nil {
		return 0, s.incrErr
	}
	s.counters[key] += n
	if s.counters[key] == n {
		s.ttls[key] = ttl
	}
	return s.counters[key], nil
}

func (s *stubReservations) DecrBy(ctx context.Context, key string, n int64) (int64, error) {
	s.decrCalls++
	s.counters[key] -= n
	return s.counters[key], nil
}

func (s *stubReservations) QuotaKey(userID, quotaType, day string) string {
	return "ew:quota:" + userID + ":" + quotaType + ":" + day
}

func newTestService(t *testing.T, repo *stubUsageRepo, plan enums.PlanID, probe *stubUsageProbe, reservations *stubReservations, now time.Time) Service {
	t.Helper()
	params := ServiceParams{
		Repo:         repo,
		Plans:        &stubPlanSource{plans: catalog.StaticPlans(5, 2, "", "")},
		Subscription: &stubResolver{plan: plan},
		Probe:        probe,
		Now:          func() time.Time { return now },
	}
	if reservations != nil {
		params.Reservations = reservations
	}
	svc, err := NewService(params)
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return svc
}

func TestConsumeAllowsUnderLimit(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	repo := &stubUsageRepo{count: 4}
	svc := newTestService(t, repo, enums.PlanFree, &stubUsageProbe{exists: true}, nil, now)

	decision, err := svc.Consume(context.Background(), uuid.New(), enums.QuotaTypeReply, 1, "UTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("4 of 5 used must allow one more")
	}
	if decision.Used != 4 {
		t.Fatalf("expected used 4 got %d", decision.Used)
	}
	if decision.Limit == nil || *decision.Limit != 5 {
		t.Fatalf("expected limit 5 got %v", decision.Limit)
	}
	if decision.Remaining == nil || *decision.Remaining != 1 {
		t.Fatalf("expected remaining 1 got %v", decision.Remaining)
	}
}

func TestConsumeDeniesAtLimit(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	repo := &stubUsageRepo{count: 5}
	svc := newTestService(t, repo, enums.PlanFree, &stubUsageProbe{exists: true}, nil, now)

	decision, err := svc.Consume(context.Background(), uuid.New(), enums.QuotaTypeReply, 1, "UTC")
	if err == nil {
		t.Fatal("expected a quota error")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeQuotaExceeded {
		t.Fatalf("expected USAGE_LIMIT_EXCEEDED, got %v", err)
	}
	if decision.Allowed {
		t.Fatal("decision must deny at the limit")
	}
	if decision.Remaining == nil || *decision.Remaining != 0 {
		t.Fatalf("expected remaining 0 got %v", decision.Remaining)
	}
}

func TestConsumePaidPlanIsUnlimited(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	repo := &stubUsageRepo{count: 5000}
	svc := newTestService(t, repo, enums.PlanPro, &stubUsageProbe{exists: true}, nil, now)

	decision, err := svc.Consume(context.Background(), uuid.New(), enums.QuotaTypeReply, 1, "UTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("paid plans must not be limited")
	}
	if decision.Limit != nil || decision.Remaining != nil {
		t.Fatal("unlimited plans report nil limit and remaining")
	}
	if decision.Plan != enums.PlanPro {
		t.Fatalf("expected pro plan in decision, got %s", decision.Plan)
	}
}

func TestConsumeFailsOpenWhenUsageTableMissing(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	repo := &stubUsageRepo{count: 999}
	svc := newTestService(t, repo, enums.PlanFree, &stubUsageProbe{exists: false}, nil, now)

	decision, err := svc.Consume(context.Background(), uuid.New(), enums.QuotaTypeReply, 1, "UTC")
	if err != nil {
		t.Fatalf("missing usage table must not block requests: %v", err)
	}
	if !decision.Allowed || decision.Used != 0 {
		t.Fatalf("expected fail-open with used 0, got allowed=%v used=%d", decision.Allowed, decision.Used)
	}
}

func TestConsumeFailsOpenOnCountError(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	repo := &stubUsageRepo{countErr: errors.New("connection refused")}
	svc := newTestService(t, repo, enums.PlanFree, &stubUsageProbe{exists: true}, nil, now)

	decision, err := svc.Consume(context.Background(), uuid.New(), enums.QuotaTypeReply, 1, "UTC")
	if err != nil {
		t.Fatalf("count failure must not block requests: %v", err)
	}
	if !decision.Allowed || decision.Used != 0 {
		t.Fatalf("expected fail-open with used 0, got allowed=%v used=%d", decision.Allowed, decision.Used)
	}
}

func TestConsumeUsesLocalDayWindow(t *testing.T) {
	// 01:30 UTC on the 15th is still the evening of the 14th in New York.
	now := time.Date(2026, 1, 15, 1, 30, 0, 0, time.UTC)
	repo := &stubUsageRepo{count: 0}
	svc := newTestService(t, repo, enums.PlanFree, &stubUsageProbe{exists: true}, nil, now)

	if _, err := svc.Consume(context.Background(), uuid.New(), enums.QuotaTypeTweet, 1, "America/New_York"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantStart := time.Date(2026, 1, 14, 5, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 1, 15, 5, 0, 0, 0, time.UTC)
	if !repo.window.start.Equal(wantStart) || !repo.window.end.Equal(wantEnd) {
		t.Fatalf("window [%v, %v) does not match the New York local day", repo.window.start, repo.window.end)
	}
	if repo.window.endpoint != "tweet" {
		t.Fatalf("expected tweet endpoint, got %q", repo.window.endpoint)
	}
}

func TestConsumeReservesAtomicallyViaRedis(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	repo := &stubUsageRepo{count: 999}
	reservations := newStubReservations()
	userID := uuid.New()
	svc := newTestService(t, repo, enums.PlanFree, &stubUsageProbe{exists: true}, reservations, now)

	decision, err := svc.Consume(context.Background(), userID, enums.QuotaTypeTweet, 1, "UTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed || decision.Used != 0 {
		t.Fatalf("first reservation must allow with used 0, got allowed=%v used=%d", decision.Allowed, decision.Used)
	}

	key := reservations.QuotaKey(userID.String(), "tweet", "2026-01-15")
	if reservations.counters[key] != 1 {
		t.Fatalf("expected one reserved unit, got %d", reservations.counters[key])
	}
	if ttl, ok := reservations.ttls[key]; !ok || ttl != 12*time.Hour {
		t.Fatalf("expected TTL until end of day (12h), got %v", ttl)
	}
}

func TestConsumeRollsBackDeniedReservation(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	repo := &stubUsageRepo{}
	reservations := newStubReservations()
	userID := uuid.New()
	key := reservations.QuotaKey(userID.String(), "tweet", "2026-01-15")
	reservations.counters[key] = 2
	svc := newTestService(t, repo, enums.PlanFree, &stubUsageProbe{exists: true}, reservations, now)

	decision, err := svc.Consume(context.Background(), userID, enums.QuotaTypeTweet, 1, "UTC")
	if err == nil {
		t.Fatal("expected quota error at the tweet limit")
	}
	if decision.Allowed {
		t.Fatal("decision must deny")
	}
	if reservations.decrCalls != 1 {
		t.Fatalf("denied reservation must be released, decr calls=%d", reservations.decrCalls)
	}
	if reservations.counters[key] != 2 {
		t.Fatalf("counter must return to pre-check value, got %d", reservations.counters[key])
	}
}

func TestConsumeFallsBackToDatabaseWhenRedisUnavailable(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	repo := &stubUsageRepo{count: 1}
	reservations := newStubReservations()
	reservations.incrErr = errors.New("connection refused")
	svc := newTestService(t, repo, enums.PlanFree, &stubUsageProbe{exists: true}, reservations, now)

	decision, err := svc.Consume(context.Background(), uuid.New(), enums.QuotaTypeTweet, 1, "UTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed || decision.Used != 1 {
		t.Fatalf("expected database fallback with used 1, got allowed=%v used=%d", decision.Allowed, decision.Used)
	}
}

func TestConsumeRejectsInvalidInput(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, &stubUsageRepo{}, enums.PlanFree, &stubUsageProbe{exists: true}, nil, now)

	if _, err := svc.Consume(context.Background(), uuid.Nil, enums.QuotaTypeReply, 1, "UTC"); err == nil {
		t.Fatal("nil user id must fail")
	}
	if _, err := svc.Consume(context.Background(), uuid.New(), enums.QuotaType("podcast"), 1, "UTC"); err == nil {
		t.Fatal("unknown quota type must fail")
	}
	if _, err := svc.Consume(context.Background(), uuid.New(), enums.QuotaTypeReply, 0, "UTC"); err == nil {
		t.Fatal("zero units must fail")
	}
}

func TestPeekDoesNotReserve(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	repo := &stubUsageRepo{count: 2}
	reservations := newStubReservations()
	svc := newTestService(t, repo, enums.PlanFree, &stubUsageProbe{exists: true}, reservations, now)

	decision, err := svc.Peek(context.Background(), uuid.New(), enums.QuotaTypeReply, "UTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Used != 2 || decision.Remaining == nil || *decision.Remaining != 3 {
		t.Fatalf("unexpected peek state used=%d remaining=%v", decision.Used, decision.Remaining)
	}
	if len(reservations.counters) != 0 {
		t.Fatal("peek must not touch reservation counters")
	}
}

func TestReleaseReturnsReservedUnit(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	reservations := newStubReservations()
	userID := uuid.New()
	svc := newTestService(t, &stubUsageRepo{}, enums.PlanFree, &stubUsageProbe{exists: true}, reservations, now)

	if _, err := svc.Consume(context.Background(), userID, enums.QuotaTypeReply, 1, "UTC"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	key := reservations.QuotaKey(userID.String(), "reply", "2026-01-15")
	if reservations.counters[key] != 1 {
		t.Fatalf("expected one reserved unit, got %d", reservations.counters[key])
	}

	if err := svc.Release(context.Background(), userID, enums.QuotaTypeReply, 1, "UTC"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reservations.counters[key] != 0 {
		t.Fatalf("release must hand the unit back, counter=%d", reservations.counters[key])
	}
	if reservations.decrCalls != 1 {
		t.Fatalf("expected one decrement, got %d", reservations.decrCalls)
	}
}

func TestReleaseWithoutReservationStoreIsNoOp(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, &stubUsageRepo{}, enums.PlanFree, &stubUsageProbe{exists: true}, nil, now)

	if err := svc.Release(context.Background(), uuid.New(), enums.QuotaTypeReply, 1, "UTC"); err != nil {
		t.Fatalf("release without a store must succeed: %v", err)
	}
	if err := svc.Release(context.Background(), uuid.Nil, enums.QuotaTypeReply, 1, "UTC"); err == nil {
		t.Fatal("nil user id must fail")
	}
}

func TestRecordAppendsEvent(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	repo := &stubUsageRepo{}
	svc := newTestService(t, repo, enums.PlanFree, &stubUsageProbe{exists: true}, nil, now)
	userID := uuid.New()

	if err := svc.Record(context.Background(), userID, enums.QuotaTypeReply, 321); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected one event, got %d", len(repo.created))
	}
	event := repo.created[0]
	if event.UserID != userID || event.Endpoint != "reply" || event.Tokens != 321 {
		t.Fatalf("unexpected event %+v", event)
	}
}

// ledgerUsageRepo stores events with real timestamps so window counts react
// to a moving clock.
type ledgerUsageRepo struct {
	clock  *time.Time
	events []*models.UsageEvent
}

func (l *ledgerUsageRepo) CountInWindow(ctx context.Context, userID uuid.UUID, endpoint string, start, end time.Time) (int64, error) {
	var count int64
	for _, event := range l.events {
		if event.UserID != userID || event.Endpoint != endpoint {
			continue
		}
		if !event.CreatedAt.Before(start) && event.CreatedAt.Before(end) {
			count++
		}
	}
	return count, nil
}

func (l *ledgerUsageRepo) CreateEvent(ctx context.Context, event *models.UsageEvent) error {
	event.CreatedAt = *l.clock
	l.events = append(l.events, event)
	return nil
}

func (l *ledgerUsageRepo) WithTx(tx *gorm.DB) Repository { return l }

func TestFreeTierDeniesSixthRequestUntilDayRollover(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	repo := &ledgerUsageRepo{clock: &now}
	params := ServiceParams{
		Repo:         repo,
		Plans:        &stubPlanSource{plans: catalog.StaticPlans(5, 2, "", "")},
		Subscription: &stubResolver{plan: enums.PlanFree},
		Probe:        &stubUsageProbe{exists: true},
		Now:          func() time.Time { return now },
	}
	svc, err := NewService(params)
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	userID := uuid.New()

	for i := 0; i < 5; i++ {
		decision, err := svc.Consume(context.Background(), userID, enums.QuotaTypeReply, 1, "UTC")
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i+1, err)
		}
		if !decision.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if err := svc.Record(context.Background(), userID, enums.QuotaTypeReply, 10); err != nil {
			t.Fatalf("request %d: record: %v", i+1, err)
		}
	}

	if _, err := svc.Consume(context.Background(), userID, enums.QuotaTypeReply, 1, "UTC"); err == nil {
		t.Fatal("sixth request should be denied")
	} else if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeQuotaExceeded {
		t.Fatalf("expected quota exceeded, got %v", err)
	}

	now = now.Add(24 * time.Hour)

	decision, err := svc.Consume(context.Background(), userID, enums.QuotaTypeReply, 1, "UTC")
	if err != nil {
		t.Fatalf("next-day request should succeed: %v", err)
	}
	if !decision.Allowed || decision.Used != 0 {
		t.Fatalf("expected fresh window next day, got %+v", decision)
	}
}
