package paymentwebhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/echowrite-ai/echowrite-backend/internal/payments"
	"github.com/echowrite-ai/echowrite-backend/internal/subscriptions"
	"github.com/echowrite-ai/echowrite-backend/pkg/db/models"
	"github.com/echowrite-ai/echowrite-backend/pkg/enums"
	pkgerrors "github.com/echowrite-ai/echowrite-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"
)

type stubSubsRepo struct {
	byUser map[uuid.UUID]*models.Subscription
}

func newStubSubsRepo() *stubSubsRepo {
	return &stubSubsRepo{byUser: make(map[uuid.UUID]*models.Subscription)}
}

func (s *stubSubsRepo) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	if sub, ok := s.byUser[userID]; ok {
		clone := *sub
		return &clone, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubSubsRepo) FindByProviderCustomerID(ctx context.Context, customerID string) (*models.Subscription, error) {
	for _, sub := range s.byUser {
		if sub.ProviderCustomerID != nil && *sub.ProviderCustomerID == customerID {
			clone := *sub
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubSubsRepo) Create(ctx context.Context, sub *models.Subscription) error {
	if _, exists := s.byUser[sub.UserID]; exists {
		return errors.New(`duplicate key value violates unique constraint "idx_subscriptions_user_id"`)
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	clone := *sub
	s.byUser[sub.UserID] = &clone
	return nil
}

func (s *stubSubsRepo) Save(ctx context.Context, sub *models.Subscription) error {
	clone := *sub
	s.byUser[sub.UserID] = &clone
	return nil
}

func (s *stubSubsRepo) SetCancelAtPeriodEnd(ctx context.Context, userID uuid.UUID, cancel bool, at time.Time) error {
	return nil
}

func (s *stubSubsRepo) WithTx(tx *gorm.DB) subscriptions.Repository { return s }

type stubPaymentsRepo struct {
	rows []*models.Payment
}

func (s *stubPaymentsRepo) FindByProviderPaymentID(ctx context.Context, provider, providerPaymentID string) (*models.Payment, error) {
	for _, row := range s.rows {
		if row.Provider == provider && row.ProviderPaymentID == providerPaymentID {
			return row, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubPaymentsRepo) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	s.rows = append(s.rows, payment)
	return nil
}

func (s *stubPaymentsRepo) ListByUser(ctx context.Context, userID uuid.UUID, cursor string, limit int) (payments.Page, error) {
	return payments.Page{}, nil
}

func (s *stubPaymentsRepo) WithTx(tx *gorm.DB) payments.Repository { return s }

type stubUsers struct {
	byID        map[uuid.UUID]*models.User
	mirrored    map[uuid.UUID]string
	mirrorError error
}

func newStubUsers() *stubUsers {
	return &stubUsers{byID: make(map[uuid.UUID]*models.User), mirrored: make(map[uuid.UUID]string)}
}

func (s *stubUsers) add(user *models.User) { s.byID[user.ID] = user }

func (s *stubUsers) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if user, ok := s.byID[id]; ok {
		return user, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, user := range s.byID {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubUsers) FindByProviderCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	for _, user := range s.byID {
		if user.ProviderCustomerID != nil && *user.ProviderCustomerID == customerID {
			return user, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubUsers) SetProviderCustomerID(ctx context.Context, id uuid.UUID, customerID string) error {
	if s.mirrorError != nil {
		return s.mirrorError
	}
	s.mirrored[id] = customerID
	return nil
}

type stubWebhookProvider struct {
	subs     map[string]*stripe.Subscription
	session  *stripe.CheckoutSession
	subErr   error
	sessErr  error
	subCalls int
}

func (s *stubWebhookProvider) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	s.subCalls++
	if s.subErr != nil {
		return nil, s.subErr
	}
	if sub, ok := s.subs[subscriptionID]; ok {
		return sub, nil
	}
	return nil, errors.New("no such subscription")
}

func (s *stubWebhookProvider) GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	if s.sessErr != nil {
		return nil, s.sessErr
	}
	return s.session, nil
}

const (
	starterProduct = "prod_starter"
	proProduct     = "prod_pro"
)

func newTestService(t *testing.T, subs *stubSubsRepo, pay *stubPaymentsRepo, users *stubUsers, provider *stubWebhookProvider, now time.Time) *Service {
	t.Helper()
	params := ServiceParams{
		Subscriptions:    subs,
		Payments:         pay,
		Users:            users,
		StarterProductID: starterProduct,
		ProProductID:     proProduct,
		Now:              func() time.Time { return now },
	}
	if provider != nil {
		params.Provider = provider
	}
	svc, err := NewService(params)
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return svc
}

func subscriptionEvent(t *testing.T, eventType stripe.EventType, created time.Time, payload map[string]any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &stripe.Event{
		ID:      "evt_" + uuid.NewString(),
		Type:    eventType,
		Created: created.Unix(),
		Data:    &stripe.EventData{Raw: raw},
	}
}

func invoiceEvent(eventType stripe.EventType, created time.Time, object map[string]any) *stripe.Event {
	return &stripe.Event{
		ID:      "evt_" + uuid.NewString(),
		Type:    eventType,
		Created: created.Unix(),
		Data:    &stripe.EventData{Raw: []byte(`{}`), Object: object},
	}
}

func subscriptionPayload(userID uuid.UUID, subID, customerID, productID, status string, periodStart, periodEnd time.Time) map[string]any {
	return map[string]any{
		"id":       subID,
		"status":   status,
		"customer": map[string]any{"id": customerID},
		"metadata": map[string]any{"user_id": userID.String()},
		"items": map[string]any{
			"data": []map[string]any{{
				"price":                map[string]any{"product": map[string]any{"id": productID}},
				"current_period_start": periodStart.Unix(),
				"current_period_end":   periodEnd.Unix(),
			}},
		},
	}
}

func TestProcessSubscriptionCreated(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	subs := newStubSubsRepo()
	svc := newTestService(t, subs, &stubPaymentsRepo{}, newStubUsers(), nil, now)
	userID := uuid.New()
	periodEnd := now.AddDate(0, 1, 0)

	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionCreated, now,
		subscriptionPayload(userID, "sub_1", "cus_1", starterProduct, "active", now, periodEnd))

	outcome, err := svc.Process(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Handled || outcome.UserID != userID {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	stored := subs.byUser[userID]
	if stored == nil {
		t.Fatal("subscription row not created")
	}
	if stored.PlanID != enums.PlanStarter || stored.Status != enums.SubscriptionStatusActive {
		t.Fatalf("unexpected state plan=%s status=%s", stored.PlanID, stored.Status)
	}
	if stored.CurrentPeriodEnd == nil || !stored.CurrentPeriodEnd.Equal(periodEnd) {
		t.Fatalf("period end not applied: %v", stored.CurrentPeriodEnd)
	}
	if stored.LastEventAt == nil || !stored.LastEventAt.Equal(now) {
		t.Fatalf("last event time not applied: %v", stored.LastEventAt)
	}
	if stored.ProviderSubscriptionID == nil || *stored.ProviderSubscriptionID != "sub_1" {
		t.Fatal("provider subscription id not mirrored")
	}
}

func TestProcessPausedSetsGraceAndEntitlementExpires(t *testing.T) {
	eventTime := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	subs := newStubSubsRepo()
	svc := newTestService(t, subs, &stubPaymentsRepo{}, newStubUsers(), nil, eventTime)
	userID := uuid.New()
	periodEnd := eventTime.AddDate(0, 1, 0)

	event := subscriptionEvent(t, "customer.subscription.paused", eventTime,
		subscriptionPayload(userID, "sub_1", "cus_1", proProduct, "paused", eventTime.AddDate(0, -1, 0), periodEnd))

	if _, err := svc.Process(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := subs.byUser[userID]
	if stored.Status != enums.SubscriptionStatusOnHold {
		t.Fatalf("expected on_hold, got %s", stored.Status)
	}
	wantGrace := eventTime.Add(72 * time.Hour)
	if stored.GracePeriodEnds == nil || !stored.GracePeriodEnds.Equal(wantGrace) {
		t.Fatalf("expected grace until %v, got %v", wantGrace, stored.GracePeriodEnds)
	}

	if !subscriptions.IsPaidAndActive(stored, eventTime.Add(24*time.Hour)) {
		t.Fatal("entitlements must survive inside the grace window")
	}
	if subscriptions.IsPaidAndActive(stored, wantGrace.Add(time.Second)) {
		t.Fatal("entitlements must expire after the grace window")
	}
}

func TestProcessRejectsOutOfOrderEvent(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	subs := newStubSubsRepo()
	userID := uuid.New()
	applied := now.Add(-time.Minute)
	subs.byUser[userID] = &models.Subscription{
		ID:          uuid.New(),
		UserID:      userID,
		PlanID:      enums.PlanPro,
		Status:      enums.SubscriptionStatusRenewed,
		LastEventAt: &applied,
	}
	svc := newTestService(t, subs, &stubPaymentsRepo{}, newStubUsers(), nil, now)

	// Delivered late: the provider timestamp predates the applied state.
	stale := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, now.Add(-time.Hour),
		subscriptionPayload(userID, "sub_1", "cus_1", starterProduct, "active", now.AddDate(0, -1, 0), now.AddDate(0, 1, 0)))

	outcome, err := svc.Process(context.Background(), stale)
	if err != nil {
		t.Fatalf("stale events are acknowledged, not errored: %v", err)
	}
	if outcome.Handled {
		t.Fatal("stale event must not be applied")
	}
	if subs.byUser[userID].PlanID != enums.PlanPro || subs.byUser[userID].Status != enums.SubscriptionStatusRenewed {
		t.Fatal("stored state must be untouched")
	}
}

func TestProcessInvoicePaidDedupesRedelivery(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	subs := newStubSubsRepo()
	pay := &stubPaymentsRepo{}
	userID := uuid.New()
	provider := &stubWebhookProvider{subs: map[string]*stripe.Subscription{
		"sub_1": {
			ID:       "sub_1",
			Status:   stripe.SubscriptionStatusActive,
			Customer: &stripe.Customer{ID: "cus_1"},
			Metadata: map[string]string{"user_id": userID.String()},
			Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
				Price:              &stripe.Price{Product: &stripe.Product{ID: proProduct}},
				CurrentPeriodStart: now.Unix(),
				CurrentPeriodEnd:   now.AddDate(0, 1, 0).Unix(),
			}}},
		},
	}}
	svc := newTestService(t, subs, pay, newStubUsers(), provider, now)

	object := map[string]any{
		"id":           "in_100",
		"subscription": "sub_1",
		"customer":     "cus_1",
		"amount_paid":  float64(2900),
		"currency":     "usd",
	}

	first, err := svc.Process(context.Background(), invoiceEvent(stripe.EventTypeInvoicePaid, now, object))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Handled {
		t.Fatal("invoice event must be handled")
	}

	redelivery, err := svc.Process(context.Background(), invoiceEvent(stripe.EventTypeInvoicePaid, now.Add(time.Minute), object))
	if err != nil {
		t.Fatalf("redelivery must succeed: %v", err)
	}
	if !redelivery.Handled {
		t.Fatal("redelivery still reconciles subscription state")
	}

	if len(pay.rows) != 1 {
		t.Fatalf("expected one ledger row after redelivery, got %d", len(pay.rows))
	}
	row := pay.rows[0]
	if row.UserID != userID || row.ProviderPaymentID != "in_100" || row.Status != enums.PaymentStatusPaid {
		t.Fatalf("unexpected ledger row %+v", row)
	}
	if !row.Amount.Equal(decimal.NewFromInt(29)) {
		t.Fatalf("expected amount 29, got %s", row.Amount)
	}

	if subs.byUser[userID].Status != enums.SubscriptionStatusRenewed {
		t.Fatalf("invoice paid must mark renewed, got %s", subs.byUser[userID].Status)
	}
}

func TestProcessInvoicePaidWithoutSubscriptionPayloadKeepsPlan(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	subs := newStubSubsRepo()
	pay := &stubPaymentsRepo{}
	userID := uuid.New()
	customerID := "cus_1"
	productID := proProduct
	applied := now.Add(-time.Hour)
	periodStart := now.AddDate(0, -1, 0)
	periodEnd := now.AddDate(0, 1, 0)
	subs.byUser[userID] = &models.Subscription{
		ID:                 uuid.New(),
		UserID:             userID,
		PlanID:             enums.PlanPro,
		Status:             enums.SubscriptionStatusActive,
		ProviderCustomerID: &customerID,
		ProviderProductID:  &productID,
		CurrentPeriodStart: &periodStart,
		CurrentPeriodEnd:   &periodEnd,
		LastEventAt:        &applied,
	}
	// No provider client: the subscription payload cannot be fetched.
	svc := newTestService(t, subs, pay, newStubUsers(), nil, now)

	object := map[string]any{
		"id":           "in_300",
		"subscription": "sub_1",
		"customer":     customerID,
		"amount_paid":  float64(2900),
		"currency":     "usd",
	}

	outcome, err := svc.Process(context.Background(), invoiceEvent(stripe.EventTypeInvoicePaid, now, object))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Handled || outcome.UserID != userID {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	stored := subs.byUser[userID]
	if stored.PlanID != enums.PlanPro {
		t.Fatalf("plan must survive an invoice event without payload, got %s", stored.PlanID)
	}
	if stored.ProviderProductID == nil || *stored.ProviderProductID != proProduct {
		t.Fatal("provider product id must be untouched")
	}
	if stored.CurrentPeriodEnd == nil || !stored.CurrentPeriodEnd.Equal(periodEnd) {
		t.Fatalf("period end must be untouched: %v", stored.CurrentPeriodEnd)
	}
	if stored.Status != enums.SubscriptionStatusRenewed {
		t.Fatalf("invoice paid must still mark renewed, got %s", stored.Status)
	}
	if stored.LastEventAt == nil || !stored.LastEventAt.Equal(now) {
		t.Fatalf("last event time must advance: %v", stored.LastEventAt)
	}

	if len(pay.rows) != 1 || pay.rows[0].PlanID != enums.PlanPro {
		t.Fatalf("payment must carry the kept plan, got %+v", pay.rows)
	}
}

func TestProcessInvoiceFailedMarksPastDue(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	subs := newStubSubsRepo()
	pay := &stubPaymentsRepo{}
	users := newStubUsers()
	customerID := "cus_7"
	userID := uuid.New()
	users.add(&models.User{ID: userID, Email: "sam@example.com", ProviderCustomerID: &customerID})
	svc := newTestService(t, subs, pay, users, nil, now)

	object := map[string]any{
		"id":           "in_200",
		"customer":     customerID,
		"customer_email": "sam@example.com",
		"total":        float64(900),
		"currency":     "usd",
	}

	outcome, err := svc.Process(context.Background(), invoiceEvent(stripe.EventTypeInvoicePaymentFailed, now, object))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Handled || outcome.UserID != userID {
		t.Fatalf("customer-id resolution failed: %+v", outcome)
	}
	if subs.byUser[userID].Status != enums.SubscriptionStatusPastDue {
		t.Fatalf("expected past_due, got %s", subs.byUser[userID].Status)
	}
	if len(pay.rows) != 1 || pay.rows[0].Status != enums.PaymentStatusFailed {
		t.Fatal("failed payment must still be recorded")
	}
}

func TestProcessDropsUnresolvableUser(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	subs := newStubSubsRepo()
	svc := newTestService(t, subs, &stubPaymentsRepo{}, newStubUsers(), nil, now)

	payload := subscriptionPayload(uuid.New(), "sub_1", "cus_unknown", starterProduct, "active", now, now.AddDate(0, 1, 0))
	delete(payload, "metadata")
	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionCreated, now, payload)

	outcome, err := svc.Process(context.Background(), event)
	if err != nil {
		t.Fatalf("unresolvable users are dropped, not errored: %v", err)
	}
	if outcome.Handled {
		t.Fatal("event must not be handled")
	}
	if len(subs.byUser) != 0 {
		t.Fatal("no subscription row may be written")
	}
}

func TestProcessIgnoresUnknownEventType(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, newStubSubsRepo(), &stubPaymentsRepo{}, newStubUsers(), nil, now)

	outcome, err := svc.Process(context.Background(), invoiceEvent("charge.refunded", now, map[string]any{"id": "ch_1"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Handled {
		t.Fatal("unknown event types are acknowledged without processing")
	}
}

func TestSyncCheckoutEmailMismatchFailsClosed(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	subs := newStubSubsRepo()
	users := newStubUsers()
	userID := uuid.New()
	users.add(&models.User{ID: userID, Email: "owner@example.com"})
	provider := &stubWebhookProvider{session: &stripe.CheckoutSession{
		CustomerDetails: &stripe.CheckoutSessionCustomerDetails{Email: "attacker@example.com"},
		Customer:        &stripe.Customer{ID: "cus_9"},
		Subscription:    &stripe.Subscription{ID: "sub_9"},
	}}
	svc := newTestService(t, subs, &stubPaymentsRepo{}, users, provider, now)

	_, err := svc.SyncCheckout(context.Background(), userID, "cs_1")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
	if len(subs.byUser) != 0 {
		t.Fatal("no state may be written on mismatch")
	}
	if len(users.mirrored) != 0 {
		t.Fatal("customer id must not be mirrored on mismatch")
	}
}

func TestSyncCheckoutReconcilesSubscription(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	subs := newStubSubsRepo()
	users := newStubUsers()
	userID := uuid.New()
	users.add(&models.User{ID: userID, Email: "owner@example.com"})
	provider := &stubWebhookProvider{
		session: &stripe.CheckoutSession{
			CustomerDetails: &stripe.CheckoutSessionCustomerDetails{Email: "Owner@Example.com"},
			Customer:        &stripe.Customer{ID: "cus_9"},
			Subscription:    &stripe.Subscription{ID: "sub_9"},
		},
		subs: map[string]*stripe.Subscription{
			"sub_9": {
				ID:       "sub_9",
				Status:   stripe.SubscriptionStatusActive,
				Customer: &stripe.Customer{ID: "cus_9"},
				Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
					Price:              &stripe.Price{Product: &stripe.Product{ID: proProduct}},
					CurrentPeriodStart: now.Unix(),
					CurrentPeriodEnd:   now.AddDate(0, 1, 0).Unix(),
				}}},
			},
		},
	}
	svc := newTestService(t, subs, &stubPaymentsRepo{}, users, provider, now)

	outcome, err := svc.SyncCheckout(context.Background(), userID, "cs_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Handled || outcome.UserID != userID {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if users.mirrored[userID] != "cus_9" {
		t.Fatal("provider customer id must be mirrored onto the user")
	}
	stored := subs.byUser[userID]
	if stored == nil || stored.PlanID != enums.PlanPro || stored.Status != enums.SubscriptionStatusActive {
		t.Fatalf("subscription not reconciled: %+v", stored)
	}
}

func TestSyncCheckoutWithoutProviderFails(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, newStubSubsRepo(), &stubPaymentsRepo{}, newStubUsers(), nil, now)

	_, err := svc.SyncCheckout(context.Background(), uuid.New(), "cs_1")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConfig {
		t.Fatalf("expected CONFIG_ERROR, got %v", err)
	}
}
