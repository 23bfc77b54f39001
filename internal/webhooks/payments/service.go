package paymentwebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/echowrite-ai/echowrite-backend/internal/payments"
	"github.com/echowrite-ai/echowrite-backend/internal/subscriptions"
	"github.com/echowrite-ai/echowrite-backend/pkg/db"
	"github.com/echowrite-ai/echowrite-backend/pkg/db/models"
	"github.com/echowrite-ai/echowrite-backend/pkg/enums"
	pkgerrors "github.com/echowrite-ai/echowrite-backend/pkg/errors"
	"github.com/echowrite-ai/echowrite-backend/pkg/logger"
	"github.com/echowrite-ai/echowrite-backend/pkg/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"
)

// GracePeriod is how long an on-hold subscription keeps paid entitlements
// while the provider retries payment.
const GracePeriod = 72 * time.Hour

// Outcome reports what a webhook delivery did. Handled is false for event
// types we ignore, unresolvable users, and stale deliveries.
type Outcome struct {
	Handled bool      `json:"handled"`
	Type    string    `json:"type"`
	UserID  uuid.UUID `json:"user_id,omitempty"`
}

type userStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByProviderCustomerID(ctx context.Context, customerID string) (*models.User, error)
	SetProviderCustomerID(ctx context.Context, id uuid.UUID, customerID string) error
}

type providerClient interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
}

// ServiceParams groups dependencies for the webhook reconciler.
type ServiceParams struct {
	Subscriptions    subscriptions.Repository
	Payments         payments.Repository
	Users            userStore
	Provider         providerClient
	StarterProductID string
	ProProductID     string
	Metrics          *metrics.BillingMetrics
	Logger           *logger.Logger
	Now              func() time.Time
}

// Service reconciles provider webhook events into local billing state.
type Service struct {
	subs             subscriptions.Repository
	payments         payments.Repository
	users            userStore
	provider         providerClient
	starterProductID string
	proProductID     string
	metrics          *metrics.BillingMetrics
	logg             *logger.Logger
	now              func() time.Time
}

// NewService builds the reconciler. Provider is optional; invoice events
// that need a subscription fetch degrade to customer-only resolution
// without it.
func NewService(params ServiceParams) (*Service, error) {
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscriptions repo required")
	}
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments repo required")
	}
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "users repo required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		subs:             params.Subscriptions,
		payments:         params.Payments,
		users:            params.Users,
		provider:         params.Provider,
		starterProductID: params.StarterProductID,
		proProductID:     params.ProProductID,
		metrics:          params.Metrics,
		logg:             params.Logger,
		now:              now,
	}, nil
}

// Process applies one provider event to local state.
func (s *Service) Process(ctx context.Context, event *stripe.Event) (Outcome, error) {
	if event == nil || event.Data == nil {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "event data required")
	}

	eventType := string(event.Type)
	eventTime := s.now()
	if event.Created > 0 {
		eventTime = time.Unix(event.Created, 0).UTC()
	}

	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted,
		"customer.subscription.paused",
		"customer.subscription.resumed":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
		}
		return s.handle(ctx, event.Type, eventType, eventTime, &sub, "", "", nil)

	case stripe.EventTypeInvoicePaid,
		stripe.EventTypeInvoicePaymentSucceeded,
		stripe.EventTypeInvoicePaymentFailed:
		sub := s.fetchInvoiceSubscription(ctx, event)
		payment := paymentFromInvoiceEvent(event)
		return s.handle(ctx, event.Type, eventType, eventTime, sub, event.GetObjectValue("customer"), event.GetObjectValue("customer_email"), payment)

	default:
		s.metrics.IncWebhookOutcome(eventType, "ignored")
		return Outcome{Handled: false, Type: eventType}, nil
	}
}

// SyncCheckout is the user-initiated fallback for a missed checkout
// completion webhook. The session must belong to the authenticated user.
func (s *Service) SyncCheckout(ctx context.Context, userID uuid.UUID, sessionID string) (Outcome, error) {
	if userID == uuid.Nil {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if strings.TrimSpace(sessionID) == "" {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	if s.provider == nil {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeConfig, "payment provider is not configured")
	}

	session, err := s.provider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve checkout session")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "load user")
	}

	sessionEmail := checkoutEmail(session)
	if sessionEmail == "" || !strings.EqualFold(sessionEmail, user.Email) {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeForbidden, "checkout session does not belong to this account")
	}

	if session.Customer != nil && session.Customer.ID != "" {
		if err := s.users.SetProviderCustomerID(ctx, userID, session.Customer.ID); err != nil && s.logg != nil {
			s.logg.Warn(s.logg.WithUserID(ctx, userID.String()), "mirroring provider customer id failed")
		}
	}

	if session.Subscription == nil || session.Subscription.ID == "" {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeStateConflict, "checkout session carries no subscription")
	}
	sub, err := s.provider.GetSubscription(ctx, session.Subscription.ID)
	if err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve subscription")
	}

	eventType := string(stripe.EventTypeCheckoutSessionCompleted)
	if err := s.reconcile(ctx, userID, stripe.EventTypeCheckoutSessionCompleted, s.now(), sub, nil); err != nil {
		return Outcome{}, err
	}
	s.metrics.IncWebhookOutcome(eventType, "processed")
	return Outcome{Handled: true, Type: eventType, UserID: userID}, nil
}

func (s *Service) handle(ctx context.Context, eventType stripe.EventType, typeName string, eventTime time.Time, sub *stripe.Subscription, fallbackCustomerID, fallbackEmail string, payment *models.Payment) (Outcome, error) {
	userID, ok := s.resolveUser(ctx, sub, fallbackCustomerID, fallbackEmail)
	if !ok {
		s.metrics.IncWebhookOutcome(typeName, "unresolved")
		if s.logg != nil {
			s.logg.Warn(s.logg.WithEventType(ctx, typeName), "dropping event, no matching user")
		}
		return Outcome{Handled: false, Type: typeName}, nil
	}

	if err := s.reconcile(ctx, userID, eventType, eventTime, sub, payment); err != nil {
		typed := pkgerrors.As(err)
		if typed != nil && typed.Code() == pkgerrors.CodeStateConflict {
			// Out-of-order delivery; acknowledged but not applied.
			s.metrics.IncWebhookOutcome(typeName, "stale")
			return Outcome{Handled: false, Type: typeName, UserID: userID}, nil
		}
		s.metrics.IncWebhookOutcome(typeName, "failed")
		return Outcome{}, err
	}

	s.metrics.IncWebhookOutcome(typeName, "processed")
	return Outcome{Handled: true, Type: typeName, UserID: userID}, nil
}

// resolveUser walks the resolution chain: explicit metadata, then the
// subscription row by provider customer id, then the user row by email.
func (s *Service) resolveUser(ctx context.Context, sub *stripe.Subscription, fallbackCustomerID, fallbackEmail string) (uuid.UUID, bool) {
	if sub != nil {
		if raw, ok := sub.Metadata["user_id"]; ok {
			if id, err := uuid.Parse(raw); err == nil && id != uuid.Nil {
				return id, true
			}
		}
	}

	customerID := subscriptionCustomerID(sub)
	if customerID == "" {
		customerID = fallbackCustomerID
	}
	if customerID != "" {
		if stored, err := s.subs.FindByProviderCustomerID(ctx, customerID); err == nil {
			return stored.UserID, true
		}
		if user, err := s.users.FindByProviderCustomerID(ctx, customerID); err == nil {
			return user.ID, true
		}
	}

	email := fallbackEmail
	if sub != nil && sub.Customer != nil && sub.Customer.Email != "" {
		email = sub.Customer.Email
	}
	if email != "" {
		if user, err := s.users.FindByEmail(ctx, email); err == nil {
			return user.ID, true
		}
	}
	return uuid.Nil, false
}

// reconcile upserts the user's subscription row and, for payment events,
// appends the deduplicated ledger entry.
func (s *Service) reconcile(ctx context.Context, userID uuid.UUID, eventType stripe.EventType, eventTime time.Time, sub *stripe.Subscription, payment *models.Payment) error {
	stored, err := s.subs.FindByUserID(ctx, userID)
	if err != nil && err != gorm.ErrRecordNotFound {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	fresh := stored == nil
	if fresh {
		stored = &models.Subscription{UserID: userID}
	}

	if stored.LastEventAt != nil && eventTime.Before(*stored.LastEventAt) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "event is older than last applied state").
			WithDetails(map[string]any{
				"event_time":    eventTime,
				"last_event_at": *stored.LastEventAt,
			})
	}

	var subStatus stripe.SubscriptionStatus
	if sub != nil {
		subStatus = sub.Status
	}
	status := mapStatus(eventType, subStatus)
	plan := planForProduct(subscriptionProductID(sub), s.starterProductID, s.proProductID)
	if sub == nil && !fresh {
		// Without the subscription payload the event carries no plan
		// information; keep what the last subscription event established
		// instead of downgrading a paying user.
		plan = stored.PlanID
	}

	stored.Status = status
	stored.PlanID = plan
	stored.LastEventAt = &eventTime
	if status == enums.SubscriptionStatusOnHold {
		grace := eventTime.Add(GracePeriod)
		stored.GracePeriodEnds = &grace
	} else {
		stored.GracePeriodEnds = nil
	}
	if sub != nil {
		if sub.ID != "" {
			stored.ProviderSubscriptionID = &sub.ID
		}
		if customerID := subscriptionCustomerID(sub); customerID != "" {
			stored.ProviderCustomerID = &customerID
		}
		if productID := subscriptionProductID(sub); productID != "" {
			stored.ProviderProductID = &productID
		}
		stored.CurrentPeriodStart, stored.CurrentPeriodEnd = subscriptionPeriod(sub)
		stored.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	}

	if fresh {
		if err := s.subs.Create(ctx, stored); err != nil {
			if !db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
			}
			// Lost a create race; re-apply onto the winner's row.
			winner, findErr := s.subs.FindByUserID(ctx, userID)
			if findErr != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "reload subscription")
			}
			stored.ID = winner.ID
			stored.CreatedAt = winner.CreatedAt
			if err := s.subs.Save(ctx, stored); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save subscription")
			}
		}
	} else if err := s.subs.Save(ctx, stored); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save subscription")
	}

	if payment != nil {
		payment.UserID = userID
		payment.PlanID = plan
		if err := s.recordPayment(ctx, payment); err != nil {
			return err
		}
	}
	return nil
}

// recordPayment appends the ledger row, treating a duplicate as already
// recorded.
func (s *Service) recordPayment(ctx context.Context, payment *models.Payment) error {
	if payment.ProviderPaymentID == "" {
		return nil
	}
	if _, err := s.payments.FindByProviderPaymentID(ctx, payment.Provider, payment.ProviderPaymentID); err == nil {
		return nil
	} else if err != gorm.ErrRecordNotFound {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up payment")
	}

	if err := s.payments.Create(ctx, payment); err != nil {
		if db.IsUniqueViolation(err, "idx_payments_provider_payment") {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment")
	}
	return nil
}

// fetchInvoiceSubscription loads the full subscription behind an invoice
// event. Best effort; resolution can still proceed by customer or email.
func (s *Service) fetchInvoiceSubscription(ctx context.Context, event *stripe.Event) *stripe.Subscription {
	subscriptionID := event.GetObjectValue("subscription")
	if subscriptionID == "" || s.provider == nil {
		return nil
	}
	sub, err := s.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithEventType(ctx, string(event.Type)), fmt.Sprintf("fetching subscription %s failed", subscriptionID))
		}
		return nil
	}
	return sub
}

// paymentFromInvoiceEvent builds the ledger row from the invoice payload.
func paymentFromInvoiceEvent(event *stripe.Event) *models.Payment {
	invoiceID := event.GetObjectValue("id")
	if invoiceID == "" {
		return nil
	}

	status := enums.PaymentStatusPaid
	if event.Type == stripe.EventTypeInvoicePaymentFailed {
		status = enums.PaymentStatusFailed
	}

	amount := decimal.Zero
	raw := event.GetObjectValue("amount_paid")
	if raw == "" || raw == "0" {
		raw = event.GetObjectValue("total")
	}
	if cents, err := decimal.NewFromString(raw); err == nil {
		amount = cents.Div(decimal.NewFromInt(100))
	}

	currency := event.GetObjectValue("currency")
	if currency == "" {
		currency = "usd"
	}

	payment := &models.Payment{
		Amount:            amount,
		Currency:          currency,
		Status:            status,
		Provider:          providerName,
		ProviderPaymentID: invoiceID,
	}
	payment.ProviderInvoiceID = &invoiceID
	return payment
}

func checkoutEmail(session *stripe.CheckoutSession) string {
	if session == nil {
		return ""
	}
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		return session.CustomerDetails.Email
	}
	return session.CustomerEmail
}
