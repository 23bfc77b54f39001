package paymentwebhook

import (
	"time"

	"github.com/echowrite-ai/echowrite-backend/pkg/enums"
	"github.com/stripe/stripe-go/v84"
)

const providerName = "stripe"

// mapStatus translates a provider event and subscription status pair into
// the canonical lifecycle state. The mapping is a fixed lookup; anything
// unrecognized lands on active.
func mapStatus(eventType stripe.EventType, subStatus stripe.SubscriptionStatus) enums.SubscriptionStatus {
	switch {
	case eventType == "customer.subscription.paused" || subStatus == stripe.SubscriptionStatusPaused:
		return enums.SubscriptionStatusOnHold
	case eventType == stripe.EventTypeInvoicePaid || eventType == stripe.EventTypeInvoicePaymentSucceeded:
		return enums.SubscriptionStatusRenewed
	case eventType == stripe.EventTypeCustomerSubscriptionDeleted,
		subStatus == stripe.SubscriptionStatusCanceled,
		subStatus == stripe.SubscriptionStatusIncompleteExpired:
		return enums.SubscriptionStatusCancelled
	case eventType == stripe.EventTypeInvoicePaymentFailed,
		subStatus == stripe.SubscriptionStatusPastDue,
		subStatus == stripe.SubscriptionStatusUnpaid:
		return enums.SubscriptionStatusPastDue
	case subStatus == stripe.SubscriptionStatusIncomplete || subStatus == stripe.SubscriptionStatusTrialing:
		return enums.SubscriptionStatusTrialing
	default:
		return enums.SubscriptionStatusActive
	}
}

// planForProduct maps a provider product id onto a plan. Unknown products
// fall back to free so a misconfigured mapping never grants paid access.
func planForProduct(productID, starterProductID, proProductID string) enums.PlanID {
	switch {
	case productID == "" || (starterProductID == "" && proProductID == ""):
		return enums.PlanFree
	case productID == starterProductID:
		return enums.PlanStarter
	case productID == proProductID:
		return enums.PlanPro
	default:
		return enums.PlanFree
	}
}

// subscriptionProductID extracts the product behind the first subscription
// item.
func subscriptionProductID(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	item := sub.Items.Data[0]
	if item.Price != nil && item.Price.Product != nil {
		return item.Price.Product.ID
	}
	return ""
}

// subscriptionPeriod extracts the current billing period from the first
// subscription item. Zero timestamps yield nils.
func subscriptionPeriod(sub *stripe.Subscription) (start, end *time.Time) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil, nil
	}
	item := sub.Items.Data[0]
	if item.CurrentPeriodStart > 0 {
		t := time.Unix(item.CurrentPeriodStart, 0).UTC()
		start = &t
	}
	if item.CurrentPeriodEnd > 0 {
		t := time.Unix(item.CurrentPeriodEnd, 0).UTC()
		end = &t
	}
	return start, end
}

func subscriptionCustomerID(sub *stripe.Subscription) string {
	if sub == nil || sub.Customer == nil {
		return ""
	}
	return sub.Customer.ID
}
