package stripe

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v84"
)

var errClientNotInitialized = errors.New("stripe client not initialized")

// GetProduct fetches a product by ID.
func (c *Client) GetProduct(ctx context.Context, productID string) (*stripe.Product, error) {
	if c == nil || c.api == nil {
		return nil, errClientNotInitialized
	}
	product, err := c.api.V1Products.Retrieve(ctx, productID, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieving product %s: %w", productID, err)
	}
	return product, nil
}

// ListActivePromotionCodes returns the currently active promotion codes.
func (c *Client) ListActivePromotionCodes(ctx context.Context) ([]*stripe.PromotionCode, error) {
	if c == nil || c.api == nil {
		return nil, errClientNotInitialized
	}
	params := &stripe.PromotionCodeListParams{
		Active: stripe.Bool(true),
	}
	var codes []*stripe.PromotionCode
	for code, err := range c.api.V1PromotionCodes.List(ctx, params) {
		if err != nil {
			return nil, fmt.Errorf("listing promotion codes: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// GetSubscription fetches a subscription by ID.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	if c == nil || c.api == nil {
		return nil, errClientNotInitialized
	}
	sub, err := c.api.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieving subscription %s: %w", subscriptionID, err)
	}
	return sub, nil
}

// GetCheckoutSession fetches a checkout session by ID.
func (c *Client) GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	if c == nil || c.api == nil {
		return nil, errClientNotInitialized
	}
	session, err := c.api.V1CheckoutSessions.Retrieve(ctx, sessionID, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieving checkout session %s: %w", sessionID, err)
	}
	return session, nil
}

// SetCancelAtPeriodEnd flips the cancel-at-period-end flag on a subscription.
func (c *Client) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*stripe.Subscription, error) {
	if c == nil || c.api == nil {
		return nil, errClientNotInitialized
	}
	params := &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	sub, err := c.api.V1Subscriptions.Update(ctx, subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("updating subscription %s: %w", subscriptionID, err)
	}
	return sub, nil
}
