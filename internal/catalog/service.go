package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/echowrite-ai/echowrite-backend/pkg/cache"
	"github.com/echowrite-ai/echowrite-backend/pkg/enums"
	"github.com/echowrite-ai/echowrite-backend/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
)

type providerClient interface {
	GetProduct(ctx context.Context, productID string) (*stripe.Product, error)
	ListActivePromotionCodes(ctx context.Context) ([]*stripe.PromotionCode, error)
}

// Service exposes the plan catalog.
type Service interface {
	List(ctx context.Context) []Plan
	Get(id enums.PlanID) (Plan, bool)
}

// ServiceParams groups dependencies for the catalog service.
type ServiceParams struct {
	Plans    []Plan
	Provider providerClient
	Logger   *logger.Logger
	CacheTTL time.Duration
	Now      func() time.Time
}

type service struct {
	plans    []Plan
	provider providerClient
	logg     *logger.Logger
	cache    *cache.TTL[[]Plan]
	now      func() time.Time
}

// NewService builds a catalog service. Provider is optional; without it the
// static catalog is served as-is.
func NewService(params ServiceParams) (Service, error) {
	if len(params.Plans) == 0 {
		return nil, fmt.Errorf("plans required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	ttl := params.CacheTTL
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &service{
		plans:    params.Plans,
		provider: params.Provider,
		logg:     params.Logger,
		cache:    cache.NewTTLWithClock[[]Plan](ttl, now),
		now:      now,
	}, nil
}

// Get returns the static plan definition by id.
func (s *service) Get(id enums.PlanID) (Plan, bool) {
	for _, plan := range s.plans {
		if plan.ID == id {
			return plan, true
		}
	}
	return Plan{}, false
}

// List returns the catalog, enriched with live provider pricing when
// available. Enrichment failures fall back to the static price silently.
func (s *service) List(ctx context.Context) []Plan {
	if cached, ok := s.cache.Get(); ok {
		return cached
	}

	plans := make([]Plan, len(s.plans))
	copy(plans, s.plans)

	if s.provider != nil {
		s.enrich(ctx, plans)
	}

	s.cache.Put(plans)
	return plans
}

func (s *service) enrich(ctx context.Context, plans []Plan) {
	codes, err := s.provider.ListActivePromotionCodes(ctx)
	if err != nil {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "reason", err.Error()), "promotion code lookup failed, serving static pricing")
		}
		codes = nil
	}

	for i := range plans {
		if plans[i].ProviderProductID == "" {
			continue
		}
		product, err := s.provider.GetProduct(ctx, plans[i].ProviderProductID)
		if err != nil {
			if s.logg != nil {
				ctx := s.logg.WithPlanID(ctx, plans[i].ID.String())
				s.logg.Warn(ctx, "product lookup failed, serving static pricing")
			}
			continue
		}

		if price, ok := productPrice(product); ok {
			plans[i].Price = price
		}
		plans[i].DiscountPercent = bestDiscount(product, codes, s.now())
	}
}

// productPrice reads a live price from the product metadata.
func productPrice(product *stripe.Product) (decimal.Decimal, bool) {
	if product == nil || product.Metadata == nil {
		return decimal.Decimal{}, false
	}
	raw, ok := product.Metadata["price"]
	if !ok {
		return decimal.Decimal{}, false
	}
	price, err := decimal.NewFromString(raw)
	if err != nil || price.IsNegative() {
		return decimal.Decimal{}, false
	}
	return price, true
}

// bestDiscount picks the maximum of the product-embedded discount percent and
// the best applicable active promotion code.
func bestDiscount(product *stripe.Product, codes []*stripe.PromotionCode, now time.Time) decimal.Decimal {
	best := decimal.Zero

	if product != nil && product.Metadata != nil {
		if raw, ok := product.Metadata["discount_percent"]; ok {
			if percent, err := decimal.NewFromString(raw); err == nil && percent.IsPositive() {
				best = percent
			}
		}
	}

	for _, code := range codes {
		percent, ok := promotionPercent(code, product, now)
		if !ok {
			continue
		}
		if percent.GreaterThan(best) {
			best = percent
		}
	}
	return best
}

func promotionPercent(code *stripe.PromotionCode, product *stripe.Product, now time.Time) (decimal.Decimal, bool) {
	if code == nil || !code.Active || code.Promotion == nil || code.Promotion.Coupon == nil {
		return decimal.Decimal{}, false
	}
	if code.ExpiresAt > 0 && time.Unix(code.ExpiresAt, 0).Before(now) {
		return decimal.Decimal{}, false
	}
	if code.MaxRedemptions > 0 && code.TimesRedeemed >= code.MaxRedemptions {
		return decimal.Decimal{}, false
	}
	coupon := code.Promotion.Coupon
	if !coupon.Valid || coupon.PercentOff <= 0 {
		return decimal.Decimal{}, false
	}
	if coupon.AppliesTo != nil && len(coupon.AppliesTo.Products) > 0 {
		if product == nil || !containsString(coupon.AppliesTo.Products, product.ID) {
			return decimal.Decimal{}, false
		}
	}
	return decimal.NewFromFloat(coupon.PercentOff), true
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
