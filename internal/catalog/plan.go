package catalog

import (
	"github.com/echowrite-ai/echowrite-backend/pkg/enums"
	"github.com/shopspring/decimal"
)

// Limits describes per-day action allowances. A nil limit means unlimited.
type Limits struct {
	DailyReplies *int `json:"daily_replies"`
	DailyTweets  *int `json:"daily_tweets"`
}

// Plan is a subscription tier. The catalog is static; price and discount may
// be enriched from the payment provider at read time.
type Plan struct {
	ID                enums.PlanID      `json:"id"`
	Name              string            `json:"name"`
	Price             decimal.Decimal   `json:"price"`
	Currency          string            `json:"currency"`
	DiscountPercent   decimal.Decimal   `json:"discount_percent"`
	Limits            Limits            `json:"limits"`
	Features          []enums.FeatureID `json:"features"`
	ProviderProductID string            `json:"-"`
}

// LimitFor returns the plan's limit for the given quota type.
func (p Plan) LimitFor(quotaType enums.QuotaType) *int {
	switch quotaType {
	case enums.QuotaTypeReply:
		return p.Limits.DailyReplies
	case enums.QuotaTypeTweet:
		return p.Limits.DailyTweets
	default:
		return nil
	}
}

// PlanFeatures is the canonical per-plan feature set. Feature gating reads
// this table directly; minimum-plan metadata elsewhere is presentation only.
var PlanFeatures = map[enums.PlanID][]enums.FeatureID{
	enums.PlanFree: {
		enums.FeatureReplyGeneration,
		enums.FeatureTweetGeneration,
	},
	enums.PlanStarter: {
		enums.FeatureReplyGeneration,
		enums.FeatureTweetGeneration,
		enums.FeatureThreadComposer,
		enums.FeatureToneProfiles,
	},
	enums.PlanPro: {
		enums.FeatureReplyGeneration,
		enums.FeatureTweetGeneration,
		enums.FeatureThreadComposer,
		enums.FeatureToneProfiles,
		enums.FeatureEngagementStats,
		enums.FeaturePriorityModels,
		enums.FeatureScheduledPosting,
	},
}

// PlanHasFeature reports whether the plan's static feature set includes the feature.
func PlanHasFeature(planID enums.PlanID, featureID enums.FeatureID) bool {
	for _, id := range PlanFeatures[planID] {
		if id == featureID {
			return true
		}
	}
	return false
}

func intPtr(v int) *int { return &v }

// StaticPlans builds the catalog from quota configuration and the optional
// provider product mapping. Free keeps finite limits; paid tiers are unlimited.
func StaticPlans(freeDailyReplies, freeDailyTweets int, starterProductID, proProductID string) []Plan {
	return []Plan{
		{
			ID:       enums.PlanFree,
			Name:     "Free",
			Price:    decimal.Zero,
			Currency: "usd",
			Limits: Limits{
				DailyReplies: intPtr(freeDailyReplies),
				DailyTweets:  intPtr(freeDailyTweets),
			},
			Features: PlanFeatures[enums.PlanFree],
		},
		{
			ID:                enums.PlanStarter,
			Name:              "Starter",
			Price:             decimal.NewFromInt(9),
			Currency:          "usd",
			Limits:            Limits{},
			Features:          PlanFeatures[enums.PlanStarter],
			ProviderProductID: starterProductID,
		},
		{
			ID:                enums.PlanPro,
			Name:              "Pro",
			Price:             decimal.NewFromInt(29),
			Currency:          "usd",
			Limits:            Limits{},
			Features:          PlanFeatures[enums.PlanPro],
			ProviderProductID: proProductID,
		},
	}
}
