package entitlements

import (
	"github.com/echowrite-ai/echowrite-backend/internal/catalog"
	"github.com/echowrite-ai/echowrite-backend/pkg/enums"
)

// Feature is one entry of the resolved feature list. MinimumPlan and
// Availability are presentation metadata; Enabled is the gate.
type Feature struct {
	ID           enums.FeatureID           `json:"id"`
	Name         string                    `json:"name"`
	Description  string                    `json:"description"`
	Availability enums.FeatureAvailability `json:"availability"`
	MinimumPlan  enums.PlanID              `json:"minimum_plan"`
	Enabled      bool                      `json:"enabled"`
}

// featureMeta is the static display metadata for a feature. Gating never
// reads MinimumPlan; the per-plan table in the catalog package decides.
type featureMeta struct {
	Name         string
	Description  string
	Availability enums.FeatureAvailability
	MinimumPlan  enums.PlanID
}

var featureCatalog = map[enums.FeatureID]featureMeta{
	enums.FeatureReplyGeneration: {
		Name:         "Reply generation",
		Description:  "Draft context-aware replies to posts in your timeline.",
		Availability: enums.FeatureAvailabilityLive,
		MinimumPlan:  enums.PlanFree,
	},
	enums.FeatureTweetGeneration: {
		Name:         "Tweet generation",
		Description:  "Generate original posts from a short topic prompt.",
		Availability: enums.FeatureAvailabilityLive,
		MinimumPlan:  enums.PlanFree,
	},
	enums.FeatureThreadComposer: {
		Name:         "Thread composer",
		Description:  "Turn long-form ideas into multi-post threads.",
		Availability: enums.FeatureAvailabilityLive,
		MinimumPlan:  enums.PlanStarter,
	},
	enums.FeatureToneProfiles: {
		Name:         "Tone profiles",
		Description:  "Save writing-style presets and apply them to any draft.",
		Availability: enums.FeatureAvailabilityLive,
		MinimumPlan:  enums.PlanStarter,
	},
	enums.FeatureEngagementStats: {
		Name:         "Engagement stats",
		Description:  "Track how generated posts perform over time.",
		Availability: enums.FeatureAvailabilityLive,
		MinimumPlan:  enums.PlanPro,
	},
	enums.FeaturePriorityModels: {
		Name:         "Priority models",
		Description:  "Route generations to the strongest available model.",
		Availability: enums.FeatureAvailabilityLive,
		MinimumPlan:  enums.PlanPro,
	},
	enums.FeatureScheduledPosting: {
		Name:         "Scheduled posting",
		Description:  "Queue generated posts for automatic publishing.",
		Availability: enums.FeatureAvailabilityComingSoon,
		MinimumPlan:  enums.PlanPro,
	},
}

// featureOrder fixes the listing order so API responses are stable.
var featureOrder = []enums.FeatureID{
	enums.FeatureReplyGeneration,
	enums.FeatureTweetGeneration,
	enums.FeatureThreadComposer,
	enums.FeatureToneProfiles,
	enums.FeatureEngagementStats,
	enums.FeaturePriorityModels,
	enums.FeatureScheduledPosting,
}

// staticFeatures builds the full feature list for a plan from the catalog
// metadata and the per-plan enabled table.
func staticFeatures(planID enums.PlanID) []Feature {
	features := make([]Feature, 0, len(featureOrder))
	for _, id := range featureOrder {
		meta := featureCatalog[id]
		features = append(features, Feature{
			ID:           id,
			Name:         meta.Name,
			Description:  meta.Description,
			Availability: meta.Availability,
			MinimumPlan:  meta.MinimumPlan,
			Enabled:      catalog.PlanHasFeature(planID, id),
		})
	}
	return features
}
