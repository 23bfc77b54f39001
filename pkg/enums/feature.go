package enums

import "fmt"

// FeatureID names a gated product capability.
type FeatureID string

const (
	FeatureReplyGeneration  FeatureID = "reply_generation"
	FeatureTweetGeneration  FeatureID = "tweet_generation"
	FeatureThreadComposer   FeatureID = "thread_composer"
	FeatureToneProfiles     FeatureID = "tone_profiles"
	FeatureEngagementStats  FeatureID = "engagement_stats"
	FeaturePriorityModels   FeatureID = "priority_models"
	FeatureScheduledPosting FeatureID = "scheduled_posting"
)

var validFeatureIDs = []FeatureID{
	FeatureReplyGeneration,
	FeatureTweetGeneration,
	FeatureThreadComposer,
	FeatureToneProfiles,
	FeatureEngagementStats,
	FeaturePriorityModels,
	FeatureScheduledPosting,
}

// String implements fmt.Stringer.
func (f FeatureID) String() string {
	return string(f)
}

// IsValid reports whether the value is known.
func (f FeatureID) IsValid() bool {
	for _, candidate := range validFeatureIDs {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseFeatureID converts raw input into a FeatureID.
func ParseFeatureID(value string) (FeatureID, error) {
	for _, candidate := range validFeatureIDs {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid feature id %q", value)
}

// FeatureAvailability describes whether a feature is shipped or announced.
type FeatureAvailability string

const (
	FeatureAvailabilityLive       FeatureAvailability = "live"
	FeatureAvailabilityComingSoon FeatureAvailability = "coming_soon"
)

// String implements fmt.Stringer.
func (a FeatureAvailability) String() string {
	return string(a)
}

// IsValid reports whether the value is known.
func (a FeatureAvailability) IsValid() bool {
	return a == FeatureAvailabilityLive || a == FeatureAvailabilityComingSoon
}

// ParseFeatureAvailability converts raw input into a FeatureAvailability.
func ParseFeatureAvailability(value string) (FeatureAvailability, error) {
	switch FeatureAvailability(value) {
	case FeatureAvailabilityLive, FeatureAvailabilityComingSoon:
		return FeatureAvailability(value), nil
	default:
		return "", fmt.Errorf("invalid feature availability %q", value)
	}
}
