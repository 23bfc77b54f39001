package entitlements

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
	"github.com/google/uuid"
)

type planResolver interface {
	EffectivePlan(ctx context.Context, userID uuid.UUID, now time.Time) (enums.PlanID, subscriptions.Degradation)
}

// Service resolves feature access for a user.
type Service interface {
	IsEnabled(ctx context.Context, userID uuid.UUID, featureID enums.FeatureID) error
	List(ctx context.Context, userID uuid.UUID) ([]Feature, error)
}

// ServiceParams groups dependencies for the feature resolver.
type ServiceParams struct {
	Repo         Repository
	Subscription planResolver
	Logger       *logger.Logger
	Now          func() time.Time
}

type service struct {
	repo         Repository
	subscription planResolver
	logg         *logger.Logger
	now          func() time.Time
}

// NewService builds the feature resolver. Repo is optional; without it the
// static catalog is served unmodified.
func NewService(params ServiceParams) (Service, error) {
	if params.Subscription == nil {
		return nil, fmt.Errorf("subscription resolver required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:         params.Repo,
		subscription: params.Subscription,
		logg:         params.Logger,
		now:          now,
	}, nil
}

// IsEnabled returns nil when the user's effective plan includes the feature
// and a FEATURE_LOCKED error otherwise. Only the static per-plan table
// decides; override rows never grant or revoke access.
func (s *service) IsEnabled(ctx context.Context, userID uuid.UUID, featureID enums.FeatureID) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !featureID.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid feature id %q", featureID))
	}

	planID, _ := s.subscription.EffectivePlan(ctx, userID, s.now())
	if catalog.PlanHasFeature(planID, featureID) {
		return nil
	}

	meta := featureCatalog[featureID]
	return pkgerrors.New(pkgerrors.CodeFeatureLocked, fmt.Sprintf("%s is not included in your plan", meta.Name)).
		WithDetails(map[string]any{
			"feature":      featureID,
			"plan":         planID,
			"minimum_plan": meta.MinimumPlan,
		})
}

// List returns the full feature list for the user's effective plan with
// admin overrides applied. Override read failures degrade to the static
// catalog rather than failing the request.
func (s *service) List(ctx context.Context, userID uuid.UUID) ([]Feature, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	planID, _ := s.subscription.EffectivePlan(ctx, userID, s.now())
	features := staticFeatures(planID)
	if s.repo == nil {
		return features, nil
	}

	overrides, err := s.repo.ListOverrides(ctx)
	if err != nil {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithUserID(ctx, userID.String()), "loading feature overrides failed, serving static catalog")
		}
		return features, nil
	}
	return MergeOverrides(features, overrides), nil
}

// MergeOverrides applies override rows to a feature list. Hidden removes the
// entry; availability, minimum plan, and description replace the static
// metadata. The Enabled bit is never touched.
func MergeOverrides(features []Feature, overrides []models.FeatureOverride) []Feature {
	byFeature := make(map[enums.FeatureID]models.FeatureOverride, len(overrides))
	for _, override := range overrides {
		byFeature[override.FeatureID] = override
	}

	merged := make([]Feature, 0, len(features))
	for _, feature := range features {
		override, ok := byFeature[feature.ID]
		if !ok {
			merged = append(merged, feature)
			continue
		}
		if override.Hidden {
			continue
		}
		if override.Availability != nil {
			feature.Availability = *override.Availability
		}
		if override.MinimumPlan != nil {
			feature.MinimumPlan = *override.MinimumPlan
		}
		if override.Description != nil {
			feature.Description = *override.Description
		}
		merged = append(merged, feature)
	}
	return merged
}
