package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"

	"betengine/internal/models"
	"betengine/internal/repository"
)

const (
	FeatureResolverPredictions = "feature.resolver.predictions"
	FeatureResolverPositions   = "feature.resolver.positions"
	FeatureResolverMarkets     = "feature.resolver.markets"
	FeaturePriceStream         = "feature.price_stream"
	FeaturePendingPromote      = "feature.pending_promote"
)

func DefaultFeatureSwitches() map[string]bool {
	return map[string]bool{
		FeatureResolverPredictions: true,
		FeatureResolverPositions:   true,
		FeatureResolverMarkets:     true,
		FeaturePriceStream:         true,
		FeaturePendingPromote:      true,
	}
}

// SystemSettingsService backs the runtime feature switches. Switches let an
// operator pause a resolver loop without redeploying; a missing row falls
// back to the caller's default.
type SystemSettingsService struct {
	Repo repository.Repository
}

// EnsureDefaultSwitches seeds any switch that has no stored row. Stored
// values are never overwritten: an operator's OFF stays OFF.
func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := time.Now().UTC()
	for key, enabled := range DefaultFeatureSwitches() {
		existing, err := s.Repo.GetSystemSetting(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		raw, _ := json.Marshal(enabled)
		item := &models.SystemSetting{
			Key:         key,
			Value:       datatypes.JSON(raw),
			Description: "feature switch",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSetting(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	raw, _ := json.Marshal(enabled)
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: "feature switch",
		UpdatedAt:   time.Now().UTC(),
	}
	return s.Repo.UpsertSystemSetting(ctx, item)
}
