package distribution

import (
	"fmt"
	"strings"

	"conduit/internal/config"
	"conduit/internal/services"
)

// Platform is one destination a finished asset can be delivered to.
type Platform struct {
	ID           string
	Name         string
	URL          string
	RequiredTier Tier
	Enabled      bool
}

// Registry holds the known platforms in configuration order.
type Registry struct {
	platforms []Platform
}

// NewRegistry validates the configured platform set and builds the registry.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	platforms := make([]Platform, 0, len(cfg.Distribution.Platforms))
	for _, entry := range cfg.Distribution.Platforms {
		tier, ok := ParseTier(entry.RequiredTier)
		if !ok {
			return nil, services.Wrap(services.ErrConfiguration, "distribution", "registry",
				fmt.Sprintf("platform %q requires unknown tier %q", entry.ID, entry.RequiredTier), nil)
		}
		platforms = append(platforms, Platform{
			ID:           strings.ToLower(strings.TrimSpace(entry.ID)),
			Name:         entry.Name,
			URL:          entry.URL,
			RequiredTier: tier,
			Enabled:      entry.Enabled,
		})
	}
	return &Registry{platforms: platforms}, nil
}

// GetAvailablePlatforms returns the enabled platforms whose required tier
// ranks at or below the caller's tier.
func (r *Registry) GetAvailablePlatforms(tier Tier) []Platform {
	var available []Platform
	for _, platform := range r.platforms {
		if !platform.Enabled {
			continue
		}
		if tier.AtLeast(platform.RequiredTier) {
			available = append(available, platform)
		}
	}
	return available
}

// Lookup resolves a platform by identifier.
func (r *Registry) Lookup(id string) (Platform, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, platform := range r.platforms {
		if platform.ID == id {
			return platform, true
		}
	}
	return Platform{}, false
}

// ValidatePlatformSelection intersects the requested platforms with the
// tier's eligible set, preserving the caller's order, then truncates to the
// tier's maximum count. Ineligible and excess entries are dropped, never
// substituted.
func (r *Registry) ValidatePlatformSelection(requested []string, tier Tier) []Platform {
	eligible := make(map[string]Platform)
	for _, platform := range r.GetAvailablePlatforms(tier) {
		eligible[platform.ID] = platform
	}

	var allowed []Platform
	seen := make(map[string]struct{})
	for _, id := range requested {
		id = strings.ToLower(strings.TrimSpace(id))
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		platform, ok := eligible[id]
		if !ok {
			continue
		}
		allowed = append(allowed, platform)
	}

	if limit := tier.MaxPlatforms(); limit > 0 && len(allowed) > limit {
		allowed = allowed[:limit]
	}
	return allowed
}
