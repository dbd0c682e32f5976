package distribution_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"conduit/internal/config"
	"conduit/internal/distribution"
	"conduit/internal/services"
	"conduit/internal/store"
	"conduit/internal/testsupport"
)

func testPlatforms() []config.Platform {
	return []config.Platform{
		{ID: "tube", Name: "Tube", URL: "http://tube.local/ingest", RequiredTier: "silver", Enabled: true},
		{ID: "social", Name: "Social", URL: "http://social.local/ingest", RequiredTier: "silver", Enabled: true},
		{ID: "commerce", Name: "Commerce", URL: "http://commerce.local/ingest", RequiredTier: "gold", Enabled: true},
		{ID: "meet", Name: "Meet", URL: "http://meet.local/ingest", RequiredTier: "platinum", Enabled: true},
		{ID: "vault", Name: "Vault", URL: "http://vault.local/ingest", RequiredTier: "diamond", Enabled: true},
		{ID: "legacy", Name: "Legacy", URL: "http://legacy.local/ingest", RequiredTier: "silver", Enabled: false},
	}
}

func newRegistry(t *testing.T) *distribution.Registry {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithPlatforms(testPlatforms()...))
	registry, err := distribution.NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return registry
}

func TestRegistryRejectsUnknownTier(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPlatforms(config.Platform{
		ID: "tube", URL: "http://tube.local", RequiredTier: "bronze", Enabled: true,
	}))
	if _, err := distribution.NewRegistry(cfg); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestTierEligibilityIsMonotonic(t *testing.T) {
	registry := newRegistry(t)

	tiers := distribution.AllTiers()
	for i := 0; i < len(tiers)-1; i++ {
		lower := registry.GetAvailablePlatforms(tiers[i])
		higher := registry.GetAvailablePlatforms(tiers[i+1])

		available := make(map[string]struct{}, len(higher))
		for _, platform := range higher {
			available[platform.ID] = struct{}{}
		}
		for _, platform := range lower {
			if _, ok := available[platform.ID]; !ok {
				t.Fatalf("platform %s available at %s but not at %s", platform.ID, tiers[i], tiers[i+1])
			}
		}
	}
}

func TestGetAvailablePlatformsExcludesDisabled(t *testing.T) {
	registry := newRegistry(t)
	for _, platform := range registry.GetAvailablePlatforms(distribution.TierRoyalty) {
		if platform.ID == "legacy" {
			t.Fatal("disabled platform must never be available")
		}
	}
}

func TestValidatePlatformSelectionGoldTruncation(t *testing.T) {
	registry := newRegistry(t)

	// Gold requests 5 platforms; meet requires platinum, so 4 are eligible;
	// gold's cap of 3 keeps the first three eligible in request order.
	allowed := registry.ValidatePlatformSelection(
		[]string{"vault", "tube", "meet", "social", "commerce"},
		distribution.TierGold,
	)
	want := []string{"tube", "social", "commerce"}
	if len(allowed) != len(want) {
		t.Fatalf("allowed count = %d, want %d (%v)", len(allowed), len(want), allowed)
	}
	for i, id := range want {
		if allowed[i].ID != id {
			t.Fatalf("allowed[%d] = %s, want %s", i, allowed[i].ID, id)
		}
	}
}

func TestValidatePlatformSelectionSubsetOfAvailable(t *testing.T) {
	registry := newRegistry(t)
	for _, tier := range distribution.AllTiers() {
		available := make(map[string]struct{})
		for _, platform := range registry.GetAvailablePlatforms(tier) {
			available[platform.ID] = struct{}{}
		}
		allowed := registry.ValidatePlatformSelection(
			[]string{"tube", "social", "commerce", "meet", "vault", "legacy", "unknown"},
			tier,
		)
		if limit := tier.MaxPlatforms(); limit > 0 && len(allowed) > limit {
			t.Fatalf("tier %s exceeded its cap: %d > %d", tier, len(allowed), limit)
		}
		for _, platform := range allowed {
			if _, ok := available[platform.ID]; !ok {
				t.Fatalf("tier %s allowed ineligible platform %s", tier, platform.ID)
			}
		}
	}
}

// recordingPublisher fails the platforms listed in fail and records calls.
type recordingPublisher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (p *recordingPublisher) Publish(ctx context.Context, platform distribution.Platform, asset *store.MediaAsset, variants []store.QualityVariant) error {
	p.mu.Lock()
	p.calls = append(p.calls, platform.ID)
	p.mu.Unlock()
	if p.fail[platform.ID] {
		return errors.New("ingest endpoint rejected payload")
	}
	return nil
}

func TestDistributeIsolatesPlatformFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPlatforms(testPlatforms()...))
	st := testsupport.MustOpenStore(t, cfg)
	registry, err := distribution.NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	ctx := context.Background()

	asset, err := st.NewMediaAsset(ctx, &store.MediaAsset{
		CreatorID:      "creator-1",
		Filename:       "video.mp4",
		SourceLocation: "/tmp/video.mp4",
	})
	if err != nil {
		t.Fatalf("NewMediaAsset failed: %v", err)
	}

	publisher := &recordingPublisher{fail: map[string]bool{"social": true}}
	distributor := distribution.NewDistributor(registry, st, publisher, nil)

	platforms := registry.ValidatePlatformSelection([]string{"tube", "social", "commerce"}, distribution.TierGold)
	result, err := distributor.DistributeToPlatforms(ctx, asset.ID, "", platforms)
	if err != nil {
		t.Fatalf("DistributeToPlatforms must not fail on per-platform errors: %v", err)
	}
	if result.Delivered != 2 || result.Failed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	targets, err := st.TargetsForAsset(ctx, asset.ID)
	if err != nil {
		t.Fatalf("TargetsForAsset failed: %v", err)
	}
	byPlatform := map[string]*store.DistributionTarget{}
	for _, target := range targets {
		byPlatform[target.PlatformID] = target
	}
	if byPlatform["tube"].Status != store.TargetDelivered || byPlatform["commerce"].Status != store.TargetDelivered {
		t.Fatalf("healthy platforms should deliver: %+v", targets)
	}
	if byPlatform["social"].Status != store.TargetFailed || byPlatform["social"].ErrorMessage == "" {
		t.Fatalf("failing platform should record its error: %+v", byPlatform["social"])
	}
	if len(publisher.calls) != 3 {
		t.Fatalf("every platform should be attempted, got %v", publisher.calls)
	}
}

func TestHTTPPublisherPostsIngestPayload(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	publisher := distribution.NewHTTPPublisher(cfg)
	platform := distribution.Platform{ID: "tube", URL: server.URL + "/ingest"}
	asset := &store.MediaAsset{ID: "asset-1", CreatorID: "creator-1", Filename: "video.mp4"}

	if err := publisher.Publish(context.Background(), platform, asset, nil); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if gotPath != "/ingest" {
		t.Fatalf("unexpected ingest path %q", gotPath)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer failing.Close()
	platform.URL = failing.URL
	if err := publisher.Publish(context.Background(), platform, asset, nil); err == nil {
		t.Fatal("expected error from rejecting platform")
	}
}

func TestParseTier(t *testing.T) {
	if tier, ok := distribution.ParseTier(" Gold "); !ok || tier != distribution.TierGold {
		t.Fatalf("ParseTier normalization failed: %q %v", tier, ok)
	}
	if _, ok := distribution.ParseTier("bronze"); ok {
		t.Fatal("unknown tier should not parse")
	}
	if !distribution.TierRoyalty.AtLeast(distribution.TierSilver) {
		t.Fatal("royalty should rank above silver")
	}
	if distribution.TierRoyalty.MaxPlatforms() != 0 {
		t.Fatal("royalty should be uncapped")
	}
}
