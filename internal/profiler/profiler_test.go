package profiler

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gridprofiler/internal/config"
	"github.com/sells-group/gridprofiler/internal/geo"
	"github.com/sells-group/gridprofiler/internal/model"
	"github.com/sells-group/gridprofiler/internal/store"
)

func testProfilerCfg() config.ProfilerConfig {
	return config.ProfilerConfig{
		SigmaM:               200,
		MaxInfluenceM:        1000,
		BatchSize:            500,
		FootfallSaturation:   20,
		ConfidenceSaturation: 15,
	}
}

func newAggregator(st store.Store) *Aggregator {
	return New(st, testProfilerCfg(), DefaultTaxonomy())
}

func TestGaussianDecay(t *testing.T) {
	assert.Equal(t, 1.0, gaussianDecay(0, 200))
	assert.InDelta(t, math.Exp(-0.5), gaussianDecay(200, 200), 1e-9)
	assert.Greater(t, gaussianDecay(100, 200), gaussianDecay(500, 200))
}

func TestPopularityFactor(t *testing.T) {
	assert.Equal(t, 1.0, popularityFactor(0))
	assert.Greater(t, popularityFactor(100), 1.0)
	assert.Greater(t, popularityFactor(1000), popularityFactor(100))
}

func TestComputeProfile_EmptyPOIs(t *testing.T) {
	a := newAggregator(nil)

	geoAttrs, audience, summary := a.ComputeProfile(nil)

	assert.Empty(t, geoAttrs)
	assert.Zero(t, audience.Confidence)
	assert.Zero(t, audience.FootfallProxy)
	for bucket, v := range audience.AgeProfile {
		assert.Zerof(t, v, "bucket %s", bucket)
	}
	for cat, v := range audience.Interests {
		assert.Zerof(t, v, "category %s", cat)
	}
	assert.Empty(t, summary.Nearest)
	assert.Empty(t, summary.Counts)
}

func TestComputeProfile_DistributionsCoverFullUniverse(t *testing.T) {
	a := newAggregator(nil)

	_, audience, _ := a.ComputeProfile(nil)
	assert.Len(t, audience.AgeProfile, 6)
	assert.Len(t, audience.Interests, 8)
}

func TestComputeProfile_NearbySchool(t *testing.T) {
	a := newAggregator(nil)

	school := model.POI{
		PlaceID: "test_school_1", Name: "Test School",
		Types: []string{"school"}, Rating: 4.0, ReviewCount: 50,
	}
	geoAttrs, audience, summary := a.ComputeProfile([]poiDistance{{poi: school, distanceM: 100}})

	assert.Greater(t, audience.AgeProfile["0-12"], 0.0)
	assert.Greater(t, audience.AgeProfile["0-12"], audience.AgeProfile["13-17"])
	assert.Greater(t, audience.Confidence, 0.0)
	assert.Contains(t, geoAttrs, "education")
	assert.InDelta(t, 1.0, audience.Interests["education"], 0.001)

	require.Len(t, summary.Nearest, 1)
	assert.Equal(t, "school", summary.Nearest[0].Type)
	assert.Equal(t, 100.0, summary.Nearest[0].DistanceM)
	assert.Equal(t, 1, summary.Counts["school"])
}

func TestComputeProfile_CloserPOIHasMoreInfluence(t *testing.T) {
	a := newAggregator(nil)

	school := model.POI{PlaceID: "s", Name: "School", Types: []string{"school"}, ReviewCount: 50}

	_, near, _ := a.ComputeProfile([]poiDistance{{poi: school, distanceM: 50}})
	_, far, _ := a.ComputeProfile([]poiDistance{{poi: school, distanceM: 800}})

	assert.Greater(t, near.Confidence, far.Confidence)
}

func TestComputeProfile_DistributionSumsToOne(t *testing.T) {
	a := newAggregator(nil)

	nearby := []poiDistance{
		{poi: model.POI{PlaceID: "a", Types: []string{"school"}, ReviewCount: 30}, distanceM: 150},
		{poi: model.POI{PlaceID: "b", Types: []string{"restaurant"}, ReviewCount: 200}, distanceM: 300},
		{poi: model.POI{PlaceID: "c", Types: []string{"gym"}}, distanceM: 450},
	}
	_, audience, _ := a.ComputeProfile(nearby)

	var ageSum, interestSum float64
	for _, v := range audience.AgeProfile {
		ageSum += v
	}
	for _, v := range audience.Interests {
		interestSum += v
	}
	assert.InDelta(t, 1.0, ageSum, 0.05)
	assert.InDelta(t, 1.0, interestSum, 0.05)
}

func TestComputeProfile_UnrecognizedTypesIgnored(t *testing.T) {
	a := newAggregator(nil)

	nearby := []poiDistance{
		{poi: model.POI{PlaceID: "x", Name: "Odd Place", Types: []string{"point_of_interest"}}, distanceM: 100},
	}
	geoAttrs, audience, summary := a.ComputeProfile(nearby)

	assert.Zero(t, audience.Confidence)
	assert.Empty(t, geoAttrs)
	assert.Empty(t, summary.Counts)
	// Still listed among nearest, tagged with its raw first type.
	require.Len(t, summary.Nearest, 1)
	assert.Equal(t, "point_of_interest", summary.Nearest[0].Type)
}

func TestComputeProfile_NearestCappedAtTenSorted(t *testing.T) {
	a := newAggregator(nil)

	var nearby []poiDistance
	for i := 0; i < 15; i++ {
		nearby = append(nearby, poiDistance{
			poi:       model.POI{PlaceID: string(rune('a' + i)), Types: []string{"store"}},
			distanceM: float64(900 - i*50),
		})
	}
	_, _, summary := a.ComputeProfile(nearby)

	require.Len(t, summary.Nearest, 10)
	for i := 1; i < len(summary.Nearest); i++ {
		assert.LessOrEqual(t, summary.Nearest[i-1].DistanceM, summary.Nearest[i].DistanceM)
	}
	// Counts still cover all 15 in-radius POIs.
	assert.Equal(t, 15, summary.Counts["store"])
}

func TestComputeProfile_SyntheticTypeLeadsTagList(t *testing.T) {
	a := newAggregator(nil)

	office := model.POI{
		PlaceID: "o1", Name: "Tower One",
		Types: []string{"corporate_office", "point_of_interest", "establishment"},
	}
	geoAttrs, audience, _ := a.ComputeProfile([]poiDistance{{poi: office, distanceM: 120}})

	assert.Contains(t, geoAttrs, "office")
	assert.InDelta(t, 1.0, audience.Interests["business"], 0.001)
}

func TestComputeAll(t *testing.T) {
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	defer s.Close()

	ctx := context.Background()
	gpLat, gpLon := 28.4084, 77.0417
	require.NoError(t, s.PutGridPoints(ctx, []model.GridPoint{
		{ID: "g_0_0", I: 0, J: 0, Lat: gpLat, Lon: gpLon},
	}))

	nearLat, nearLon := geo.OffsetPoint(gpLat, gpLon, 100, 0)
	farLat, farLon := geo.OffsetPoint(gpLat, gpLon, 5000, 0)
	require.NoError(t, s.UpsertPOIs(ctx, []model.POI{
		{PlaceID: "near", Name: "Near School", Lat: nearLat, Lon: nearLon,
			Types: []string{"school"}, ReviewCount: 50, LastUpdated: time.Now().UTC()},
		{PlaceID: "far", Name: "Far School", Lat: farLat, Lon: farLon,
			Types: []string{"school"}, ReviewCount: 50, LastUpdated: time.Now().UTC()},
	}))

	a := newAggregator(s)
	n, err := a.ComputeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p, err := s.Profile(ctx, "g_0_0")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Version)
	assert.Greater(t, p.Audience.AgeProfile["0-12"], 0.0)
	// Only the near school is inside the influence radius.
	assert.Equal(t, 1, p.POISummary.Counts["school"])

	// Recompute overwrites in place and bumps the version.
	n, err = a.ComputeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	p, err = s.Profile(ctx, "g_0_0")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Version)
}

func TestComputeAll_NoGridPoints(t *testing.T) {
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	defer s.Close()

	a := newAggregator(s)
	n, err := a.ComputeAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
