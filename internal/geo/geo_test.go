package geo

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Gurgaon-sized test box, roughly 32 km x 20 km.
var testBBox = BBox{South: 28.35, North: 28.53, West: 76.82, East: 77.15}

func TestHaversine_CoincidentPointsAreExactlyZero(t *testing.T) {
	points := [][2]float64{
		{0, 0},
		{28.4427, 76.9833},
		{-45.0, 170.25},
		{89.9, -179.9},
	}
	for _, p := range points {
		assert.Zero(t, Haversine(p[0], p[1], p[0], p[1]))
	}
}

func TestHaversine_KnownDistance(t *testing.T) {
	// One degree of latitude along a meridian is ~111.3 km on the WGS84 sphere.
	d := Haversine(28.0, 77.0, 29.0, 77.0)
	assert.InDelta(t, 111319.5, d, 150)
}

func TestOffsetPoint_RoundTrip(t *testing.T) {
	lat, lon := 28.4427, 76.9833

	eastLat, eastLon := OffsetPoint(lat, lon, 200, 0)
	assert.InDelta(t, 200, Haversine(lat, lon, eastLat, eastLon), 5)
	// Moving purely east leaves latitude unchanged.
	assert.InDelta(t, lat, eastLat, 1e-9)

	northLat, northLon := OffsetPoint(lat, lon, 0, 200)
	assert.InDelta(t, 200, Haversine(lat, lon, northLat, northLon), 5)
	// Moving purely north leaves longitude unchanged.
	assert.InDelta(t, lon, northLon, 1e-9)
}

func TestBBox_Validate(t *testing.T) {
	tests := []struct {
		name    string
		bbox    BBox
		wantErr bool
	}{
		{"valid", testBBox, false},
		{"inverted latitude", BBox{South: 28.53, North: 28.35, West: 76.82, East: 77.15}, true},
		{"inverted longitude", BBox{South: 28.35, North: 28.53, West: 77.15, East: 76.82}, true},
		{"out of range", BBox{South: -95, North: 10, West: 0, East: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bbox.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBBox_Bound(t *testing.T) {
	b := testBBox.Bound()
	assert.Equal(t, orb.Point{testBBox.West, testBBox.South}, b.Min)
	assert.Equal(t, orb.Point{testBBox.East, testBBox.North}, b.Max)
	assert.True(t, b.Contains(orb.Point{76.98, 28.44}))
	assert.False(t, b.Contains(orb.Point{77.20, 28.44}))
}

func TestGenerateGrid_SmallLattice(t *testing.T) {
	// A box sized so that floor(width/200)+1 == 3 and floor(height/200)+1 == 4.
	south, west := 28.35, 76.82
	neLat, _ := OffsetPoint(south, west, 0, 650)
	_, neLon := OffsetPoint(south, west, 450, 0)
	bbox := BBox{South: south, North: neLat, West: west, East: neLon}

	points, err := GenerateGrid(bbox, 200)
	require.NoError(t, err)
	require.Len(t, points, 12)

	// Row-major: i varies fastest.
	assert.Equal(t, "g_0_0", points[0].ID)
	assert.Equal(t, "g_1_0", points[1].ID)
	assert.Equal(t, "g_2_0", points[2].ID)
	assert.Equal(t, "g_0_1", points[3].ID)
	assert.Equal(t, "g_2_3", points[11].ID)

	// Origin is exactly the south-west corner, no rounding drift.
	assert.Equal(t, south, points[0].Lat)
	assert.Equal(t, west, points[0].Lon)

	// Adjacent points are ~200 m apart on both axes.
	dx := Haversine(points[0].Lat, points[0].Lon, points[1].Lat, points[1].Lon)
	assert.InDelta(t, 200, dx, 5)
	dy := Haversine(points[0].Lat, points[0].Lon, points[3].Lat, points[3].Lon)
	assert.InDelta(t, 200, dy, 5)
}

func TestGenerateGrid_Deterministic(t *testing.T) {
	a, err := GenerateGrid(testBBox, 200)
	require.NoError(t, err)
	b, err := GenerateGrid(testBBox, 200)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerateGrid_RejectsBadInput(t *testing.T) {
	_, err := GenerateGrid(testBBox, 0)
	assert.Error(t, err)
	_, err = GenerateGrid(BBox{South: 1, North: 0, West: 0, East: 1}, 200)
	assert.Error(t, err)
}

func TestTileCenters_CoversEveryBBoxPoint(t *testing.T) {
	const tileRadius = 1000.0

	centers, err := TileCenters(testBBox, tileRadius)
	require.NoError(t, err)
	require.NotEmpty(t, centers)

	// Sample points across the box, including the corners, and verify every
	// one of them is within tileRadius of at least one center.
	rng := rand.New(rand.NewPCG(7, 11))
	samples := [][2]float64{
		{testBBox.South, testBBox.West},
		{testBBox.South, testBBox.East},
		{testBBox.North, testBBox.West},
		{testBBox.North, testBBox.East},
	}
	for i := 0; i < 500; i++ {
		samples = append(samples, [2]float64{
			testBBox.South + rng.Float64()*(testBBox.North-testBBox.South),
			testBBox.West + rng.Float64()*(testBBox.East-testBBox.West),
		})
	}

	bound := testBBox.Bound()
	for _, s := range samples {
		require.True(t, bound.Contains(orb.Point{s[1], s[0]}), "sample outside bbox")
		covered := false
		for _, c := range centers {
			if Haversine(s[0], s[1], c.Lat(), c.Lon()) <= tileRadius {
				covered = true
				break
			}
		}
		assert.True(t, covered, "point (%.5f, %.5f) not covered by any tile center", s[0], s[1])
	}
}

func TestTileCenters_SpacingLeavesMargin(t *testing.T) {
	centers, err := TileCenters(testBBox, 1000)
	require.NoError(t, err)

	// The lattice step over-shrinks radius*sqrt(2), so neighboring centers in
	// a row must be closer than the theoretical covering maximum.
	d := Haversine(centers[0].Lat(), centers[0].Lon(), centers[1].Lat(), centers[1].Lon())
	assert.Less(t, d, 1000*math.Sqrt2)
	assert.InDelta(t, 1000*math.Sqrt2*0.9, d, 10)
}

func TestNearestGridPoint(t *testing.T) {
	points, err := GenerateGrid(testBBox, 200)
	require.NoError(t, err)

	got, ok := NearestGridPoint(points, testBBox.South, testBBox.West)
	require.True(t, ok)
	assert.Equal(t, "g_0_0", got.ID)

	_, ok = NearestGridPoint(nil, 0, 0)
	assert.False(t, ok)
}
