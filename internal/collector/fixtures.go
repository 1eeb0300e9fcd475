package collector

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/gridprofiler/internal/geo"
	"github.com/sells-group/gridprofiler/internal/model"
	"github.com/sells-group/gridprofiler/internal/store"
)

// mockPOI is one entry of the built-in demo set: a named place at a metric
// offset east/north of the bbox south-west corner.
type mockPOI struct {
	poiType  string
	name     string
	dxEastM  float64
	dyNorthM float64
	rating   float64
	reviews  int
}

var mockData = []mockPOI{
	{"hospital", "Medanta Hospital", 500, 300, 4.5, 12000},
	{"hospital", "Artemis Hospital", -200, 600, 4.3, 8500},
	{"school", "DPS Gurgaon", 150, 100, 4.2, 3200},
	{"school", "Shiv Nadar School", 400, -100, 4.4, 1800},
	{"school", "GD Goenka Public School", -100, 350, 4.1, 2100},
	{"university", "Amity University", 700, 700, 3.9, 5600},
	{"university", "MDU Campus Center", -300, 800, 3.7, 2300},
	{"shopping_mall", "Ambience Mall", 300, 500, 4.3, 45000},
	{"shopping_mall", "MGF Metropolitan", -150, 200, 4.0, 18000},
	{"store", "Big Bazaar", 100, 400, 3.8, 6200},
	{"store", "Reliance Fresh", 250, 50, 3.9, 1500},
	{"store", "DMart", -200, 150, 4.0, 8900},
	{"restaurant", "Haldiram's", 50, 250, 4.1, 9500},
	{"restaurant", "Barbeque Nation", 350, 350, 4.2, 7200},
	{"restaurant", "Subway", 500, 100, 3.8, 3100},
	{"restaurant", "Domino's Pizza", -50, 450, 3.9, 4200},
	{"restaurant", "McDonald's", 200, 600, 4.0, 11000},
	{"transit_station", "HUDA City Centre Metro", 600, 200, 4.1, 15000},
	{"transit_station", "IFFCO Chowk Metro", -400, 500, 4.0, 12000},
	{"transit_station", "Sikanderpur Metro", 100, 700, 4.2, 9000},
	{"hospital", "Fortis Hospital", 800, 400, 4.4, 10000},
	{"school", "The Heritage School", 600, -50, 4.3, 2800},
	{"restaurant", "Sagar Ratna", -300, 100, 4.0, 5600},
	{"store", "Croma Electronics", 450, 550, 3.7, 3400},
	{"shopping_mall", "DLF Cyber Hub", 700, 150, 4.5, 32000},
}

// MockPOIs returns the built-in demo POI set placed at metric offsets from
// the bbox south-west corner. Deterministic apart from LastUpdated, so demo
// runs and tests see the same places at the same coordinates.
func MockPOIs(bbox geo.BBox) []model.POI {
	now := time.Now().UTC()
	pois := make([]model.POI, 0, len(mockData))
	for _, m := range mockData {
		lat, lon := geo.OffsetPoint(bbox.South, bbox.West, m.dxEastM, m.dyNorthM)
		pois = append(pois, model.POI{
			PlaceID:     "mock_" + strings.ReplaceAll(strings.ToLower(m.name), " ", "_"),
			Name:        m.name,
			Lat:         lat,
			Lon:         lon,
			Types:       []string{m.poiType},
			Rating:      m.rating,
			ReviewCount: m.reviews,
			Raw:         json.RawMessage(`{"mock":true}`),
			LastUpdated: now,
		})
	}
	return pois
}

// LoadMockPOIs upserts the built-in demo set for the given bbox, bypassing
// the places API entirely. Lets the profiler and the HTTP API run without an
// API credential. Returns the number of POIs loaded.
func LoadMockPOIs(ctx context.Context, st store.Store, bbox geo.BBox) (int, error) {
	pois := MockPOIs(bbox)
	if err := st.UpsertPOIs(ctx, pois); err != nil {
		return 0, eris.Wrap(err, "collector: load mock pois")
	}
	return len(pois), nil
}

// LoadFixtures reads a JSON array of POIs from path and upserts them. A
// file-based alternative to the built-in set for caller-authored demo data.
// Returns the number of POIs loaded.
func LoadFixtures(ctx context.Context, st store.Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, eris.Wrapf(err, "collector: read fixture %s", path)
	}

	var pois []model.POI
	if err := json.Unmarshal(data, &pois); err != nil {
		return 0, eris.Wrapf(err, "collector: parse fixture %s", path)
	}

	now := time.Now().UTC()
	for i := range pois {
		if pois[i].LastUpdated.IsZero() {
			pois[i].LastUpdated = now
		}
	}
	if err := st.UpsertPOIs(ctx, pois); err != nil {
		return 0, eris.Wrap(err, "collector: load fixture")
	}
	return len(pois), nil
}
