package collector

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gridprofiler/internal/config"
	"github.com/sells-group/gridprofiler/internal/geo"
	"github.com/sells-group/gridprofiler/internal/model"
	"github.com/sells-group/gridprofiler/internal/store"
	"github.com/sells-group/gridprofiler/pkg/places"
)

type fakeClient struct {
	fn       func(req places.NearbySearchRequest) (*places.NearbySearchResponse, error)
	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

func (f *fakeClient) NearbySearch(_ context.Context, req places.NearbySearchRequest) (*places.NearbySearchResponse, error) {
	f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	return f.fn(req)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "request timed out" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func result(id, name string, types ...string) places.Result {
	r := places.Result{PlaceID: id, Name: name, Types: types}
	r.Geometry.Location.Lat = 28.4
	r.Geometry.Location.Lng = 77.0
	return r
}

func newCollectorStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testCfg() config.CollectorConfig {
	return config.CollectorConfig{
		Concurrency:     4,
		RetryMax:        3,
		BatchTiles:      50,
		RateLimitPerSec: 1000,
		Types:           []string{"school"},
	}
}

func TestCollector_DedupAcrossOverlappingTiles(t *testing.T) {
	st := newCollectorStore(t)
	client := &fakeClient{fn: func(places.NearbySearchRequest) (*places.NearbySearchResponse, error) {
		return &places.NearbySearchResponse{Results: []places.Result{result("p1", "School A", "school")}}, nil
	}}

	c := New(client, st, testCfg(), 1000, WithBackoffBase(time.Millisecond))
	centers := []orb.Point{{77.0, 28.4}, {77.002, 28.4}, {77.004, 28.4}}

	run, err := c.Run(context.Background(), centers)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, 3, run.PlannedCalls)
	assert.Equal(t, 3, run.CallsDone)
	assert.Equal(t, 1, run.POIsFound)

	pois, err := st.POIs(context.Background())
	require.NoError(t, err)
	assert.Len(t, pois, 1)
}

func TestCollector_RateLimitBackoffSchedule(t *testing.T) {
	st := newCollectorStore(t)
	client := &fakeClient{fn: func(places.NearbySearchRequest) (*places.NearbySearchResponse, error) {
		return nil, places.ErrRateLimited
	}}

	base := 20 * time.Millisecond
	c := New(client, st, testCfg(), 1000, WithBackoffBase(base))

	start := time.Now()
	run, err := c.Run(context.Background(), []orb.Point{{77.0, 28.4}})
	elapsed := time.Since(start)
	require.NoError(t, err)

	// Three attempts with exponential backoff between them: base + 2*base.
	assert.GreaterOrEqual(t, elapsed, 3*base)
	assert.Equal(t, int64(3), client.calls.Load())
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, 0, run.POIsFound)
}

func TestCollector_TimeoutRetriesThenSucceeds(t *testing.T) {
	st := newCollectorStore(t)
	var attempts atomic.Int64
	client := &fakeClient{fn: func(places.NearbySearchRequest) (*places.NearbySearchResponse, error) {
		if attempts.Add(1) == 1 {
			return nil, timeoutErr{}
		}
		return &places.NearbySearchResponse{Results: []places.Result{result("p1", "School A", "school")}}, nil
	}}

	c := New(client, st, testCfg(), 1000, WithBackoffBase(time.Millisecond))
	run, err := c.Run(context.Background(), []orb.Point{{77.0, 28.4}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), client.calls.Load())
	assert.Equal(t, 1, run.POIsFound)
}

func TestCollector_DeniedAbandonsImmediately(t *testing.T) {
	st := newCollectorStore(t)
	client := &fakeClient{fn: func(places.NearbySearchRequest) (*places.NearbySearchResponse, error) {
		return nil, places.ErrDenied
	}}

	c := New(client, st, testCfg(), 1000, WithBackoffBase(time.Second))
	start := time.Now()
	run, err := c.Run(context.Background(), []orb.Point{{77.0, 28.4}})
	require.NoError(t, err)

	// No retries and no backoff sleep for a terminal error.
	assert.Equal(t, int64(1), client.calls.Load())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 0, run.POIsFound)
}

func TestCollector_BoundsInFlightRequests(t *testing.T) {
	st := newCollectorStore(t)
	client := &fakeClient{fn: func(req places.NearbySearchRequest) (*places.NearbySearchResponse, error) {
		return &places.NearbySearchResponse{}, nil
	}}

	cfg := testCfg()
	cfg.Concurrency = 3
	cfg.Types = []string{"school", "hospital", "park", "gym"}
	c := New(client, st, cfg, 1000, WithBackoffBase(time.Millisecond))

	centers := make([]orb.Point, 10)
	for i := range centers {
		centers[i] = orb.Point{77.0 + float64(i)*0.002, 28.4}
	}
	_, err := c.Run(context.Background(), centers)
	require.NoError(t, err)
	assert.LessOrEqual(t, client.peak.Load(), int64(3))
	assert.Equal(t, int64(40), client.calls.Load())
}

func TestCollector_KeywordInjectsSyntheticCategory(t *testing.T) {
	st := newCollectorStore(t)
	client := &fakeClient{fn: func(req places.NearbySearchRequest) (*places.NearbySearchResponse, error) {
		if req.Keyword == "coworking space" {
			return &places.NearbySearchResponse{Results: []places.Result{
				result("p1", "WorkHub", "point_of_interest", "establishment"),
			}}, nil
		}
		return &places.NearbySearchResponse{}, nil
	}}

	cfg := testCfg()
	cfg.Types = nil
	cfg.Keywords = []string{"coworking space"}
	c := New(client, st, cfg, 1000,
		WithBackoffBase(time.Millisecond),
		WithKeywordTypes(map[string]string{"coworking space": "coworking_space"}),
	)

	_, err := c.Run(context.Background(), []orb.Point{{77.0, 28.4}})
	require.NoError(t, err)

	pois, err := st.POIs(context.Background())
	require.NoError(t, err)
	require.Len(t, pois, 1)
	assert.Equal(t, []string{"coworking_space", "point_of_interest", "establishment"}, pois[0].Types)
}

func TestCollector_FlushesPerBatch(t *testing.T) {
	st := newCollectorStore(t)
	cs := &countingStore{Store: st}
	var n atomic.Int64
	client := &fakeClient{fn: func(req places.NearbySearchRequest) (*places.NearbySearchResponse, error) {
		id := n.Add(1)
		return &places.NearbySearchResponse{Results: []places.Result{
			result(string(rune('a'+id)), "Place", "school"),
		}}, nil
	}}

	cfg := testCfg()
	cfg.BatchTiles = 2
	c := New(client, cs, cfg, 1000, WithBackoffBase(time.Millisecond))

	centers := make([]orb.Point, 5)
	for i := range centers {
		centers[i] = orb.Point{77.0 + float64(i)*0.002, 28.4}
	}
	_, err := c.Run(context.Background(), centers)
	require.NoError(t, err)

	// Five tiles in batches of two: three flushes.
	assert.Equal(t, int64(3), cs.flushes.Load())
}

type countingStore struct {
	store.Store
	flushes atomic.Int64
}

func (c *countingStore) UpsertPOIs(ctx context.Context, pois []model.POI) error {
	c.flushes.Add(1)
	return c.Store.UpsertPOIs(ctx, pois)
}

func TestMockPOIs_DeterministicPlacement(t *testing.T) {
	bbox := geo.BBox{South: 28.35, North: 28.53, West: 76.82, East: 77.15}

	pois := MockPOIs(bbox)
	require.Len(t, pois, 25)

	// First entry sits 500m east, 300m north of the SW corner.
	first := pois[0]
	assert.Equal(t, "mock_medanta_hospital", first.PlaceID)
	assert.Equal(t, []string{"hospital"}, first.Types)
	wantLat, wantLon := geo.OffsetPoint(bbox.South, bbox.West, 500, 300)
	assert.Equal(t, wantLat, first.Lat)
	assert.Equal(t, wantLon, first.Lon)

	// Same bbox, same places at the same coordinates.
	again := MockPOIs(bbox)
	for i := range pois {
		assert.Equal(t, pois[i].PlaceID, again[i].PlaceID)
		assert.Equal(t, pois[i].Lat, again[i].Lat)
		assert.Equal(t, pois[i].Lon, again[i].Lon)
	}

	ids := make(map[string]struct{}, len(pois))
	for _, p := range pois {
		ids[p.PlaceID] = struct{}{}
		assert.NotEmpty(t, p.Types)
		assert.False(t, p.LastUpdated.IsZero())
	}
	assert.Len(t, ids, 25, "place ids must be unique")
}

func TestLoadMockPOIs(t *testing.T) {
	st := newCollectorStore(t)
	bbox := geo.BBox{South: 28.35, North: 28.53, West: 76.82, East: 77.15}

	n, err := LoadMockPOIs(context.Background(), st, bbox)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	pois, err := st.POIs(context.Background())
	require.NoError(t, err)
	assert.Len(t, pois, 25)

	// Loading again overwrites in place rather than duplicating.
	_, err = LoadMockPOIs(context.Background(), st, bbox)
	require.NoError(t, err)
	pois, err = st.POIs(context.Background())
	require.NoError(t, err)
	assert.Len(t, pois, 25)
}

func TestLoadFixtures(t *testing.T) {
	st := newCollectorStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "pois.json")

	fixture := []model.POI{
		{PlaceID: "p1", Name: "School A", Lat: 28.4, Lon: 77.0, Types: []string{"school"}},
		{PlaceID: "p2", Name: "Mall B", Lat: 28.41, Lon: 77.01, Types: []string{"shopping_mall"}, Rating: 4.1, ReviewCount: 320},
	}
	data, err := json.Marshal(fixture)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	n, err := LoadFixtures(context.Background(), st, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pois, err := st.POIs(context.Background())
	require.NoError(t, err)
	assert.Len(t, pois, 2)
	for _, p := range pois {
		assert.False(t, p.LastUpdated.IsZero())
	}
}

func TestLoadFixtures_MissingFile(t *testing.T) {
	st := newCollectorStore(t)
	_, err := LoadFixtures(context.Background(), st, filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
