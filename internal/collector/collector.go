// Package collector gathers POIs for a set of circular query tiles under
// bounded concurrency. Each tile is queried once per configured place type and
// once per configured keyword; results are deduplicated by place id and
// flushed to the store at batch boundaries.
package collector

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sells-group/gridprofiler/internal/config"
	"github.com/sells-group/gridprofiler/internal/model"
	"github.com/sells-group/gridprofiler/internal/store"
	"github.com/sells-group/gridprofiler/pkg/places"
)

// unit is one places API query: a tile center paired with either a type
// filter or a free-text keyword.
type unit struct {
	center  orb.Point
	poiType string
	keyword string
}

// Progress is a point-in-time snapshot of a running collection.
type Progress struct {
	PlannedCalls int64 `json:"planned_calls"`
	CallsDone    int64 `json:"calls_done"`
	POIsFound    int64 `json:"pois_found"`
}

// Collector runs bounded-concurrency POI collection over tile centers.
type Collector struct {
	client       places.Client
	store        store.Store
	cfg          config.CollectorConfig
	tileRadiusM  float64
	keywordTypes map[string]string
	backoffBase  time.Duration
	log          *zap.Logger

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	plannedCalls atomic.Int64
	callsDone    atomic.Int64
	poisFound    atomic.Int64
}

// Option customizes a Collector.
type Option func(*Collector)

// WithBackoffBase overrides the base backoff delay. Retries after a
// rate-limit response sleep base*2^attempt; timeouts sleep a flat base.
func WithBackoffBase(d time.Duration) Option {
	return func(c *Collector) { c.backoffBase = d }
}

// WithKeywordTypes sets the keyword lexicon. When set, results of a keyword
// query get the mapped synthetic category injected as their first tag.
func WithKeywordTypes(m map[string]string) Option {
	return func(c *Collector) { c.keywordTypes = m }
}

// New creates a Collector. tileRadiusM is the search radius sent with every
// query and must match the radius the tile lattice was generated with.
func New(client places.Client, st store.Store, cfg config.CollectorConfig, tileRadiusM float64, opts ...Option) *Collector {
	c := &Collector{
		client:      client,
		store:       st,
		cfg:         cfg,
		tileRadiusM: tileRadiusM,
		backoffBase: time.Second,
		log:         zap.L().With(zap.String("component", "collector")),
		sem:         semaphore.NewWeighted(int64(cfg.Concurrency)),
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Progress reports the current collection counters. Safe to call from any
// goroutine while Run is in flight.
func (c *Collector) Progress() Progress {
	return Progress{
		PlannedCalls: c.plannedCalls.Load(),
		CallsDone:    c.callsDone.Load(),
		POIsFound:    c.poisFound.Load(),
	}
}

// Run collects POIs for every tile center and persists them. A failing unit
// is logged and skipped; only store errors and context cancellation abort the
// run. Returns the completed collection run record.
func (c *Collector) Run(ctx context.Context, centers []orb.Point) (*model.CollectionRun, error) {
	unitsPerTile := len(c.cfg.Types) + len(c.cfg.Keywords)
	c.plannedCalls.Store(int64(len(centers) * unitsPerTile))
	c.callsDone.Store(0)
	c.poisFound.Store(0)

	run, err := c.store.CreateCollectionRun(ctx, len(centers)*unitsPerTile)
	if err != nil {
		return nil, eris.Wrap(err, "collector: create run")
	}

	seen := make(map[string]struct{})
	batchTiles := c.cfg.BatchTiles
	if batchTiles <= 0 {
		batchTiles = len(centers)
	}

	for start := 0; start < len(centers); start += batchTiles {
		end := start + batchTiles
		if end > len(centers) {
			end = len(centers)
		}
		batchStart := time.Now()

		merged, err := c.collectBatch(ctx, centers[start:end])
		if err != nil {
			c.failRun(run.ID)
			return nil, err
		}

		pois := make([]model.POI, 0, len(merged))
		for id, p := range merged {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				c.poisFound.Add(1)
			}
			pois = append(pois, p)
		}
		if err := c.store.UpsertPOIs(ctx, pois); err != nil {
			c.failRun(run.ID)
			return nil, eris.Wrap(err, "collector: flush batch")
		}

		c.log.Info("batch complete",
			zap.Int("tiles", end-start),
			zap.Int("batch_pois", len(pois)),
			zap.Int64("calls_done", c.callsDone.Load()),
			zap.Int64("total_pois", c.poisFound.Load()),
			zap.Duration("elapsed", time.Since(batchStart)),
		)
	}

	if err := c.store.CompleteCollectionRun(ctx, run.ID, model.RunStatusComplete,
		int(c.callsDone.Load()), int(c.poisFound.Load())); err != nil {
		return nil, eris.Wrap(err, "collector: complete run")
	}
	run.Status = model.RunStatusComplete
	run.CallsDone = int(c.callsDone.Load())
	run.POIsFound = int(c.poisFound.Load())
	now := time.Now().UTC()
	run.CompletedAt = &now
	return run, nil
}

func (c *Collector) failRun(runID string) {
	// Best effort with a fresh context: the run context may already be done.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.CompleteCollectionRun(ctx, runID, model.RunStatusFailed,
		int(c.callsDone.Load()), int(c.poisFound.Load())); err != nil {
		c.log.Warn("mark run failed", zap.String("run_id", runID), zap.Error(err))
	}
}

// collectBatch fans out every unit of the given tiles and joins before
// merging, so the dedup map is only touched under the mutex while workers run
// and never after.
func (c *Collector) collectBatch(ctx context.Context, centers []orb.Point) (map[string]model.POI, error) {
	merged := make(map[string]model.POI)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, center := range centers {
		for _, u := range c.tileUnits(center) {
			g.Go(func() error {
				results, err := c.searchWithRetry(gctx, u)
				c.callsDone.Add(1)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					c.log.Warn("unit abandoned",
						zap.Float64("lat", u.center.Lat()),
						zap.Float64("lon", u.center.Lon()),
						zap.String("type", u.poiType),
						zap.String("keyword", u.keyword),
						zap.Error(err),
					)
					return nil
				}
				now := time.Now().UTC()
				mu.Lock()
				for _, r := range results {
					merged[r.PlaceID] = c.toPOI(r, u, now)
				}
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "collector: batch aborted")
	}
	return merged, nil
}

func (c *Collector) tileUnits(center orb.Point) []unit {
	units := make([]unit, 0, len(c.cfg.Types)+len(c.cfg.Keywords))
	for _, t := range c.cfg.Types {
		units = append(units, unit{center: center, poiType: t})
	}
	for _, k := range c.cfg.Keywords {
		units = append(units, unit{center: center, keyword: k})
	}
	return units
}

// searchWithRetry performs one unit's query with bounded retries. The
// admission slot is released before every backoff sleep and reacquired for
// the retry, so a sleeping unit never starves runnable ones.
func (c *Collector) searchWithRetry(ctx context.Context, u unit) ([]places.Result, error) {
	req := places.NearbySearchRequest{
		Lat:     u.center.Lat(),
		Lon:     u.center.Lon(),
		RadiusM: c.tileRadiusM,
		Type:    u.poiType,
		Keyword: u.keyword,
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.RetryMax; attempt++ {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, eris.Wrap(err, "collector: acquire slot")
		}
		if err := c.limiter.Wait(ctx); err != nil {
			c.sem.Release(1)
			return nil, eris.Wrap(err, "collector: rate wait")
		}
		resp, err := c.client.NearbySearch(ctx, req)
		c.sem.Release(1)
		if err == nil {
			return resp.Results, nil
		}
		lastErr = err

		var delay time.Duration
		switch {
		case eris.Is(err, places.ErrRateLimited):
			delay = c.backoffBase << attempt
		case places.IsTimeout(err):
			delay = c.backoffBase
		default:
			// Denied and unrecognized statuses are terminal.
			return nil, err
		}
		if attempt == c.cfg.RetryMax-1 {
			break
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, eris.Wrapf(lastErr, "collector: retries exhausted after %d attempts", c.cfg.RetryMax)
}

func (c *Collector) toPOI(r places.Result, u unit, now time.Time) model.POI {
	types := r.Types
	if u.keyword != "" {
		if synthetic, ok := c.keywordTypes[u.keyword]; ok && !contains(types, synthetic) {
			types = append([]string{synthetic}, types...)
		}
	}
	raw, err := json.Marshal(r)
	if err != nil {
		raw = nil
	}
	return model.POI{
		PlaceID:     r.PlaceID,
		Name:        r.Name,
		Lat:         r.Geometry.Location.Lat,
		Lon:         r.Geometry.Location.Lng,
		Types:       types,
		Rating:      r.Rating,
		ReviewCount: r.UserRatingsTotal,
		Raw:         raw,
		LastUpdated: now,
	}
}

func contains(hay []string, needle string) bool {
	for _, s := range hay {
		if s == needle {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
