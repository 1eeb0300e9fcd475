// Package profiler derives audience profiles for grid points from the POIs
// around them. Each POI's contribution is its type importance scaled by a
// Gaussian distance decay and a log popularity factor; contributions are
// accumulated per age bucket, interest category, and land-use class, then
// normalized into distributions.
package profiler

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gridprofiler/internal/config"
	"github.com/sells-group/gridprofiler/internal/geo"
	"github.com/sells-group/gridprofiler/internal/model"
	"github.com/sells-group/gridprofiler/internal/store"
)

// Aggregator computes and stores audience profiles.
type Aggregator struct {
	store store.Store
	cfg   config.ProfilerConfig
	tax   Taxonomy
	log   *zap.Logger
}

// New creates an Aggregator using the given taxonomy.
func New(st store.Store, cfg config.ProfilerConfig, tax Taxonomy) *Aggregator {
	return &Aggregator{
		store: st,
		cfg:   cfg,
		tax:   tax,
		log:   zap.L().With(zap.String("component", "profiler")),
	}
}

// poiDistance pairs a POI with its distance to the grid point under
// evaluation.
type poiDistance struct {
	poi       model.POI
	distanceM float64
}

// ComputeAll recomputes profiles for every grid point against the full POI
// set and writes them in batches. Returns the number of profiles written.
func (a *Aggregator) ComputeAll(ctx context.Context) (int, error) {
	points, err := a.store.GridPoints(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "profiler: load grid points")
	}
	if len(points) == 0 {
		a.log.Warn("no grid points, nothing to profile")
		return 0, nil
	}
	pois, err := a.store.POIs(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "profiler: load pois")
	}

	a.log.Info("computing profiles",
		zap.Int("grid_points", len(points)),
		zap.Int("pois", len(pois)),
	)
	start := time.Now()

	// Coarse degree-span margins for the influence radius, so haversine only
	// runs on plausible candidates. Longitude degrees shrink with latitude;
	// the span is computed at the grid's mid latitude with a 10% margin.
	midLat := (points[0].Lat + points[len(points)-1].Lat) / 2
	latMargin := a.cfg.MaxInfluenceM / 111320.0 * 1.1
	lonMargin := a.cfg.MaxInfluenceM / (111320.0 * math.Cos(midLat*math.Pi/180)) * 1.1

	batchSize := a.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(points)
	}

	count := 0
	for _, gp := range points {
		if err := ctx.Err(); err != nil {
			return count, eris.Wrap(err, "profiler: canceled")
		}

		var nearby []poiDistance
		for _, p := range pois {
			if math.Abs(p.Lat-gp.Lat) > latMargin || math.Abs(p.Lon-gp.Lon) > lonMargin {
				continue
			}
			d := geo.Haversine(gp.Lat, gp.Lon, p.Lat, p.Lon)
			if d <= a.cfg.MaxInfluenceM {
				nearby = append(nearby, poiDistance{poi: p, distanceM: d})
			}
		}

		geoAttrs, audience, summary := a.ComputeProfile(nearby)
		if err := a.store.PutProfile(ctx, gp.ID, geoAttrs, audience, summary); err != nil {
			return count, eris.Wrapf(err, "profiler: store profile %s", gp.ID)
		}
		count++

		if count%batchSize == 0 {
			elapsed := time.Since(start).Seconds()
			a.log.Info("progress",
				zap.Int("done", count),
				zap.Int("total", len(points)),
				zap.Float64("per_sec", float64(count)/elapsed),
			)
		}
	}

	a.log.Info("profiles computed",
		zap.Int("count", count),
		zap.Duration("elapsed", time.Since(start)),
	)
	return count, nil
}

// ComputeProfile builds one grid point's profile from its in-radius POIs.
// Distributions cover the full bucket universe and sum to 1.0 within
// rounding; with no recognized POIs every value is zero.
func (a *Aggregator) ComputeProfile(nearby []poiDistance) ([]string, model.AudienceProfile, model.POISummary) {
	sort.Slice(nearby, func(i, j int) bool { return nearby[i].distanceM < nearby[j].distanceM })

	summary := model.POISummary{
		Nearest: []model.NearestPOI{},
		Counts:  map[string]int{},
	}
	for _, pd := range nearby {
		if len(summary.Nearest) >= 10 {
			break
		}
		ptype, ok := a.tax.PrimaryType(pd.poi.Types)
		if !ok {
			if len(pd.poi.Types) > 0 {
				ptype = pd.poi.Types[0]
			} else {
				ptype = "unknown"
			}
		}
		summary.Nearest = append(summary.Nearest, model.NearestPOI{
			PlaceID:   pd.poi.PlaceID,
			Name:      pd.poi.Name,
			Type:      ptype,
			DistanceM: round1(pd.distanceM),
		})
	}
	for _, pd := range nearby {
		if ptype, ok := a.tax.PrimaryType(pd.poi.Types); ok {
			summary.Counts[ptype]++
		}
	}

	ageScores := map[string]float64{}
	interestScores := map[string]float64{}
	landuseScores := map[string]float64{}
	var footfallTotal, totalInfluence float64

	for _, pd := range nearby {
		ptype, ok := a.tax.PrimaryType(pd.poi.Types)
		if !ok {
			continue
		}
		decay := gaussianDecay(pd.distanceM, a.cfg.SigmaM)
		pop := popularityFactor(pd.poi.ReviewCount)
		baseWeight := a.tax.Importance[ptype] * decay * pop

		totalInfluence += baseWeight
		footfallTotal += pop * decay

		for bucket, w := range a.tax.AgeWeights[ptype] {
			ageScores[bucket] += baseWeight * w
		}
		for cat, w := range a.tax.InterestWeights[ptype] {
			interestScores[cat] += baseWeight * w
		}
		lu, ok := a.tax.LandUse[ptype]
		if !ok {
			lu = "other"
		}
		landuseScores[lu] += baseWeight
	}

	audience := model.AudienceProfile{
		AgeProfile: normalizeInto(a.tax.AgeBuckets, ageScores),
		Interests:  normalizeInto(a.tax.InterestCategories, interestScores),
	}
	if footfallTotal > 0 {
		audience.FootfallProxy = round2(math.Min(1.0, footfallTotal/a.cfg.FootfallSaturation))
	}
	if totalInfluence > 0 {
		audience.Confidence = round2(math.Min(1.0, totalInfluence/a.cfg.ConfidenceSaturation))
	}

	return topLanduse(landuseScores, 3), audience, summary
}

// gaussianDecay maps distance to (0, 1]: exactly 1 at d=0, e^-0.5 at d=sigma.
func gaussianDecay(d, sigma float64) float64 {
	return math.Exp(-(d * d) / (2 * sigma * sigma))
}

// popularityFactor is 1 for unreviewed places and grows logarithmically with
// review count, so popular places dominate without drowning everything else.
func popularityFactor(reviews int) float64 {
	if reviews <= 0 {
		return 1.0
	}
	return 1.0 + math.Log(1+float64(reviews))
}

// normalizeInto projects scores onto the full bucket universe, normalized to
// sum to 1.0 and rounded to two decimals. An all-zero input stays all-zero.
func normalizeInto(universe []string, scores map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(universe))
	for _, k := range universe {
		out[k] = 0.0
	}
	var total float64
	for _, v := range scores {
		total += v
	}
	if total == 0 {
		return out
	}
	for k, v := range scores {
		out[k] = round2(v / total)
	}
	return out
}

// topLanduse returns the n highest-scoring land-use classes, ties broken
// alphabetically for determinism.
func topLanduse(scores map[string]float64, n int) []string {
	if len(scores) == 0 {
		return []string{}
	}
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if scores[keys[i]] != scores[keys[j]] {
			return scores[keys[i]] > scores[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
