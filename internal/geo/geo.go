// Package geo provides the planar offset and great-circle distance primitives
// shared by grid generation, tile coverage, and profile aggregation.
package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/sells-group/gridprofiler/internal/model"
)

// EarthRadiusM is the WGS84 equatorial radius in meters.
const EarthRadiusM = 6378137.0

// BBox is a rectangular lat/lon bounding region. South/West is the origin
// corner for all planar math.
type BBox struct {
	South float64 `json:"south"`
	North float64 `json:"north"`
	West  float64 `json:"west"`
	East  float64 `json:"east"`
}

// Validate checks that the box is non-degenerate and within lat/lon ranges.
func (b BBox) Validate() error {
	if b.South >= b.North {
		return eris.Errorf("geo: bbox south %.6f must be below north %.6f", b.South, b.North)
	}
	if b.West >= b.East {
		return eris.Errorf("geo: bbox west %.6f must be below east %.6f", b.West, b.East)
	}
	if b.South < -90 || b.North > 90 || b.West < -180 || b.East > 180 {
		return eris.New("geo: bbox out of lat/lon range")
	}
	return nil
}

// Bound returns the box as an orb.Bound (lon/lat ordering).
func (b BBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.West, b.South},
		Max: orb.Point{b.East, b.North},
	}
}

// WidthM returns the length in meters of the southern edge.
func (b BBox) WidthM() float64 {
	return Haversine(b.South, b.West, b.South, b.East)
}

// HeightM returns the length in meters of the western edge.
func (b BBox) HeightM() float64 {
	return Haversine(b.South, b.West, b.North, b.West)
}

// OffsetPoint shifts a coordinate by dxEastM meters east and dyNorthM meters
// north using a flat-earth approximation: latitude moves linearly with
// distance and longitude is scaled by a single cos(latitude) factor. This is
// an intentional accuracy/simplicity trade-off. Error grows with distance from
// the origin and is not corrected for curvature, which keeps the math exact
// enough for regions spanning a few tens of kilometers.
func OffsetPoint(lat, lon, dxEastM, dyNorthM float64) (float64, float64) {
	newLat := lat + (dyNorthM/EarthRadiusM)*(180.0/math.Pi)
	newLon := lon + (dxEastM/(EarthRadiusM*math.Cos(lat*math.Pi/180.0)))*(180.0/math.Pi)
	return newLat, newLon
}

// Haversine returns the great-circle distance in meters between two lat/lon
// coordinates. Coincident points return exactly 0.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}
	phi1 := lat1 * math.Pi / 180.0
	phi2 := lat2 * math.Pi / 180.0
	dPhi := (lat2 - lat1) * math.Pi / 180.0
	dLam := (lon2 - lon1) * math.Pi / 180.0

	sinPhi := math.Sin(dPhi / 2)
	sinLam := math.Sin(dLam / 2)
	a := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLam*sinLam
	return 2 * EarthRadiusM * math.Asin(math.Sqrt(a))
}

// GenerateGrid lays out a row-major lattice of grid points covering bbox at
// the given spacing. Point (i=0, j=0) is exactly the south-west corner; the
// point count per axis is floor(edge/spacing)+1 so the lattice always reaches
// past the opposite edge's last full step. Output is deterministic: the same
// bbox and spacing always produce the same points.
func GenerateGrid(bbox BBox, spacingM float64) ([]model.GridPoint, error) {
	if err := bbox.Validate(); err != nil {
		return nil, err
	}
	if spacingM <= 0 {
		return nil, eris.Errorf("geo: grid spacing must be positive, got %.1f", spacingM)
	}

	sizeX := int(bbox.WidthM()/spacingM) + 1
	sizeY := int(bbox.HeightM()/spacingM) + 1

	points := make([]model.GridPoint, 0, sizeX*sizeY)
	for j := 0; j < sizeY; j++ {
		for i := 0; i < sizeX; i++ {
			lat, lon := bbox.South, bbox.West
			if i > 0 || j > 0 {
				lat, lon = OffsetPoint(bbox.South, bbox.West, float64(i)*spacingM, float64(j)*spacingM)
			}
			points = append(points, model.GridPoint{
				ID:  fmt.Sprintf("g_%d_%d", i, j),
				I:   i,
				J:   j,
				Lat: lat,
				Lon: lon,
			})
		}
	}
	return points, nil
}

// tileSpacingFactor shrinks the theoretical maximum covering spacing of
// radius*sqrt(2) (at which the squares inscribed in adjacent circles exactly
// tile the plane) to leave a safety margin at circle corners, trading a
// higher tile count for a coverage guarantee.
const tileSpacingFactor = 0.9

// TileCenters computes a minimal square lattice of circular query centers so
// that every point inside bbox lies within tileRadiusM of at least one
// center. The lattice is laid out in a planar frame anchored at the bbox
// south-west corner, extended by a one-radius buffer on every side to cover
// the edges, and converted back to lat/lon via OffsetPoint. Returned points
// use orb's lon/lat ordering.
func TileCenters(bbox BBox, tileRadiusM float64) ([]orb.Point, error) {
	if err := bbox.Validate(); err != nil {
		return nil, err
	}
	if tileRadiusM <= 0 {
		return nil, eris.Errorf("geo: tile radius must be positive, got %.1f", tileRadiusM)
	}

	spacing := tileRadiusM * math.Sqrt2 * tileSpacingFactor
	buffer := tileRadiusM

	xMin, xMax := -buffer, bbox.WidthM()+buffer
	yMin, yMax := -buffer, bbox.HeightM()+buffer

	var centers []orb.Point
	for y := yMin; y <= yMax; y += spacing {
		for x := xMin; x <= xMax; x += spacing {
			lat, lon := OffsetPoint(bbox.South, bbox.West, x, y)
			centers = append(centers, orb.Point{lon, lat})
		}
	}
	return centers, nil
}

// NearestGridPoint returns the grid point closest to the given coordinate,
// or false when points is empty.
func NearestGridPoint(points []model.GridPoint, lat, lon float64) (model.GridPoint, bool) {
	if len(points) == 0 {
		return model.GridPoint{}, false
	}
	best := points[0]
	bestDist := Haversine(lat, lon, best.Lat, best.Lon)
	for _, p := range points[1:] {
		if d := Haversine(lat, lon, p.Lat, p.Lon); d < bestDist {
			best, bestDist = p, d
		}
	}
	return best, true
}
