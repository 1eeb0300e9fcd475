package model

import (
	"encoding/json"
	"time"
)

// GridPoint is a single lattice point of the profiling grid. Points are created
// once per grid generation run and never mutated; the id is deterministic from
// the (i, j) lattice position.
type GridPoint struct {
	ID  string  `json:"id"`
	I   int     `json:"i"`
	J   int     `json:"j"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// POI is a point of interest discovered through the places lookup service.
// PlaceID is the identity key: a repeated discovery of the same place fully
// replaces the earlier record (last-writer-wins, no field-level merge).
type POI struct {
	PlaceID     string          `json:"place_id"`
	Name        string          `json:"name"`
	Lat         float64         `json:"lat"`
	Lon         float64         `json:"lon"`
	Types       []string        `json:"types"`
	Rating      float64         `json:"rating,omitempty"`
	ReviewCount int             `json:"review_count,omitempty"`
	Raw         json.RawMessage `json:"-"`
	LastUpdated time.Time       `json:"last_updated"`
}

// NearestPOI is one entry of a profile's nearest-POI list.
type NearestPOI struct {
	PlaceID   string  `json:"place_id"`
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	DistanceM float64 `json:"distance_m"`
}

// POISummary summarizes the POIs within the influence radius of a grid point.
// Nearest is capped at 10 entries sorted ascending by distance; Counts covers
// every in-radius POI that resolves to a known category, not just the top 10.
type POISummary struct {
	Nearest []NearestPOI   `json:"nearest"`
	Counts  map[string]int `json:"counts"`
}

// AudienceProfile holds the normalized demographic estimates for a grid point.
// AgeProfile and Interests are distributions over fixed, closed bucket
// universes: they sum to 1.0 within rounding, or are identically all-zero.
type AudienceProfile struct {
	AgeProfile    map[string]float64 `json:"age_profile"`
	Interests     map[string]float64 `json:"interests"`
	FootfallProxy float64            `json:"footfall_proxy"`
	Confidence    float64            `json:"confidence"`
}

// Profile is the derived digital profile of one grid point. It is an
// idempotent projection: recomputation overwrites the stored row in full and
// the store bumps Version monotonically.
type Profile struct {
	GridPointID string          `json:"grid_point_id"`
	GeoAttrs    []string        `json:"geo_attrs"`
	Audience    AudienceProfile `json:"audience"`
	POISummary  POISummary      `json:"poi_summary"`
	Version     int             `json:"version"`
	LastUpdated time.Time       `json:"last_updated"`
}

// CollectionRunStatus describes the lifecycle of a POI collection run.
type CollectionRunStatus string

const (
	RunStatusRunning  CollectionRunStatus = "running"
	RunStatusComplete CollectionRunStatus = "complete"
	RunStatusFailed   CollectionRunStatus = "failed"
)

// CollectionRun records one execution of the POI collector for auditing and
// progress inspection.
type CollectionRun struct {
	ID           string              `json:"id"`
	Status       CollectionRunStatus `json:"status"`
	PlannedCalls int                 `json:"planned_calls"`
	CallsDone    int                 `json:"calls_done"`
	POIsFound    int                 `json:"pois_found"`
	StartedAt    time.Time           `json:"started_at"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
}
