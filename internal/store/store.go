package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/gridprofiler/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for the profiling pipeline.
// Store unavailability is the only fatal condition in the pipeline: every
// method propagates persistence errors to the caller.
type Store interface {
	// Grid points. ClearGrid removes all grid points and their profiles so a
	// forced regeneration over a changed bbox or spacing leaves no stale rows.
	PutGridPoints(ctx context.Context, points []model.GridPoint) error
	GridPoints(ctx context.Context) ([]model.GridPoint, error) // ordered by (j, i)
	ClearGrid(ctx context.Context) error

	// POIs; upsert is keyed by place_id, last writer wins. The read path
	// omits the raw payload.
	UpsertPOIs(ctx context.Context, pois []model.POI) error
	POIs(ctx context.Context) ([]model.POI, error)

	// Profiles; PutProfile overwrites the full row and bumps the stored
	// version counter.
	PutProfile(ctx context.Context, gridPointID string, geoAttrs []string, audience model.AudienceProfile, summary model.POISummary) error
	Profile(ctx context.Context, gridPointID string) (*model.Profile, error)
	Profiles(ctx context.Context) ([]model.Profile, error)

	// Collection run bookkeeping
	CreateCollectionRun(ctx context.Context, plannedCalls int) (*model.CollectionRun, error)
	CompleteCollectionRun(ctx context.Context, runID string, status model.CollectionRunStatus, callsDone, poisFound int) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
