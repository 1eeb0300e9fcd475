package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/gridprofiler/internal/db"
	"github.com/sells-group/gridprofiler/internal/model"
)

// PostgresStore implements Store using a pgx connection pool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS grid_points (
	id  TEXT PRIMARY KEY,
	i   INTEGER NOT NULL,
	j   INTEGER NOT NULL,
	lat DOUBLE PRECISION NOT NULL,
	lon DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS pois (
	place_id     TEXT PRIMARY KEY,
	name         TEXT,
	lat          DOUBLE PRECISION NOT NULL,
	lon          DOUBLE PRECISION NOT NULL,
	types        JSONB,
	rating       DOUBLE PRECISION,
	review_count INTEGER,
	raw          JSONB,
	last_updated TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
	grid_point_id TEXT PRIMARY KEY REFERENCES grid_points(id),
	geo_attrs     JSONB NOT NULL,
	audience      JSONB NOT NULL,
	poi_summary   JSONB NOT NULL,
	last_updated  TIMESTAMPTZ NOT NULL,
	version       INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS collection_runs (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL DEFAULT 'running',
	planned_calls INTEGER NOT NULL DEFAULT 0,
	calls_done    INTEGER NOT NULL DEFAULT 0,
	pois_found    INTEGER NOT NULL DEFAULT 0,
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_grid_points_ji ON grid_points(j, i);
CREATE INDEX IF NOT EXISTS idx_collection_runs_status ON collection_runs(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) PutGridPoints(ctx context.Context, points []model.GridPoint) error {
	for _, p := range points {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO grid_points (id, i, j, lat, lon) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO UPDATE SET i = $2, j = $3, lat = $4, lon = $5`,
			p.ID, p.I, p.J, p.Lat, p.Lon,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert grid point %s", p.ID)
		}
	}
	return nil
}

func (s *PostgresStore) ClearGrid(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin clear grid tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Profiles reference grid points, so they go first.
	if _, err := tx.Exec(ctx, `DELETE FROM profiles`); err != nil {
		return eris.Wrap(err, "postgres: clear profiles")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM grid_points`); err != nil {
		return eris.Wrap(err, "postgres: clear grid points")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit clear grid")
}

func (s *PostgresStore) GridPoints(ctx context.Context) ([]model.GridPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, i, j, lat, lon FROM grid_points ORDER BY j, i`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list grid points")
	}
	defer rows.Close()

	var points []model.GridPoint
	for rows.Next() {
		var p model.GridPoint
		if err := rows.Scan(&p.ID, &p.I, &p.J, &p.Lat, &p.Lon); err != nil {
			return nil, eris.Wrap(err, "postgres: scan grid point")
		}
		points = append(points, p)
	}
	return points, eris.Wrap(rows.Err(), "postgres: iterate grid points")
}

func (s *PostgresStore) UpsertPOIs(ctx context.Context, pois []model.POI) error {
	for _, p := range pois {
		typesJSON, err := json.Marshal(p.Types)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal types for %s", p.PlaceID)
		}
		raw := p.Raw
		if len(raw) == 0 {
			raw = json.RawMessage("null")
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO pois (place_id, name, lat, lon, types, rating, review_count, raw, last_updated)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (place_id) DO UPDATE SET
			   name = $2, lat = $3, lon = $4, types = $5, rating = $6,
			   review_count = $7, raw = $8, last_updated = $9`,
			p.PlaceID, p.Name, p.Lat, p.Lon, string(typesJSON),
			nullFloat(p.Rating), nullInt(p.ReviewCount), string(raw), p.LastUpdated,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert poi %s", p.PlaceID)
		}
	}
	return nil
}

func (s *PostgresStore) POIs(ctx context.Context) ([]model.POI, error) {
	// Raw payload is deliberately excluded from the read path.
	rows, err := s.pool.Query(ctx,
		`SELECT place_id, name, lat, lon, types, rating, review_count, last_updated FROM pois`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pois")
	}
	defer rows.Close()

	var pois []model.POI
	for rows.Next() {
		var (
			p         model.POI
			typesJSON *string
			rating    *float64
			reviews   *int
		)
		if err := rows.Scan(&p.PlaceID, &p.Name, &p.Lat, &p.Lon, &typesJSON, &rating, &reviews, &p.LastUpdated); err != nil {
			return nil, eris.Wrap(err, "postgres: scan poi")
		}
		if typesJSON != nil && *typesJSON != "" {
			if err := json.Unmarshal([]byte(*typesJSON), &p.Types); err != nil {
				return nil, eris.Wrapf(err, "postgres: unmarshal types for %s", p.PlaceID)
			}
		}
		if rating != nil {
			p.Rating = *rating
		}
		if reviews != nil {
			p.ReviewCount = *reviews
		}
		pois = append(pois, p)
	}
	return pois, eris.Wrap(rows.Err(), "postgres: iterate pois")
}

func (s *PostgresStore) PutProfile(ctx context.Context, gridPointID string, geoAttrs []string, audience model.AudienceProfile, summary model.POISummary) error {
	geoJSON, err := json.Marshal(geoAttrs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal geo attrs")
	}
	audJSON, err := json.Marshal(audience)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal audience")
	}
	sumJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal poi summary")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO profiles (grid_point_id, geo_attrs, audience, poi_summary, last_updated, version)
		 VALUES ($1, $2, $3, $4, $5, 1)
		 ON CONFLICT (grid_point_id) DO UPDATE SET
		   geo_attrs = $2, audience = $3, poi_summary = $4,
		   last_updated = $5, version = profiles.version + 1`,
		gridPointID, string(geoJSON), string(audJSON), string(sumJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: put profile %s", gridPointID)
}

func (s *PostgresStore) Profile(ctx context.Context, gridPointID string) (*model.Profile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT grid_point_id, geo_attrs, audience, poi_summary, last_updated, version
		 FROM profiles WHERE grid_point_id = $1`,
		gridPointID,
	)
	p, err := scanPostgresProfile(row.Scan)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *PostgresStore) Profiles(ctx context.Context) ([]model.Profile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT grid_point_id, geo_attrs, audience, poi_summary, last_updated, version
		 FROM profiles ORDER BY grid_point_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list profiles")
	}
	defer rows.Close()

	var profiles []model.Profile
	for rows.Next() {
		p, err := scanPostgresProfile(rows.Scan)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, eris.Wrap(rows.Err(), "postgres: iterate profiles")
}

func (s *PostgresStore) CreateCollectionRun(ctx context.Context, plannedCalls int) (*model.CollectionRun, error) {
	run := &model.CollectionRun{
		ID:           uuid.New().String(),
		Status:       model.RunStatusRunning,
		PlannedCalls: plannedCalls,
		StartedAt:    time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO collection_runs (id, status, planned_calls, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, string(run.Status), run.PlannedCalls, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert collection run")
	}
	return run, nil
}

func (s *PostgresStore) CompleteCollectionRun(ctx context.Context, runID string, status model.CollectionRunStatus, callsDone, poisFound int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE collection_runs SET status = $1, calls_done = $2, pois_found = $3, completed_at = $4 WHERE id = $5`,
		string(status), callsDone, poisFound, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete collection run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "collection run %s", runID)
	}
	return nil
}

func scanPostgresProfile(scan func(dest ...any) error) (*model.Profile, error) {
	var (
		p       model.Profile
		geoJSON string
		audJSON string
		sumJSON string
	)
	err := scan(&p.GridPointID, &geoJSON, &audJSON, &sumJSON, &p.LastUpdated, &p.Version)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan profile")
	}
	if err := json.Unmarshal([]byte(geoJSON), &p.GeoAttrs); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal geo attrs")
	}
	if err := json.Unmarshal([]byte(audJSON), &p.Audience); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal audience")
	}
	if err := json.Unmarshal([]byte(sumJSON), &p.POISummary); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal poi summary")
	}
	return &p, nil
}
