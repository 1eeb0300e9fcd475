package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/gridprofiler/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS grid_points (
	id  TEXT PRIMARY KEY,
	i   INTEGER NOT NULL,
	j   INTEGER NOT NULL,
	lat REAL NOT NULL,
	lon REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS pois (
	place_id     TEXT PRIMARY KEY,
	name         TEXT,
	lat          REAL NOT NULL,
	lon          REAL NOT NULL,
	types        TEXT,
	rating       REAL,
	review_count INTEGER,
	raw          TEXT,
	last_updated DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
	grid_point_id TEXT PRIMARY KEY REFERENCES grid_points(id),
	geo_attrs     TEXT NOT NULL,
	audience      TEXT NOT NULL,
	poi_summary   TEXT NOT NULL,
	last_updated  DATETIME NOT NULL,
	version       INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS collection_runs (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL DEFAULT 'running',
	planned_calls INTEGER NOT NULL DEFAULT 0,
	calls_done    INTEGER NOT NULL DEFAULT 0,
	pois_found    INTEGER NOT NULL DEFAULT 0,
	started_at    DATETIME NOT NULL,
	completed_at  DATETIME
);

CREATE INDEX IF NOT EXISTS idx_grid_points_ji ON grid_points(j, i);
CREATE INDEX IF NOT EXISTS idx_collection_runs_status ON collection_runs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) PutGridPoints(ctx context.Context, points []model.GridPoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin grid points tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO grid_points (id, i, j, lat, lon) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare grid point insert")
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, p.ID, p.I, p.J, p.Lat, p.Lon); err != nil {
			return eris.Wrapf(err, "sqlite: insert grid point %s", p.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit grid points")
}

func (s *SQLiteStore) ClearGrid(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin clear grid tx")
	}
	defer tx.Rollback() //nolint:errcheck

	// Profiles reference grid points, so they go first.
	if _, err := tx.ExecContext(ctx, `DELETE FROM profiles`); err != nil {
		return eris.Wrap(err, "sqlite: clear profiles")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM grid_points`); err != nil {
		return eris.Wrap(err, "sqlite: clear grid points")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit clear grid")
}

func (s *SQLiteStore) GridPoints(ctx context.Context) ([]model.GridPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, i, j, lat, lon FROM grid_points ORDER BY j, i`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list grid points")
	}
	defer rows.Close()

	var points []model.GridPoint
	for rows.Next() {
		var p model.GridPoint
		if err := rows.Scan(&p.ID, &p.I, &p.J, &p.Lat, &p.Lon); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan grid point")
		}
		points = append(points, p)
	}
	return points, eris.Wrap(rows.Err(), "sqlite: iterate grid points")
}

func (s *SQLiteStore) UpsertPOIs(ctx context.Context, pois []model.POI) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin poi tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO pois
		 (place_id, name, lat, lon, types, rating, review_count, raw, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare poi upsert")
	}
	defer stmt.Close()

	for _, p := range pois {
		typesJSON, err := json.Marshal(p.Types)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal types for %s", p.PlaceID)
		}
		if _, err := stmt.ExecContext(ctx,
			p.PlaceID, p.Name, p.Lat, p.Lon, string(typesJSON),
			nullFloat(p.Rating), nullInt(p.ReviewCount), string(p.Raw), p.LastUpdated,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert poi %s", p.PlaceID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit pois")
}

func (s *SQLiteStore) POIs(ctx context.Context) ([]model.POI, error) {
	// Raw payload is deliberately excluded from the read path.
	rows, err := s.db.QueryContext(ctx,
		`SELECT place_id, name, lat, lon, types, rating, review_count, last_updated FROM pois`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pois")
	}
	defer rows.Close()

	var pois []model.POI
	for rows.Next() {
		var (
			p         model.POI
			typesJSON sql.NullString
			rating    sql.NullFloat64
			reviews   sql.NullInt64
		)
		if err := rows.Scan(&p.PlaceID, &p.Name, &p.Lat, &p.Lon, &typesJSON, &rating, &reviews, &p.LastUpdated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan poi")
		}
		if typesJSON.Valid && typesJSON.String != "" {
			if err := json.Unmarshal([]byte(typesJSON.String), &p.Types); err != nil {
				return nil, eris.Wrapf(err, "sqlite: unmarshal types for %s", p.PlaceID)
			}
		}
		p.Rating = rating.Float64
		p.ReviewCount = int(reviews.Int64)
		pois = append(pois, p)
	}
	return pois, eris.Wrap(rows.Err(), "sqlite: iterate pois")
}

func (s *SQLiteStore) PutProfile(ctx context.Context, gridPointID string, geoAttrs []string, audience model.AudienceProfile, summary model.POISummary) error {
	geoJSON, err := json.Marshal(geoAttrs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal geo attrs")
	}
	audJSON, err := json.Marshal(audience)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal audience")
	}
	sumJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal poi summary")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (grid_point_id, geo_attrs, audience, poi_summary, last_updated, version)
		 VALUES (?, ?, ?, ?, ?, 1)
		 ON CONFLICT(grid_point_id) DO UPDATE SET
		   geo_attrs = excluded.geo_attrs,
		   audience = excluded.audience,
		   poi_summary = excluded.poi_summary,
		   last_updated = excluded.last_updated,
		   version = profiles.version + 1`,
		gridPointID, string(geoJSON), string(audJSON), string(sumJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: put profile %s", gridPointID)
}

func (s *SQLiteStore) Profile(ctx context.Context, gridPointID string) (*model.Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT grid_point_id, geo_attrs, audience, poi_summary, last_updated, version
		 FROM profiles WHERE grid_point_id = ?`,
		gridPointID,
	)
	p, err := scanProfile(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *SQLiteStore) Profiles(ctx context.Context) ([]model.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT grid_point_id, geo_attrs, audience, poi_summary, last_updated, version
		 FROM profiles ORDER BY grid_point_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list profiles")
	}
	defer rows.Close()

	var profiles []model.Profile
	for rows.Next() {
		p, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, eris.Wrap(rows.Err(), "sqlite: iterate profiles")
}

func (s *SQLiteStore) CreateCollectionRun(ctx context.Context, plannedCalls int) (*model.CollectionRun, error) {
	run := &model.CollectionRun{
		ID:           uuid.New().String(),
		Status:       model.RunStatusRunning,
		PlannedCalls: plannedCalls,
		StartedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collection_runs (id, status, planned_calls, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Status), run.PlannedCalls, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert collection run")
	}
	return run, nil
}

func (s *SQLiteStore) CompleteCollectionRun(ctx context.Context, runID string, status model.CollectionRunStatus, callsDone, poisFound int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE collection_runs SET status = ?, calls_done = ?, pois_found = ?, completed_at = ? WHERE id = ?`,
		string(status), callsDone, poisFound, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete collection run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "collection run %s", runID)
	}
	return nil
}

// helpers

func nullFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func scanProfile(scan func(dest ...any) error) (*model.Profile, error) {
	var (
		p       model.Profile
		geoJSON string
		audJSON string
		sumJSON string
	)
	err := scan(&p.GridPointID, &geoJSON, &audJSON, &sumJSON, &p.LastUpdated, &p.Version)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan profile")
	}
	if err := json.Unmarshal([]byte(geoJSON), &p.GeoAttrs); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal geo attrs")
	}
	if err := json.Unmarshal([]byte(audJSON), &p.Audience); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal audience")
	}
	if err := json.Unmarshal([]byte(sumJSON), &p.POISummary); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal poi summary")
	}
	return &p, nil
}
