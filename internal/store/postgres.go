package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/ewkbhex"

	"github.com/melify/peacemap/internal/db"
	"github.com/melify/peacemap/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock implements it,
// which lets the Postgres store be unit-tested without a database.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgx against Postgres with PostGIS.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
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

// NewPostgresWithPool wraps an existing pool. Used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS locations (
	id             UUID PRIMARY KEY,
	name           TEXT NOT NULL,
	type           TEXT NOT NULL DEFAULT 'spot',
	lat            DOUBLE PRECISION NOT NULL,
	lng            DOUBLE PRECISION NOT NULL,
	geom           geometry(Point, 4326) GENERATED ALWAYS AS (ST_SetSRID(ST_MakePoint(lng, lat), 4326)) STORED,
	verified       BOOLEAN NOT NULL DEFAULT false,
	rating         DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_analyses INTEGER NOT NULL DEFAULT 0,
	avg_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_analyzed  TIMESTAMPTZ,
	recent         JSONB NOT NULL DEFAULT '[]',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analysis_log (
	id          UUID PRIMARY KEY,
	user_id     TEXT,
	lat         DOUBLE PRECISION NOT NULL,
	lng         DOUBLE PRECISION NOT NULL,
	score       INTEGER NOT NULL,
	result      JSONB NOT NULL,
	preferences JSONB,
	insights    JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_locations_geom ON locations USING GIST (geom);
CREATE INDEX IF NOT EXISTS idx_analysis_log_user ON analysis_log(user_id, created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// pointEWKB encodes a coordinate as hex EWKB for use as a geometry query
// parameter.
func pointEWKB(p model.Coordinates) (string, error) {
	pt := geom.NewPointFlat(geom.XY, []float64{p.Lng, p.Lat}).SetSRID(4326)
	encoded, err := ewkbhex.Encode(pt, ewkb.NDR)
	if err != nil {
		return "", eris.Wrap(err, "postgres: encode point")
	}
	return encoded, nil
}

func (s *PostgresStore) CreateLocation(ctx context.Context, loc model.Location) (*model.Location, error) {
	now := time.Now().UTC()
	loc = prepareLocation(loc, now)

	recentJSON, err := json.Marshal(loc.RecentAnalyses)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal recent analyses")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO locations (id, name, type, lat, lng, verified, rating,
		   total_analyses, avg_score, last_analyzed, recent, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		loc.ID, loc.Name, loc.Type, loc.Coordinates.Lat, loc.Coordinates.Lng,
		loc.Verified, loc.Rating, loc.Stats.TotalAnalyses,
		loc.Stats.AveragePeacefulnessScore, loc.Stats.LastAnalyzed,
		string(recentJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert location")
	}
	return &loc, nil
}

// CreateLocations bulk-imports curated locations via the COPY protocol.
func (s *PostgresStore) CreateLocations(ctx context.Context, locs []model.Location) (int, error) {
	if len(locs) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(locs))
	for i := range locs {
		loc := prepareLocation(locs[i], now)
		recentJSON, err := json.Marshal(loc.RecentAnalyses)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal recent analyses")
		}
		rows = append(rows, []any{
			loc.ID, loc.Name, loc.Type, loc.Coordinates.Lat, loc.Coordinates.Lng,
			loc.Verified, loc.Rating, loc.Stats.TotalAnalyses,
			loc.Stats.AveragePeacefulnessScore, loc.Stats.LastAnalyzed,
			string(recentJSON), now, now,
		})
	}

	n, err := db.CopyFrom(ctx, s.pool, "locations", []string{
		"id", "name", "type", "lat", "lng", "verified", "rating",
		"total_analyses", "avg_score", "last_analyzed", "recent", "created_at", "updated_at",
	}, rows)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

const pgLocationColumns = `id, name, type, lat, lng, verified, rating,
	total_analyses, avg_score, last_analyzed, recent, created_at, updated_at`

func (s *PostgresStore) ListLocations(ctx context.Context, limit, offset int) ([]model.Location, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM locations ORDER BY created_at DESC LIMIT $1 OFFSET $2`, pgLocationColumns),
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list locations")
	}
	defer rows.Close()
	return scanPgLocations(rows)
}

func (s *PostgresStore) FindNearby(ctx context.Context, p model.Coordinates, radiusMeters float64) ([]model.Location, error) {
	geomHex, err := pointEWKB(p)
	if err != nil {
		return nil, err
	}

	// ST_DWithin (padded 1%) uses the GIST index as a prefilter; the exact
	// haversine check and nearest-first ordering happen in Go so both
	// backends share identical distance semantics.
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM locations
		 WHERE ST_DWithin(geom::geography, $1::geometry::geography, $2)`, pgLocationColumns),
		geomHex, radiusMeters*1.01,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find nearby")
	}
	defer rows.Close()

	candidates, err := scanPgLocations(rows)
	if err != nil {
		return nil, err
	}
	return filterByDistance(candidates, p, radiusMeters), nil
}

func (s *PostgresStore) FindOneWithin(ctx context.Context, p model.Coordinates, thresholdMeters float64) (*model.Location, error) {
	nearby, err := s.FindNearby(ctx, p, thresholdMeters)
	if err != nil {
		return nil, err
	}
	if len(nearby) == 0 {
		return nil, nil
	}
	return &nearby[0], nil
}

func (s *PostgresStore) AddAnalysis(ctx context.Context, locationID string, result model.AnalysisResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin add analysis")
	}
	defer tx.Rollback(ctx)

	// Row lock makes the read-modify-write atomic against concurrent merges
	// into the same location.
	var total int
	var avg float64
	var recentJSON []byte
	err = tx.QueryRow(ctx,
		`SELECT total_analyses, avg_score, recent FROM locations WHERE id = $1 FOR UPDATE`,
		locationID,
	).Scan(&total, &avg, &recentJSON)
	if eris.Is(err, pgx.ErrNoRows) {
		return eris.Errorf("location not found: %s", locationID)
	}
	if err != nil {
		return eris.Wrap(err, "postgres: read location stats")
	}

	var recent []model.RecentAnalysis
	if err := json.Unmarshal(recentJSON, &recent); err != nil {
		return eris.Wrap(err, "postgres: unmarshal recent analyses")
	}

	newTotal, newAvg, newRecent := mergeAnalysis(total, avg, recent, result)
	updatedRecent, err := json.Marshal(newRecent)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal recent analyses")
	}

	_, err = tx.Exec(ctx,
		`UPDATE locations SET total_analyses = $1, avg_score = $2, last_analyzed = $3,
		   recent = $4, updated_at = now() WHERE id = $5`,
		newTotal, newAvg, result.Metadata.AnalyzedAt.UTC(), string(updatedRecent), locationID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update location stats")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit add analysis")
}

func (s *PostgresStore) AppendLog(ctx context.Context, entry model.AnalysisLogEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	resultJSON, err := json.Marshal(entry.Result)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal log result")
	}
	prefsJSON, insightsJSON, err := marshalLogExtras(entry)
	if err != nil {
		return "", err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO analysis_log (id, user_id, lat, lng, score, result, preferences, insights, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, nullString(entry.UserID), entry.Coordinates.Lat, entry.Coordinates.Lng,
		entry.Result.Score, string(resultJSON), prefsJSON, insightsJSON, entry.CreatedAt,
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: append log")
	}
	return entry.ID, nil
}

func (s *PostgresStore) ListLogByUser(ctx context.Context, userID string, page, pageSize int, sortBy LogSort) (*LogPage, error) {
	page, pageSize = normalizePaging(page, pageSize)
	sortBy = NormalizeSort(sortBy)

	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM analysis_log WHERE user_id = $1`, userID,
	).Scan(&total)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count log entries")
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, user_id, lat, lng, result, preferences, insights, created_at
		 FROM analysis_log WHERE user_id = $1
		 ORDER BY %s DESC LIMIT $2 OFFSET $3`, sortBy),
		userID, pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list log entries")
	}
	defer rows.Close()

	entries := []model.AnalysisLogEntry{}
	for rows.Next() {
		e, err := scanPgLogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate log entries")
	}

	return &LogPage{Entries: entries, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *PostgresStore) AggregateLog(ctx context.Context, userID string, since time.Time) (*LogAggregate, error) {
	var agg LogAggregate
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(AVG(score), 0), COALESCE(MIN(score), 0), COALESCE(MAX(score), 0)
		 FROM analysis_log WHERE user_id = $1 AND created_at >= $2`,
		userID, since.UTC(),
	).Scan(&agg.Count, &agg.AvgScore, &agg.MinScore, &agg.MaxScore)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: aggregate log")
	}
	return &agg, nil
}

func (s *PostgresStore) ScoresSince(ctx context.Context, userID string, since time.Time) ([]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT score FROM analysis_log WHERE user_id = $1 AND created_at >= $2 ORDER BY created_at ASC`,
		userID, since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scores since")
	}
	defer rows.Close()

	var scores []int
	for rows.Next() {
		var score int
		if err := rows.Scan(&score); err != nil {
			return nil, eris.Wrap(err, "postgres: scan score")
		}
		scores = append(scores, score)
	}
	return scores, eris.Wrap(rows.Err(), "postgres: iterate scores")
}

// pg scan helpers

func scanPgLocation(row pgx.Row) (*model.Location, error) {
	var loc model.Location
	var lastAnalyzed *time.Time
	var recentJSON []byte

	err := row.Scan(
		&loc.ID, &loc.Name, &loc.Type, &loc.Coordinates.Lat, &loc.Coordinates.Lng,
		&loc.Verified, &loc.Rating, &loc.Stats.TotalAnalyses,
		&loc.Stats.AveragePeacefulnessScore, &lastAnalyzed, &recentJSON,
		&loc.CreatedAt, &loc.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan location")
	}
	loc.Stats.LastAnalyzed = lastAnalyzed
	if err := json.Unmarshal(recentJSON, &loc.RecentAnalyses); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal recent analyses")
	}
	return &loc, nil
}

func scanPgLocations(rows pgx.Rows) ([]model.Location, error) {
	var locs []model.Location
	for rows.Next() {
		loc, err := scanPgLocation(rows)
		if err != nil {
			return nil, err
		}
		locs = append(locs, *loc)
	}
	return locs, eris.Wrap(rows.Err(), "postgres: iterate locations")
}

func scanPgLogEntry(row pgx.Row) (*model.AnalysisLogEntry, error) {
	var e model.AnalysisLogEntry
	var userID *string
	var resultJSON []byte
	var prefsJSON, insightsJSON []byte

	err := row.Scan(
		&e.ID, &userID, &e.Coordinates.Lat, &e.Coordinates.Lng,
		&resultJSON, &prefsJSON, &insightsJSON, &e.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan log entry")
	}
	if userID != nil {
		e.UserID = *userID
	}

	if err := json.Unmarshal(resultJSON, &e.Result); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal log result")
	}
	if prefsJSON != nil {
		e.Preferences = &model.UserPreferences{}
		if err := json.Unmarshal(prefsJSON, e.Preferences); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal preferences")
		}
	}
	if insightsJSON != nil {
		e.PersonalizedInsights = &model.PersonalizedInsights{}
		if err := json.Unmarshal(insightsJSON, e.PersonalizedInsights); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal insights")
		}
	}
	return &e, nil
}
