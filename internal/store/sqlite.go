package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/melify/peacemap/internal/geospatial"
	"github.com/melify/peacemap/internal/model"
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
	// Single connection keeps in-memory databases coherent and serializes
	// writers without SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS locations (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	type            TEXT NOT NULL DEFAULT 'spot',
	lat             REAL NOT NULL,
	lng             REAL NOT NULL,
	verified        INTEGER NOT NULL DEFAULT 0,
	rating          REAL NOT NULL DEFAULT 0,
	total_analyses  INTEGER NOT NULL DEFAULT 0,
	avg_score       REAL NOT NULL DEFAULT 0,
	last_analyzed   DATETIME,
	recent          TEXT NOT NULL DEFAULT '[]',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS analysis_log (
	id          TEXT PRIMARY KEY,
	user_id     TEXT,
	lat         REAL NOT NULL,
	lng         REAL NOT NULL,
	score       INTEGER NOT NULL,
	result      TEXT NOT NULL,
	preferences TEXT,
	insights    TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_locations_lat_lng ON locations(lat, lng);
CREATE INDEX IF NOT EXISTS idx_analysis_log_user ON analysis_log(user_id, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateLocation(ctx context.Context, loc model.Location) (*model.Location, error) {
	now := time.Now().UTC()
	loc = prepareLocation(loc, now)

	recentJSON, err := json.Marshal(loc.RecentAnalyses)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal recent analyses")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO locations (id, name, type, lat, lng, verified, rating,
		   total_analyses, avg_score, last_analyzed, recent, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loc.ID, loc.Name, loc.Type, loc.Coordinates.Lat, loc.Coordinates.Lng,
		loc.Verified, loc.Rating, loc.Stats.TotalAnalyses,
		loc.Stats.AveragePeacefulnessScore, loc.Stats.LastAnalyzed,
		string(recentJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert location")
	}
	return &loc, nil
}

// CreateLocations bulk-imports curated locations in one transaction.
func (s *SQLiteStore) CreateLocations(ctx context.Context, locs []model.Location) (int, error) {
	if len(locs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin bulk insert")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO locations (id, name, type, lat, lng, verified, rating,
		   total_analyses, avg_score, last_analyzed, recent, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare bulk insert")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range locs {
		loc := prepareLocation(locs[i], now)
		recentJSON, err := json.Marshal(loc.RecentAnalyses)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal recent analyses")
		}
		_, err = stmt.ExecContext(ctx,
			loc.ID, loc.Name, loc.Type, loc.Coordinates.Lat, loc.Coordinates.Lng,
			loc.Verified, loc.Rating, loc.Stats.TotalAnalyses,
			loc.Stats.AveragePeacefulnessScore, loc.Stats.LastAnalyzed,
			string(recentJSON), now, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert location %s", loc.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit bulk insert")
	}
	return len(locs), nil
}

const locationColumns = `id, name, type, lat, lng, verified, rating,
	total_analyses, avg_score, last_analyzed, recent, created_at, updated_at`

func (s *SQLiteStore) ListLocations(ctx context.Context, limit, offset int) ([]model.Location, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM locations ORDER BY created_at DESC LIMIT ? OFFSET ?`, locationColumns),
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list locations")
	}
	defer rows.Close()
	return scanLocations(rows)
}

func (s *SQLiteStore) FindNearby(ctx context.Context, p model.Coordinates, radiusMeters float64) ([]model.Location, error) {
	minLat, minLng, maxLat, maxLng := geospatial.BoundingBox(p, radiusMeters)

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM locations
		 WHERE lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?`, locationColumns),
		minLat, maxLat, minLng, maxLng,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find nearby")
	}
	defer rows.Close()

	candidates, err := scanLocations(rows)
	if err != nil {
		return nil, err
	}
	return filterByDistance(candidates, p, radiusMeters), nil
}

func (s *SQLiteStore) FindOneWithin(ctx context.Context, p model.Coordinates, thresholdMeters float64) (*model.Location, error) {
	nearby, err := s.FindNearby(ctx, p, thresholdMeters)
	if err != nil {
		return nil, err
	}
	if len(nearby) == 0 {
		return nil, nil
	}
	// FindNearby orders nearest first, so the head is the deterministic
	// closest candidate.
	return &nearby[0], nil
}

func (s *SQLiteStore) AddAnalysis(ctx context.Context, locationID string, result model.AnalysisResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin add analysis")
	}
	defer tx.Rollback()

	var total int
	var avg float64
	var recentJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT total_analyses, avg_score, recent FROM locations WHERE id = ?`,
		locationID,
	).Scan(&total, &avg, &recentJSON)
	if err == sql.ErrNoRows {
		return eris.Errorf("location not found: %s", locationID)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: read location stats")
	}

	var recent []model.RecentAnalysis
	if err := json.Unmarshal([]byte(recentJSON), &recent); err != nil {
		return eris.Wrap(err, "sqlite: unmarshal recent analyses")
	}

	newTotal, newAvg, newRecent := mergeAnalysis(total, avg, recent, result)
	updatedRecent, err := json.Marshal(newRecent)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal recent analyses")
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE locations SET total_analyses = ?, avg_score = ?, last_analyzed = ?,
		   recent = ?, updated_at = ? WHERE id = ?`,
		newTotal, newAvg, result.Metadata.AnalyzedAt.UTC(), string(updatedRecent), now, locationID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update location stats")
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit add analysis")
}

func (s *SQLiteStore) AppendLog(ctx context.Context, entry model.AnalysisLogEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	resultJSON, err := json.Marshal(entry.Result)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal log result")
	}
	prefsJSON, insightsJSON, err := marshalLogExtras(entry)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_log (id, user_id, lat, lng, score, result, preferences, insights, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, nullString(entry.UserID), entry.Coordinates.Lat, entry.Coordinates.Lng,
		entry.Result.Score, string(resultJSON), prefsJSON, insightsJSON, entry.CreatedAt,
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: append log")
	}
	return entry.ID, nil
}

func (s *SQLiteStore) ListLogByUser(ctx context.Context, userID string, page, pageSize int, sortBy LogSort) (*LogPage, error) {
	page, pageSize = normalizePaging(page, pageSize)
	sortBy = NormalizeSort(sortBy)

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analysis_log WHERE user_id = ?`, userID,
	).Scan(&total)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count log entries")
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, user_id, lat, lng, result, preferences, insights, created_at
		 FROM analysis_log WHERE user_id = ?
		 ORDER BY %s DESC LIMIT ? OFFSET ?`, sortBy),
		userID, pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list log entries")
	}
	defer rows.Close()

	entries := []model.AnalysisLogEntry{}
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate log entries")
	}

	return &LogPage{Entries: entries, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *SQLiteStore) AggregateLog(ctx context.Context, userID string, since time.Time) (*LogAggregate, error) {
	var agg LogAggregate
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(score), 0), COALESCE(MIN(score), 0), COALESCE(MAX(score), 0)
		 FROM analysis_log WHERE user_id = ? AND created_at >= ?`,
		userID, since.UTC(),
	).Scan(&agg.Count, &agg.AvgScore, &agg.MinScore, &agg.MaxScore)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: aggregate log")
	}
	return &agg, nil
}

func (s *SQLiteStore) ScoresSince(ctx context.Context, userID string, since time.Time) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT score FROM analysis_log WHERE user_id = ? AND created_at >= ? ORDER BY created_at ASC`,
		userID, since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scores since")
	}
	defer rows.Close()

	var scores []int
	for rows.Next() {
		var score int
		if err := rows.Scan(&score); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan score")
		}
		scores = append(scores, score)
	}
	return scores, eris.Wrap(rows.Err(), "sqlite: iterate scores")
}

// helpers

// mergeAnalysis applies one result to a location's rolling aggregate and
// bounded recent buffer. Shared by both backends so merge semantics cannot
// drift between them.
func mergeAnalysis(total int, avg float64, recent []model.RecentAnalysis, result model.AnalysisResult) (int, float64, []model.RecentAnalysis) {
	newTotal := total + 1
	newAvg := (avg*float64(total) + float64(result.Score)) / float64(newTotal)

	recent = append(recent, model.RecentAnalysis{
		Score:      result.Score,
		Label:      result.Label,
		AnalyzedAt: result.Metadata.AnalyzedAt,
	})
	if len(recent) > model.RecentAnalysesCap {
		recent = recent[len(recent)-model.RecentAnalysesCap:]
	}
	return newTotal, newAvg, recent
}

// filterByDistance keeps candidates within radiusMeters of p (inclusive)
// and orders them nearest first.
func filterByDistance(candidates []model.Location, p model.Coordinates, radiusMeters float64) []model.Location {
	type withDist struct {
		loc  model.Location
		dist float64
	}
	kept := make([]withDist, 0, len(candidates))
	for _, loc := range candidates {
		d := geospatial.Distance(p, loc.Coordinates)
		if d <= radiusMeters {
			kept = append(kept, withDist{loc, d})
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].dist < kept[j].dist })

	out := make([]model.Location, len(kept))
	for i, k := range kept {
		out[i] = k.loc
	}
	return out
}

func normalizePaging(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func marshalLogExtras(entry model.AnalysisLogEntry) (prefs, insights any, err error) {
	prefs, insights = nil, nil
	if entry.Preferences != nil {
		b, err := json.Marshal(entry.Preferences)
		if err != nil {
			return nil, nil, eris.Wrap(err, "store: marshal preferences")
		}
		prefs = string(b)
	}
	if entry.PersonalizedInsights != nil {
		b, err := json.Marshal(entry.PersonalizedInsights)
		if err != nil {
			return nil, nil, eris.Wrap(err, "store: marshal insights")
		}
		insights = string(b)
	}
	return prefs, insights, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLocation(row scannable) (*model.Location, error) {
	var loc model.Location
	var lastAnalyzed sql.NullTime
	var recentJSON string

	err := row.Scan(
		&loc.ID, &loc.Name, &loc.Type, &loc.Coordinates.Lat, &loc.Coordinates.Lng,
		&loc.Verified, &loc.Rating, &loc.Stats.TotalAnalyses,
		&loc.Stats.AveragePeacefulnessScore, &lastAnalyzed, &recentJSON,
		&loc.CreatedAt, &loc.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: scan location")
	}
	if lastAnalyzed.Valid {
		t := lastAnalyzed.Time
		loc.Stats.LastAnalyzed = &t
	}
	if err := json.Unmarshal([]byte(recentJSON), &loc.RecentAnalyses); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal recent analyses")
	}
	return &loc, nil
}

func scanLocations(rows *sql.Rows) ([]model.Location, error) {
	var locs []model.Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		locs = append(locs, *loc)
	}
	return locs, eris.Wrap(rows.Err(), "store: iterate locations")
}

func scanLogEntry(row scannable) (*model.AnalysisLogEntry, error) {
	var e model.AnalysisLogEntry
	var userID sql.NullString
	var resultJSON string
	var prefsJSON, insightsJSON sql.NullString

	err := row.Scan(
		&e.ID, &userID, &e.Coordinates.Lat, &e.Coordinates.Lng,
		&resultJSON, &prefsJSON, &insightsJSON, &e.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: scan log entry")
	}
	e.UserID = userID.String

	if err := json.Unmarshal([]byte(resultJSON), &e.Result); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal log result")
	}
	if prefsJSON.Valid {
		e.Preferences = &model.UserPreferences{}
		if err := json.Unmarshal([]byte(prefsJSON.String), e.Preferences); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal preferences")
		}
	}
	if insightsJSON.Valid {
		e.PersonalizedInsights = &model.PersonalizedInsights{}
		if err := json.Unmarshal([]byte(insightsJSON.String), e.PersonalizedInsights); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal insights")
		}
	}
	return &e, nil
}
