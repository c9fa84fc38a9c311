// Package store persists curated locations and the append-only analysis log.
// Two backends implement the same interface: SQLite (default) and
// Postgres/PostGIS.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/melify/peacemap/internal/model"
)

// MergeThresholdMeters is the fixed radius within which a new analysis is
// folded into an existing curated Location's rolling statistics. The bound
// is inclusive: an analysis at exactly this distance merges.
const MergeThresholdMeters = 100.0

// LogSort names an allowed ordering for history listings.
type LogSort string

const (
	SortByCreatedAt LogSort = "created_at"
	SortByScore     LogSort = "score"
)

// validLogSorts is an allowlist of sortable columns; anything else falls
// back to created_at. This prevents SQL injection through the sort parameter.
var validLogSorts = map[LogSort]bool{
	SortByCreatedAt: true,
	SortByScore:     true,
}

// NormalizeSort maps arbitrary input onto an allowlisted sort column.
func NormalizeSort(s LogSort) LogSort {
	if validLogSorts[s] {
		return s
	}
	return SortByCreatedAt
}

// LogPage is one page of history entries plus the total match count.
type LogPage struct {
	Entries  []model.AnalysisLogEntry `json:"entries"`
	Total    int                      `json:"total"`
	Page     int                      `json:"page"`
	PageSize int                      `json:"page_size"`
}

// LogAggregate holds SQL-side aggregates over a user's log window. The
// trend is computed by the engine from ScoresSince.
type LogAggregate struct {
	Count    int
	AvgScore float64
	MinScore int
	MaxScore int
}

// Store is the persistence interface consumed by the engine.
type Store interface {
	// Locations. CreateLocation is the explicit curation step; the analysis
	// engine itself only ever calls the read methods and AddAnalysis.
	CreateLocation(ctx context.Context, loc model.Location) (*model.Location, error)

	// CreateLocations bulk-imports curated locations. Returns the number
	// created.
	CreateLocations(ctx context.Context, locs []model.Location) (int, error)

	ListLocations(ctx context.Context, limit, offset int) ([]model.Location, error)

	// FindNearby returns curated locations within radiusMeters of p,
	// ordered nearest first.
	FindNearby(ctx context.Context, p model.Coordinates, radiusMeters float64) ([]model.Location, error)

	// FindOneWithin returns the closest location within thresholdMeters of
	// p, or nil when none qualifies.
	FindOneWithin(ctx context.Context, p model.Coordinates, thresholdMeters float64) (*model.Location, error)

	// AddAnalysis folds one result into a location's rolling aggregate:
	// total count, running mean, last-analyzed stamp, and the bounded
	// recent-analyses buffer. The update is atomic with respect to
	// concurrent AddAnalysis calls on the same location.
	AddAnalysis(ctx context.Context, locationID string, result model.AnalysisResult) error

	// Analysis log. Entries are append-only; nothing mutates or deletes them.
	AppendLog(ctx context.Context, entry model.AnalysisLogEntry) (string, error)
	ListLogByUser(ctx context.Context, userID string, page, pageSize int, sortBy LogSort) (*LogPage, error)
	AggregateLog(ctx context.Context, userID string, since time.Time) (*LogAggregate, error)

	// ScoresSince returns a user's scores since the given time in
	// chronological order, for trend detection.
	ScoresSince(ctx context.Context, userID string, since time.Time) ([]int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// prepareLocation fills generated fields before insert.
func prepareLocation(loc model.Location, now time.Time) model.Location {
	if loc.ID == "" {
		loc.ID = uuid.New().String()
	}
	if loc.Type == "" {
		loc.Type = "spot"
	}
	loc.CreatedAt = now
	loc.UpdatedAt = now
	if loc.RecentAnalyses == nil {
		loc.RecentAnalyses = []model.RecentAnalysis{}
	}
	return loc
}
