package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melify/peacemap/internal/geospatial"
	"github.com/melify/peacemap/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

var parisCenter = model.Coordinates{Lat: 48.8566, Lng: 2.3522}

func curatedLocation(name string, coords model.Coordinates) model.Location {
	return model.Location{
		Name:        name,
		Type:        "park",
		Coordinates: coords,
		Verified:    true,
		Rating:      4.2,
	}
}

func resultWithScore(score int) model.AnalysisResult {
	return model.AnalysisResult{
		Score: score,
		Label: model.LabelModeratelyPeaceful,
		Metadata: model.AnalysisMetadata{
			AnalyzedAt: time.Now().UTC(),
		},
	}
}

func TestCreateAndListLocations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	loc, err := s.CreateLocation(ctx, curatedLocation("Jardin Calme", parisCenter))
	require.NoError(t, err)
	assert.NotEmpty(t, loc.ID)

	locs, err := s.ListLocations(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "Jardin Calme", locs[0].Name)
	assert.Empty(t, locs[0].RecentAnalyses)
}

func TestCreateLocationsBulk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	locs := []model.Location{
		curatedLocation("one", parisCenter),
		curatedLocation("two", geospatial.Offset(parisCenter, 300, 0)),
		curatedLocation("three", geospatial.Offset(parisCenter, 600, 0)),
	}
	n, err := s.CreateLocations(ctx, locs)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.ListLocations(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	for _, loc := range got {
		assert.NotEmpty(t, loc.ID)
		assert.Equal(t, "park", loc.Type)
	}

	empty, err := s.CreateLocations(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, empty)
}

func TestFindNearbyOrdersByDistance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	far := geospatial.Offset(parisCenter, 80, 0)
	near := geospatial.Offset(parisCenter, 20, 0)
	outside := geospatial.Offset(parisCenter, 500, 0)

	_, err := s.CreateLocation(ctx, curatedLocation("far", far))
	require.NoError(t, err)
	_, err = s.CreateLocation(ctx, curatedLocation("near", near))
	require.NoError(t, err)
	_, err = s.CreateLocation(ctx, curatedLocation("outside", outside))
	require.NoError(t, err)

	got, err := s.FindNearby(ctx, parisCenter, 100)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].Name)
	assert.Equal(t, "far", got[1].Name)
}

func TestFindOneWithinMergeBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	loc, err := s.CreateLocation(ctx, curatedLocation("boundary", parisCenter))
	require.NoError(t, err)

	near := geospatial.Offset(parisCenter, 99.9, 0)
	got, err := s.FindOneWithin(ctx, near, MergeThresholdMeters)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "boundary", got.Name)

	// Just past the threshold: does not merge.
	past := geospatial.Offset(parisCenter, 100.5, 0)
	got, err = s.FindOneWithin(ctx, past, MergeThresholdMeters)
	require.NoError(t, err)
	assert.Nil(t, got)

	// The bound itself is inclusive: a candidate at exactly the measured
	// distance is still kept.
	d := geospatial.Distance(parisCenter, past)
	kept := filterByDistance([]model.Location{*loc}, past, d)
	assert.Len(t, kept, 1)
	excluded := filterByDistance([]model.Location{*loc}, past, d-0.001)
	assert.Empty(t, excluded)
}

func TestFindOneWithinPicksClosest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateLocation(ctx, curatedLocation("farther", geospatial.Offset(parisCenter, 90, 0)))
	require.NoError(t, err)
	_, err = s.CreateLocation(ctx, curatedLocation("closest", geospatial.Offset(parisCenter, 40, 0)))
	require.NoError(t, err)

	got, err := s.FindOneWithin(ctx, parisCenter, MergeThresholdMeters)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "closest", got.Name)
}

func TestAddAnalysisRollingAverage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	loc, err := s.CreateLocation(ctx, curatedLocation("rolling", parisCenter))
	require.NoError(t, err)

	for _, score := range []int{80, 60, 70} {
		require.NoError(t, s.AddAnalysis(ctx, loc.ID, resultWithScore(score)))
	}

	locs, err := s.ListLocations(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, 3, locs[0].Stats.TotalAnalyses)
	assert.InDelta(t, 70, locs[0].Stats.AveragePeacefulnessScore, 0.001)
	assert.NotNil(t, locs[0].Stats.LastAnalyzed)
	assert.Len(t, locs[0].RecentAnalyses, 3)
}

func TestAddAnalysisRingBufferEviction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	loc, err := s.CreateLocation(ctx, curatedLocation("buffer", parisCenter))
	require.NoError(t, err)

	for i := range 7 {
		require.NoError(t, s.AddAnalysis(ctx, loc.ID, resultWithScore(50+i)))
	}

	locs, err := s.ListLocations(ctx, 1, 0)
	require.NoError(t, err)
	recent := locs[0].RecentAnalyses
	require.Len(t, recent, model.RecentAnalysesCap)
	// Oldest entries (scores 50, 51) evicted; newest kept in order.
	assert.Equal(t, 52, recent[0].Score)
	assert.Equal(t, 56, recent[len(recent)-1].Score)
	assert.Equal(t, 7, locs[0].Stats.TotalAnalyses)
}

func TestAddAnalysisUnknownLocation(t *testing.T) {
	s := newTestStore(t)
	err := s.AddAnalysis(context.Background(), "no-such-id", resultWithScore(50))
	assert.Error(t, err)
}

func logEntry(userID string, score int, at time.Time) model.AnalysisLogEntry {
	r := resultWithScore(score)
	r.Metadata.AnalyzedAt = at
	return model.AnalysisLogEntry{
		UserID:      userID,
		Coordinates: parisCenter,
		Result:      r,
		CreatedAt:   at,
	}
}

func TestAppendAndListLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := range 5 {
		_, err := s.AppendLog(ctx, logEntry("user-1", 60+i, base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}
	_, err := s.AppendLog(ctx, logEntry("user-2", 30, base))
	require.NoError(t, err)

	page, err := s.ListLogByUser(ctx, "user-1", 1, 3, SortByCreatedAt)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Entries, 3)
	// Newest first.
	assert.Equal(t, 64, page.Entries[0].Result.Score)

	page2, err := s.ListLogByUser(ctx, "user-1", 2, 3, SortByCreatedAt)
	require.NoError(t, err)
	assert.Len(t, page2.Entries, 2)
}

func TestListLogSortAllowlist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.AppendLog(ctx, logEntry("u", 10, base))
	require.NoError(t, err)
	_, err = s.AppendLog(ctx, logEntry("u", 90, base.Add(time.Hour)))
	require.NoError(t, err)

	byScore, err := s.ListLogByUser(ctx, "u", 1, 10, SortByScore)
	require.NoError(t, err)
	assert.Equal(t, 90, byScore.Entries[0].Result.Score)

	// Hostile sort input falls back to created_at rather than erroring.
	hostile, err := s.ListLogByUser(ctx, "u", 1, 10, LogSort("score; DROP TABLE analysis_log"))
	require.NoError(t, err)
	assert.Len(t, hostile.Entries, 2)
}

func TestLogEntryRoundTripsPreferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := logEntry("user-3", 77, time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC))
	e.Preferences = &model.UserPreferences{PrefersNature: true, AnxietyLevel: model.AnxietyHigh}
	e.PersonalizedInsights = &model.PersonalizedInsights{
		Suitability: model.SuitabilityHigh,
		Tips:        []string{"tip"},
	}

	id, err := s.AppendLog(ctx, e)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	page, err := s.ListLogByUser(ctx, "user-3", 1, 10, SortByCreatedAt)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	got := page.Entries[0]
	require.NotNil(t, got.Preferences)
	assert.True(t, got.Preferences.PrefersNature)
	require.NotNil(t, got.PersonalizedInsights)
	assert.Equal(t, model.SuitabilityHigh, got.PersonalizedInsights.Suitability)
}

func TestAggregateLogWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, score := range []int{40, 60, 80} {
		_, err := s.AppendLog(ctx, logEntry("agg-user", score, now.Add(-time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}
	// Old entry outside the window.
	_, err := s.AppendLog(ctx, logEntry("agg-user", 0, now.Add(-40*24*time.Hour)))
	require.NoError(t, err)

	agg, err := s.AggregateLog(ctx, "agg-user", now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, agg.Count)
	assert.InDelta(t, 60, agg.AvgScore, 0.001)
	assert.Equal(t, 40, agg.MinScore)
	assert.Equal(t, 80, agg.MaxScore)
}

func TestScoresSinceChronological(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-6 * time.Hour)

	// Insert out of chronological order.
	for _, e := range []struct {
		score int
		off   time.Duration
	}{
		{70, 4 * time.Hour},
		{40, 0},
		{55, 2 * time.Hour},
	} {
		_, err := s.AppendLog(ctx, logEntry("chrono", e.score, base.Add(e.off)))
		require.NoError(t, err)
	}

	scores, err := s.ScoresSince(ctx, "chrono", base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []int{40, 55, 70}, scores)
}

func TestMergeAnalysisHelper(t *testing.T) {
	total, avg, recent := 0, 0.0, []model.RecentAnalysis{}
	for _, score := range []int{80, 60, 70} {
		total, avg, recent = mergeAnalysis(total, avg, recent, resultWithScore(score))
	}
	assert.Equal(t, 3, total)
	assert.InDelta(t, 70, avg, 0.001)
	assert.Len(t, recent, 3)
}

func TestConcurrentAddAnalysisNoLostUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	loc, err := s.CreateLocation(ctx, curatedLocation("contested", parisCenter))
	require.NoError(t, err)

	const n = 20
	errCh := make(chan error, n)
	for i := range n {
		go func(score int) {
			errCh <- s.AddAnalysis(ctx, loc.ID, resultWithScore(score))
		}(50 + i%10)
	}
	for range n {
		require.NoError(t, <-errCh)
	}

	locs, err := s.ListLocations(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, n, locs[0].Stats.TotalAnalyses, "every concurrent merge must be counted")
}

func TestNormalizePaging(t *testing.T) {
	tests := []struct {
		page, size         int
		wantPage, wantSize int
	}{
		{0, 0, 1, 20},
		{-1, -5, 1, 20},
		{2, 50, 2, 50},
		{1, 500, 1, 100},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d", tt.page, tt.size), func(t *testing.T) {
			p, ps := normalizePaging(tt.page, tt.size)
			assert.Equal(t, tt.wantPage, p)
			assert.Equal(t, tt.wantSize, ps)
		})
	}
}
