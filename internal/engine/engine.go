package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/melify/peacemap/internal/classifier"
	"github.com/melify/peacemap/internal/geospatial"
	"github.com/melify/peacemap/internal/model"
	"github.com/melify/peacemap/internal/personalize"
	"github.com/melify/peacemap/internal/recommend"
	"github.com/melify/peacemap/internal/scorer"
	"github.com/melify/peacemap/internal/store"
)

// MaxBatchItems caps one batch request. Larger batches are rejected before
// any item is classified.
const MaxBatchItems = 10

// DefaultInsightWindowDays is the history window for insight aggregation.
const DefaultInsightWindowDays = 30

// trendEpsilon is the minimum half-over-half score movement that counts as
// a direction rather than noise.
const trendEpsilon = 3.0

// Config tunes the analysis engine.
type Config struct {
	// MaxConcurrent bounds the worker pool for batch analysis.
	MaxConcurrent int
	// InsightWindowDays is the lookback window for GetInsights.
	InsightWindowDays int
}

// DefaultConfig returns the production engine settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     3,
		InsightWindowDays: DefaultInsightWindowDays,
	}
}

// AnalyzeRequest is one analysis request. Image and preferences are optional.
type AnalyzeRequest struct {
	Coordinates model.Coordinates         `json:"coordinates"`
	Image       []byte                    `json:"image,omitempty"`
	ImageMeta   *classifier.ImageMetadata `json:"image_meta,omitempty"`
	UserID      string                    `json:"user_id,omitempty"`
	Preferences *model.UserPreferences    `json:"preferences,omitempty"`
}

// Engine runs the full analysis pipeline: classification, scoring,
// recommendations, personalization, and persistence.
type Engine struct {
	classifier *classifier.Classifier
	store      store.Store
	cfg        Config
}

// New creates an Engine. store may be nil, in which case results are
// returned without being persisted.
func New(cls *classifier.Classifier, st store.Store, cfg Config) *Engine {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.InsightWindowDays <= 0 {
		cfg.InsightWindowDays = DefaultInsightWindowDays
	}
	return &Engine{classifier: cls, store: st, cfg: cfg}
}

// Analyze runs one request through the pipeline. Classification always
// succeeds (the heuristic fallback is synchronous); persistence failures are
// reported through the outcome's PersistenceStatus instead of an error.
func (e *Engine) Analyze(ctx context.Context, req AnalyzeRequest) (*model.AnalysisOutcome, error) {
	if !geospatial.ValidCoordinates(req.Coordinates) {
		return nil, &ValidationError{Field: "coordinates", Msg: fmt.Sprintf("out of range: %.4f, %.4f", req.Coordinates.Lat, req.Coordinates.Lng)}
	}
	if req.Image != nil && len(req.Image) == 0 {
		return nil, &ValidationError{Field: "image", Msg: "empty payload"}
	}

	start := time.Now()
	cls := e.classifier.Classify(ctx, req.Coordinates, req.Image, req.ImageMeta)
	score := scorer.Compute(cls.Distribution)

	result := model.AnalysisResult{
		Score:              score.Value,
		Label:              score.Label,
		Distribution:       cls.Distribution,
		Atmosphere:         cls.Atmosphere,
		PeacefulIndicators: cls.PeacefulIndicators,
		StressIndicators:   cls.StressIndicators,
		Recommendations:    recommend.Generate(cls.Distribution, score.Value),
		HealingSpots:       recommend.HealingSpots(req.Coordinates, cls.Distribution),
		Metadata: model.AnalysisMetadata{
			ModelVersion:     e.classifier.ModelVersion(),
			Source:           cls.Source,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			AnalyzedAt:       time.Now().UTC(),
		},
	}

	outcome := &model.AnalysisOutcome{Result: result}
	if req.Preferences != nil && !req.Preferences.IsZero() {
		insights := personalize.Evaluate(result, *req.Preferences)
		outcome.PersonalizedInsights = &insights
	}

	outcome.Persistence = e.persist(ctx, req, outcome)
	return outcome, nil
}

// persist merges the result into a nearby curated location (if any) and
// appends the history log entry. Failures set the partial flag but never
// discard the analysis.
func (e *Engine) persist(ctx context.Context, req AnalyzeRequest, outcome *model.AnalysisOutcome) model.PersistenceStatus {
	var status model.PersistenceStatus
	if e.store == nil {
		return status
	}

	loc, err := e.store.FindOneWithin(ctx, req.Coordinates, store.MergeThresholdMeters)
	switch {
	case err != nil:
		status.Partial = true
		status.Detail = "merge lookup failed"
		zap.L().Warn("location merge lookup failed", zap.Error(err))
	case loc != nil:
		if err := e.store.AddAnalysis(ctx, loc.ID, outcome.Result); err != nil {
			status.Partial = true
			status.Detail = "merge failed"
			zap.L().Warn("location merge failed",
				zap.String("location_id", loc.ID),
				zap.Error(err),
			)
		} else {
			status.MergedLocationID = loc.ID
		}
	}

	entry := model.AnalysisLogEntry{
		UserID:               req.UserID,
		Coordinates:          req.Coordinates,
		Result:               outcome.Result,
		Preferences:          req.Preferences,
		PersonalizedInsights: outcome.PersonalizedInsights,
	}
	id, err := e.store.AppendLog(ctx, entry)
	if err != nil {
		status.Partial = true
		if status.Detail != "" {
			status.Detail += "; "
		}
		status.Detail += "log append failed"
		zap.L().Warn("analysis log append failed",
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		return status
	}
	status.LogEntryID = id
	return status
}

// BatchAnalyze runs up to MaxBatchItems requests through a bounded worker
// pool. Items succeed or fail independently; one bad item never aborts the
// rest.
func (e *Engine) BatchAnalyze(ctx context.Context, reqs []AnalyzeRequest) ([]model.BatchItemResult, error) {
	if len(reqs) == 0 {
		return nil, &ValidationError{Field: "items", Msg: "empty batch"}
	}
	if len(reqs) > MaxBatchItems {
		return nil, &ValidationError{Field: "items", Msg: fmt.Sprintf("batch of %d exceeds limit of %d", len(reqs), MaxBatchItems)}
	}

	results := make([]model.BatchItemResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrent)

	for i, req := range reqs {
		g.Go(func() error {
			item := model.BatchItemResult{Index: i, Coordinates: req.Coordinates}
			outcome, err := e.Analyze(gctx, req)
			if err != nil {
				item.Error = err.Error()
				zap.L().Warn("batch item failed",
					zap.Int("index", i),
					zap.Error(err),
				)
			} else {
				item.Success = true
				item.Analysis = outcome
			}
			results[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// GetHistory returns one page of a user's analysis log, newest first.
func (e *Engine) GetHistory(ctx context.Context, userID string, page, pageSize int, sortBy store.LogSort) (*store.LogPage, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Msg: "required"}
	}
	return e.store.ListLogByUser(ctx, userID, page, pageSize, sortBy)
}

// GetInsights aggregates a user's history over the given window and derives
// a coarse trend. windowDays <= 0 uses the configured default.
func (e *Engine) GetInsights(ctx context.Context, userID string, windowDays int) (*model.InsightStats, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Msg: "required"}
	}
	if windowDays <= 0 {
		windowDays = e.cfg.InsightWindowDays
	}

	since := time.Now().UTC().AddDate(0, 0, -windowDays)
	agg, err := e.store.AggregateLog(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	scores, err := e.store.ScoresSince(ctx, userID, since)
	if err != nil {
		return nil, err
	}

	return &model.InsightStats{
		Count:    agg.Count,
		AvgScore: agg.AvgScore,
		MinScore: agg.MinScore,
		MaxScore: agg.MaxScore,
		Trend:    computeTrend(scores),
	}, nil
}

// computeTrend compares the mean of the newer half of a chronological score
// series against the older half. Movement within trendEpsilon is neutral.
func computeTrend(scores []int) model.Trend {
	if len(scores) < 2 {
		return model.TrendNeutral
	}
	mid := len(scores) / 2
	older := mean(scores[:mid])
	newer := mean(scores[mid:])
	switch {
	case newer-older > trendEpsilon:
		return model.TrendImproving
	case older-newer > trendEpsilon:
		return model.TrendDeclining
	default:
		return model.TrendNeutral
	}
}

func mean(scores []int) float64 {
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return float64(sum) / float64(len(scores))
}
