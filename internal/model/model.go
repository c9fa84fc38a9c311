package model

import "time"

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// AreaDistribution is a percentage breakdown of the visual character of the
// area around a point. Values are clamped to >= 0 and, after normalization,
// sum to 100 within a small epsilon.
type AreaDistribution struct {
	Nature      float64 `json:"nature"`
	Water       float64 `json:"water"`
	OpenSpace   float64 `json:"open_space"`
	Residential float64 `json:"residential"`
	Roads       float64 `json:"roads"`
	BusyRoads   float64 `json:"busy_roads"`
	Buildings   float64 `json:"buildings"`
	Industrial  float64 `json:"industrial"`
}

// Sum returns the total of all category percentages.
func (d AreaDistribution) Sum() float64 {
	return d.Nature + d.Water + d.OpenSpace + d.Residential +
		d.Roads + d.BusyRoads + d.Buildings + d.Industrial
}

// Categories returns pointers to each category value in a fixed order,
// paired with its name. Callers use this to iterate without reflection.
func (d *AreaDistribution) Categories() []Category {
	return []Category{
		{"nature", &d.Nature},
		{"water", &d.Water},
		{"open_space", &d.OpenSpace},
		{"residential", &d.Residential},
		{"roads", &d.Roads},
		{"busy_roads", &d.BusyRoads},
		{"buildings", &d.Buildings},
		{"industrial", &d.Industrial},
	}
}

// Category pairs a category name with a pointer to its value.
type Category struct {
	Name  string
	Value *float64
}

// NumCategories is the number of area categories in a distribution.
const NumCategories = 8

// PeaceLabel is the discrete three-tier peacefulness rating.
type PeaceLabel string

const (
	LabelVeryPeaceful       PeaceLabel = "Very Peaceful"
	LabelModeratelyPeaceful PeaceLabel = "Moderately Peaceful"
	LabelLessPeaceful       PeaceLabel = "Less Peaceful"
)

// ClassificationSource records which path produced a distribution.
type ClassificationSource string

const (
	SourceClassifier ClassificationSource = "classifier"
	SourceHeuristic  ClassificationSource = "heuristic"
)

// Classification is the output of the area classifier: a normalized
// distribution plus best-effort descriptive fields.
type Classification struct {
	Distribution       AreaDistribution     `json:"distribution"`
	Atmosphere         string               `json:"atmosphere"`
	PeacefulIndicators []string             `json:"peaceful_indicators"`
	StressIndicators   []string             `json:"stress_indicators"`
	Source             ClassificationSource `json:"source"`
}

// RecommendationSet groups the textual guidance derived from an analysis.
type RecommendationSet struct {
	Activities   []string `json:"activities"`
	Timing       []string `json:"timing"`
	Concerns     []string `json:"concerns"`
	Alternatives []string `json:"alternatives"`
}

// HealingSpot is a synthetic, illustrative point derived from an analyzed
// coordinate. It is not an independently geocoded place.
type HealingSpot struct {
	Name        string      `json:"name"`
	Coordinates Coordinates `json:"coordinates"`
	Reason      string      `json:"reason"`
}

// AnalysisMetadata describes how a result was produced.
type AnalysisMetadata struct {
	ModelVersion     string               `json:"model_version"`
	Source           ClassificationSource `json:"source"`
	ProcessingTimeMs int64                `json:"processing_time_ms"`
	AnalyzedAt       time.Time            `json:"analyzed_at"`
}

// AnalysisResult is the immutable product of one analysis request.
type AnalysisResult struct {
	Score              int               `json:"score"`
	Label              PeaceLabel        `json:"label"`
	Distribution       AreaDistribution  `json:"distribution"`
	Atmosphere         string            `json:"atmosphere"`
	PeacefulIndicators []string          `json:"peaceful_indicators"`
	StressIndicators   []string          `json:"stress_indicators"`
	Recommendations    RecommendationSet `json:"recommendations"`
	HealingSpots       []HealingSpot     `json:"healing_spots"`
	Metadata           AnalysisMetadata  `json:"metadata"`
}

// LocationStats is the rolling aggregate maintained per curated Location.
type LocationStats struct {
	TotalAnalyses            int        `json:"total_analyses"`
	AveragePeacefulnessScore float64    `json:"average_peacefulness_score"`
	LastAnalyzed             *time.Time `json:"last_analyzed,omitempty"`
}

// RecentAnalysis is one entry in a Location's bounded recent-analyses buffer.
type RecentAnalysis struct {
	Score      int        `json:"score"`
	Label      PeaceLabel `json:"label"`
	AnalyzedAt time.Time  `json:"analyzed_at"`
}

// RecentAnalysesCap bounds a Location's recent-analyses ring buffer.
const RecentAnalysesCap = 5

// Location is a curated point of interest. Locations are created only
// through explicit curation; the analysis engine only updates aggregates.
type Location struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Type           string           `json:"type"`
	Coordinates    Coordinates      `json:"coordinates"`
	Verified       bool             `json:"verified"`
	Rating         float64          `json:"rating"`
	Stats          LocationStats    `json:"stats"`
	RecentAnalyses []RecentAnalysis `json:"recent_analyses"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// AnalysisLogEntry is one append-only history record per analysis request.
type AnalysisLogEntry struct {
	ID                   string                `json:"id"`
	UserID               string                `json:"user_id,omitempty"`
	Coordinates          Coordinates           `json:"coordinates"`
	Result               AnalysisResult        `json:"result"`
	Preferences          *UserPreferences      `json:"preferences,omitempty"`
	PersonalizedInsights *PersonalizedInsights `json:"personalized_insights,omitempty"`
	CreatedAt            time.Time             `json:"created_at"`
}

// AnxietyLevel grades a user's self-reported anxiety.
type AnxietyLevel string

const (
	AnxietyLow    AnxietyLevel = "low"
	AnxietyMedium AnxietyLevel = "medium"
	AnxietyHigh   AnxietyLevel = "high"
)

// UserPreferences holds caller-supplied personalization flags. It is
// transient: consumed by the personalization rules, snapshotted into the
// log entry, never stored on its own.
type UserPreferences struct {
	AnxietyLevel        AnxietyLevel `json:"anxiety_level,omitempty"`
	PrefersNature       bool         `json:"prefers_nature,omitempty"`
	SensitiveToNoise    bool         `json:"sensitive_to_noise,omitempty"`
	NeedsWater          bool         `json:"needs_water,omitempty"`
	PreferredActivities []string     `json:"preferred_activities,omitempty"`
}

// IsZero reports whether no preference flag is set.
func (p UserPreferences) IsZero() bool {
	return p.AnxietyLevel == "" && !p.PrefersNature && !p.SensitiveToNoise &&
		!p.NeedsWater && len(p.PreferredActivities) == 0
}

// Suitability grades how well a location fits a user's preferences.
type Suitability string

const (
	SuitabilityLow     Suitability = "low"
	SuitabilityNeutral Suitability = "neutral"
	SuitabilityHigh    Suitability = "high"
)

// PersonalizedInsights is the personalization output for one analysis.
type PersonalizedInsights struct {
	Suitability           Suitability `json:"suitability"`
	Tips                  []string    `json:"tips"`
	Warnings              []string    `json:"warnings"`
	CustomRecommendations []string    `json:"custom_recommendations"`
}

// Trend is a coarse direction of a user's score history.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendNeutral   Trend = "neutral"
)

// InsightStats aggregates a user's analysis history over a window.
type InsightStats struct {
	Count    int     `json:"count"`
	AvgScore float64 `json:"avg_score"`
	MinScore int     `json:"min_score"`
	MaxScore int     `json:"max_score"`
	Trend    Trend   `json:"trend"`
}

// PersistenceStatus flags partial persistence failures on an otherwise
// successful analysis.
type PersistenceStatus struct {
	MergedLocationID string `json:"merged_location_id,omitempty"`
	LogEntryID       string `json:"log_entry_id,omitempty"`
	Partial          bool   `json:"partial"`
	Detail           string `json:"detail,omitempty"`
}

// AnalysisOutcome wraps a result with its persistence status and optional
// personalization. This is the engine's return type for analyze.
type AnalysisOutcome struct {
	Result               AnalysisResult        `json:"result"`
	PersonalizedInsights *PersonalizedInsights `json:"personalized_insights,omitempty"`
	Persistence          PersistenceStatus     `json:"persistence"`
}

// BatchItemResult reports one item of a batch analysis independently.
type BatchItemResult struct {
	Index       int              `json:"index"`
	Coordinates Coordinates      `json:"coordinates"`
	Success     bool             `json:"success"`
	Analysis    *AnalysisOutcome `json:"analysis,omitempty"`
	Error       string           `json:"error,omitempty"`
}
