// Package personalize adjusts an analysis for caller-supplied preference
// flags. The rule table is deterministic and total: with no preferences set
// it returns a neutral suitability and empty lists.
package personalize

import (
	"fmt"
	"strings"

	"github.com/melify/peacemap/internal/model"
)

// Rule thresholds over the distribution and score.
const (
	anxietyScoreFloor   = 60
	calmAlternativeBar  = 70
	natureAffinityPct   = 15.0
	noiseSensitivityPct = 20.0
	waterScarcityPct    = 5.0
)

// Evaluate applies the preference rule table to a finished analysis.
// It never mutates the result.
func Evaluate(result model.AnalysisResult, prefs model.UserPreferences) model.PersonalizedInsights {
	insights := model.PersonalizedInsights{
		Suitability:           model.SuitabilityNeutral,
		Tips:                  []string{},
		Warnings:              []string{},
		CustomRecommendations: []string{},
	}
	if prefs.IsZero() {
		return insights
	}

	d := result.Distribution

	if prefs.AnxietyLevel == model.AnxietyHigh && result.Score < anxietyScoreFloor {
		insights.Warnings = append(insights.Warnings,
			"This area may feel overstimulating when anxiety is high.")
		insights.CustomRecommendations = append(insights.CustomRecommendations,
			fmt.Sprintf("Prefer locations scoring above %d until you feel settled.", calmAlternativeBar))
	}

	if prefs.PrefersNature && d.Nature > natureAffinityPct {
		insights.Suitability = model.SuitabilityHigh
		insights.Tips = append(insights.Tips,
			"Plenty of greenery here matches your preference for nature.")
	}

	if prefs.SensitiveToNoise && d.BusyRoads > noiseSensitivityPct {
		// Noise sensitivity overrides a nature match: an unsuitable soundscape
		// dominates the visit.
		insights.Suitability = model.SuitabilityLow
		insights.Warnings = append(insights.Warnings,
			"Busy roads nearby make this area loud for noise-sensitive visitors.")
	}

	if prefs.NeedsWater {
		if d.Water < waterScarcityPct {
			insights.Tips = append(insights.Tips,
				"Little water nearby; a riverside or coastal spot may restore you more.")
		} else {
			insights.Tips = append(insights.Tips,
				"Water is close by; plan your visit around it.")
		}
	}

	for _, activity := range prefs.PreferredActivities {
		if tip := activityTip(activity, d); tip != "" {
			insights.CustomRecommendations = append(insights.CustomRecommendations, tip)
		}
	}

	return insights
}

func activityTip(activity string, d model.AreaDistribution) string {
	switch strings.ToLower(strings.TrimSpace(activity)) {
	case "walking", "hiking":
		if d.Nature+d.OpenSpace > 25 {
			return "Good terrain for a mindful walk; keep a relaxed pace."
		}
	case "meditation", "breathing":
		if d.BusyRoads < 15 {
			return "Quiet enough for seated meditation; bring something to sit on."
		}
	case "journaling", "reading":
		if d.Nature > 10 || d.Water > 10 {
			return "A scenic backdrop here pairs well with journaling or reading."
		}
	}
	return ""
}
