// Package recommend derives textual guidance and illustrative healing spots
// from a scored area distribution. Rules are additive and independent: each
// fires on its own threshold without regard to the others.
package recommend

import (
	"fmt"

	"github.com/melify/peacemap/internal/geospatial"
	"github.com/melify/peacemap/internal/model"
)

// Distribution thresholds for the rule table, in percent.
const (
	natureThreshold     = 20.0
	waterThreshold      = 10.0
	openSpaceThreshold  = 20.0
	busyRoadsThreshold  = 25.0
	buildingsThreshold  = 40.0
	industrialThreshold = 10.0
)

// Score bands.
const (
	lowScoreBand  = 50
	highScoreBand = 75
)

// healingSpotThreshold gates healing-spot synthesis on nature/water share.
const healingSpotThreshold = 15.0

// maxSpotOffsetMeters bounds how far a healing spot may sit from the
// analyzed coordinate.
const maxSpotOffsetMeters = 50.0

// Generate builds the recommendation set for a distribution and score.
func Generate(d model.AreaDistribution, score int) model.RecommendationSet {
	rs := model.RecommendationSet{
		Activities:   []string{},
		Timing:       []string{},
		Concerns:     []string{},
		Alternatives: []string{},
	}

	if d.Nature > natureThreshold {
		rs.Activities = append(rs.Activities,
			"Try a slow grounding walk among the greenery",
			"Find a bench under the trees for a short breathing exercise",
		)
	}
	if d.Water > waterThreshold {
		rs.Activities = append(rs.Activities,
			"Sit near the water and focus on its sound for a few minutes",
		)
	}
	if d.OpenSpace > openSpaceThreshold {
		rs.Activities = append(rs.Activities,
			"Use the open space for gentle stretching or tai chi",
		)
	}

	if d.BusyRoads > busyRoadsThreshold {
		rs.Concerns = append(rs.Concerns,
			"Traffic noise from nearby busy roads may be intrusive",
		)
		rs.Timing = append(rs.Timing,
			"Early morning or late evening will be noticeably quieter",
		)
	}
	if d.Buildings > buildingsThreshold {
		rs.Concerns = append(rs.Concerns,
			"Dense building cover limits sky view and can feel enclosing",
		)
	}
	if d.Industrial > industrialThreshold {
		rs.Concerns = append(rs.Concerns,
			"Industrial surroundings may bring noise and odors",
		)
	}

	if score >= highScoreBand {
		rs.Timing = append(rs.Timing,
			"This area suits longer visits; plan an unhurried stay",
		)
	}
	if score < lowScoreBand {
		rs.Alternatives = append(rs.Alternatives,
			"Consider a nearby park or waterfront for a calmer setting",
			"A short trip toward the edge of town usually scores higher",
		)
	}

	return rs
}

// Offsets applied per triggering category, all within maxSpotOffsetMeters of
// the analyzed point. Fixed, so repeated analyses place spots identically.
var spotOffsets = map[string][2]float64{
	"nature":     {35, 20},  // north, east meters
	"water":      {-25, 30},
	"open_space": {20, -40},
}

// HealingSpots synthesizes up to three illustrative points near coords for
// the calming categories that exceed the threshold. The spots are derived
// from the coordinate, not geocoded real places.
func HealingSpots(coords model.Coordinates, d model.AreaDistribution) []model.HealingSpot {
	spots := []model.HealingSpot{}

	type trigger struct {
		key    string
		name   string
		pct    float64
		reason string
	}
	triggers := []trigger{
		{"nature", "Green Retreat", d.Nature, "nature"},
		{"water", "Waterside Calm", d.Water, "water"},
		{"open_space", "Open Air Spot", d.OpenSpace, "open space"},
	}

	for _, tr := range triggers {
		if tr.pct <= healingSpotThreshold {
			continue
		}
		off := spotOffsets[tr.key]
		spots = append(spots, model.HealingSpot{
			Name:        tr.name,
			Coordinates: geospatial.Offset(coords, off[0], off[1]),
			Reason: fmt.Sprintf("About %.0f%% of the surrounding area is %s, which supports a calm visit.",
				tr.pct, tr.reason),
		})
	}

	return spots
}
