// Package scorer converts an area distribution into a bounded peacefulness
// score. Scoring is a pure function over the fixed weight table below; no
// I/O, no randomness.
package scorer

import (
	"math"

	"github.com/melify/peacemap/internal/model"
)

// Category weights for the canonical eight-category model. Positive weights
// are calming, negative weights stressful.
const (
	weightNature      = 1.0
	weightWater       = 0.8
	weightOpenSpace   = 0.6
	weightResidential = 0.2
	weightRoads       = -0.4
	weightBuildings   = -0.5
	weightBusyRoads   = -0.8
	weightIndustrial  = -1.0
)

// Theoretical extremes of the weighted sum for a distribution summing
// to 100: all-industrial and all-nature respectively.
const (
	minPossibleRaw = -100.0
	maxPossibleRaw = 100.0
)

// Label thresholds on the rescaled [0,100] score.
const (
	veryPeacefulThreshold       = 75
	moderatelyPeacefulThreshold = 50
)

// Score is the rescaled peacefulness value with its discrete label.
type Score struct {
	Value int              `json:"value"`
	Label model.PeaceLabel `json:"label"`
}

// Compute scores a distribution. The weighted sum is rescaled from its
// theoretical range into [0,100], rounded, and clamped.
func Compute(d model.AreaDistribution) Score {
	raw := d.Nature*weightNature +
		d.Water*weightWater +
		d.OpenSpace*weightOpenSpace +
		d.Residential*weightResidential +
		d.Roads*weightRoads +
		d.Buildings*weightBuildings +
		d.BusyRoads*weightBusyRoads +
		d.Industrial*weightIndustrial

	scaled := (raw - minPossibleRaw) / (maxPossibleRaw - minPossibleRaw) * 100
	value := int(math.Round(scaled))
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}
	return Score{Value: value, Label: LabelFor(value)}
}

// LabelFor maps a score value onto the three-tier rating.
func LabelFor(value int) model.PeaceLabel {
	switch {
	case value >= veryPeacefulThreshold:
		return model.LabelVeryPeaceful
	case value >= moderatelyPeacefulThreshold:
		return model.LabelModeratelyPeaceful
	default:
		return model.LabelLessPeaceful
	}
}
