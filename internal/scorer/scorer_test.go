package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/melify/peacemap/internal/model"
)

func TestComputeExtremes(t *testing.T) {
	allNature := model.AreaDistribution{Nature: 100}
	s := Compute(allNature)
	assert.Equal(t, 100, s.Value)
	assert.Equal(t, model.LabelVeryPeaceful, s.Label)

	allIndustrial := model.AreaDistribution{Industrial: 100}
	s = Compute(allIndustrial)
	assert.Equal(t, 0, s.Value)
	assert.Equal(t, model.LabelLessPeaceful, s.Label)
}

func TestComputeGoldenValue(t *testing.T) {
	// Regression anchor: this exact distribution must always score 61.
	// raw = 50*1.0 + 10*(-0.4) + 30*(-0.5) + 10*(-1.0) = 21
	// value = round((21 + 100) / 200 * 100) = round(60.5) = 61
	d := model.AreaDistribution{
		Nature:     50,
		Roads:      10,
		Buildings:  30,
		Industrial: 10,
	}
	for range 3 {
		s := Compute(d)
		assert.Equal(t, 61, s.Value)
		assert.Equal(t, model.LabelModeratelyPeaceful, s.Label)
	}
}

func TestComputeBounded(t *testing.T) {
	tests := []struct {
		name string
		d    model.AreaDistribution
	}{
		{"empty", model.AreaDistribution{}},
		{"balanced", model.AreaDistribution{Nature: 12.5, Water: 12.5, OpenSpace: 12.5, Residential: 12.5, Roads: 12.5, BusyRoads: 12.5, Buildings: 12.5, Industrial: 12.5}},
		{"oversized input", model.AreaDistribution{Nature: 500}},
		{"all stress", model.AreaDistribution{BusyRoads: 50, Industrial: 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Compute(tt.d)
			assert.GreaterOrEqual(t, s.Value, 0)
			assert.LessOrEqual(t, s.Value, 100)
		})
	}
}

func TestLabelBoundaries(t *testing.T) {
	tests := []struct {
		value int
		want  model.PeaceLabel
	}{
		{100, model.LabelVeryPeaceful},
		{75, model.LabelVeryPeaceful},
		{74, model.LabelModeratelyPeaceful},
		{50, model.LabelModeratelyPeaceful},
		{49, model.LabelLessPeaceful},
		{0, model.LabelLessPeaceful},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LabelFor(tt.value), "value %d", tt.value)
	}
}
