package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/melify/peacemap/internal/model"
)

func TestFallbackDeterministicPerCoordinate(t *testing.T) {
	c := New(nil, testConfig(), CoordinateSource{})
	p := model.Coordinates{Lat: 35.6895, Lng: 139.6917}

	first := c.fallback(p)
	second := c.fallback(p)
	assert.Equal(t, first.Distribution, second.Distribution, "same coordinate must yield the same fallback")
}

func TestFallbackVariesAcrossCoordinates(t *testing.T) {
	c := New(nil, testConfig(), CoordinateSource{})
	a := c.fallback(model.Coordinates{Lat: 35.6895, Lng: 139.6917})
	b := c.fallback(model.Coordinates{Lat: -33.8688, Lng: 151.2093})
	assert.NotEqual(t, a.Distribution, b.Distribution)
}

func TestFallbackCoordinateRounding(t *testing.T) {
	c := New(nil, testConfig(), CoordinateSource{})
	// Differences past the 5th decimal place collapse to the same seed.
	a := c.fallback(model.Coordinates{Lat: 35.689500001, Lng: 139.6917})
	b := c.fallback(model.Coordinates{Lat: 35.689500004, Lng: 139.6917})
	assert.Equal(t, a.Distribution, b.Distribution)
}

func TestFallbackSumsToHundred(t *testing.T) {
	c := New(nil, testConfig(), CoordinateSource{})
	coords := []model.Coordinates{
		{Lat: 0, Lng: 0},
		{Lat: 59.9139, Lng: 10.7522},
		{Lat: -90, Lng: 180},
		{Lat: 40.7128, Lng: -74.0060},
	}
	for _, p := range coords {
		got := c.fallback(p)
		assert.InDelta(t, 100, got.Distribution.Sum(), 0.01)
		assert.Equal(t, model.SourceHeuristic, got.Source)
		assert.NotEmpty(t, got.Atmosphere)
		assert.NotNil(t, got.PeacefulIndicators)
		assert.NotNil(t, got.StressIndicators)
	}
}

func TestFallbackValuesNonNegative(t *testing.T) {
	c := New(nil, testConfig(), FixedSource{Seed: 99})
	got := c.fallback(model.Coordinates{Lat: 1, Lng: 2})
	d := got.Distribution
	for _, cat := range d.Categories() {
		assert.GreaterOrEqual(t, *cat.Value, 0.0, cat.Name)
	}
}
