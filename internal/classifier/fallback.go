package classifier

import (
	"hash/fnv"
	"math"
	"math/rand/v2"

	"github.com/melify/peacemap/internal/model"
)

// Source yields a random generator for a coordinate. The default derives the
// seed from the coordinate itself, so fallback output is stable per point
// across runs while still varying between distinct points. Tests inject a
// fixed-seed source instead.
type Source interface {
	Rand(coords model.Coordinates) *rand.Rand
}

// CoordinateSource seeds a PCG generator from an FNV-1a hash of the
// coordinate rounded to 5 decimal places (about 1 m of precision).
type CoordinateSource struct{}

func (CoordinateSource) Rand(coords model.Coordinates) *rand.Rand {
	h := fnv.New64a()
	lat := math.Round(coords.Lat*1e5) / 1e5
	lng := math.Round(coords.Lng*1e5) / 1e5
	var buf [16]byte
	putFloat(buf[:8], lat)
	putFloat(buf[8:], lng)
	h.Write(buf[:])
	seed := h.Sum64()
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func putFloat(b []byte, f float64) {
	bits := math.Float64bits(f)
	for i := range 8 {
		b[i] = byte(bits >> (8 * i))
	}
}

// FixedSource always seeds the generator with the same value, regardless of
// coordinate. Intended for tests.
type FixedSource struct {
	Seed uint64
}

func (s FixedSource) Rand(model.Coordinates) *rand.Rand {
	return rand.New(rand.NewPCG(s.Seed, s.Seed))
}

// Per-category sampling ranges for the heuristic distribution, in percent.
// The raw draw is then rescaled so the categories sum to exactly 100.
var fallbackRanges = []struct {
	category string
	min, max float64
}{
	{"nature", 5, 35},
	{"water", 0, 15},
	{"open_space", 5, 25},
	{"residential", 10, 30},
	{"roads", 5, 25},
	{"busy_roads", 0, 20},
	{"buildings", 10, 40},
	{"industrial", 0, 10},
}

// fallback computes the heuristic classification for a coordinate. It is
// synchronous and cannot fail.
func (c *Classifier) fallback(coords model.Coordinates) model.Classification {
	rng := c.source.Rand(coords)

	var d model.AreaDistribution
	cats := d.Categories()
	for i, r := range fallbackRanges {
		*cats[i].Value = r.min + rng.Float64()*(r.max-r.min)
	}

	// Rescale to an exact 100 so downstream scoring sees a full distribution.
	sum := d.Sum()
	scale := 100 / sum
	for _, cat := range cats {
		*cat.Value *= scale
	}

	return model.Classification{
		Distribution:       d,
		Atmosphere:         fallbackAtmosphere(d),
		PeacefulIndicators: []string{},
		StressIndicators:   []string{},
		Source:             model.SourceHeuristic,
	}
}

func fallbackAtmosphere(d model.AreaDistribution) string {
	calm := d.Nature + d.Water + d.OpenSpace
	busy := d.BusyRoads + d.Buildings + d.Industrial
	switch {
	case calm > busy+15:
		return "A mostly green and open area with room to unwind."
	case busy > calm+15:
		return "A built-up area with noticeable urban activity."
	default:
		return "A mixed area balancing greenery and urban structures."
	}
}
