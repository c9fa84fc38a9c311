// Package classifier obtains an area distribution for a point, either from
// the vision-capable Claude collaborator or from a local heuristic fallback.
// A classifier failure never propagates to the caller: the fallback path is
// synchronous and always succeeds.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/melify/peacemap/internal/model"
	"github.com/melify/peacemap/internal/resilience"
	"github.com/melify/peacemap/pkg/claude"
)

// SumTolerance is the allowed deviation of a raw distribution's sum from 100
// before even redistribution kicks in.
const SumTolerance = 15.0

const systemPrompt = "You are a land-use analyst. You examine an aerial or " +
	"street-level photograph of an area and estimate how its surface splits " +
	"across fixed land-use categories. Respond with a single JSON object and " +
	"nothing else."

// Config holds per-instance classifier settings. All collaborator
// configuration is explicit; there are no module-level singletons.
type Config struct {
	Model     string
	MaxTokens int64
	// Timeout bounds one classifier call (both attempts share it per call).
	Timeout time.Duration
	// Retry is the attempt budget for the collaborator before falling back.
	Retry resilience.RetryConfig
}

// DefaultConfig returns the production classifier settings.
func DefaultConfig() Config {
	return Config{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 1024,
		Timeout:   15 * time.Second,
		Retry:     resilience.DefaultRetryConfig(),
	}
}

// ImageMetadata describes an uploaded image payload.
type ImageMetadata struct {
	MediaType string `json:"media_type"`
	FileName  string `json:"file_name,omitempty"`
}

// Classifier turns a coordinate (and optional image) into a classification.
type Classifier struct {
	client claude.Client
	cfg    Config
	source Source
}

// New creates a Classifier. client may be nil, in which case every request
// takes the heuristic path. If src is nil the coordinate-hash source is used.
func New(client claude.Client, cfg Config, src Source) *Classifier {
	if cfg.Model == "" {
		cfg = DefaultConfig()
	}
	if src == nil {
		src = CoordinateSource{}
	}
	return &Classifier{client: client, cfg: cfg, source: src}
}

// ModelVersion reports the collaborator model this classifier is configured
// with. Heuristic results are still stamped with it for traceability.
func (c *Classifier) ModelVersion() string {
	return c.cfg.Model
}

// classifierResponse mirrors the JSON object the model is asked to emit.
// Missing fields decode to their zero values.
type classifierResponse struct {
	Nature             float64  `json:"nature"`
	Water              float64  `json:"water"`
	OpenSpace          float64  `json:"open_space"`
	Residential        float64  `json:"residential"`
	Roads              float64  `json:"roads"`
	BusyRoads          float64  `json:"busy_roads"`
	Buildings          float64  `json:"buildings"`
	Industrial         float64  `json:"industrial"`
	Atmosphere         string   `json:"atmosphere"`
	PeacefulIndicators []string `json:"peaceful_indicators"`
	StressIndicators   []string `json:"stress_indicators"`
}

// Classify returns a normalized classification for the point. If image is
// nil, or the collaborator times out, errors, or returns an unparsable
// payload, the deterministic heuristic fallback is used instead.
func (c *Classifier) Classify(ctx context.Context, coords model.Coordinates, image []byte, meta *ImageMetadata) model.Classification {
	if c.client == nil || len(image) == 0 {
		return c.fallback(coords)
	}

	cls, err := c.classifyImage(ctx, coords, image, meta)
	if err != nil {
		zap.L().Warn("classifier unavailable, using heuristic fallback",
			zap.Float64("lat", coords.Lat),
			zap.Float64("lng", coords.Lng),
			zap.Error(err),
		)
		return c.fallback(coords)
	}
	return *cls
}

func (c *Classifier) classifyImage(ctx context.Context, coords model.Coordinates, image []byte, meta *ImageMetadata) (*model.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	mediaType := "image/jpeg"
	if meta != nil && meta.MediaType != "" {
		mediaType = meta.MediaType
	}

	req := claude.MessageRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    systemPrompt,
		Prompt:    buildPrompt(coords),
		Image: &claude.ImagePayload{
			MediaType: mediaType,
			Data:      image,
		},
	}

	retryCfg := c.cfg.Retry
	retryCfg.OnRetry = resilience.RetryLogger("claude", "classify")

	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*claude.MessageResponse, error) {
		return c.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	parsed, err := parseResponse(resp.Text)
	if err != nil {
		return nil, err
	}

	dist := model.AreaDistribution{
		Nature:      parsed.Nature,
		Water:       parsed.Water,
		OpenSpace:   parsed.OpenSpace,
		Residential: parsed.Residential,
		Roads:       parsed.Roads,
		BusyRoads:   parsed.BusyRoads,
		Buildings:   parsed.Buildings,
		Industrial:  parsed.Industrial,
	}
	Normalize(&dist)

	return &model.Classification{
		Distribution:       dist,
		Atmosphere:         parsed.Atmosphere,
		PeacefulIndicators: emptyIfNil(parsed.PeacefulIndicators),
		StressIndicators:   emptyIfNil(parsed.StressIndicators),
		Source:             model.SourceClassifier,
	}, nil
}

func buildPrompt(coords model.Coordinates) string {
	return fmt.Sprintf(`Analyze the attached image of the area around (%.5f, %.5f).

Estimate the percentage of the visible area covered by each category:
nature (greenery, parks, forest), water, open_space (plazas, fields),
residential (low-density housing), roads (regular streets), busy_roads
(highways, arterials), buildings (dense/high-rise), industrial.

Percentages must be non-negative and should sum to roughly 100.

Return exactly one JSON object with keys: nature, water, open_space,
residential, roads, busy_roads, buildings, industrial, atmosphere (one
sentence), peaceful_indicators (list of strings), stress_indicators
(list of strings).`, coords.Lat, coords.Lng)
}

// parseResponse extracts the first balanced {...} block from free-form model
// output and decodes it. The surrounding prose is tolerated and discarded.
func parseResponse(text string) (*classifierResponse, error) {
	raw, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}
	var resp classifierResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, eris.Wrap(err, "classifier: decode response object")
	}
	return &resp, nil
}

// extractJSONObject returns the first balanced top-level {...} substring of
// text. Braces inside JSON strings do not count toward the balance.
func extractJSONObject(text string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if start >= 0 {
				inString = true
			}
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start >= 0 {
				depth--
				if depth == 0 {
					return text[start : i+1], nil
				}
			}
		}
	}
	return "", eris.New("classifier: no balanced JSON object in response")
}

// Normalize clamps negative values to zero and, when the sum deviates from
// 100 by more than SumTolerance, redistributes the remainder evenly across
// all categories so the sum is exactly 100. Sums within tolerance are left
// as-is.
func Normalize(d *model.AreaDistribution) {
	cats := d.Categories()
	for _, c := range cats {
		if *c.Value < 0 {
			*c.Value = 0
		}
	}

	sum := d.Sum()
	if math.Abs(sum-100) <= SumTolerance {
		return
	}

	share := (100 - sum) / model.NumCategories
	clamped := false
	for _, c := range cats {
		*c.Value += share
		if *c.Value < 0 {
			*c.Value = 0
			clamped = true
		}
	}

	// Even redistribution can clamp a small category to zero and leave the
	// sum off target; a proportional pass restores the exact-100 invariant.
	if clamped {
		sum = d.Sum()
		if sum <= 0 {
			even := 100.0 / model.NumCategories
			for _, c := range cats {
				*c.Value = even
			}
			return
		}
		scale := 100 / sum
		for _, c := range cats {
			*c.Value *= scale
		}
	}
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
