package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melify/peacemap/internal/model"
	"github.com/melify/peacemap/internal/resilience"
	"github.com/melify/peacemap/pkg/claude"
)

// fakeClient returns canned responses or errors in sequence.
type fakeClient struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeClient) CreateMessage(ctx context.Context, req claude.MessageRequest) (*claude.MessageResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return &claude.MessageResponse{Text: f.responses[i]}, nil
	}
	return nil, errors.New("fake: no response configured")
}

func testConfig() Config {
	return Config{
		Model:     "claude-test",
		MaxTokens: 512,
		Timeout:   time.Second,
		Retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			ShouldRetry:    func(error) bool { return true },
		},
	}
}

var testCoords = model.Coordinates{Lat: 59.9139, Lng: 10.7522}

const goodResponse = `Here is the analysis you asked for:
{"nature": 40, "water": 10, "open_space": 10, "residential": 15,
 "roads": 10, "busy_roads": 5, "buildings": 8, "industrial": 2,
 "atmosphere": "Quiet riverside park.",
 "peaceful_indicators": ["trees", "water"],
 "stress_indicators": ["some traffic"]}
Hope that helps!`

func TestClassifyParsesImageResponse(t *testing.T) {
	client := &fakeClient{responses: []string{goodResponse}}
	c := New(client, testConfig(), FixedSource{Seed: 1})

	got := c.Classify(context.Background(), testCoords, []byte{0xff, 0xd8}, nil)

	assert.Equal(t, model.SourceClassifier, got.Source)
	assert.Equal(t, 40.0, got.Distribution.Nature)
	assert.Equal(t, "Quiet riverside park.", got.Atmosphere)
	assert.Equal(t, []string{"trees", "water"}, got.PeacefulIndicators)
	assert.InDelta(t, 100, got.Distribution.Sum(), 0.01)
}

func TestClassifyWithoutImageUsesFallback(t *testing.T) {
	client := &fakeClient{responses: []string{goodResponse}}
	c := New(client, testConfig(), FixedSource{Seed: 1})

	got := c.Classify(context.Background(), testCoords, nil, nil)

	assert.Equal(t, model.SourceHeuristic, got.Source)
	assert.Zero(t, client.calls, "no image means no collaborator call")
}

func TestClassifyFallsBackOnError(t *testing.T) {
	client := &fakeClient{errs: []error{errors.New("boom"), errors.New("boom")}}
	c := New(client, testConfig(), FixedSource{Seed: 7})

	got := c.Classify(context.Background(), testCoords, []byte{1}, nil)

	assert.Equal(t, model.SourceHeuristic, got.Source)
	assert.Equal(t, 2, client.calls, "retry budget is one retry")
	assert.InDelta(t, 100, got.Distribution.Sum(), 0.01)
}

func TestClassifyFallsBackOnUnparsablePayload(t *testing.T) {
	client := &fakeClient{responses: []string{"no json here at all"}}
	c := New(client, testConfig(), FixedSource{Seed: 7})

	got := c.Classify(context.Background(), testCoords, []byte{1}, nil)
	assert.Equal(t, model.SourceHeuristic, got.Source)
}

func TestClassifyRetriesThenSucceeds(t *testing.T) {
	client := &fakeClient{
		errs:      []error{errors.New("transient"), nil},
		responses: []string{"", goodResponse},
	}
	c := New(client, testConfig(), FixedSource{Seed: 7})

	got := c.Classify(context.Background(), testCoords, []byte{1}, nil)
	assert.Equal(t, model.SourceClassifier, got.Source)
	assert.Equal(t, 2, client.calls)
}

func TestClassifyCancelledContextFallsBackImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &fakeClient{errs: []error{context.Canceled}}
	c := New(client, testConfig(), FixedSource{Seed: 7})

	start := time.Now()
	got := c.Classify(ctx, testCoords, []byte{1}, nil)
	assert.Equal(t, model.SourceHeuristic, got.Source)
	assert.Less(t, time.Since(start), 200*time.Millisecond, "fallback must not wait out the retry budget")
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, false},
		{"surrounded by prose", `Sure! {"a":1} Done.`, `{"a":1}`, false},
		{"nested braces", `x {"a":{"b":2}} y`, `{"a":{"b":2}}`, false},
		{"brace inside string", `{"a":"}","b":1}`, `{"a":"}","b":1}`, false},
		{"escaped quote in string", `{"a":"say \"}\" ok"}`, `{"a":"say \"}\" ok"}`, false},
		{"first of two objects", `{"a":1} {"b":2}`, `{"a":1}`, false},
		{"no object", "nothing here", "", true},
		{"unbalanced", `{"a":1`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSONObject(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseResponseMissingFieldsDefault(t *testing.T) {
	got, err := parseResponse(`{"nature": 90}`)
	require.NoError(t, err)
	assert.Equal(t, 90.0, got.Nature)
	assert.Zero(t, got.Water)
	assert.Empty(t, got.Atmosphere)
	assert.Nil(t, got.StressIndicators)
}

func TestNormalizeWithinToleranceUntouched(t *testing.T) {
	d := model.AreaDistribution{Nature: 60, Buildings: 50} // sum 110, within 15
	Normalize(&d)
	assert.Equal(t, 60.0, d.Nature)
	assert.Equal(t, 50.0, d.Buildings)
}

func TestNormalizeRedistributesEvenly(t *testing.T) {
	d := model.AreaDistribution{Nature: 40, Buildings: 20} // sum 60, off by 40
	Normalize(&d)
	// Each of the 8 categories gains 5.
	assert.InDelta(t, 45, d.Nature, 0.001)
	assert.InDelta(t, 25, d.Buildings, 0.001)
	assert.InDelta(t, 5, d.Water, 0.001)
	assert.InDelta(t, 100, d.Sum(), 0.01)
}

func TestNormalizeClampsNegatives(t *testing.T) {
	d := model.AreaDistribution{Nature: -10, Buildings: 150}
	Normalize(&d)
	assert.GreaterOrEqual(t, d.Nature, 0.0)
	assert.InDelta(t, 100, d.Sum(), 0.01)
}

func TestNormalizeAllZero(t *testing.T) {
	var d model.AreaDistribution
	Normalize(&d)
	assert.InDelta(t, 100, d.Sum(), 0.01)
}
