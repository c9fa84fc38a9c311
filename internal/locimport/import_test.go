package locimport

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `name,lat,lng,type,verified,rating
Slottsparken,59.9139,10.7522,park,true,4.5
Sognsvann,59.9709,10.7302,lake
Bad Row,not-a-number,10.0,park
,59.9,10.7
Frognerparken,59.9270,10.7029,park,false,4.8
`

func TestReadCSV(t *testing.T) {
	res, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	require.Len(t, res.Locations, 3)
	assert.Equal(t, 2, res.Skipped)

	first := res.Locations[0]
	assert.Equal(t, "Slottsparken", first.Name)
	assert.Equal(t, "park", first.Type)
	assert.True(t, first.Verified)
	assert.InDelta(t, 4.5, first.Rating, 0.001)
	assert.InDelta(t, 59.9139, first.Coordinates.Lat, 1e-6)

	// Optional columns default to zero values.
	second := res.Locations[1]
	assert.Equal(t, "lake", second.Type)
	assert.False(t, second.Verified)
	assert.Zero(t, second.Rating)
}

func TestReadCSVRejectsOutOfRange(t *testing.T) {
	res, err := ReadCSV(strings.NewReader("name,lat,lng\nNowhere,95.0,200.0\n"))
	require.NoError(t, err)
	assert.Empty(t, res.Locations)
	assert.Equal(t, 1, res.Skipped)
}

func TestReadCSVHeaderOnly(t *testing.T) {
	res, err := ReadCSV(strings.NewReader("name,lat,lng\n"))
	require.NoError(t, err)
	assert.Empty(t, res.Locations)
	assert.Zero(t, res.Skipped)
}

func TestReadFileUnsupportedExtension(t *testing.T) {
	_, err := ReadFile("locations.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestParseRowTooShort(t *testing.T) {
	_, err := parseRow([]string{"name", "59.9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 3 columns")
}
