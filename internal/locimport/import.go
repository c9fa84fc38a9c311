// Package locimport parses curated-location files (CSV or XLSX) for bulk
// import. Expected columns: name, lat, lng, then optional type, verified,
// rating. The first row is treated as a header.
package locimport

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/melify/peacemap/internal/geospatial"
	"github.com/melify/peacemap/internal/model"
)

// Result reports what an import parsed.
type Result struct {
	Locations []model.Location
	Skipped   int
}

// ReadFile parses a location file, dispatching on extension.
func ReadFile(path string) (*Result, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "locimport: open file")
		}
		defer f.Close()
		return ReadCSV(f)
	case ".xlsx":
		return ReadXLSX(path)
	default:
		return nil, eris.Errorf("locimport: unsupported file type %q", filepath.Ext(path))
	}
}

// ReadCSV parses location rows from CSV data.
func ReadCSV(r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "locimport: read csv")
	}
	return parseRows(rows), nil
}

// ReadXLSX parses location rows from the first sheet of an XLSX file.
func ReadXLSX(path string) (*Result, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "locimport: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("locimport: xlsx file has no sheets")
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return parseRows(rows), nil
}

func parseRows(rows [][]string) *Result {
	res := &Result{}
	for i, row := range rows {
		if i == 0 {
			// Header row.
			continue
		}
		loc, err := parseRow(row)
		if err != nil {
			zap.L().Warn("skipping location row",
				zap.Int("row", i+1),
				zap.Error(err),
			)
			res.Skipped++
			continue
		}
		res.Locations = append(res.Locations, *loc)
	}
	return res
}

func parseRow(row []string) (*model.Location, error) {
	if len(row) < 3 {
		return nil, eris.Errorf("expected at least 3 columns, got %d", len(row))
	}

	name := strings.TrimSpace(row[0])
	if name == "" {
		return nil, eris.New("empty name")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
	if err != nil {
		return nil, eris.Wrap(err, "parse lat")
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
	if err != nil {
		return nil, eris.Wrap(err, "parse lng")
	}

	loc := model.Location{
		Name:        name,
		Coordinates: model.Coordinates{Lat: lat, Lng: lng},
	}
	if !geospatial.ValidCoordinates(loc.Coordinates) {
		return nil, eris.Errorf("coordinates out of range: %f, %f", lat, lng)
	}

	if len(row) > 3 {
		loc.Type = strings.TrimSpace(row[3])
	}
	if len(row) > 4 && strings.TrimSpace(row[4]) != "" {
		verified, err := strconv.ParseBool(strings.TrimSpace(row[4]))
		if err != nil {
			return nil, eris.Wrap(err, "parse verified")
		}
		loc.Verified = verified
	}
	if len(row) > 5 && strings.TrimSpace(row[5]) != "" {
		rating, err := strconv.ParseFloat(strings.TrimSpace(row[5]), 64)
		if err != nil {
			return nil, eris.Wrap(err, "parse rating")
		}
		loc.Rating = rating
	}
	return &loc, nil
}
