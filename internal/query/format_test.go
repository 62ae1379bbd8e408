package query

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/popradius/internal/estimate"
	"github.com/sells-group/popradius/internal/geospatial"
	"github.com/sells-group/popradius/internal/raster"
)

func pointDensityOutcome() Outcome {
	return Outcome{
		ID:     "q-1",
		Status: StatusOK,
		Result: &Result{
			TotalPopulation: 6283,
			BandPopulations: map[string]int64{raster.BandDensity: 6283, raster.BandPrimary: 942, raster.BandSecondary: 753},
			Center:          geospatial.GeoPoint{Lat: 24.86, Lon: 67.00},
			RadiusKm:        2,
			Mode:            estimate.ModePointDensity,
			SourceBand:      raster.BandDensity,
		},
	}
}

func TestFormatCount(t *testing.T) {
	assert.Equal(t, "0", FormatCount(0))
	assert.Equal(t, "942", FormatCount(942))
	assert.Equal(t, "6,283", FormatCount(6283))
	assert.Equal(t, "12,345,678", FormatCount(12345678))
}

func TestFormat_OK(t *testing.T) {
	got := Format(pointDensityOutcome())
	want := "Total Population: 6,283\n" +
		"Primary Age: 942\n" +
		"Secondary Age: 753\n" +
		"Radius: 2.0 km (point density)\n"
	assert.Equal(t, want, got)
}

func TestFormat_CustomBandsAndCoverage(t *testing.T) {
	o := Outcome{Status: StatusOK, Result: &Result{
		TotalPopulation: 1200,
		BandPopulations: map[string]int64{raster.BandTotal: 1200, "elderly": 90},
		RadiusKm:        5,
		Mode:            estimate.ModeWindowSum,
		SourceBand:      raster.BandTotal,
		OutOfCoverage:   []string{"elderly"},
	}}
	got := Format(o)
	assert.Contains(t, got, "Total Population: 1,200\n")
	assert.Contains(t, got, "Elderly: 90\n")
	assert.Contains(t, got, "(window sum)")
	assert.Contains(t, got, "Outside raster coverage: elderly")
}

func TestFormat_NotOK(t *testing.T) {
	assert.Equal(t, NotReadyMessage, Format(Outcome{Status: StatusUnavailable, Reason: "missing"}))
	assert.Equal(t, "Invalid query: radius too big", Format(Outcome{Status: StatusInvalidInput, Reason: "radius too big"}))
}

func TestRender_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, "json", pointDensityOutcome()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "ok", decoded["status"])
	result := decoded["result"].(map[string]any)
	assert.InDelta(t, 6283, result["total_population"], 1e-9)
	assert.Equal(t, "point_density", result["mode"])
}

func TestRender_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, "yaml", Outcome{ID: "q-2", Status: StatusUnavailable, Reason: "band missing", UnavailableBands: []string{"total"}}))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "unavailable", decoded["status"])
	assert.Equal(t, []any{"total"}, decoded["unavailable_bands"])
	assert.NotContains(t, buf.String(), "result:")
}

func TestRender_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, "text", pointDensityOutcome()))
	assert.Contains(t, buf.String(), "Total Population: 6,283")

	assert.Error(t, Render(&buf, "text", "not an outcome"))
	assert.Error(t, Render(&buf, "xml", pointDensityOutcome()))
}
