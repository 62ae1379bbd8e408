package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/popradius/internal/query"
)

func TestQuery_PointDensityText(t *testing.T) {
	workspace(t, "")

	out, err := execute(t, "query", "--lat", "24.86", "--lon", "67.00", "--radius", "2", "--mode", "point_density")
	require.NoError(t, err)
	assert.Contains(t, out, "Total Population: 6,283")
	assert.Contains(t, out, "Primary Age: 942")
	assert.Contains(t, out, "Secondary Age: 753")
}

func TestQuery_CoordinateArgumentJSON(t *testing.T) {
	workspace(t, "")

	out, err := execute(t, "query", "24.86, 67.00", "--mode", "a", "-o", "json")
	require.NoError(t, err)

	var o query.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &o))
	assert.Equal(t, query.StatusOK, o.Status)
	assert.Equal(t, int64(6283), o.Result.TotalPopulation)
	assert.InDelta(t, 2.0, o.Result.RadiusKm, 1e-12, "radius defaults from config")
}

func TestQuery_ArgumentAndFlagsConflict(t *testing.T) {
	workspace(t, "")

	_, err := execute(t, "query", "24.86, 67.00", "--lat", "1")
	assert.ErrorContains(t, err, "not both")
}

func TestQuery_InvalidRadius(t *testing.T) {
	workspace(t, "")

	out, err := execute(t, "query", "--lat", "24.86", "--lon", "67.00", "--radius", "900")
	require.Error(t, err)
	assert.ErrorIs(t, err, query.ErrInvalidInput)
	assert.Contains(t, out, "Invalid query")
}

func TestQuery_MissingRasterIsNotReady(t *testing.T) {
	dir := workspace(t, "")
	require.NoError(t, os.Remove(filepath.Join(dir, "pop.tif")))

	out, err := execute(t, "query", "--lat", "24.86", "--lon", "67.00")
	require.Error(t, err)
	assert.Equal(t, query.NotReadyMessage, strings.TrimSpace(out))
}

func TestQueryBatch(t *testing.T) {
	dir := workspace(t, "")
	in := filepath.Join(dir, "sites.csv")
	require.NoError(t, os.WriteFile(in, []byte("id,lat,lon,radius_km,mode\nkhi,24.86,67.00,2,point_density\npole,89.9,179.9,2,\nbad,x,1,2,\n"), 0o644))
	outPath := filepath.Join(dir, "sites_pop.csv")

	out, err := execute(t, "query", "batch", "--input", in, "--output", outPath, "--concurrency", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "3 points: 2 ok, 0 unavailable, 1 invalid")

	body, err := os.ReadFile(outPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[1], "khi,24.86,67,2,point_density,ok,6283,"), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "pole,89.9,179.9,2,window_sum,ok,0,"), lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "bad,"), lines[3])
	assert.Contains(t, lines[3], "invalid_input")
}
