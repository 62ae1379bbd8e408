package estimate

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/popradius/internal/geospatial"
	"github.com/sells-group/popradius/internal/raster"
	"github.com/sells-group/popradius/internal/raster/rastertest"
)

var karachi = geospatial.GeoPoint{Lat: 24.86, Lon: 67.00}

func newEstimator(t *testing.T, bands map[string]string) *Estimator {
	t.Helper()
	cat, err := raster.NewCatalog(bands, raster.CatalogOptions{})
	require.NoError(t, err)
	return NewEstimator(cat, DefaultFractions)
}

// uniformDensity writes a 1 degree square of constant density around Karachi.
func uniformDensity(t *testing.T, v float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pak_pd_2020_1km.tif")
	rastertest.WriteGeoTIFF(t, path, rastertest.Uniform(66.5, 25.5, 0.01, 100, 100, v), rastertest.TIFFOptions{Compression: rastertest.CompressionDeflate})
	return path
}

// exampleWindow writes the 3x3 grid centered on Karachi.
func exampleWindow(t *testing.T, nodata *float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "window.tif")
	rastertest.WriteGeoTIFF(t, path, rastertest.Grid{
		West: 66.985, North: 24.875, CellSize: 0.01, Width: 3, Height: 3,
		Values: []float64{10, 20, 30, -5, math.NaN(), 15, 25, 5, 10},
		NoData: nodata,
	}, rastertest.TIFFOptions{})
	return path
}

func TestNewEstimator_NilSource(t *testing.T) {
	assert.Nil(t, NewEstimator(nil, DefaultFractions))
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"point_density", ModePointDensity},
		{"pointDensity", ModePointDensity},
		{"A", ModePointDensity},
		{"window_sum", ModeWindowSum},
		{" windowSum ", ModeWindowSum},
		{"b", ModeWindowSum},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseMode("circle")
	assert.Error(t, err)
}

func TestPointDensity_Scenario(t *testing.T) {
	e := newEstimator(t, map[string]string{raster.BandDensity: uniformDensity(t, 500)})

	est, err := e.Estimate(context.Background(), karachi, 2.0, ModePointDensity, []string{raster.BandDensity})
	require.NoError(t, err)
	assert.Equal(t, ModePointDensity, est.Mode)
	assert.Equal(t, int64(6283), est.Total)
	assert.Equal(t, int64(6283), est.Bands[raster.BandDensity])
	assert.Equal(t, int64(942), est.Bands[raster.BandPrimary])
	assert.Equal(t, int64(753), est.Bands[raster.BandSecondary])
	assert.Equal(t, raster.BandDensity, est.SourceBand)
	assert.Empty(t, est.OutOfCoverage)
	assert.Positive(t, est.BytesRead[raster.BandDensity])
}

func TestPointDensity_PrefersTotalBand(t *testing.T) {
	e := newEstimator(t, map[string]string{
		raster.BandTotal:   uniformDensity(t, 100),
		raster.BandPrimary: uniformDensity(t, 1),
	})

	est, err := e.PointDensity(context.Background(), karachi, 1.0, []string{raster.BandPrimary, raster.BandTotal})
	require.NoError(t, err)
	assert.Equal(t, raster.BandTotal, est.SourceBand)
	assert.Equal(t, int64(314), est.Total)
	assert.Equal(t, int64(47), est.Bands[raster.BandPrimary])
	assert.Equal(t, int64(37), est.Bands[raster.BandSecondary])
}

func TestPointDensity_Sentinels(t *testing.T) {
	for name, v := range map[string]float64{"negative": -5, "nan": math.NaN(), "nodata": -9999} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "d.tif")
			g := rastertest.Uniform(66.5, 25.5, 0.01, 100, 100, v)
			g.NoData = rastertest.NoDataValue(-9999)
			rastertest.WriteGeoTIFF(t, path, g, rastertest.TIFFOptions{})
			e := newEstimator(t, map[string]string{raster.BandDensity: path})

			est, err := e.Estimate(context.Background(), karachi, 5, ModePointDensity, []string{raster.BandDensity})
			require.NoError(t, err)
			assert.Zero(t, est.Total)
			assert.Zero(t, est.Bands[raster.BandPrimary])
			assert.Zero(t, est.Bands[raster.BandSecondary])
		})
	}
}

func TestWindowSum_Scenario(t *testing.T) {
	for name, nd := range map[string]*float64{"no nodata tag": nil, "with nodata tag": rastertest.NoDataValue(-9999)} {
		t.Run(name, func(t *testing.T) {
			e := newEstimator(t, map[string]string{raster.BandTotal: exampleWindow(t, nd)})

			est, err := e.Estimate(context.Background(), karachi, 2.0, ModeWindowSum, []string{raster.BandTotal})
			require.NoError(t, err)
			assert.Equal(t, ModeWindowSum, est.Mode)
			assert.Equal(t, int64(115), est.Total)
			assert.Equal(t, map[string]int64{raster.BandTotal: 115}, est.Bands)
		})
	}
}

func TestWindowSum_IndependentBands(t *testing.T) {
	dir := t.TempDir()
	paths := map[string]string{}
	for band, v := range map[string]float64{raster.BandTotal: 1, raster.BandPrimary: 0.5, raster.BandSecondary: 0.25} {
		p := filepath.Join(dir, band+".asc")
		rastertest.WriteASCIIGrid(t, p, rastertest.Uniform(66.985, 24.875, 0.01, 3, 3, v))
		paths[band] = p
	}
	e := newEstimator(t, paths)

	est, err := e.WindowSum(context.Background(), karachi, 2.0, []string{raster.BandTotal, raster.BandPrimary, raster.BandSecondary})
	require.NoError(t, err)
	assert.Equal(t, int64(9), est.Total)
	assert.Equal(t, int64(4), est.Bands[raster.BandPrimary])
	assert.Equal(t, int64(2), est.Bands[raster.BandSecondary])
	assert.Equal(t, raster.BandTotal, est.SourceBand)
}

func TestEstimate_OutOfCoverage(t *testing.T) {
	e := newEstimator(t, map[string]string{raster.BandDensity: uniformDensity(t, 500)})
	far := geospatial.GeoPoint{Lat: 89.9, Lon: 179.9}

	for _, mode := range []Mode{ModePointDensity, ModeWindowSum} {
		t.Run(string(mode), func(t *testing.T) {
			est, err := e.Estimate(context.Background(), far, 2.0, mode, []string{raster.BandDensity})
			require.NoError(t, err)
			assert.Zero(t, est.Total)
			assert.Equal(t, []string{raster.BandDensity}, est.OutOfCoverage)
		})
	}
}

func TestEstimate_MissingRasterIsUnavailable(t *testing.T) {
	e := newEstimator(t, map[string]string{raster.BandTotal: filepath.Join(t.TempDir(), "missing.tif")})

	for _, mode := range []Mode{ModePointDensity, ModeWindowSum} {
		t.Run(string(mode), func(t *testing.T) {
			est, err := e.Estimate(context.Background(), karachi, 2.0, mode, []string{raster.BandTotal})
			require.Error(t, err)
			assert.Nil(t, est)
			assert.ErrorIs(t, err, raster.ErrLayerUnavailable)
		})
	}
}

func TestWindowSum_OneMissingBandFailsQuery(t *testing.T) {
	e := newEstimator(t, map[string]string{
		raster.BandTotal:   exampleWindow(t, nil),
		raster.BandPrimary: filepath.Join(t.TempDir(), "missing.tif"),
	})

	_, err := e.WindowSum(context.Background(), karachi, 2.0, []string{raster.BandTotal, raster.BandPrimary})
	assert.True(t, raster.IsUnavailable(err))
}

func TestEstimate_Monotonic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "varied.tif")
	g := rastertest.Uniform(66.5, 25.5, 0.01, 100, 100, 0)
	for i := range g.Values {
		switch i % 7 {
		case 0:
			g.Values[i] = -3
		case 3:
			g.Values[i] = math.NaN()
		default:
			g.Values[i] = float64(i%13) * 1.7
		}
	}
	rastertest.WriteGeoTIFF(t, path, g, rastertest.TIFFOptions{TileSize: 16, Compression: rastertest.CompressionDeflate, Predictor: 3})
	e := newEstimator(t, map[string]string{raster.BandDensity: path})

	for _, mode := range []Mode{ModePointDensity, ModeWindowSum} {
		t.Run(string(mode), func(t *testing.T) {
			prev := int64(-1)
			for r := 0.1; r <= 30; r += 0.7 {
				est, err := e.Estimate(context.Background(), karachi, r, mode, []string{raster.BandDensity})
				require.NoError(t, err)
				assert.GreaterOrEqual(t, est.Total, prev, "radius %.1f", r)
				assert.GreaterOrEqual(t, est.Total, int64(0))
				prev = est.Total
			}
		})
	}
}

func TestEstimate_Validation(t *testing.T) {
	e := newEstimator(t, map[string]string{raster.BandDensity: uniformDensity(t, 1)})

	_, err := e.Estimate(context.Background(), karachi, 1, ModeWindowSum, nil)
	assert.Error(t, err)

	_, err = e.Estimate(context.Background(), karachi, 1, Mode("circle"), []string{raster.BandDensity})
	assert.Error(t, err)

	est, err := e.Estimate(context.Background(), karachi, 1, ModeWindowSum, []string{raster.BandDensity, " density ", ""})
	require.NoError(t, err)
	assert.Len(t, est.Bands, 1)
}

func TestEstimate_Float32SentinelCountsZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.tif")
	rastertest.WriteGeoTIFF(t, path, rastertest.Uniform(66.5, 25.5, 0.01, 100, 100, math.MaxFloat32),
		rastertest.TIFFOptions{NoDataText: "3.4028235e+38", TileSize: 32, Compression: rastertest.CompressionDeflate})
	e := newEstimator(t, map[string]string{raster.BandDensity: path})

	for _, mode := range []Mode{ModePointDensity, ModeWindowSum} {
		t.Run(string(mode), func(t *testing.T) {
			est, err := e.Estimate(context.Background(), karachi, 2.0, mode, []string{raster.BandDensity})
			require.NoError(t, err)
			assert.Zero(t, est.Total)
			assert.Zero(t, est.Bands[raster.BandDensity])
		})
	}
}

func TestPointDensity_AgeBandCannotBeSource(t *testing.T) {
	e := newEstimator(t, map[string]string{
		raster.BandPrimary:   uniformDensity(t, 500),
		raster.BandSecondary: uniformDensity(t, 500),
	})

	for _, bands := range [][]string{{raster.BandPrimary}, {raster.BandSecondary, raster.BandPrimary}} {
		est, err := e.Estimate(context.Background(), karachi, 2.0, ModePointDensity, bands)
		require.Error(t, err)
		assert.Nil(t, est)
		assert.ErrorIs(t, err, ErrAgeBandSource)
		assert.False(t, raster.IsUnavailable(err))
	}

	assert.True(t, IsAgeBand(raster.BandPrimary))
	assert.True(t, IsAgeBand(raster.BandSecondary))
	assert.False(t, IsAgeBand(raster.BandDensity))
	assert.Equal(t, raster.BandTotal, DensitySource([]string{raster.BandPrimary, " total "}))
}

func TestPointDensity_AgeBandsMatchFractions(t *testing.T) {
	e := newEstimator(t, map[string]string{
		raster.BandDensity: uniformDensity(t, 500),
		raster.BandPrimary: uniformDensity(t, 1),
	})

	est, err := e.Estimate(context.Background(), karachi, 2.0, ModePointDensity, []string{raster.BandPrimary, raster.BandDensity})
	require.NoError(t, err)
	assert.Equal(t, int64(6283), est.Total)
	assert.Equal(t, int64(942), est.Bands[raster.BandPrimary])
	assert.Equal(t, int64(753), est.Bands[raster.BandSecondary])
}
