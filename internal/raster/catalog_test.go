package raster

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/popradius/internal/raster/rastertest"
)

func TestNewCatalog_Validation(t *testing.T) {
	_, err := NewCatalog(nil, CatalogOptions{})
	assert.Error(t, err)

	_, err = NewCatalog(map[string]string{" ": "/tmp/x.tif"}, CatalogOptions{})
	assert.Error(t, err)

	_, err = NewCatalog(map[string]string{BandTotal: ""}, CatalogOptions{})
	assert.Error(t, err)
}

func TestCatalog_Bands(t *testing.T) {
	cat, err := NewCatalog(map[string]string{
		BandTotal:     "t.tif",
		BandPrimary:   "p.tif",
		BandSecondary: "s.tif",
	}, CatalogOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{BandPrimary, BandSecondary, BandTotal}, cat.Bands())
	assert.True(t, cat.Has(BandTotal))
	assert.False(t, cat.Has(BandDensity))

	p, ok := cat.Path(BandPrimary)
	assert.True(t, ok)
	assert.Equal(t, "p.tif", p)
}

func TestCatalog_OpenBandUnavailable(t *testing.T) {
	dir := t.TempDir()
	small := filepath.Join(dir, "small.tif")
	rastertest.WriteGeoTIFF(t, small, exampleGrid(), rastertest.TIFFOptions{})
	garbage := filepath.Join(dir, "garbage.tif")
	require.NoError(t, os.WriteFile(garbage, []byte("<html>502 Bad Gateway</html>"), 0o644))

	cat, err := NewCatalog(map[string]string{
		"missing":   filepath.Join(dir, "pak_pd_2020_1km.tif"),
		"directory": dir,
		"small":     small,
		"garbage":   garbage,
	}, CatalogOptions{})
	require.NoError(t, err)
	strict, err := NewCatalog(map[string]string{"small": small}, CatalogOptions{MinFileBytes: 1 << 20})
	require.NoError(t, err)

	tests := []struct {
		name string
		cat  *Catalog
		band string
	}{
		{"unknown band", cat, "elderly"},
		{"missing file", cat, "missing"},
		{"directory", cat, "directory"},
		{"unparseable", cat, "garbage"},
		{"download incomplete", strict, "small"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layer, err := tt.cat.OpenBand(context.Background(), tt.band)
			require.Error(t, err)
			assert.Nil(t, layer)
			assert.True(t, IsUnavailable(err))
			assert.False(t, IsOutOfBounds(err))

			var le *LayerError
			require.True(t, errors.As(err, &le))
			assert.Equal(t, tt.band, le.Band)
		})
	}
}

func TestCatalog_OpenBandCancelled(t *testing.T) {
	path := rastertest.Path(t, "density.tif")
	rastertest.WriteGeoTIFF(t, path, exampleGrid(), rastertest.TIFFOptions{})
	cat, err := NewCatalog(map[string]string{BandDensity: path}, CatalogOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = cat.OpenBand(ctx, BandDensity)
	assert.True(t, IsUnavailable(err))
}

func TestCatalog_WithBandReleasesHandle(t *testing.T) {
	path := rastertest.Path(t, "density.tif")
	rastertest.WriteGeoTIFF(t, path, exampleGrid(), rastertest.TIFFOptions{})
	cat, err := NewCatalog(map[string]string{BandDensity: path}, CatalogOptions{})
	require.NoError(t, err)

	var seen *Layer
	err = cat.WithBand(context.Background(), BandDensity, func(l *Layer) error {
		seen = l
		assert.Equal(t, BandDensity, l.Band())
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Nil(t, seen.file)

	boom := errors.New("boom")
	err = cat.WithBand(context.Background(), BandDensity, func(l *Layer) error {
		seen = l
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, seen.file)
}

func TestCatalog_Describe(t *testing.T) {
	path := rastertest.Path(t, "density.tif")
	rastertest.WriteGeoTIFF(t, path, exampleGrid(), rastertest.TIFFOptions{Compression: rastertest.CompressionDeflate})
	cat, err := NewCatalog(map[string]string{BandDensity: path}, CatalogOptions{})
	require.NoError(t, err)

	info, err := cat.Describe(context.Background(), BandDensity)
	require.NoError(t, err)
	assert.Equal(t, BandDensity, info.Band)
	assert.Equal(t, path, info.Path)
	assert.Equal(t, "deflate", info.Compression)
	w, h := info.CellSize()
	assert.InDelta(t, 0.01, w, 1e-12)
	assert.InDelta(t, 0.01, h, 1e-12)
}

func TestCatalog_HeaderCacheReuse(t *testing.T) {
	path := rastertest.Path(t, "density.tif")
	rastertest.WriteGeoTIFF(t, path, exampleGrid(), rastertest.TIFFOptions{})
	cache := NewHeaderCache(4, time.Hour)
	cat, err := NewCatalog(map[string]string{BandDensity: path}, CatalogOptions{Cache: cache})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := cat.Describe(ctx, BandDensity)
		require.NoError(t, err)
	}
	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.Hits)

	// A replaced file with a different size is re-parsed.
	rastertest.WriteGeoTIFF(t, path, rastertest.Uniform(67, 25, 0.01, 4, 4, 1), rastertest.TIFFOptions{})
	info, err := cat.Describe(ctx, BandDensity)
	require.NoError(t, err)
	assert.Equal(t, 4, info.Width)
	assert.Equal(t, int64(2), cache.Stats().Misses)
}
