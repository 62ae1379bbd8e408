package raster

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/popradius/internal/raster/rastertest"
)

// exampleValues is a 3x3 grid with a negative cell and a NaN cell.
var exampleValues = []float64{10, 20, 30, -5, math.NaN(), 15, 25, 5, 10}

func exampleGrid() rastertest.Grid {
	return rastertest.Grid{
		West: 67, North: 25, CellSize: 0.01,
		Width: 3, Height: 3,
		Values: append([]float64(nil), exampleValues...),
	}
}

func openSingle(t *testing.T, path string) *Layer {
	t.Helper()
	cat, err := NewCatalog(map[string]string{BandDensity: path}, CatalogOptions{})
	require.NoError(t, err)
	layer, err := cat.OpenBand(context.Background(), BandDensity)
	require.NoError(t, err)
	t.Cleanup(func() { _ = layer.Close() })
	return layer
}

func assertValues(t *testing.T, want, got []float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		if math.IsNaN(want[i]) {
			assert.Truef(t, math.IsNaN(got[i]), "cell %d: want NaN, got %v", i, got[i])
			continue
		}
		assert.InDeltaf(t, want[i], got[i], 1e-6, "cell %d", i)
	}
}
