package raster

import (
	"context"
	"io"
	"math"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/popradius/internal/geospatial"
)

// NoData is a raster's declared sentinel value.
type NoData struct {
	Value float64 `json:"value" yaml:"value"`
	Set   bool    `json:"set" yaml:"set"`
}

// Matches reports whether v equals the sentinel.
func (n NoData) Matches(v float64) bool {
	if !n.Set {
		return false
	}
	if math.IsNaN(n.Value) {
		return math.IsNaN(v)
	}
	return v == n.Value
}

// MarshalJSON writes null when unset and a string for non-finite sentinels,
// which JSON numbers cannot carry.
func (n NoData) MarshalJSON() ([]byte, error) {
	switch {
	case !n.Set:
		return []byte("null"), nil
	case math.IsNaN(n.Value) || math.IsInf(n.Value, 0):
		return []byte(strconv.Quote(strconv.FormatFloat(n.Value, 'g', -1, 64))), nil
	default:
		return []byte(strconv.FormatFloat(n.Value, 'g', -1, 64)), nil
	}
}

// Info describes an opened layer. It is fixed at open time.
type Info struct {
	Band        string `json:"band" yaml:"band"`
	Path        string `json:"path" yaml:"path"`
	Format      string `json:"format" yaml:"format"`
	Width       int    `json:"width" yaml:"width"`
	Height      int    `json:"height" yaml:"height"`
	Transform   Affine `json:"transform" yaml:"transform"`
	NoData      NoData `json:"nodata" yaml:"nodata"`
	DataType    string `json:"data_type" yaml:"data_type"`
	Compression string `json:"compression,omitempty" yaml:"compression,omitempty"`
	BlockWidth  int    `json:"block_width" yaml:"block_width"`
	BlockHeight int    `json:"block_height" yaml:"block_height"`
}

// Extent returns the geographic box covered by the grid.
func (i Info) Extent() geospatial.BBox {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, px := range [4][2]float64{{0, 0}, {float64(i.Width), 0}, {float64(i.Width), float64(i.Height)}, {0, float64(i.Height)}} {
		x, y := i.Transform.Apply(px[0], px[1])
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return geospatial.BBox{MinLng: minX, MinLat: minY, MaxLng: maxX, MaxLat: maxY}
}

// CellSize returns the absolute pixel width and height in map units.
func (i Info) CellSize() (float64, float64) {
	return math.Hypot(i.Transform.A, i.Transform.D), math.Hypot(i.Transform.B, i.Transform.E)
}

// Grid is a windowed read: Height rows of Width values, row-major.
type Grid struct {
	Window Window    `json:"window"`
	Values []float64 `json:"values"`
	NoData NoData    `json:"nodata"`
}

// At returns the value at window-relative (row, col).
func (g *Grid) At(row, col int) float64 {
	return g.Values[row*g.Window.Width+col]
}

// Rows returns the grid as a 2D slice sharing the underlying storage.
func (g *Grid) Rows() [][]float64 {
	out := make([][]float64, g.Window.Height)
	for r := range out {
		out[r] = g.Values[r*g.Window.Width : (r+1)*g.Window.Width]
	}
	return out
}

// layout is a parsed, immutable file header able to decode pixel windows.
// Layouts are shared across opens via HeaderCache.
type layout interface {
	info() Info
	scanWindow(ctx context.Context, r io.ReaderAt, w Window, visit func(row, col int, v float64)) (int64, error)
}

// Layer is one opened band. It holds a file handle until Close.
type Layer struct {
	info      Info
	file      *os.File
	layout    layout
	bytesRead atomic.Int64
}

// Band returns the logical band name.
func (l *Layer) Band() string { return l.info.Band }

// Info returns the layer description.
func (l *Layer) Info() Info { return l.info }

// BytesRead returns the bytes fetched from disk so far.
func (l *Layer) BytesRead() int64 { return l.bytesRead.Load() }

// Close releases the file handle.
func (l *Layer) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return eris.Wrap(err, "raster: close layer")
	}
	return nil
}

// PixelIndex converts a point to (row, col) using the layer's transform.
// Returns ErrOutOfBounds if the pixel lies outside the grid.
func (l *Layer) PixelIndex(p geospatial.GeoPoint) (row, col int, err error) {
	row, col, err = l.info.Transform.Index(p.Lon, p.Lat)
	if err != nil {
		return 0, 0, &LayerError{Band: l.info.Band, Path: l.info.Path, Err: ErrOutOfBounds}
	}
	if row < 0 || col < 0 || row >= l.info.Height || col >= l.info.Width {
		return 0, 0, &LayerError{Band: l.info.Band, Path: l.info.Path, Err: ErrOutOfBounds}
	}
	return row, col, nil
}

// ReadPixel returns the raw value of the pixel containing p.
func (l *Layer) ReadPixel(ctx context.Context, p geospatial.GeoPoint) (float64, error) {
	row, col, err := l.PixelIndex(p)
	if err != nil {
		return 0, err
	}
	g, err := l.read(ctx, Window{ColOff: col, RowOff: row, Width: 1, Height: 1})
	if err != nil {
		return 0, err
	}
	return g.Values[0], nil
}

// ReadWindow reads only the cells intersecting bbox. A box outside the
// raster's extent yields an empty grid, not an error.
func (l *Layer) ReadWindow(ctx context.Context, bbox geospatial.BBox) (*Grid, error) {
	w, err := l.windowFor(bbox)
	if err != nil {
		return nil, err
	}
	return l.read(ctx, w)
}

// ScanWindow passes every cell intersecting bbox to fn without holding the
// window in memory. Cells arrive block by block, not in row order. The
// returned window is empty when bbox misses the raster.
func (l *Layer) ScanWindow(ctx context.Context, bbox geospatial.BBox, fn func(v float64)) (Window, error) {
	w, err := l.windowFor(bbox)
	if err != nil {
		return Window{}, err
	}
	if err := l.scan(ctx, w, func(_, _ int, v float64) { fn(v) }); err != nil {
		return Window{}, err
	}
	return w, nil
}

func (l *Layer) windowFor(bbox geospatial.BBox) (Window, error) {
	if !l.info.Extent().Intersects(bbox) {
		return Window{}, nil
	}
	w, err := l.info.Transform.WindowFor(bbox.MinLng, bbox.MinLat, bbox.MaxLng, bbox.MaxLat, l.info.Width, l.info.Height)
	if err != nil {
		return Window{}, unavailable(l.info.Band, l.info.Path, err)
	}
	return w, nil
}

func (l *Layer) read(ctx context.Context, w Window) (*Grid, error) {
	g := &Grid{Window: w, NoData: l.info.NoData}
	if w.Empty() {
		return g, nil
	}
	g.Values = make([]float64, w.Cells())
	err := l.scan(ctx, w, func(row, col int, v float64) {
		g.Values[row*w.Width+col] = v
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (l *Layer) scan(ctx context.Context, w Window, visit func(row, col int, v float64)) error {
	if w.Empty() {
		return nil
	}
	if l.file == nil {
		return unavailable(l.info.Band, l.info.Path, eris.New("layer is closed"))
	}

	n, err := l.layout.scanWindow(ctx, l.file, w, visit)
	l.bytesRead.Add(n)
	if err != nil {
		zap.L().Debug("raster: window read failed",
			zap.String("band", l.info.Band),
			zap.String("path", l.info.Path),
			zap.Any("window", w),
			zap.Error(err),
		)
		return unavailable(l.info.Band, l.info.Path, err)
	}
	return nil
}
