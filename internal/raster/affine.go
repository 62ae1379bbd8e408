package raster

import (
	"math"

	"github.com/rotisserie/eris"
)

// Affine maps pixel (col, row) to geographic (x, y):
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
//
// For a north-up raster B and D are zero and E is negative.
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// NorthUp builds the transform of a north-up grid whose top-left corner is
// (west, north) with square or rectangular cells.
func NorthUp(west, north, cellWidth, cellHeight float64) Affine {
	return Affine{A: cellWidth, C: west, E: -cellHeight, F: north}
}

// Apply returns the geographic coordinate of fractional pixel (col, row).
func (t Affine) Apply(col, row float64) (x, y float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// Determinant of the linear part; zero means the transform is degenerate.
func (t Affine) Determinant() float64 {
	return t.A*t.E - t.B*t.D
}

// Invert returns fractional (col, row) for geographic (x, y).
func (t Affine) Invert(x, y float64) (col, row float64, err error) {
	det := t.Determinant()
	if det == 0 || math.IsNaN(det) {
		return 0, 0, eris.New("raster: degenerate affine transform")
	}
	dx, dy := x-t.C, y-t.F
	col = (t.E*dx - t.B*dy) / det
	row = (-t.D*dx + t.A*dy) / det
	return col, row, nil
}

// Index returns the integer pixel containing (x, y), flooring fractional
// positions. It does not check grid bounds.
func (t Affine) Index(x, y float64) (row, col int, err error) {
	fc, fr, err := t.Invert(x, y)
	if err != nil {
		return 0, 0, err
	}
	fc, fr = math.Floor(fc), math.Floor(fr)
	if !fitsInt(fc) || !fitsInt(fr) {
		return 0, 0, ErrOutOfBounds
	}
	return int(fr), int(fc), nil
}

func fitsInt(v float64) bool {
	return !math.IsNaN(v) && v > math.MinInt32 && v < math.MaxInt32
}

// Window is a pixel-space rectangle. Width or Height of zero means empty.
type Window struct {
	ColOff int `json:"col_off" yaml:"col_off"`
	RowOff int `json:"row_off" yaml:"row_off"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Empty reports whether the window covers no cells.
func (w Window) Empty() bool {
	return w.Width <= 0 || w.Height <= 0
}

// Cells returns the number of cells covered.
func (w Window) Cells() int {
	if w.Empty() {
		return 0
	}
	return w.Width * w.Height
}

// WindowFor converts a geographic box (west, south, east, north) into the
// pixel window of a width x height grid. Partially covered cells are
// included. The result is clipped to the grid and may be empty.
func (t Affine) WindowFor(west, south, east, north float64, width, height int) (Window, error) {
	corners := [4][2]float64{{west, north}, {east, north}, {east, south}, {west, south}}

	minC, minR := math.Inf(1), math.Inf(1)
	maxC, maxR := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		col, row, err := t.Invert(c[0], c[1])
		if err != nil {
			return Window{}, err
		}
		minC, maxC = math.Min(minC, col), math.Max(maxC, col)
		minR, maxR = math.Min(minR, row), math.Max(maxR, row)
	}

	c0 := clampF(math.Floor(minC), 0, float64(width))
	c1 := clampF(math.Ceil(maxC), 0, float64(width))
	r0 := clampF(math.Floor(minR), 0, float64(height))
	r1 := clampF(math.Ceil(maxR), 0, float64(height))

	w := Window{ColOff: int(c0), RowOff: int(r0), Width: int(c1 - c0), Height: int(r1 - r0)}
	if w.Empty() {
		return Window{}, nil
	}
	return w, nil
}

func clampF(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
