package raster

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// asciiLayout is the header of an ESRI ASCII grid (.asc). Cell values follow
// the header as whitespace-separated tokens in row-major order, north first.
type asciiLayout struct {
	ncols, nrows int
	transform    Affine
	nodata       NoData
	dataOffset   int64
	size         int64
}

// parseASCIIGrid reads the header keys and records where cell data starts.
func parseASCIIGrid(r io.ReaderAt, size int64) (*asciiLayout, error) {
	br := bufio.NewReader(io.NewSectionReader(r, 0, size))
	keys := map[string]float64{}
	var offset int64

	for {
		line, err := br.ReadString('\n')
		fields := strings.Fields(line)
		if len(fields) != 2 || !isASCIIHeaderKey(fields[0]) {
			break
		}
		v, perr := strconv.ParseFloat(fields[1], 64)
		if perr != nil {
			return nil, eris.Wrapf(perr, "asciigrid: parse %s", fields[0])
		}
		keys[strings.ToLower(fields[0])] = v
		offset += int64(len(line))
		if err != nil {
			break
		}
	}

	ncols, okC := keys["ncols"]
	nrows, okR := keys["nrows"]
	if !okC || !okR || ncols < 1 || nrows < 1 {
		return nil, eris.New("asciigrid: missing ncols/nrows")
	}

	dx, okDX := keys["dx"]
	dy, okDY := keys["dy"]
	if cs, ok := keys["cellsize"]; ok {
		dx, dy, okDX, okDY = cs, cs, true, true
	}
	if !okDX || !okDY || dx <= 0 || dy <= 0 {
		return nil, eris.New("asciigrid: missing or invalid cellsize")
	}

	var west, south float64
	switch {
	case hasKey(keys, "xllcorner"):
		west = keys["xllcorner"]
	case hasKey(keys, "xllcenter"):
		west = keys["xllcenter"] - dx/2
	default:
		return nil, eris.New("asciigrid: missing xllcorner/xllcenter")
	}
	switch {
	case hasKey(keys, "yllcorner"):
		south = keys["yllcorner"]
	case hasKey(keys, "yllcenter"):
		south = keys["yllcenter"] - dy/2
	default:
		return nil, eris.New("asciigrid: missing yllcorner/yllcenter")
	}

	a := &asciiLayout{
		ncols:      int(ncols),
		nrows:      int(nrows),
		transform:  NorthUp(west, south+nrows*dy, dx, dy),
		dataOffset: offset,
		size:       size,
	}
	if nd, ok := keys["nodata_value"]; ok {
		a.nodata = NoData{Value: nd, Set: true}
	}
	return a, nil
}

func hasKey(m map[string]float64, k string) bool {
	_, ok := m[k]
	return ok
}

func isASCIIHeaderKey(k string) bool {
	switch strings.ToLower(k) {
	case "ncols", "nrows", "xllcorner", "yllcorner", "xllcenter", "yllcenter",
		"cellsize", "dx", "dy", "nodata_value":
		return true
	}
	return false
}

func (a *asciiLayout) info() Info {
	return Info{
		Format:      "ascii_grid",
		Width:       a.ncols,
		Height:      a.nrows,
		Transform:   a.transform,
		NoData:      a.nodata,
		DataType:    "float64",
		BlockWidth:  a.ncols,
		BlockHeight: 1,
	}
}

// countingReader tracks bytes consumed from the underlying reader.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// scanWindow scans tokens up to the last row of w, parsing only cells inside it.
func (a *asciiLayout) scanWindow(ctx context.Context, r io.ReaderAt, w Window, visit func(row, col int, v float64)) (int64, error) {
	cr := &countingReader{r: io.NewSectionReader(r, a.dataOffset, a.size-a.dataOffset)}
	sc := bufio.NewScanner(cr)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(bufio.ScanWords)

	lastRow := w.RowOff + w.Height
	for idx := 0; ; idx++ {
		row, col := idx/a.ncols, idx%a.ncols
		if row >= lastRow {
			return cr.n, nil
		}
		if col == 0 {
			if err := ctx.Err(); err != nil {
				return cr.n, eris.Wrap(err, "asciigrid: read cancelled")
			}
		}
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return cr.n, eris.Wrap(err, "asciigrid: scan")
			}
			return cr.n, eris.Errorf("asciigrid: truncated at cell %d of %d", idx, a.ncols*a.nrows)
		}
		if row < w.RowOff || col < w.ColOff || col >= w.ColOff+w.Width {
			continue
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return cr.n, eris.Wrapf(err, "asciigrid: parse cell (%d, %d)", row, col)
		}
		visit(row-w.RowOff, col-w.ColOff, v)
	}
}
