// Package rastertest writes small synthetic rasters for tests.
package rastertest

import (
	"bytes"
	"compress/lzw"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"
)

// Grid describes a north-up raster: Values are row-major, northernmost row first.
type Grid struct {
	West, North float64
	CellSize    float64
	Width       int
	Height      int
	Values      []float64
	NoData      *float64
}

// Uniform returns a width x height grid filled with v.
func Uniform(west, north, cell float64, width, height int, v float64) Grid {
	vals := make([]float64, width*height)
	for i := range vals {
		vals[i] = v
	}
	return Grid{West: west, North: north, CellSize: cell, Width: width, Height: height, Values: vals}
}

// NoDataValue is a convenience for Grid.NoData.
func NoDataValue(v float64) *float64 { return &v }

// TIFF compression schemes supported by WriteGeoTIFF.
const (
	CompressionNone    = 1
	CompressionLZW     = 5
	CompressionDeflate = 8
)

// TIFFOptions controls the GeoTIFF encoding.
type TIFFOptions struct {
	BigEndian    bool
	Compression  int    // CompressionNone (default), CompressionLZW or CompressionDeflate
	Predictor    int    // 1 (default), 2 (integer types) or 3 (float32)
	RowsPerStrip int    // default: whole image in one strip
	TileSize     int    // >0 writes square tiles instead of strips
	SampleFormat string // "float32" (default), "float64", "int16", "uint8"
	PixelIsPoint bool
	// NoDataText overrides the GDAL_NODATA string written for Grid.NoData.
	NoDataText string
}

// WriteGeoTIFF writes g as a single-band classic GeoTIFF. LZW output uses
// compress/lzw, which matches the TIFF variant only while codes stay 9 bits
// wide, so keep LZW blocks under a couple hundred bytes.
func WriteGeoTIFF(t testing.TB, path string, g Grid, opts TIFFOptions) {
	t.Helper()
	if opts.Compression == 0 {
		opts.Compression = CompressionNone
	}
	if opts.Predictor == 0 {
		opts.Predictor = 1
	}
	if opts.SampleFormat == "" {
		opts.SampleFormat = "float32"
	}
	var order binary.ByteOrder = binary.LittleEndian
	if opts.BigEndian {
		order = binary.BigEndian
	}

	bps, sampleFormat := sampleLayout(t, opts.SampleFormat)
	blockW, blockH := g.Width, g.Height
	tiled := opts.TileSize > 0
	if tiled {
		blockW, blockH = opts.TileSize, opts.TileSize
	} else if opts.RowsPerStrip > 0 {
		blockH = opts.RowsPerStrip
	}
	across := (g.Width + blockW - 1) / blockW
	down := (g.Height + blockH - 1) / blockH

	var body bytes.Buffer
	body.Write(make([]byte, 8))
	var offsets, counts []uint32
	for by := 0; by < down; by++ {
		for bx := 0; bx < across; bx++ {
			rows := blockH
			if !tiled && (by+1)*blockH > g.Height {
				rows = g.Height - by*blockH
			}
			raw := make([]byte, 0, blockW*rows*bps)
			for r := 0; r < rows; r++ {
				rowBuf := make([]byte, blockW*bps)
				for c := 0; c < blockW; c++ {
					gr, gc := by*blockH+r, bx*blockW+c
					v := 0.0
					if gr < g.Height && gc < g.Width {
						v = g.Values[gr*g.Width+gc]
					}
					putSample(order, rowBuf[c*bps:], opts.SampleFormat, v)
				}
				switch opts.Predictor {
				case 2:
					applyHorizontal(order, rowBuf, bps)
				case 3:
					rowBuf = applyFloatingPoint(order, rowBuf, bps)
				}
				raw = append(raw, rowBuf...)
			}
			block := compress(t, raw, opts.Compression)
			offsets = append(offsets, uint32(body.Len()))
			counts = append(counts, uint32(len(block)))
			body.Write(block)
		}
	}

	rasterType := uint16(1)
	if opts.PixelIsPoint {
		rasterType = 2
	}

	entries := []tiffEntry{
		shortEntry(order, 256, uint16(g.Width)),
		shortEntry(order, 257, uint16(g.Height)),
		shortEntry(order, 258, uint16(bps*8)),
		shortEntry(order, 259, uint16(opts.Compression)),
		shortEntry(order, 262, 1),
		shortEntry(order, 277, 1),
		shortEntry(order, 284, 1),
		shortEntry(order, 339, sampleFormat),
		doubleEntry(order, 33550, g.CellSize, g.CellSize, 0),
		doubleEntry(order, 33922, 0, 0, 0, g.West, g.North, 0),
		shortsEntry(order, 34735, 1, 1, 0, 1, 1025, 0, 1, rasterType),
	}
	if opts.Predictor != 1 {
		entries = append(entries, shortEntry(order, 317, uint16(opts.Predictor)))
	}
	if tiled {
		entries = append(entries,
			shortEntry(order, 322, uint16(blockW)),
			shortEntry(order, 323, uint16(blockH)),
			longsEntry(order, 324, offsets...),
			longsEntry(order, 325, counts...),
		)
	} else {
		entries = append(entries,
			longsEntry(order, 273, offsets...),
			longsEntry(order, 278, uint32(blockH)),
			longsEntry(order, 279, counts...),
		)
	}
	if g.NoData != nil || opts.NoDataText != "" {
		s := opts.NoDataText
		if s == "" {
			s = strconv.FormatFloat(*g.NoData, 'g', -1, 64)
		}
		s += "\x00"
		entries = append(entries, tiffEntry{tag: 42113, typ: 2, count: uint32(len(s)), data: []byte(s)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// Out-of-line values, then the IFD.
	for i := range entries {
		if len(entries[i].data) > 4 {
			if body.Len()%2 == 1 {
				body.WriteByte(0)
			}
			entries[i].offset = uint32(body.Len())
			body.Write(entries[i].data)
		}
	}
	if body.Len()%2 == 1 {
		body.WriteByte(0)
	}
	ifdOffset := uint32(body.Len())

	ifd := make([]byte, 2+12*len(entries)+4)
	order.PutUint16(ifd, uint16(len(entries)))
	for i, e := range entries {
		b := ifd[2+12*i:]
		order.PutUint16(b[0:], e.tag)
		order.PutUint16(b[2:], e.typ)
		order.PutUint32(b[4:], e.count)
		if len(e.data) > 4 {
			order.PutUint32(b[8:], e.offset)
		} else {
			copy(b[8:12], e.data)
		}
	}
	body.Write(ifd)

	out := body.Bytes()
	if opts.BigEndian {
		copy(out[0:4], []byte("MM\x00*"))
	} else {
		copy(out[0:4], []byte("II*\x00"))
	}
	order.PutUint32(out[4:8], ifdOffset)

	writeFile(t, path, out)
}

// PatchTag overwrites element index of a SHORT or LONG tag in a classic TIFF
// written by WriteGeoTIFF, for building corrupt headers.
func PatchTag(t testing.TB, path string, tag uint16, index int, value uint32) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("rastertest: read %s: %v", path, err)
	}
	var order binary.ByteOrder = binary.LittleEndian
	if string(data[:2]) == "MM" {
		order = binary.BigEndian
	}

	ifd := int(order.Uint32(data[4:8]))
	n := int(order.Uint16(data[ifd:]))
	for i := 0; i < n; i++ {
		e := data[ifd+2+12*i:]
		if order.Uint16(e[0:2]) != tag {
			continue
		}
		width := 4
		if order.Uint16(e[2:4]) == 3 {
			width = 2
		}
		count := int(order.Uint32(e[4:8]))
		if index >= count {
			t.Fatalf("rastertest: tag %d has %d values, want index %d", tag, count, index)
		}
		field := e[8:12]
		if count*width > 4 {
			field = data[order.Uint32(e[8:12]):]
		}
		if width == 2 {
			order.PutUint16(field[index*2:], uint16(value))
		} else {
			order.PutUint32(field[index*4:], value)
		}
		writeFile(t, path, data)
		return
	}
	t.Fatalf("rastertest: tag %d not found in %s", tag, path)
}

// WriteASCIIGrid writes g as an ESRI ASCII grid.
func WriteASCIIGrid(t testing.TB, path string, g Grid) {
	t.Helper()
	var sb strings.Builder
	fmt.Fprintf(&sb, "ncols %d\nnrows %d\n", g.Width, g.Height)
	fmt.Fprintf(&sb, "xllcorner %s\nyllcorner %s\n",
		strconv.FormatFloat(g.West, 'g', -1, 64),
		strconv.FormatFloat(g.North-float64(g.Height)*g.CellSize, 'g', -1, 64))
	fmt.Fprintf(&sb, "cellsize %s\n", strconv.FormatFloat(g.CellSize, 'g', -1, 64))
	if g.NoData != nil {
		fmt.Fprintf(&sb, "NODATA_value %s\n", strconv.FormatFloat(*g.NoData, 'g', -1, 64))
	}
	for r := 0; r < g.Height; r++ {
		cells := make([]string, g.Width)
		for c := range cells {
			cells[c] = strconv.FormatFloat(g.Values[r*g.Width+c], 'g', -1, 64)
		}
		sb.WriteString(strings.Join(cells, " "))
		sb.WriteByte('\n')
	}
	writeFile(t, path, []byte(sb.String()))
}

// Path returns a file path inside a fresh temp dir.
func Path(t testing.TB, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

func writeFile(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("rastertest: mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("rastertest: write %s: %v", path, err)
	}
}

type tiffEntry struct {
	tag, typ uint16
	count    uint32
	data     []byte
	offset   uint32
}

func shortEntry(order binary.ByteOrder, tag, v uint16) tiffEntry {
	return shortsEntry(order, tag, v)
}

func shortsEntry(order binary.ByteOrder, tag uint16, vs ...uint16) tiffEntry {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		order.PutUint16(b[i*2:], v)
	}
	return tiffEntry{tag: tag, typ: 3, count: uint32(len(vs)), data: b}
}

func longsEntry(order binary.ByteOrder, tag uint16, vs ...uint32) tiffEntry {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		order.PutUint32(b[i*4:], v)
	}
	return tiffEntry{tag: tag, typ: 4, count: uint32(len(vs)), data: b}
}

func doubleEntry(order binary.ByteOrder, tag uint16, vs ...float64) tiffEntry {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		order.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return tiffEntry{tag: tag, typ: 12, count: uint32(len(vs)), data: b}
}

func sampleLayout(t testing.TB, format string) (int, uint16) {
	switch format {
	case "float32":
		return 4, 3
	case "float64":
		return 8, 3
	case "int16":
		return 2, 2
	case "uint8":
		return 1, 1
	}
	t.Fatalf("rastertest: unsupported sample format %q", format)
	return 0, 0
}

func putSample(order binary.ByteOrder, b []byte, format string, v float64) {
	switch format {
	case "float32":
		order.PutUint32(b, math.Float32bits(float32(v)))
	case "float64":
		order.PutUint64(b, math.Float64bits(v))
	case "int16":
		order.PutUint16(b, uint16(int16(v)))
	case "uint8":
		b[0] = uint8(v)
	}
}

// applyHorizontal encodes TIFF predictor 2 in place.
func applyHorizontal(order binary.ByteOrder, row []byte, bps int) {
	n := len(row) / bps
	for i := n - 1; i > 0; i-- {
		switch bps {
		case 1:
			row[i] -= row[i-1]
		case 2:
			order.PutUint16(row[i*2:], order.Uint16(row[i*2:])-order.Uint16(row[(i-1)*2:]))
		case 4:
			order.PutUint32(row[i*4:], order.Uint32(row[i*4:])-order.Uint32(row[(i-1)*4:]))
		}
	}
}

// applyFloatingPoint encodes TIFF predictor 3: split values into byte planes,
// most significant first, then difference the bytes.
func applyFloatingPoint(order binary.ByteOrder, row []byte, bps int) []byte {
	wc := len(row) / bps
	out := make([]byte, len(row))
	for i := 0; i < wc; i++ {
		for b := 0; b < bps; b++ {
			src := b
			if order == binary.ByteOrder(binary.LittleEndian) {
				src = bps - 1 - b
			}
			out[b*wc+i] = row[i*bps+src]
		}
	}
	for i := len(out) - 1; i > 0; i-- {
		out[i] -= out[i-1]
	}
	return out
}

func compress(t testing.TB, raw []byte, scheme int) []byte {
	t.Helper()
	var buf bytes.Buffer
	switch scheme {
	case CompressionNone:
		return raw
	case CompressionLZW:
		w := lzw.NewWriter(&buf, lzw.MSB, 8)
		_, _ = w.Write(raw)
		_ = w.Close()
	case CompressionDeflate:
		w := zlib.NewWriter(&buf)
		_, _ = w.Write(raw)
		_ = w.Close()
	default:
		t.Fatalf("rastertest: unsupported compression %d", scheme)
	}
	return buf.Bytes()
}
