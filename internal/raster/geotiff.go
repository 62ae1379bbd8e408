package raster

import (
	"encoding/binary"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// TIFF tags used to locate and georeference band 1.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfiguration = 284
	tagPredictor           = 317
	tagTileWidth           = 322
	tagTileLength          = 323
	tagTileOffsets         = 324
	tagTileByteCounts      = 325
	tagSampleFormat        = 339
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGDALNoData          = 42113
)

const (
	compressionNone        = 1
	compressionLZW         = 5
	compressionDeflate     = 8
	compressionDeflateOld  = 32946
	predictorNone          = 1
	predictorHorizontal    = 2
	predictorFloatingPoint = 3
	sampleFormatUint       = 1
	sampleFormatInt        = 2
	sampleFormatFloat      = 3
	geoKeyRasterType       = 1025
	rasterPixelIsPoint     = 2
)

// typeSizes maps TIFF field types to their byte width.
var typeSizes = map[uint16]int{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8, 16: 8, 17: 8, 18: 8,
}

type ifdEntry struct {
	typ   uint16
	count uint64
	data  []byte
}

type tiffReader struct {
	r     io.ReaderAt
	size  int64
	order binary.ByteOrder
	big   bool
}

// parseGeoTIFF reads the first IFD of a classic or BigTIFF file and returns a
// layout able to decode band 1.
func parseGeoTIFF(r io.ReaderAt, size int64) (*tiffLayout, error) {
	if size < 8 {
		return nil, eris.New("geotiff: file too small")
	}
	hdr := make([]byte, 16)
	n, err := r.ReadAt(hdr, 0)
	if n < 8 {
		return nil, eris.Wrap(err, "geotiff: read header")
	}

	tr := &tiffReader{r: r, size: size}
	switch string(hdr[:2]) {
	case "II":
		tr.order = binary.LittleEndian
	case "MM":
		tr.order = binary.BigEndian
	default:
		return nil, eris.New("geotiff: bad byte order mark")
	}

	var ifdOff uint64
	switch tr.order.Uint16(hdr[2:4]) {
	case 42:
		ifdOff = uint64(tr.order.Uint32(hdr[4:8]))
	case 43:
		if n < 16 || tr.order.Uint16(hdr[4:6]) != 8 {
			return nil, eris.New("geotiff: unsupported BigTIFF header")
		}
		tr.big = true
		ifdOff = tr.order.Uint64(hdr[8:16])
	default:
		return nil, eris.New("geotiff: not a TIFF file")
	}

	entries, err := tr.readIFD(ifdOff)
	if err != nil {
		return nil, err
	}
	return tr.buildLayout(entries)
}

func (tr *tiffReader) readAt(off uint64, n int) ([]byte, error) {
	if n < 0 || off > uint64(tr.size) || uint64(n) > uint64(tr.size)-off {
		return nil, eris.Errorf("geotiff: range %d+%d beyond file size %d", off, n, tr.size)
	}
	buf := make([]byte, n)
	if _, err := tr.r.ReadAt(buf, int64(off)); err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "geotiff: read")
	}
	return buf, nil
}

func (tr *tiffReader) readIFD(off uint64) (map[uint16]ifdEntry, error) {
	countSize, entrySize, fieldSize := 2, 12, 4
	if tr.big {
		countSize, entrySize, fieldSize = 8, 20, 8
	}

	cb, err := tr.readAt(off, countSize)
	if err != nil {
		return nil, eris.Wrap(err, "geotiff: read IFD count")
	}
	var count uint64
	if tr.big {
		count = tr.order.Uint64(cb)
	} else {
		count = uint64(tr.order.Uint16(cb))
	}
	if count == 0 || count > 4096 {
		return nil, eris.Errorf("geotiff: implausible IFD entry count %d", count)
	}

	raw, err := tr.readAt(off+uint64(countSize), int(count)*entrySize)
	if err != nil {
		return nil, eris.Wrap(err, "geotiff: read IFD entries")
	}

	entries := make(map[uint16]ifdEntry, count)
	for i := 0; i < int(count); i++ {
		e := raw[i*entrySize : (i+1)*entrySize]
		tag := tr.order.Uint16(e[0:2])
		typ := tr.order.Uint16(e[2:4])
		var n uint64
		var field []byte
		if tr.big {
			n = tr.order.Uint64(e[4:12])
			field = e[12:20]
		} else {
			n = uint64(tr.order.Uint32(e[4:8]))
			field = e[8:12]
		}

		width, ok := typeSizes[typ]
		if !ok {
			continue
		}
		total := n * uint64(width)
		if total > uint64(tr.size) {
			return nil, eris.Errorf("geotiff: tag %d claims %d bytes", tag, total)
		}

		var data []byte
		if total <= uint64(fieldSize) {
			data = append([]byte(nil), field[:total]...)
		} else {
			var valOff uint64
			if tr.big {
				valOff = tr.order.Uint64(field)
			} else {
				valOff = uint64(tr.order.Uint32(field))
			}
			data, err = tr.readAt(valOff, int(total))
			if err != nil {
				return nil, eris.Wrapf(err, "geotiff: read tag %d", tag)
			}
		}
		entries[tag] = ifdEntry{typ: typ, count: n, data: data}
	}
	return entries, nil
}

func (tr *tiffReader) uints(e ifdEntry) []uint64 {
	out := make([]uint64, 0, e.count)
	for i := 0; i < int(e.count); i++ {
		switch e.typ {
		case 1, 7:
			out = append(out, uint64(e.data[i]))
		case 3:
			out = append(out, uint64(tr.order.Uint16(e.data[i*2:])))
		case 4:
			out = append(out, uint64(tr.order.Uint32(e.data[i*4:])))
		case 16, 18:
			out = append(out, tr.order.Uint64(e.data[i*8:]))
		default:
			return nil
		}
	}
	return out
}

func (tr *tiffReader) floats(e ifdEntry) []float64 {
	if e.typ == 11 || e.typ == 12 {
		out := make([]float64, 0, e.count)
		for i := 0; i < int(e.count); i++ {
			if e.typ == 11 {
				out = append(out, float64(math.Float32frombits(tr.order.Uint32(e.data[i*4:]))))
			} else {
				out = append(out, math.Float64frombits(tr.order.Uint64(e.data[i*8:])))
			}
		}
		return out
	}
	u := tr.uints(e)
	out := make([]float64, len(u))
	for i, v := range u {
		out[i] = float64(v)
	}
	return out
}

func (tr *tiffReader) first(entries map[uint16]ifdEntry, tag uint16, def uint64) uint64 {
	e, ok := entries[tag]
	if !ok {
		return def
	}
	if v := tr.uints(e); len(v) > 0 {
		return v[0]
	}
	return def
}

func (tr *tiffReader) buildLayout(entries map[uint16]ifdEntry) (*tiffLayout, error) {
	t := &tiffLayout{
		order:           tr.order,
		width:           int(tr.first(entries, tagImageWidth, 0)),
		height:          int(tr.first(entries, tagImageLength, 0)),
		bitsPerSample:   int(tr.first(entries, tagBitsPerSample, 1)),
		compression:     uint16(tr.first(entries, tagCompression, compressionNone)),
		predictor:       uint16(tr.first(entries, tagPredictor, predictorNone)),
		sampleFormat:    uint16(tr.first(entries, tagSampleFormat, sampleFormatUint)),
		samplesPerPixel: int(tr.first(entries, tagSamplesPerPixel, 1)),
		planar:          uint16(tr.first(entries, tagPlanarConfiguration, 1)),
	}
	if t.width <= 0 || t.height <= 0 {
		return nil, eris.New("geotiff: missing image dimensions")
	}
	if t.width > math.MaxInt32 || t.height > math.MaxInt32 {
		return nil, eris.Errorf("geotiff: implausible image size %dx%d", t.width, t.height)
	}
	if t.samplesPerPixel < 1 {
		return nil, eris.New("geotiff: invalid samples per pixel")
	}

	if _, ok := entries[tagTileWidth]; ok {
		t.tiled = true
		t.blockW = int(tr.first(entries, tagTileWidth, 0))
		t.blockH = int(tr.first(entries, tagTileLength, 0))
		t.offsets = tr.uints(entries[tagTileOffsets])
		t.counts = tr.uints(entries[tagTileByteCounts])
	} else {
		t.blockW = t.width
		rps := tr.first(entries, tagRowsPerStrip, uint64(t.height))
		if rps == 0 || rps > uint64(t.height) {
			rps = uint64(t.height)
		}
		t.blockH = int(rps)
		t.offsets = tr.uints(entries[tagStripOffsets])
		t.counts = tr.uints(entries[tagStripByteCounts])
	}

	if err := t.validate(); err != nil {
		return nil, err
	}
	if err := t.checkBlocks(tr.size); err != nil {
		return nil, err
	}

	transform, err := tr.georeference(entries)
	if err != nil {
		return nil, err
	}
	t.transform = transform

	if e, ok := entries[tagGDALNoData]; ok {
		s := strings.TrimSpace(strings.Trim(string(e.data), "\x00"))
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			t.nodata = NoData{Value: t.sampleValue(v), Set: true}
		}
	}
	return t, nil
}

// georeference derives the pixel-to-map affine from ModelTransformation or
// ModelPixelScale + ModelTiepoint, honoring PixelIsPoint.
func (tr *tiffReader) georeference(entries map[uint16]ifdEntry) (Affine, error) {
	var t Affine
	if e, ok := entries[tagModelTransformation]; ok {
		m := tr.floats(e)
		if len(m) < 16 {
			return Affine{}, eris.New("geotiff: short ModelTransformation")
		}
		t = Affine{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}
	} else {
		se, okS := entries[tagModelPixelScale]
		te, okT := entries[tagModelTiepoint]
		if !okS || !okT {
			return Affine{}, eris.New("geotiff: no georeferencing tags")
		}
		scale, tie := tr.floats(se), tr.floats(te)
		if len(scale) < 2 || len(tie) < 6 {
			return Affine{}, eris.New("geotiff: short pixel scale or tiepoint")
		}
		t = Affine{
			A: scale[0], C: tie[3] - tie[0]*scale[0],
			E: -scale[1], F: tie[4] + tie[1]*scale[1],
		}
	}
	if t.Determinant() == 0 {
		return Affine{}, eris.New("geotiff: degenerate transform")
	}

	if tr.rasterType(entries) == rasterPixelIsPoint {
		t.C -= 0.5*t.A + 0.5*t.B
		t.F -= 0.5*t.D + 0.5*t.E
	}
	return t, nil
}

func (tr *tiffReader) rasterType(entries map[uint16]ifdEntry) uint64 {
	e, ok := entries[tagGeoKeyDirectory]
	if !ok {
		return 0
	}
	keys := tr.uints(e)
	if len(keys) < 4 {
		return 0
	}
	n := int(keys[3])
	for i := 0; i < n && 4+i*4+3 < len(keys); i++ {
		k := keys[4+i*4:]
		if k[0] == geoKeyRasterType && k[1] == 0 {
			return k[3]
		}
	}
	return 0
}

// sampleValue rounds v to what the sample type can store, so a sentinel
// written at higher precision still matches the decoded cells.
func (t *tiffLayout) sampleValue(v float64) float64 {
	switch {
	case t.sampleFormat == sampleFormatFloat && t.bitsPerSample == 32:
		return float64(float32(v))
	case t.sampleFormat == sampleFormatFloat:
		return v
	case math.IsNaN(v) || math.IsInf(v, 0):
		return v
	default:
		return math.Round(v)
	}
}
