package raster

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/rotisserie/eris"
	"golang.org/x/image/tiff/lzw"
)

// maxBlockBytes caps a single decoded or stored block.
const maxBlockBytes = 256 << 20

// tiffLayout is the decoded header of a GeoTIFF. Strips are treated as
// blocks that span the full image width.
type tiffLayout struct {
	order           binary.ByteOrder
	width, height   int
	blockW, blockH  int
	tiled           bool
	offsets, counts []uint64
	compression     uint16
	predictor       uint16
	bitsPerSample   int
	sampleFormat    uint16
	samplesPerPixel int
	planar          uint16
	transform       Affine
	nodata          NoData
}

func (t *tiffLayout) validate() error {
	switch t.bitsPerSample {
	case 8, 16, 32, 64:
	default:
		return eris.Errorf("geotiff: unsupported bits per sample %d", t.bitsPerSample)
	}
	switch t.sampleFormat {
	case sampleFormatUint, sampleFormatInt:
	case sampleFormatFloat:
		if t.bitsPerSample != 32 && t.bitsPerSample != 64 {
			return eris.Errorf("geotiff: unsupported float width %d", t.bitsPerSample)
		}
	default:
		return eris.Errorf("geotiff: unsupported sample format %d", t.sampleFormat)
	}
	switch t.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld:
	default:
		return eris.Errorf("geotiff: unsupported compression %d", t.compression)
	}
	switch t.predictor {
	case predictorNone:
	case predictorHorizontal:
		if t.sampleFormat == sampleFormatFloat {
			return eris.New("geotiff: horizontal predictor on float samples")
		}
	case predictorFloatingPoint:
		if t.sampleFormat != sampleFormatFloat {
			return eris.New("geotiff: floating-point predictor on integer samples")
		}
	default:
		return eris.Errorf("geotiff: unsupported predictor %d", t.predictor)
	}
	if t.blockW <= 0 || t.blockH <= 0 {
		return eris.New("geotiff: invalid block size")
	}
	if _, err := t.blockBytes(); err != nil {
		return err
	}
	need := t.blocksAcross() * t.blocksDown()
	if t.planar == 2 {
		need *= t.samplesPerPixel
	}
	if len(t.offsets) < need || len(t.counts) < need {
		return eris.Errorf("geotiff: %d block offsets for %d blocks", len(t.offsets), need)
	}
	return nil
}

// blockBytes is the decoded size of one full block. Headers that would need
// more than maxBlockBytes per block are rejected before anything is allocated.
func (t *tiffLayout) blockBytes() (int, error) {
	n := uint64(1)
	for _, f := range []int{t.blockW, t.blockH, t.samplesInBlock(), t.bitsPerSample / 8} {
		if f <= 0 || uint64(f) > maxBlockBytes/n {
			return 0, eris.Errorf("geotiff: %dx%d block exceeds %d bytes", t.blockW, t.blockH, maxBlockBytes)
		}
		n *= uint64(f)
	}
	return int(n), nil
}

// checkBlocks rejects byte ranges that run past the end of the file.
func (t *tiffLayout) checkBlocks(size int64) error {
	for i := range t.offsets {
		off, n := t.offsets[i], t.counts[i]
		if n > uint64(size) || off > uint64(size)-n {
			return eris.Errorf("geotiff: block %d range %d+%d beyond file size %d", i, off, n, size)
		}
		if n > maxBlockBytes {
			return eris.Errorf("geotiff: block %d claims %d bytes", i, n)
		}
	}
	return nil
}

func (t *tiffLayout) blocksAcross() int { return (t.width + t.blockW - 1) / t.blockW }
func (t *tiffLayout) blocksDown() int   { return (t.height + t.blockH - 1) / t.blockH }

// samplesInBlock is the interleave factor inside one decoded block.
func (t *tiffLayout) samplesInBlock() int {
	if t.planar == 2 {
		return 1
	}
	return t.samplesPerPixel
}

func (t *tiffLayout) info() Info {
	return Info{
		Format:      "geotiff",
		Width:       t.width,
		Height:      t.height,
		Transform:   t.transform,
		NoData:      t.nodata,
		DataType:    t.dataType(),
		Compression: compressionName(t.compression),
		BlockWidth:  t.blockW,
		BlockHeight: t.blockH,
	}
}

func (t *tiffLayout) dataType() string {
	switch t.sampleFormat {
	case sampleFormatFloat:
		return fmt.Sprintf("float%d", t.bitsPerSample)
	case sampleFormatInt:
		return fmt.Sprintf("int%d", t.bitsPerSample)
	default:
		return fmt.Sprintf("uint%d", t.bitsPerSample)
	}
}

func compressionName(c uint16) string {
	switch c {
	case compressionLZW:
		return "lzw"
	case compressionDeflate, compressionDeflateOld:
		return "deflate"
	default:
		return "none"
	}
}

// scanWindow decodes every block touching w and passes each band 1 cell
// inside w to visit, one block at a time.
func (t *tiffLayout) scanWindow(ctx context.Context, r io.ReaderAt, w Window, visit func(row, col int, v float64)) (int64, error) {
	bx0, bx1 := w.ColOff/t.blockW, (w.ColOff+w.Width-1)/t.blockW
	by0, by1 := w.RowOff/t.blockH, (w.RowOff+w.Height-1)/t.blockH
	spb := t.samplesInBlock()
	bps := t.bitsPerSample / 8

	var total int64
	for by := by0; by <= by1; by++ {
		for bx := bx0; bx <= bx1; bx++ {
			if err := ctx.Err(); err != nil {
				return total, eris.Wrap(err, "geotiff: read cancelled")
			}

			idx := by*t.blocksAcross() + bx
			rows := t.blockH
			if !t.tiled && (by+1)*t.blockH > t.height {
				rows = t.height - by*t.blockH
			}

			block, n, err := t.readBlock(r, idx, rows)
			total += n
			if err != nil {
				return total, err
			}

			r0, r1 := max(by*t.blockH, w.RowOff), min((by+1)*t.blockH, w.RowOff+w.Height, t.height)
			c0, c1 := max(bx*t.blockW, w.ColOff), min((bx+1)*t.blockW, w.ColOff+w.Width, t.width)
			for row := r0; row < r1; row++ {
				br := row - by*t.blockH
				for col := c0; col < c1; col++ {
					if block == nil {
						visit(row-w.RowOff, col-w.ColOff, t.fill())
						continue
					}
					bc := col - bx*t.blockW
					visit(row-w.RowOff, col-w.ColOff, t.sample(block[((br*t.blockW+bc)*spb)*bps:]))
				}
			}
		}
	}
	return total, nil
}

// fill is the value used for sparse (zero-length) blocks.
func (t *tiffLayout) fill() float64 {
	if t.nodata.Set {
		return t.nodata.Value
	}
	return 0
}

// readBlock returns the decompressed, de-predicted bytes of block idx, or nil
// for a sparse block.
func (t *tiffLayout) readBlock(r io.ReaderAt, idx, rows int) ([]byte, int64, error) {
	off, n := t.offsets[idx], t.counts[idx]
	if n == 0 {
		return nil, 0, nil
	}

	raw := make([]byte, n)
	read, err := r.ReadAt(raw, int64(off))
	if err != nil && !(err == io.EOF && uint64(read) == n) {
		return nil, int64(read), eris.Wrapf(err, "geotiff: truncated block %d", idx)
	}

	full, err := t.blockBytes()
	if err != nil {
		return nil, int64(read), err
	}
	rowBytes := full / t.blockH
	want := rowBytes * rows

	var buf []byte
	switch t.compression {
	case compressionNone:
		if len(raw) < want {
			return nil, int64(read), eris.Errorf("geotiff: block %d has %d bytes, want %d", idx, len(raw), want)
		}
		buf = raw[:want]
	case compressionLZW:
		buf, err = inflate(lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8), want)
	case compressionDeflate, compressionDeflateOld:
		var zr io.ReadCloser
		zr, err = zlib.NewReader(bytes.NewReader(raw))
		if err == nil {
			buf, err = inflate(zr, want)
		}
	}
	if err != nil {
		return nil, int64(read), eris.Wrapf(err, "geotiff: decompress block %d", idx)
	}

	switch t.predictor {
	case predictorHorizontal:
		t.undoHorizontal(buf, rowBytes)
	case predictorFloatingPoint:
		t.undoFloatingPoint(buf, rowBytes)
	}
	return buf, int64(read), nil
}

func inflate(rc io.ReadCloser, want int) ([]byte, error) {
	defer rc.Close() //nolint:errcheck
	buf := make([]byte, want)
	if _, err := io.ReadFull(rc, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// undoHorizontal reverses TIFF predictor 2 (integer differencing).
func (t *tiffLayout) undoHorizontal(buf []byte, rowBytes int) {
	spp := t.samplesInBlock()
	bps := t.bitsPerSample / 8
	for start := 0; start+rowBytes <= len(buf); start += rowBytes {
		row := buf[start : start+rowBytes]
		n := len(row) / bps
		for i := spp; i < n; i++ {
			switch bps {
			case 1:
				row[i] += row[i-spp]
			case 2:
				t.order.PutUint16(row[i*2:], t.order.Uint16(row[i*2:])+t.order.Uint16(row[(i-spp)*2:]))
			case 4:
				t.order.PutUint32(row[i*4:], t.order.Uint32(row[i*4:])+t.order.Uint32(row[(i-spp)*4:]))
			case 8:
				t.order.PutUint64(row[i*8:], t.order.Uint64(row[i*8:])+t.order.Uint64(row[(i-spp)*8:]))
			}
		}
	}
}

// undoFloatingPoint reverses TIFF predictor 3: byte differencing followed by
// byte-plane shuffling. The output is rewritten in the file's byte order.
func (t *tiffLayout) undoFloatingPoint(buf []byte, rowBytes int) {
	spp := t.samplesInBlock()
	bps := t.bitsPerSample / 8
	wc := rowBytes / bps
	tmp := make([]byte, rowBytes)
	for start := 0; start+rowBytes <= len(buf); start += rowBytes {
		row := buf[start : start+rowBytes]
		for i := spp; i < rowBytes; i++ {
			row[i] += row[i-spp]
		}
		copy(tmp, row)
		for i := 0; i < wc; i++ {
			for b := 0; b < bps; b++ {
				// tmp holds the most significant byte plane first.
				v := tmp[b*wc+i]
				if t.order == binary.ByteOrder(binary.LittleEndian) {
					row[i*bps+(bps-1-b)] = v
				} else {
					row[i*bps+b] = v
				}
			}
		}
	}
}

// sample decodes one value at the start of b.
func (t *tiffLayout) sample(b []byte) float64 {
	switch t.sampleFormat {
	case sampleFormatFloat:
		if t.bitsPerSample == 32 {
			return float64(math.Float32frombits(t.order.Uint32(b)))
		}
		return math.Float64frombits(t.order.Uint64(b))
	case sampleFormatInt:
		switch t.bitsPerSample {
		case 8:
			return float64(int8(b[0]))
		case 16:
			return float64(int16(t.order.Uint16(b)))
		case 32:
			return float64(int32(t.order.Uint32(b)))
		default:
			return float64(int64(t.order.Uint64(b)))
		}
	default:
		switch t.bitsPerSample {
		case 8:
			return float64(b[0])
		case 16:
			return float64(t.order.Uint16(b))
		case 32:
			return float64(t.order.Uint32(b))
		default:
			return float64(t.order.Uint64(b))
		}
	}
}
