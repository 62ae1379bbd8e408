// Package raster opens georeferenced single-band rasters (GeoTIFF and ESRI
// ASCII grid), maps coordinates to pixels and performs windowed reads.
package raster

import (
	"bytes"
	"context"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/popradius/internal/geospatial"
)

// Well-known band names.
const (
	BandDensity   = "density"
	BandTotal     = "total"
	BandPrimary   = "primary"
	BandSecondary = "secondary"
)

// CatalogOptions tunes how bands are opened.
type CatalogOptions struct {
	// MinFileBytes rejects files smaller than this as still downloading.
	MinFileBytes int64
	// Cache shares parsed headers across opens. Nil disables caching.
	Cache *HeaderCache
}

// Catalog maps logical band names to raster files. Band keys are fixed at
// construction; every open acquires a fresh file handle.
type Catalog struct {
	paths map[string]string
	names []string
	opts  CatalogOptions
}

// NewCatalog builds a catalog from a band name to path mapping.
func NewCatalog(bands map[string]string, opts CatalogOptions) (*Catalog, error) {
	if len(bands) == 0 {
		return nil, eris.New("raster: catalog needs at least one band")
	}
	paths := make(map[string]string, len(bands))
	names := make([]string, 0, len(bands))
	for name, path := range bands {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, eris.New("raster: empty band name")
		}
		if strings.TrimSpace(path) == "" {
			return nil, eris.Errorf("raster: band %q has no path", name)
		}
		paths[name] = path
		names = append(names, name)
	}
	sort.Strings(names)
	return &Catalog{paths: paths, names: names, opts: opts}, nil
}

// Bands returns the configured band names, sorted.
func (c *Catalog) Bands() []string {
	return append([]string(nil), c.names...)
}

// Has reports whether name is a configured band.
func (c *Catalog) Has(name string) bool {
	_, ok := c.paths[name]
	return ok
}

// Path returns the file backing a band.
func (c *Catalog) Path(name string) (string, bool) {
	p, ok := c.paths[name]
	return p, ok
}

// OpenBand opens a band for reading. Any failure (unknown band, missing or
// undersized file, unreadable header) is reported as ErrLayerUnavailable.
// The caller must Close the layer.
func (c *Catalog) OpenBand(ctx context.Context, name string) (*Layer, error) {
	path, ok := c.paths[name]
	if !ok {
		return nil, unavailable(name, "", eris.New("band not configured"))
	}
	if err := ctx.Err(); err != nil {
		return nil, unavailable(name, path, err)
	}

	st, err := os.Stat(path)
	if err != nil {
		return nil, unavailable(name, path, eris.Wrap(err, "stat"))
	}
	if st.IsDir() {
		return nil, unavailable(name, path, eris.New("path is a directory"))
	}
	if st.Size() < c.opts.MinFileBytes {
		return nil, unavailable(name, path, eris.Errorf("file has %d bytes, below %d; download incomplete", st.Size(), c.opts.MinFileBytes))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, unavailable(name, path, eris.Wrap(err, "open"))
	}

	stamp := fileStamp{size: st.Size(), modNanos: st.ModTime().UnixNano()}
	var l layout
	if c.opts.Cache != nil {
		l = c.opts.Cache.get(path, stamp)
	}
	if l == nil {
		l, err = parseLayout(f, st.Size())
		if err != nil {
			_ = f.Close()
			return nil, unavailable(name, path, err)
		}
		if c.opts.Cache != nil {
			c.opts.Cache.put(path, stamp, l)
		}
	}

	info := l.info()
	info.Band = name
	info.Path = path

	zap.L().Debug("raster: band opened",
		zap.String("band", name),
		zap.String("path", path),
		zap.String("format", info.Format),
		zap.Int("width", info.Width),
		zap.Int("height", info.Height),
	)
	return &Layer{info: info, file: f, layout: l}, nil
}

// WithBand opens a band, runs fn and always releases the handle.
func (c *Catalog) WithBand(ctx context.Context, name string, fn func(*Layer) error) (err error) {
	layer, err := c.OpenBand(ctx, name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := layer.Close(); cerr != nil && err == nil {
			err = unavailable(name, layer.info.Path, cerr)
		}
	}()
	return fn(layer)
}

// Describe returns a band's metadata without reading pixels.
func (c *Catalog) Describe(ctx context.Context, name string) (Info, error) {
	var info Info
	err := c.WithBand(ctx, name, func(l *Layer) error {
		info = l.Info()
		return nil
	})
	return info, err
}

// PixelIndexOf converts a point to pixel indices on an opened layer.
func (c *Catalog) PixelIndexOf(layer *Layer, p geospatial.GeoPoint) (row, col int, err error) {
	return layer.PixelIndex(p)
}

// ReadWindow reads the sub-array of layer intersecting bbox.
func (c *Catalog) ReadWindow(ctx context.Context, layer *Layer, bbox geospatial.BBox) (*Grid, error) {
	return layer.ReadWindow(ctx, bbox)
}

// parseLayout sniffs the file format from its first bytes.
func parseLayout(r io.ReaderAt, size int64) (layout, error) {
	head := make([]byte, 8)
	n, err := r.ReadAt(head, 0)
	if n == 0 {
		return nil, eris.Wrap(err, "raster: read file header")
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, []byte("II*\x00")), bytes.HasPrefix(head, []byte("MM\x00*")),
		bytes.HasPrefix(head, []byte("II+\x00")), bytes.HasPrefix(head, []byte("MM\x00+")):
		t, err := parseGeoTIFF(r, size)
		if err != nil {
			return nil, err
		}
		return t, nil
	case bytes.HasPrefix(bytes.ToLower(bytes.TrimLeft(head, " \t\r\n")), []byte("ncols")),
		bytes.HasPrefix(bytes.ToLower(bytes.TrimLeft(head, " \t\r\n")), []byte("nrows")):
		a, err := parseASCIIGrid(r, size)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, eris.New("raster: unrecognized file format")
	}
}
