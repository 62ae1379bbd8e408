// Package estimate turns a point and a catchment radius into population
// counts read from density rasters.
package estimate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/popradius/internal/geospatial"
	"github.com/sells-group/popradius/internal/raster"
)

// Mode selects the estimation algorithm.
type Mode string

const (
	// ModePointDensity reads one pixel and multiplies by the circle area.
	ModePointDensity Mode = "point_density"
	// ModeWindowSum sums every valid cell inside the catchment box.
	ModeWindowSum Mode = "window_sum"
)

// ParseMode accepts the canonical names plus a few aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "point_density", "pointdensity", "point", "a":
		return ModePointDensity, nil
	case "window_sum", "windowsum", "window", "b":
		return ModeWindowSum, nil
	}
	return "", eris.Errorf("estimate: unknown mode %q", s)
}

// Source opens bands with scoped acquisition. *raster.Catalog implements it.
type Source interface {
	WithBand(ctx context.Context, name string, fn func(*raster.Layer) error) error
}

// Estimate is the raw output of one estimation.
type Estimate struct {
	Mode Mode `json:"mode" yaml:"mode"`
	// Total is the headline population.
	Total int64 `json:"total" yaml:"total"`
	// Bands holds per-band populations, all non-negative.
	Bands map[string]int64 `json:"bands" yaml:"bands"`
	// SourceBand is the band Total was taken from.
	SourceBand string `json:"source_band" yaml:"source_band"`
	// BytesRead counts raster bytes fetched per band.
	BytesRead map[string]int64 `json:"-" yaml:"-"`
	// OutOfCoverage lists bands whose query fell outside the raster.
	OutOfCoverage []string `json:"out_of_coverage,omitempty" yaml:"out_of_coverage,omitempty"`
}

// Estimator computes populations from a band source.
type Estimator struct {
	src       Source
	fractions Fractions
}

// NewEstimator creates an estimator. Returns nil if src is nil.
func NewEstimator(src Source, fractions Fractions) *Estimator {
	if src == nil {
		return nil
	}
	return &Estimator{src: src, fractions: fractions}
}

// Fractions returns the age-band shares used by point-density mode.
func (e *Estimator) Fractions() Fractions { return e.fractions }

// Estimate dispatches to the selected mode. Any band that cannot be read
// yields an error matching raster.ErrLayerUnavailable.
func (e *Estimator) Estimate(ctx context.Context, p geospatial.GeoPoint, radiusKm float64, mode Mode, bands []string) (*Estimate, error) {
	bands = dedupe(bands)
	if len(bands) == 0 {
		return nil, eris.New("estimate: no bands requested")
	}

	start := time.Now()
	var (
		est *Estimate
		err error
	)
	switch mode {
	case ModePointDensity:
		est, err = e.PointDensity(ctx, p, radiusKm, bands)
	case ModeWindowSum:
		est, err = e.WindowSum(ctx, p, radiusKm, bands)
	default:
		return nil, eris.Errorf("estimate: unknown mode %q", mode)
	}
	if err != nil {
		return nil, err
	}

	zap.L().Debug("estimate: population computed",
		zap.String("mode", string(mode)),
		zap.Float64("lat", p.Lat),
		zap.Float64("lon", p.Lon),
		zap.Float64("radius_km", radiusKm),
		zap.Strings("bands", bands),
		zap.Int64("total", est.Total),
		zap.Duration("elapsed", time.Since(start)),
	)
	return est, nil
}

// PointDensity reads the density under p and spreads it over a circle of
// radiusKm. Primary and secondary counts are fixed fractions of the total,
// so neither can serve as the density source.
func (e *Estimator) PointDensity(ctx context.Context, p geospatial.GeoPoint, radiusKm float64, bands []string) (*Estimate, error) {
	band := totalBand(bands)
	if band == "" {
		return nil, eris.New("estimate: no bands requested")
	}
	if IsAgeBand(band) {
		return nil, eris.Wrapf(ErrAgeBandSource, "estimate: band %q", band)
	}

	est := &Estimate{
		Mode:       ModePointDensity,
		SourceBand: band,
		BytesRead:  map[string]int64{},
	}

	var density float64
	err := e.src.WithBand(ctx, band, func(l *raster.Layer) error {
		defer func() { est.BytesRead[band] = l.BytesRead() }()
		v, err := l.ReadPixel(ctx, p)
		if raster.IsOutOfBounds(err) {
			est.OutOfCoverage = append(est.OutOfCoverage, band)
			return nil
		}
		if err != nil {
			return err
		}
		density = Sanitize(v, l.Info().NoData)
		return nil
	})
	if err != nil {
		return nil, err
	}

	est.Total = PopulationFromDensity(density, radiusKm)
	primary, secondary := SplitAgeBands(est.Total, e.fractions)
	est.Bands = map[string]int64{
		raster.BandPrimary:   primary,
		raster.BandSecondary: secondary,
	}
	est.Bands[band] = est.Total
	return est, nil
}

// WindowSum reads every band's cells inside the square box around p and
// sums the valid ones. Bands are read concurrently and summed independently.
func (e *Estimator) WindowSum(ctx context.Context, p geospatial.GeoPoint, radiusKm float64, bands []string) (*Estimate, error) {
	bbox := geospatial.BBoxAround(p, radiusKm)

	sums := make([]int64, len(bands))
	read := make([]int64, len(bands))
	outside := make([]bool, len(bands))

	g, gctx := errgroup.WithContext(ctx)
	for i, band := range bands {
		g.Go(func() error {
			return e.src.WithBand(gctx, band, func(l *raster.Layer) error {
				defer func() { read[i] = l.BytesRead() }()
				sum := validSum{nodata: l.Info().NoData}
				w, err := l.ScanWindow(gctx, bbox, sum.add)
				if err != nil {
					return err
				}
				outside[i] = w.Empty()
				sums[i] = truncate(sum.total)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	est := &Estimate{
		Mode:      ModeWindowSum,
		Bands:     make(map[string]int64, len(bands)),
		BytesRead: make(map[string]int64, len(bands)),
	}
	for i, band := range bands {
		est.Bands[band] = sums[i]
		est.BytesRead[band] = read[i]
		if outside[i] {
			est.OutOfCoverage = append(est.OutOfCoverage, band)
		}
	}
	est.SourceBand = totalBand(bands)
	est.Total = est.Bands[est.SourceBand]
	return est, nil
}

// ErrAgeBandSource means point-density mode was asked to read its density
// from an age band it derives itself.
var ErrAgeBandSource = errors.New("estimate: point_density derives primary and secondary; use a total or density band")

// IsAgeBand reports whether name is one of the bands point-density mode derives.
func IsAgeBand(name string) bool {
	return name == raster.BandPrimary || name == raster.BandSecondary
}

// DensitySource returns the band point-density mode reads for bands.
func DensitySource(bands []string) string {
	return totalBand(dedupe(bands))
}

// totalBand picks the band the headline total comes from: "total", then
// "density", then the first band requested.
func totalBand(bands []string) string {
	for _, want := range []string{raster.BandTotal, raster.BandDensity} {
		for _, b := range bands {
			if b == want {
				return b
			}
		}
	}
	if len(bands) == 0 {
		return ""
	}
	return bands[0]
}

func dedupe(bands []string) []string {
	seen := make(map[string]bool, len(bands))
	out := make([]string, 0, len(bands))
	for _, b := range bands {
		b = strings.TrimSpace(b)
		if b == "" || seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	return out
}
