// Package query validates population requests, runs the estimator under a
// read deadline and wraps the answer in a tagged Outcome.
package query

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/popradius/internal/estimate"
	"github.com/sells-group/popradius/internal/geospatial"
	"github.com/sells-group/popradius/internal/metrics"
	"github.com/sells-group/popradius/internal/raster"
)

// Estimator is the estimation backend. *estimate.Estimator implements it.
type Estimator interface {
	Estimate(ctx context.Context, p geospatial.GeoPoint, radiusKm float64, mode estimate.Mode, bands []string) (*estimate.Estimate, error)
}

// BandSet reports which band names are configured. *raster.Catalog implements it.
type BandSet interface {
	Has(name string) bool
	Bands() []string
}

// Options bounds and defaults requests.
type Options struct {
	MinRadiusKm  float64
	MaxRadiusKm  float64
	DefaultMode  estimate.Mode
	DefaultBands []string
	// ReadTimeout caps raster I/O per query. Zero disables the deadline.
	ReadTimeout time.Duration
}

// DefaultOptions mirrors the stock configuration.
func DefaultOptions() Options {
	return Options{
		MinRadiusKm:  0.1,
		MaxRadiusKm:  500,
		DefaultMode:  estimate.ModeWindowSum,
		DefaultBands: []string{raster.BandDensity},
		ReadTimeout:  10 * time.Second,
	}
}

// Orchestrator turns requests into outcomes. It holds no per-query state.
type Orchestrator struct {
	est   Estimator
	bands BandSet
	opts  Options
	log   *zap.Logger
}

// New creates an orchestrator.
func New(est Estimator, bands BandSet, opts Options) *Orchestrator {
	if opts.DefaultMode == "" {
		opts.DefaultMode = estimate.ModeWindowSum
	}
	return &Orchestrator{
		est:   est,
		bands: bands,
		opts:  opts,
		log:   zap.L().With(zap.String("component", "query")),
	}
}

// Options returns the effective options.
func (o *Orchestrator) Options() Options { return o.opts }

// Normalize fills defaults and validates req. The returned error wraps
// ErrInvalidInput.
func (o *Orchestrator) Normalize(req Request) (Request, geospatial.GeoPoint, error) {
	p, err := geospatial.NewGeoPoint(req.Lat, req.Lon)
	if err != nil {
		return req, geospatial.GeoPoint{}, invalid("%s", err.Error())
	}

	r := req.RadiusKm
	if math.IsNaN(r) || math.IsInf(r, 0) || r < o.opts.MinRadiusKm || r > o.opts.MaxRadiusKm {
		return req, p, invalid("radius_km %v outside [%v, %v]", r, o.opts.MinRadiusKm, o.opts.MaxRadiusKm)
	}

	if req.Mode == "" {
		req.Mode = o.opts.DefaultMode
	} else {
		m, err := estimate.ParseMode(string(req.Mode))
		if err != nil {
			return req, p, invalid("unknown mode %q", req.Mode)
		}
		req.Mode = m
	}

	if len(req.Bands) == 0 {
		req.Bands = o.opts.DefaultBands
	}
	if len(req.Bands) == 0 && o.bands != nil {
		req.Bands = o.bands.Bands()
	}
	if len(req.Bands) == 0 {
		return req, p, invalid("no bands requested")
	}
	if o.bands != nil {
		for _, b := range req.Bands {
			if !o.bands.Has(b) {
				return req, p, invalid("unknown band %q", b)
			}
		}
	}
	if req.Mode == estimate.ModePointDensity {
		if src := estimate.DensitySource(req.Bands); estimate.IsAgeBand(src) {
			return req, p, invalid("point_density derives %s and %s; band %q cannot be its density source",
				raster.BandPrimary, raster.BandSecondary, src)
		}
	}
	return req, p, nil
}

func invalid(format string, args ...any) error {
	return eris.Wrapf(ErrInvalidInput, format, args...)
}

// Run executes one query. It never returns a zero population in place of
// missing data: unreadable bands yield StatusUnavailable.
func (o *Orchestrator) Run(ctx context.Context, req Request) Outcome {
	start := time.Now()
	out := Outcome{ID: uuid.NewString()}

	norm, p, err := o.Normalize(req)
	mode := string(norm.Mode)
	if mode == "" {
		mode = "unknown"
	}
	if err != nil {
		out.Status = StatusInvalidInput
		out.Reason = reason(err)
		metrics.ObserveQuery(mode, string(out.Status), time.Since(start))
		o.log.Info("query: rejected",
			zap.String("id", out.ID),
			zap.Float64("lat", req.Lat),
			zap.Float64("lon", req.Lon),
			zap.Float64("radius_km", req.RadiusKm),
			zap.String("reason", out.Reason),
		)
		return out
	}

	if o.opts.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.ReadTimeout)
		defer cancel()
	}

	est, err := o.est.Estimate(ctx, p, norm.RadiusKm, norm.Mode, norm.Bands)
	elapsed := time.Since(start)
	if err != nil {
		out.Status = StatusUnavailable
		out.Reason = reason(err)
		out.UnavailableBands = unavailableBands(err)
		metrics.ObserveQuery(mode, string(out.Status), elapsed)
		o.log.Warn("query: data unavailable",
			zap.String("id", out.ID),
			zap.String("mode", mode),
			zap.Strings("bands", norm.Bands),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return out
	}

	metrics.AddRasterBytes(est.BytesRead)
	metrics.ObserveQuery(mode, string(StatusOK), elapsed)

	out.Status = StatusOK
	out.Result = &Result{
		TotalPopulation: est.Total,
		BandPopulations: est.Bands,
		Center:          p,
		RadiusKm:        norm.RadiusKm,
		Mode:            est.Mode,
		SourceBand:      est.SourceBand,
		OutOfCoverage:   est.OutOfCoverage,
	}
	o.log.Info("query: completed",
		zap.String("id", out.ID),
		zap.Float64("lat", p.Lat),
		zap.Float64("lon", p.Lon),
		zap.Float64("radius_km", norm.RadiusKm),
		zap.String("mode", mode),
		zap.Strings("bands", norm.Bands),
		zap.Int64("total_population", est.Total),
		zap.Duration("elapsed", elapsed),
	)
	return out
}

// reason renders err without eris stack frames.
func reason(err error) string {
	var le *raster.LayerError
	if errors.As(err, &le) {
		return le.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "raster read timed out"
	}
	return err.Error()
}

func unavailableBands(err error) []string {
	var le *raster.LayerError
	if errors.As(err, &le) && le.Band != "" {
		return []string{le.Band}
	}
	return nil
}

// SortedBands returns a result's band names in display order: the source
// band first, then the rest alphabetically.
func (r *Result) SortedBands() []string {
	names := make([]string, 0, len(r.BandPopulations))
	for name := range r.BandPopulations {
		if name != r.SourceBand {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := r.BandPopulations[r.SourceBand]; ok {
		names = append([]string{r.SourceBand}, names...)
	}
	return names
}
