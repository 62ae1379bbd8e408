package estimate

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/popradius/internal/raster"
)

// Fractions are the fixed age-band shares applied to a point-density total.
// They are a heuristic, not measured from data.
type Fractions struct {
	Primary   float64 `json:"primary" yaml:"primary" mapstructure:"primary_fraction"`
	Secondary float64 `json:"secondary" yaml:"secondary" mapstructure:"secondary_fraction"`
}

// DefaultFractions are the stock primary and secondary shares.
var DefaultFractions = Fractions{Primary: 0.15, Secondary: 0.12}

// Validate rejects shares outside [0, 1].
func (f Fractions) Validate() error {
	for name, v := range map[string]float64{"primary": f.Primary, "secondary": f.Secondary} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return eris.Errorf("estimate: %s fraction %v outside [0, 1]", name, v)
		}
	}
	return nil
}

// Sanitize maps a raw cell value to a usable density: NaN, infinities,
// negatives and the layer's nodata sentinel all become 0.
func Sanitize(v float64, nodata raster.NoData) float64 {
	if !valid(v, nodata) {
		return 0
	}
	return v
}

func valid(v float64, nodata raster.NoData) bool {
	return v > 0 && !math.IsInf(v, 0) && !nodata.Matches(v)
}

// validSum accumulates the cells that count as population.
type validSum struct {
	nodata raster.NoData
	total  float64
}

func (s *validSum) add(v float64) {
	if valid(v, s.nodata) {
		s.total += v
	}
}

// SumValid adds every strictly positive, finite, non-sentinel cell.
func SumValid(values []float64, nodata raster.NoData) float64 {
	sum := validSum{nodata: nodata}
	for _, v := range values {
		sum.add(v)
	}
	return sum.total
}

// PopulationFromDensity is floor(density * pi * r^2), truncated not rounded.
func PopulationFromDensity(density, radiusKm float64) int64 {
	return truncate(density * math.Pi * radiusKm * radiusKm)
}

// SplitAgeBands derives the primary and secondary counts from a total.
func SplitAgeBands(total int64, f Fractions) (primary, secondary int64) {
	return truncate(float64(total) * f.Primary), truncate(float64(total) * f.Secondary)
}

// truncate floors a non-negative population; anything that is not a finite
// positive number counts as zero.
func truncate(v float64) int64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(math.Floor(v))
}
