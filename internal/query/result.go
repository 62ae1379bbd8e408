package query

import (
	"errors"

	"github.com/sells-group/popradius/internal/estimate"
	"github.com/sells-group/popradius/internal/geospatial"
	"github.com/sells-group/popradius/internal/raster"
)

// ErrInvalidInput marks requests rejected before any raster I/O.
var ErrInvalidInput = errors.New("query: invalid input")

// Status tags an Outcome.
type Status string

// Outcome statuses.
const (
	StatusOK           Status = "ok"
	StatusUnavailable  Status = "unavailable"
	StatusInvalidInput Status = "invalid_input"
)

// Request is one population query. Zero Mode and empty Bands fall back to
// the orchestrator's defaults.
type Request struct {
	Lat      float64       `json:"lat" yaml:"lat"`
	Lon      float64       `json:"lon" yaml:"lon"`
	RadiusKm float64       `json:"radius_km" yaml:"radius_km"`
	Mode     estimate.Mode `json:"mode,omitempty" yaml:"mode,omitempty"`
	Bands    []string      `json:"bands,omitempty" yaml:"bands,omitempty"`
}

// Result is a computed estimate. It is built once and never mutated.
type Result struct {
	TotalPopulation int64               `json:"total_population" yaml:"total_population"`
	BandPopulations map[string]int64    `json:"band_populations" yaml:"band_populations"`
	Center          geospatial.GeoPoint `json:"center" yaml:"center"`
	RadiusKm        float64             `json:"radius_km" yaml:"radius_km"`
	Mode            estimate.Mode       `json:"mode" yaml:"mode"`
	SourceBand      string              `json:"source_band" yaml:"source_band"`
	OutOfCoverage   []string            `json:"out_of_coverage,omitempty" yaml:"out_of_coverage,omitempty"`
}

// Outcome is exactly one of: an ok Result, an unavailable signal, or an
// invalid input rejection.
type Outcome struct {
	ID     string  `json:"id" yaml:"id"`
	Status Status  `json:"status" yaml:"status"`
	Result *Result `json:"result,omitempty" yaml:"result,omitempty"`
	// Reason explains a non-ok status.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
	// UnavailableBands names the bands that could not be read.
	UnavailableBands []string `json:"unavailable_bands,omitempty" yaml:"unavailable_bands,omitempty"`
}

// OK reports whether the outcome carries a result.
func (o Outcome) OK() bool { return o.Status == StatusOK && o.Result != nil }

// Err converts a non-ok outcome to an error for callers that want one.
func (o Outcome) Err() error {
	switch o.Status {
	case StatusOK:
		return nil
	case StatusInvalidInput:
		return &OutcomeError{Outcome: o, err: ErrInvalidInput}
	default:
		return &OutcomeError{Outcome: o, err: raster.ErrLayerUnavailable}
	}
}

// OutcomeError wraps a non-ok Outcome.
type OutcomeError struct {
	Outcome Outcome
	err     error
}

func (e *OutcomeError) Error() string {
	if e.Outcome.Reason == "" {
		return e.err.Error()
	}
	return e.err.Error() + ": " + e.Outcome.Reason
}

func (e *OutcomeError) Unwrap() error { return e.err }
