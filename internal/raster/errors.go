package raster

import (
	"errors"
	"fmt"
)

var (
	// ErrLayerUnavailable means a band's raster is missing, still downloading,
	// corrupt, or failed mid-read. Callers surface it as "data not ready".
	ErrLayerUnavailable = errors.New("raster: layer unavailable")

	// ErrOutOfBounds means a coordinate maps outside the pixel grid. Callers
	// treat it as "no data" for that band.
	ErrOutOfBounds = errors.New("raster: point outside raster grid")
)

// LayerError attaches band and path context to a raster failure.
type LayerError struct {
	Band string
	Path string
	Err  error
}

func (e *LayerError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("raster: band %q: %v", e.Band, e.Err)
	}
	return fmt.Sprintf("raster: band %q (%s): %v", e.Band, e.Path, e.Err)
}

func (e *LayerError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrLayerUnavailable) match every LayerError that is
// not an out-of-bounds report.
func (e *LayerError) Is(target error) bool {
	return target == ErrLayerUnavailable && !errors.Is(e.Err, ErrOutOfBounds)
}

func unavailable(band, path string, err error) error {
	return &LayerError{Band: band, Path: path, Err: err}
}

// IsUnavailable reports whether err means the band cannot be read.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrLayerUnavailable)
}

// IsOutOfBounds reports whether err means the query fell off the grid.
func IsOutOfBounds(err error) bool {
	return errors.Is(err, ErrOutOfBounds)
}
