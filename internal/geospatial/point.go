// Package geospatial holds the geographic primitives shared by the raster,
// estimation and query layers: points, bounding boxes and coordinate parsing.
package geospatial

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// GeoPoint is a WGS84 coordinate in decimal degrees.
type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// NewGeoPoint builds a validated point.
func NewGeoPoint(lat, lon float64) (GeoPoint, error) {
	p := GeoPoint{Lat: lat, Lon: lon}
	if err := p.Validate(); err != nil {
		return GeoPoint{}, err
	}
	return p, nil
}

// Validate rejects NaN, infinite and out-of-range coordinates.
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) {
		return eris.New("geo: latitude is not a finite number")
	}
	if math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0) {
		return eris.New("geo: longitude is not a finite number")
	}
	if p.Lat < -90 || p.Lat > 90 {
		return eris.Errorf("geo: latitude %v outside [-90, 90]", p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return eris.Errorf("geo: longitude %v outside [-180, 180]", p.Lon)
	}
	return nil
}

// Coord returns the point as an x/y (lon/lat) coordinate.
func (p GeoPoint) Coord() geom.Coord {
	return geom.Coord{p.Lon, p.Lat}
}

// Geom returns the point as a go-geom point with SRID 4326.
func (p GeoPoint) Geom() *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{p.Lon, p.Lat}).SetSRID(4326)
}
