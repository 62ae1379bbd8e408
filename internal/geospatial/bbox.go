package geospatial

import (
	"math"

	"github.com/twpayne/go-geom"
)

// KmPerDegree is the flat-earth conversion used for catchment boxes.
const KmPerDegree = 111.0

// BBox represents a geographic bounding box (west, south, east, north).
type BBox struct {
	MinLng float64 `json:"min_lng" yaml:"min_lng"`
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MaxLng float64 `json:"max_lng" yaml:"max_lng"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
}

// BBoxAround returns the square box approximating a circular catchment of
// radiusKm around center. Longitude span widens with latitude; at the poles it
// is capped to the full globe width.
func BBoxAround(center GeoPoint, radiusKm float64) BBox {
	degLat := radiusKm / KmPerDegree

	cosLat := math.Cos(center.Lat * math.Pi / 180)
	degLon := 360.0
	if cosLat > 1e-12 {
		degLon = math.Min(radiusKm/(KmPerDegree*cosLat), 360.0)
	}

	return BBox{
		MinLng: center.Lon - degLon,
		MinLat: center.Lat - degLat,
		MaxLng: center.Lon + degLon,
		MaxLat: center.Lat + degLat,
	}
}

// Bounds converts the box to go-geom bounds in XY (lon, lat) layout.
func (b BBox) Bounds() *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(b.MinLng, b.MinLat, b.MaxLng, b.MaxLat)
}

// BBoxFromBounds converts go-geom XY bounds back to a BBox.
func BBoxFromBounds(b *geom.Bounds) BBox {
	return BBox{
		MinLng: b.Min(0),
		MinLat: b.Min(1),
		MaxLng: b.Max(0),
		MaxLat: b.Max(1),
	}
}

// Intersects reports whether two boxes share any area or edge.
func (b BBox) Intersects(other BBox) bool {
	return b.Bounds().Overlaps(geom.XY, other.Bounds())
}

// Contains reports whether p lies within the box, edges included.
func (b BBox) Contains(p GeoPoint) bool {
	return b.Bounds().OverlapsPoint(geom.XY, p.Coord())
}

// Corners returns the four corners as lon/lat pairs: NW, NE, SE, SW.
func (b BBox) Corners() [4][2]float64 {
	return [4][2]float64{
		{b.MinLng, b.MaxLat},
		{b.MaxLng, b.MaxLat},
		{b.MaxLng, b.MinLat},
		{b.MinLng, b.MinLat},
	}
}
