package geospatial

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBBoxAround_Equator(t *testing.T) {
	b := BBoxAround(GeoPoint{Lat: 0, Lon: 10}, 111)

	assert.InDelta(t, -1.0, b.MinLat, 1e-9)
	assert.InDelta(t, 1.0, b.MaxLat, 1e-9)
	assert.InDelta(t, 9.0, b.MinLng, 1e-9)
	assert.InDelta(t, 11.0, b.MaxLng, 1e-9)
}

func TestBBoxAround_WidensWithLatitude(t *testing.T) {
	center := GeoPoint{Lat: 60, Lon: 0}
	b := BBoxAround(center, 11.1)

	degLat := 11.1 / 111.0
	degLon := 11.1 / (111.0 * math.Cos(60*math.Pi/180))
	assert.InDelta(t, degLat, b.MaxLat-center.Lat, 1e-12)
	assert.InDelta(t, degLon, b.MaxLng-center.Lon, 1e-12)
	assert.InDelta(t, 2*degLat, b.MaxLng-center.Lon, 1e-9) // cos(60°) = 0.5
}

func TestBBoxAround_PoleIsCapped(t *testing.T) {
	b := BBoxAround(GeoPoint{Lat: 90, Lon: 0}, 10)
	assert.False(t, math.IsInf(b.MaxLng, 0))
	assert.InDelta(t, 360.0, b.MaxLng, 1e-9)
}

func TestBBoxAround_Monotonic(t *testing.T) {
	center := GeoPoint{Lat: 24.86, Lon: 67.0}
	small := BBoxAround(center, 1)
	large := BBoxAround(center, 5)

	assert.Less(t, large.MinLng, small.MinLng)
	assert.Less(t, large.MinLat, small.MinLat)
	assert.Greater(t, large.MaxLng, small.MaxLng)
	assert.Greater(t, large.MaxLat, small.MaxLat)
}

func TestBBox_BoundsRoundTrip(t *testing.T) {
	b := BBox{MinLng: 60.5, MinLat: 23.5, MaxLng: 77.8, MaxLat: 37.1}
	assert.Equal(t, b, BBoxFromBounds(b.Bounds()))
}

func TestBBox_IntersectsAndContains(t *testing.T) {
	pakistan := BBox{MinLng: 60.5, MinLat: 23.5, MaxLng: 77.8, MaxLat: 37.1}
	karachi := BBoxAround(GeoPoint{Lat: 24.86, Lon: 67.0}, 2)
	arctic := BBoxAround(GeoPoint{Lat: 89.9, Lon: 179.9}, 2)

	assert.True(t, pakistan.Intersects(karachi))
	assert.False(t, pakistan.Intersects(arctic))
	assert.True(t, pakistan.Contains(GeoPoint{Lat: 24.86, Lon: 67.0}))
	assert.False(t, pakistan.Contains(GeoPoint{Lat: 89.9, Lon: 179.9}))
}
