package geospatial

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeoPoint_Validate(t *testing.T) {
	tests := []struct {
		name    string
		p       GeoPoint
		wantErr string
	}{
		{name: "karachi", p: GeoPoint{Lat: 24.8607, Lon: 67.0011}},
		{name: "corners", p: GeoPoint{Lat: -90, Lon: 180}},
		{name: "nan lat", p: GeoPoint{Lat: math.NaN(), Lon: 0}, wantErr: "latitude is not a finite number"},
		{name: "inf lon", p: GeoPoint{Lat: 0, Lon: math.Inf(1)}, wantErr: "longitude is not a finite number"},
		{name: "lat too high", p: GeoPoint{Lat: 90.5, Lon: 0}, wantErr: "outside [-90, 90]"},
		{name: "lon too low", p: GeoPoint{Lat: 0, Lon: -180.01}, wantErr: "outside [-180, 180]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGeoPoint_Geom(t *testing.T) {
	p := GeoPoint{Lat: 24.86, Lon: 67.0}
	g := p.Geom()
	assert.Equal(t, 4326, g.SRID())
	assert.InDelta(t, 67.0, g.X(), 1e-12)
	assert.InDelta(t, 24.86, g.Y(), 1e-12)
}

func TestParseCoordinates(t *testing.T) {
	tests := []struct {
		in      string
		lat     float64
		lon     float64
		wantErr bool
	}{
		{in: "24.8607, 67.0011", lat: 24.8607, lon: 67.0011},
		{in: "  -33.9 151.2 ", lat: -33.9, lon: 151.2},
		{in: "24.86°, 67.00°", lat: 24.86, lon: 67.00},
		{in: "Karachi", wantErr: true},
		{in: "95, 10", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParseCoordinates(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.lat, p.Lat, 1e-9)
			assert.InDelta(t, tt.lon, p.Lon, 1e-9)
		})
	}
}

func TestLooksLikeCoordinates(t *testing.T) {
	assert.True(t, LooksLikeCoordinates("24.86,67.00"))
	assert.False(t, LooksLikeCoordinates("Clifton, Karachi"))
}
