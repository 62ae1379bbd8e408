package geospatial

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// coordPairRe matches "lat, lon" or "lat lon" with optional degree signs.
var coordPairRe = regexp.MustCompile(`^\s*([+-]?\d+(?:\.\d+)?)\s*°?\s*(?:,|\s)\s*([+-]?\d+(?:\.\d+)?)\s*°?\s*$`)

// ParseCoordinates parses a literal coordinate pair typed into a search box,
// e.g. "24.8607, 67.0011". The first number is latitude.
func ParseCoordinates(s string) (GeoPoint, error) {
	m := coordPairRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return GeoPoint{}, eris.Errorf("geo: %q is not a coordinate pair", s)
	}

	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return GeoPoint{}, eris.Wrap(err, "geo: parse latitude")
	}
	lon, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return GeoPoint{}, eris.Wrap(err, "geo: parse longitude")
	}

	return NewGeoPoint(lat, lon)
}

// LooksLikeCoordinates reports whether s should be parsed as a coordinate
// pair rather than handed to a geocoder.
func LooksLikeCoordinates(s string) bool {
	return coordPairRe.MatchString(strings.TrimSpace(s))
}
