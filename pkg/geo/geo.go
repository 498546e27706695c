// Package geo provides great-circle distance math and radius search over the
// volunteer pool.
package geo

import (
	"fmt"
	"math"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

// earthRadiusKm is the mean earth radius used for haversine distance
const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate pair
type Point struct {
	Latitude  float64
	Longitude float64
}

// Validate checks that the point is within coordinate bounds
func (p Point) Validate() error {
	if p.Latitude < -90 || p.Latitude > 90 {
		return httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("latitude %v out of range [-90, 90]", p.Latitude))
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("longitude %v out of range [-180, 180]", p.Longitude))
	}
	return nil
}

// Haversine returns the great-circle distance between two points in kilometers
func Haversine(a, b Point) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)

	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
