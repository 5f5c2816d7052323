package ctdf

import (
	"math"
	"time"
)

const earthRadiusMeters = 6371008.8

// MaxTimestamp is 9999-12-31T23:59:59Z, the last instant an ISO-8601 timestamp can carry
const MaxTimestamp = 253402300799

// LocationSample is a single GPS fix reported by the device.
// Timestamp is in epoch seconds and may carry a fractional part.
type LocationSample struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Timestamp float64 `json:"timestamp" validate:"gt=0,lte=253402300799"`

	Accuracy *float64 `json:"accuracy,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`
	Heading  *float64 `json:"heading,omitempty"`
}

func (l LocationSample) Time() time.Time {
	return time.UnixMilli(int64(math.Round(l.Timestamp * 1000))).UTC()
}

func NewLocationSample(latitude float64, longitude float64, at time.Time) LocationSample {
	return LocationSample{
		Latitude:  latitude,
		Longitude: longitude,
		Timestamp: float64(at.UnixMilli()) / 1000,
	}
}

// DistanceTo returns the great circle distance in meters
func (l LocationSample) DistanceTo(other LocationSample) float64 {
	lat1 := l.Latitude * math.Pi / 180
	lat2 := other.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (other.Longitude - l.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}
