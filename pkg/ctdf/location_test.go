package ctdf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocationSampleTime(t *testing.T) {
	sample := LocationSample{Latitude: 4.61, Longitude: -74.08, Timestamp: 1700000000.25}

	assert.Equal(t, time.Date(2023, 11, 14, 22, 13, 20, 250000000, time.UTC), sample.Time())
}

func TestMaxTimestamp(t *testing.T) {
	sample := LocationSample{Timestamp: MaxTimestamp}

	assert.Equal(t, time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC), sample.Time())
}

func TestNewLocationSample(t *testing.T) {
	at := time.Date(2024, 3, 1, 8, 0, 0, 500000000, time.UTC)
	sample := NewLocationSample(51.5, -0.12, at)

	assert.Equal(t, 1709280000.5, sample.Timestamp)
	assert.True(t, at.Equal(sample.Time()))
}

func TestDistanceTo(t *testing.T) {
	bogota := LocationSample{Latitude: 4.711, Longitude: -74.0721}
	medellin := LocationSample{Latitude: 6.2442, Longitude: -75.5812}

	assert.InDelta(t, 240000, bogota.DistanceTo(medellin), 5000)
	assert.Zero(t, bogota.DistanceTo(bogota))
}

func TestSessionContext(t *testing.T) {
	free := SessionContext{}.Normalise()
	assert.Equal(t, UnknownVehicleID, free.VehicleID)
	assert.False(t, free.HasAssignedRoute())
	assert.Equal(t, TrackingTypeFree, free.TrackingType())

	assigned := SessionContext{VehicleID: "V1", RouteID: "42"}.Normalise()
	assert.Equal(t, "V1", assigned.VehicleID)
	assert.Equal(t, TrackingTypeAssignedRoute, assigned.TrackingType())
}
