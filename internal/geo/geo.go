// Package geo provides the great-circle math used to turn position samples
// into ride metrics.
package geo

import (
	"math"
	"time"
)

const (
	// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
	EarthRadiusMeters = 6371000.0

	// CarbonGramsPerKm is the estimated CO2 displaced per cycled kilometer.
	CarbonGramsPerKm = 200.0
)

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64
	Lng float64
}

// Distance returns the haversine great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)

	h := sinLat*sinLat +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*sinLng*sinLng

	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// SpeedKmh returns the speed in km/h needed to travel from a (at time at) to
// b (at time bt). It returns 0 when the time delta is zero or negative, so
// duplicated or out-of-order samples never yield infinite or negative speeds.
func SpeedKmh(a, b Point, at, bt time.Time) float64 {
	dt := bt.Sub(at)
	if dt <= 0 {
		return 0
	}
	return (Distance(a, b) / 1000) / dt.Hours()
}

// AverageSpeedKmh returns distance over duration in km/h, or 0 for a zero duration.
func AverageSpeedKmh(distanceMeters float64, durationSeconds int64) float64 {
	if durationSeconds <= 0 {
		return 0
	}
	return (distanceMeters / 1000) / (float64(durationSeconds) / 3600)
}

// CarbonOffsetGrams estimates grams of CO2 saved by cycling distanceMeters.
func CarbonOffsetGrams(distanceMeters float64) int64 {
	if distanceMeters <= 0 {
		return 0
	}
	return int64(math.Round(distanceMeters / 1000 * CarbonGramsPerKm))
}

// Valid reports whether p is a finite coordinate within WGS84 bounds.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
