// Package location adapts an external position provider (device GPS, a pushed
// HTTP feed, a replayed route) into immutable position samples.
package location

import (
	"errors"
	"fmt"
	"time"

	"github.com/cyclick/cyclick/internal/geo"
)

// Provider error codes, mirroring the Geolocation API codes devices report.
const (
	CodePermissionDenied    = "PERMISSION_DENIED"
	CodePositionUnavailable = "POSITION_UNAVAILABLE"
	CodeTimeout             = "TIMEOUT"
)

// Location errors. None of them is fatal to a ride: the tracker keeps the last
// known metrics and surfaces the error as a warning.
var (
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrTimeout             = errors.New("location timeout")
	ErrInvalidReading      = errors.New("invalid location reading")
	ErrAlreadySubscribed   = errors.New("location source already has an active subscription")
	ErrNotSubscribed       = errors.New("location source has no active subscription")
	ErrStreamEnded         = fmt.Errorf("%w: provider stream ended", ErrLocationUnavailable)
)

// Reading is a raw provider reading, before validation.
type Reading struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProviderError is an error reported by the provider as a (code, message) pair.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return "location provider: " + e.Code
	}
	return fmt.Sprintf("location provider: %s: %s", e.Code, e.Message)
}

// Unwrap maps provider codes onto the package sentinels.
func (e *ProviderError) Unwrap() error {
	switch e.Code {
	case CodePermissionDenied:
		return ErrPermissionDenied
	case CodeTimeout:
		return ErrTimeout
	default:
		return ErrLocationUnavailable
	}
}

// Sample is a validated position sample. It is never modified after creation.
type Sample struct {
	Point      geo.Point
	Altitude   *float64
	Accuracy   *float64
	CapturedAt time.Time
}

// HasAltitude reports whether the sample carries an altitude.
func (s Sample) HasAltitude() bool {
	return s.Altitude != nil
}

func sampleFromReading(r Reading) (Sample, error) {
	p := geo.Point{Lat: r.Lat, Lng: r.Lng}
	if !p.Valid() {
		return Sample{}, fmt.Errorf("%w: lat=%v lng=%v", ErrInvalidReading, r.Lat, r.Lng)
	}
	if r.Timestamp.IsZero() {
		return Sample{}, fmt.Errorf("%w: missing timestamp", ErrInvalidReading)
	}

	return Sample{
		Point:      p,
		Altitude:   copyFloat(r.Altitude),
		Accuracy:   copyFloat(r.Accuracy),
		CapturedAt: r.Timestamp,
	}, nil
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
