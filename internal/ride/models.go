// Package ride implements the ride session state machine and the tracker
// that drives a session from the first location sample to a verified
// ledger record.
package ride

import (
	"errors"
	"time"

	"github.com/cyclick/cyclick/internal/ledger"
	"github.com/cyclick/cyclick/internal/location"
	"github.com/cyclick/cyclick/pkg/polyline"
)

// MinSubmitDistanceMeters is the shortest ride the ledger accepts.
const MinSubmitDistanceMeters = 1000

// State is the lifecycle position of a ride session.
type State string

// Session states.
const (
	StateIdle       State = "idle"
	StateTracking   State = "tracking"
	StateStopped    State = "stopped"
	StateSubmitting State = "submitting"
	StateSubmitted  State = "submitted"
	StateVerifying  State = "verifying"
	StateVerified   State = "verified"
	StateFailed     State = "failed"
)

// Tracker errors.
var (
	ErrWalletRequired       = errors.New("a connected wallet is required")
	ErrInvalidTransition    = errors.New("operation not allowed in the current ride state")
	ErrInsufficientDistance = errors.New("ride must be at least 1 km to submit")
	ErrNoRide               = errors.New("no ride in progress")
	ErrTrackerClosed        = errors.New("tracker closed")
	ErrNotRideOwner         = errors.New("ride belongs to another wallet")

	// ErrSequencingViolation matches the ledger's error so callers can test
	// for either.
	ErrSequencingViolation = ledger.ErrSequencingViolation
)

// Metrics are the derived figures of a session.
type Metrics struct {
	DistanceMeters      float64  `json:"distanceMeters"`
	DurationSeconds     int64    `json:"durationSeconds"`
	CurrentSpeedKmh     float64  `json:"currentSpeedKmh"`
	MaxSpeedKmh         float64  `json:"maxSpeedKmh"`
	AverageSpeedKmh     float64  `json:"averageSpeedKmh"`
	ElevationMeters     *float64 `json:"elevationMeters,omitempty"`
	ElevationGainMeters float64  `json:"elevationGainMeters"`
	CarbonOffsetGrams   int64    `json:"carbonOffsetGrams"`
}

// TrackPoint is an accepted sample with the running totals at that point.
type TrackPoint struct {
	location.Sample
	DistanceMeters float64 `json:"distanceMeters"`
	SpeedKmh       float64 `json:"speedKmh"`
}

// Snapshot is a consistent copy of the tracker state.
type Snapshot struct {
	RideID    string     `json:"rideId,omitempty"`
	LedgerID  string     `json:"ledgerId,omitempty"`
	Wallet    string     `json:"wallet,omitempty"`
	State     State      `json:"state"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	StoppedAt *time.Time `json:"stoppedAt,omitempty"`
	Metrics

	// Track shares storage with the tracker and must not be modified.
	Track []TrackPoint `json:"-"`

	Warning         string           `json:"warning,omitempty"`
	LastError       string           `json:"lastError,omitempty"`
	FailedOperation ledger.Operation `json:"failedOperation,omitempty"`
	SubmitTx        string           `json:"submitTx,omitempty"`
	VerifyTx        string           `json:"verifyTx,omitempty"`
	StreakDays      int              `json:"streakDays,omitempty"`
}

// Route encodes the track as a Google polyline.
func (s Snapshot) Route() string {
	coords := make([]polyline.Coordinate, 0, len(s.Track))
	for _, p := range s.Track {
		coords = append(coords, polyline.Coordinate{Lat: p.Point.Lat, Lng: p.Point.Lng})
	}
	return polyline.Encode(coords)
}

// CanSubmit reports whether Submit would be accepted by state and distance.
func (s Snapshot) CanSubmit() bool {
	stateOK := s.State == StateStopped || (s.State == StateFailed && s.FailedOperation == ledger.OpSubmit)
	return stateOK && s.DistanceMeters >= MinSubmitDistanceMeters
}
