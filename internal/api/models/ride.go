// Package models provides request and response bodies for the Cyclick API.
package models

import (
	"fmt"

	"github.com/cyclick/cyclick/internal/achievement"
	"github.com/cyclick/cyclick/internal/ledger"
	"github.com/cyclick/cyclick/internal/location"
	"github.com/cyclick/cyclick/internal/ride"
	"github.com/cyclick/cyclick/internal/streak"
)

// MaxPositionsPerRequest bounds a single positions push.
const MaxPositionsPerRequest = 500

// Ride is the ride snapshot as served by the API.
type Ride struct {
	ride.Snapshot
	Route       string `json:"route,omitempty"`
	TrackPoints int    `json:"trackPoints"`
	CanSubmit   bool   `json:"canSubmit"`
}

// NewRide converts a tracker snapshot.
func NewRide(s ride.Snapshot) Ride {
	return Ride{
		Snapshot:    s,
		Route:       s.Route(),
		TrackPoints: len(s.Track),
		CanSubmit:   s.CanSubmit(),
	}
}

// OperationAccepted is returned for an asynchronous ledger command.
type OperationAccepted struct {
	RideID    string           `json:"rideId"`
	LedgerID  string           `json:"ledgerId"`
	Operation ledger.Operation `json:"operation"`
	State     ride.State       `json:"state"`
}

// ProviderError is a location error reported by the device.
type ProviderError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// PositionsRequest is the body of POST /v1/ride/positions. A device sends
// readings, an error, or both.
type PositionsRequest struct {
	Positions []location.Reading `json:"positions"`
	Error     *ProviderError     `json:"error,omitempty"`
}

// Validate checks the request shape. Coordinate ranges are checked by the
// location source.
func (r *PositionsRequest) Validate() []FieldError {
	var errs []FieldError

	if len(r.Positions) == 0 && r.Error == nil {
		errs = append(errs, FieldError{Field: "positions", Message: "positions or error is required", Code: "REQUIRED"})
	}
	if len(r.Positions) > MaxPositionsPerRequest {
		errs = append(errs, FieldError{
			Field:   "positions",
			Message: fmt.Sprintf("at most %d positions per request", MaxPositionsPerRequest),
			Code:    "TOO_MANY",
		})
	}
	for i, p := range r.Positions {
		if p.Timestamp.IsZero() {
			errs = append(errs, FieldError{Field: fmt.Sprintf("positions[%d].timestamp", i), Message: "timestamp is required", Code: "REQUIRED"})
		}
	}
	if r.Error != nil {
		switch r.Error.Code {
		case location.CodePermissionDenied, location.CodePositionUnavailable, location.CodeTimeout:
		default:
			errs = append(errs, FieldError{Field: "error.code", Message: "unknown location error code", Code: "INVALID"})
		}
	}

	return errs
}

// PositionsAccepted reports how many readings were queued.
type PositionsAccepted struct {
	Accepted int `json:"accepted"`
}

// Streak is the streak response.
type Streak struct {
	streak.Record
}

// Stats is the rider stats response.
type Stats struct {
	achievement.Stats
	Streak int `json:"currentStreakDays"`
}

// Challenges lists the challenges of the current periods.
type Challenges struct {
	Challenges []achievement.ChallengeStatus `json:"challenges"`
}

// Submissions lists ledger records, most recent first.
type Submissions struct {
	Submissions []ledger.Record `json:"submissions"`
}
