// Package ledger drives ride submissions through the two-phase
// submit/verify protocol of the reward ledger.
package ledger

import (
	"context"
	"time"
)

// Operation is a ledger call.
type Operation string

// Ledger operations.
const (
	OpSubmit Operation = "submit"
	OpVerify Operation = "verify"
)

// Phase is the lifecycle position of a submission record.
type Phase string

// Submission phases.
const (
	PhaseUnsubmitted Phase = "unsubmitted"
	PhaseSubmitting  Phase = "submitting"
	PhaseSubmitted   Phase = "submitted"
	PhaseVerifying   Phase = "verifying"
	PhaseVerified    Phase = "verified"
	PhaseFailed      Phase = "failed"
)

// InFlight reports whether a ledger call is outstanding in this phase.
func (p Phase) InFlight() bool {
	return p == PhaseSubmitting || p == PhaseVerifying
}

// Submission carries the frozen metrics of a stopped ride.
type Submission struct {
	RideID            string
	Wallet            string
	DistanceMeters    int64
	DurationSeconds   int64
	CarbonOffsetGrams int64
}

// Receipt acknowledges a confirmed ledger transaction.
type Receipt struct {
	RideID      string    `json:"rideId"`
	Op          Operation `json:"operation"`
	TxHash      string    `json:"txHash"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

// Record tracks one ride through the protocol.
type Record struct {
	RideID            string    `json:"rideId"`
	Wallet            string    `json:"wallet,omitempty"`
	DistanceMeters    int64     `json:"distanceMeters"`
	DurationSeconds   int64     `json:"durationSeconds"`
	CarbonOffsetGrams int64     `json:"carbonOffsetGrams"`
	Phase             Phase     `json:"phase"`
	FailedOperation   Operation `json:"failedOperation,omitempty"`
	FailureReason     string    `json:"failureReason,omitempty"`
	SubmitTx          string    `json:"submitTx,omitempty"`
	VerifyTx          string    `json:"verifyTx,omitempty"`
	UpdatedAt         time.Time `json:"updatedAt"`
	Archived          bool      `json:"archived"`
}

// Ledger is the external collaborator that records and verifies rides.
// Both calls return once the transaction is confirmed or rejected.
type Ledger interface {
	SubmitRide(ctx context.Context, s Submission) (Receipt, error)
	VerifyRide(ctx context.Context, rideID string) (Receipt, error)
}
