package ledger

import (
	"errors"
	"fmt"
)

// Client errors.
var (
	ErrSequencingViolation = errors.New("ride must be submitted before it can be verified")
	ErrOperationInFlight   = errors.New("a ledger operation is already in flight for this ride")
	ErrAlreadySubmitted    = errors.New("ride has already been submitted")
	ErrRecordNotFound      = errors.New("submission record not found")
	ErrNotArchivable       = errors.New("only verified or failed records can be archived")
	ErrInvalidSubmission   = errors.New("invalid submission")

	ErrSubmitFailed = errors.New("ride submission failed")
	ErrVerifyFailed = errors.New("ride verification failed")
)

// OperationError reports a ledger call that did not confirm.
type OperationError struct {
	Op     Operation
	RideID string
	Reason string
	Err    error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("ledger %s of %s failed: %s", e.Op, e.RideID, e.Reason)
}

// Unwrap exposes ErrSubmitFailed or ErrVerifyFailed alongside the cause.
func (e *OperationError) Unwrap() []error {
	errs := []error{ErrSubmitFailed}
	if e.Op == OpVerify {
		errs[0] = ErrVerifyFailed
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
