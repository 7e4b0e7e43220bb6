// Package response writes JSON and problem responses.
package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cyclick/cyclick/internal/api/middleware"
	"github.com/cyclick/cyclick/internal/api/models"
	"github.com/cyclick/cyclick/internal/auth"
	"github.com/cyclick/cyclick/internal/export"
	"github.com/cyclick/cyclick/internal/ledger"
	"github.com/cyclick/cyclick/internal/location"
	"github.com/cyclick/cyclick/internal/ride"
)

// JSON writes data as a JSON response with the given status code.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	if requestID := middleware.GetRequestID(r.Context()); requestID != "" {
		w.Header().Set("X-Request-Id", requestID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Accepted writes a 202 response with a Location header.
func Accepted(w http.ResponseWriter, r *http.Request, location string, data any) {
	if location != "" {
		w.Header().Set("Location", location)
	}
	JSON(w, r, http.StatusAccepted, data)
}

// Problem writes problem with the request path as its instance.
func Problem(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// BadRequest writes a 400 problem.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errs []models.FieldError) {
	Problem(w, r, models.NewBadRequest(middleware.GetRequestID(r.Context()), detail, errs))
}

// Unauthorized writes a 401 problem.
func Unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	Problem(w, r, models.NewUnauthorized(middleware.GetRequestID(r.Context()), detail))
}

// NotFound writes a 404 problem.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Problem(w, r, models.NewNotFound(middleware.GetRequestID(r.Context()), detail))
}

// InternalError writes a 500 problem.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	Problem(w, r, models.NewInternalError(middleware.GetRequestID(r.Context()), detail))
}

// ServiceUnavailable writes a 503 problem.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	Problem(w, r, models.NewServiceUnavailable(middleware.GetRequestID(r.Context()), detail))
}

// Error maps a domain error to its problem response. Unknown errors become
// a 500 without leaking their text.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	traceID := middleware.GetRequestID(r.Context())

	var p *models.Problem
	switch {
	case errors.Is(err, ride.ErrWalletRequired), errors.Is(err, auth.ErrInvalidWallet):
		p = models.NewUnauthorized(traceID, err.Error())
	case errors.Is(err, ride.ErrNotRideOwner):
		p = models.NewForbidden(traceID, err.Error())
	case errors.Is(err, ride.ErrInsufficientDistance):
		p = models.NewInsufficientDistance(traceID, err.Error())
	case errors.Is(err, ride.ErrSequencingViolation):
		p = models.NewSequencingViolation(traceID, err.Error())
	case errors.Is(err, ride.ErrInvalidTransition),
		errors.Is(err, ledger.ErrOperationInFlight),
		errors.Is(err, ledger.ErrAlreadySubmitted),
		errors.Is(err, ledger.ErrNotArchivable),
		errors.Is(err, location.ErrAlreadySubscribed):
		p = models.NewConflict(traceID, err.Error())
	case errors.Is(err, ride.ErrNoRide), errors.Is(err, ledger.ErrRecordNotFound), errors.Is(err, export.ErrEmptyTrack):
		p = models.NewNotFound(traceID, err.Error())
	case errors.Is(err, location.ErrNotSubscribed):
		p = models.NewConflict(traceID, "ride is not tracking")
	case errors.Is(err, location.ErrFeedFull):
		p = models.NewTooManyRequests(traceID, err.Error())
	case errors.Is(err, ledger.ErrInvalidSubmission):
		p = models.NewBadRequest(traceID, err.Error(), nil)
	case errors.Is(err, ride.ErrTrackerClosed):
		p = models.NewServiceUnavailable(traceID, "tracker is shutting down")
	default:
		p = models.NewInternalError(traceID, "an unexpected error occurred")
	}

	Problem(w, r, p)
}
