package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/cyclick/cyclick/internal/api/middleware"
	"github.com/cyclick/cyclick/internal/api/models"
	"github.com/cyclick/cyclick/internal/api/response"
	"github.com/cyclick/cyclick/internal/export"
	"github.com/cyclick/cyclick/internal/ledger"
	"github.com/cyclick/cyclick/internal/location"
	"github.com/cyclick/cyclick/internal/ride"
)

// RideTracker is the ride session the handler drives.
type RideTracker interface {
	Start(ctx context.Context, wallet string) (ride.Snapshot, error)
	Stop(ctx context.Context, wallet string) (ride.Snapshot, error)
	Resume(ctx context.Context, wallet string) (ride.Snapshot, error)
	Submit(ctx context.Context, wallet string) (*ledger.Pending, error)
	Verify(ctx context.Context, wallet string) (*ledger.Pending, error)
	Snapshot() ride.Snapshot
}

// PositionFeed accepts readings pushed by the device.
type PositionFeed interface {
	Push(readings ...location.Reading) error
	Fail(code, message string) error
}

// RideHandler handles the ride endpoints.
type RideHandler struct {
	tracker RideTracker
	feed    PositionFeed
	logger  zerolog.Logger
}

// NewRideHandler creates a RideHandler. feed may be nil when positions come
// from another provider.
func NewRideHandler(tracker RideTracker, feed PositionFeed, logger zerolog.Logger) *RideHandler {
	return &RideHandler{tracker: tracker, feed: feed, logger: logger}
}

// Get handles GET /v1/ride.
func (h *RideHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ownSnapshot(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewRide(snap))
}

// ownSnapshot returns the current ride unless it belongs to a wallet other
// than the caller's.
func (h *RideHandler) ownSnapshot(r *http.Request) (ride.Snapshot, error) {
	snap := h.tracker.Snapshot()
	if snap.Wallet != "" && snap.Wallet != middleware.GetWallet(r.Context()) {
		return ride.Snapshot{}, ride.ErrNotRideOwner
	}
	return snap, nil
}

// Start handles POST /v1/ride/start for the authenticated wallet.
func (h *RideHandler) Start(w http.ResponseWriter, r *http.Request) {
	snap, err := h.tracker.Start(r.Context(), middleware.GetWallet(r.Context()))
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, models.NewRide(snap))
}

// Stop handles POST /v1/ride/stop.
func (h *RideHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.tracker.Stop)
}

// Resume handles POST /v1/ride/resume.
func (h *RideHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.tracker.Resume)
}

func (h *RideHandler) command(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (ride.Snapshot, error)) {
	snap, err := fn(r.Context(), middleware.GetWallet(r.Context()))
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewRide(snap))
}

// Submit handles POST /v1/ride/submit. The ledger call continues after the
// response; progress is visible on GET /v1/ride.
func (h *RideHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.ledgerCommand(w, r, h.tracker.Submit)
}

// Verify handles POST /v1/ride/verify.
func (h *RideHandler) Verify(w http.ResponseWriter, r *http.Request) {
	h.ledgerCommand(w, r, h.tracker.Verify)
}

func (h *RideHandler) ledgerCommand(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (*ledger.Pending, error)) {
	pending, err := fn(r.Context(), middleware.GetWallet(r.Context()))
	if err != nil {
		response.Error(w, r, err)
		return
	}

	snap := h.tracker.Snapshot()
	response.Accepted(w, r, "/v1/submissions/"+pending.RideID, models.OperationAccepted{
		RideID:    snap.RideID,
		LedgerID:  pending.RideID,
		Operation: pending.Op,
		State:     snap.State,
	})
}

// Positions handles POST /v1/ride/positions.
func (h *RideHandler) Positions(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		response.NotFound(w, r, "positions are not accepted by this server")
		return
	}
	if _, err := h.ownSnapshot(r); err != nil {
		response.Error(w, r, err)
		return
	}

	var req models.PositionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "validation error", errs)
		return
	}

	if len(req.Positions) > 0 {
		if err := h.feed.Push(req.Positions...); err != nil {
			response.Error(w, r, err)
			return
		}
	}
	if req.Error != nil {
		if err := h.feed.Fail(req.Error.Code, req.Error.Message); err != nil {
			response.Error(w, r, err)
			return
		}
	}

	response.JSON(w, r, http.StatusAccepted, models.PositionsAccepted{Accepted: len(req.Positions)})
}

// ExportFIT handles GET /v1/ride/export.fit.
func (h *RideHandler) ExportFIT(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ownSnapshot(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	if snap.RideID == "" {
		response.Error(w, r, ride.ErrNoRide)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteFIT(&buf, snap); err != nil {
		h.logger.Error().Err(err).Str("ride_id", snap.RideID).Msg("fit export failed")
		response.Error(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.ant.fit")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.fit"`, snap.RideID))
	w.Header().Set("Content-Length", fmt.Sprint(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
