package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/cyclick/cyclick/internal/achievement"
	"github.com/cyclick/cyclick/internal/api/models"
	"github.com/cyclick/cyclick/internal/api/response"
	"github.com/cyclick/cyclick/internal/ledger"
	"github.com/cyclick/cyclick/internal/streak"
)

// StreakReader reads the persisted streak.
type StreakReader interface {
	Current(ctx context.Context) (streak.Record, error)
}

// StatsReader reads rider totals and challenge progress.
type StatsReader interface {
	Stats(ctx context.Context) (achievement.Stats, error)
	Challenges(ctx context.Context, now time.Time) ([]achievement.ChallengeStatus, error)
}

// SubmissionReader reads ledger records.
type SubmissionReader interface {
	Record(rideID string) (ledger.Record, error)
	Records() []ledger.Record
}

// RiderHandler serves the rider's progress: streak, stats, challenges and
// ledger submissions.
type RiderHandler struct {
	streak      StreakReader
	stats       StatsReader
	submissions SubmissionReader
	logger      zerolog.Logger
	now         func() time.Time
}

// NewRiderHandler creates a RiderHandler.
func NewRiderHandler(streak StreakReader, stats StatsReader, submissions SubmissionReader, logger zerolog.Logger) *RiderHandler {
	return &RiderHandler{
		streak:      streak,
		stats:       stats,
		submissions: submissions,
		logger:      logger,
		now:         time.Now,
	}
}

// Streak handles GET /v1/streak.
func (h *RiderHandler) Streak(w http.ResponseWriter, r *http.Request) {
	rec, err := h.streak.Current(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read streak")
		response.Error(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.Streak{Record: rec})
}

// Stats handles GET /v1/stats.
func (h *RiderHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read rider stats")
		response.Error(w, r, err)
		return
	}
	rec, err := h.streak.Current(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read streak")
		response.Error(w, r, err)
		return
	}
	if stats.Badges == nil {
		stats.Badges = []string{}
	}
	response.JSON(w, r, http.StatusOK, models.Stats{Stats: stats, Streak: rec.CurrentDays})
}

// Challenges handles GET /v1/challenges.
func (h *RiderHandler) Challenges(w http.ResponseWriter, r *http.Request) {
	list, err := h.stats.Challenges(r.Context(), h.now())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read challenges")
		response.Error(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.Challenges{Challenges: list})
}

// Submissions handles GET /v1/submissions.
func (h *RiderHandler) Submissions(w http.ResponseWriter, r *http.Request) {
	records := h.submissions.Records()
	if records == nil {
		records = []ledger.Record{}
	}
	response.JSON(w, r, http.StatusOK, models.Submissions{Submissions: records})
}

// Submission handles GET /v1/submissions/{rideId}.
func (h *RiderHandler) Submission(w http.ResponseWriter, r *http.Request) {
	rec, err := h.submissions.Record(chi.URLParam(r, "rideId"))
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, rec)
}
