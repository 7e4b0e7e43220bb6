package models_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclick/cyclick/internal/api/models"
	"github.com/cyclick/cyclick/internal/location"
)

func TestProblem_Write(t *testing.T) {
	p := models.NewInsufficientDistance("req_abc", "rode 999 m").WithInstance("/v1/ride/submit")

	w := httptest.NewRecorder()
	p.Write(w)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "req_abc", w.Header().Get("X-Request-Id"))

	var got models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.ProblemTypeInsufficientDistance, got.Type)
	assert.Equal(t, "rode 999 m", got.Detail)
	assert.Equal(t, "/v1/ride/submit", got.Instance)
	assert.Equal(t, "req_abc", got.TraceID)
}

func TestProblem_Statuses(t *testing.T) {
	tests := []struct {
		problem *models.Problem
		status  int
	}{
		{models.NewBadRequest("t", "d", nil), http.StatusBadRequest},
		{models.NewUnauthorized("t", "d"), http.StatusUnauthorized},
		{models.NewForbidden("t", "d"), http.StatusForbidden},
		{models.NewNotFound("t", "d"), http.StatusNotFound},
		{models.NewConflict("t", "d"), http.StatusConflict},
		{models.NewSequencingViolation("t", "d"), http.StatusConflict},
		{models.NewUnsupportedMediaType("t", "d"), http.StatusUnsupportedMediaType},
		{models.NewTooManyRequests("t", "d"), http.StatusTooManyRequests},
		{models.NewInternalError("t", "d"), http.StatusInternalServerError},
		{models.NewServiceUnavailable("t", "d"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.problem.Type, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.problem.Status)
			assert.Equal(t, "d", tt.problem.Detail)
		})
	}
}

func TestPositionsRequest_Validate(t *testing.T) {
	now := time.Now()

	t.Run("empty", func(t *testing.T) {
		req := models.PositionsRequest{}
		errs := req.Validate()
		require.Len(t, errs, 1)
		assert.Equal(t, "REQUIRED", errs[0].Code)
	})

	t.Run("valid readings", func(t *testing.T) {
		req := models.PositionsRequest{Positions: []location.Reading{{Lat: 52.1, Lng: 5.1, Timestamp: now}}}
		assert.Empty(t, req.Validate())
	})

	t.Run("missing timestamp", func(t *testing.T) {
		req := models.PositionsRequest{Positions: []location.Reading{{Lat: 52.1, Lng: 5.1}}}
		errs := req.Validate()
		require.Len(t, errs, 1)
		assert.Equal(t, "positions[0].timestamp", errs[0].Field)
	})

	t.Run("error only", func(t *testing.T) {
		req := models.PositionsRequest{Error: &models.ProviderError{Code: location.CodeTimeout}}
		assert.Empty(t, req.Validate())
	})

	t.Run("unknown error code", func(t *testing.T) {
		req := models.PositionsRequest{Error: &models.ProviderError{Code: "BROKEN"}}
		errs := req.Validate()
		require.Len(t, errs, 1)
		assert.Equal(t, "error.code", errs[0].Field)
	})

	t.Run("too many", func(t *testing.T) {
		req := models.PositionsRequest{Positions: make([]location.Reading, models.MaxPositionsPerRequest+1)}
		for i := range req.Positions {
			req.Positions[i] = location.Reading{Timestamp: now}
		}
		errs := req.Validate()
		require.Len(t, errs, 1)
		assert.Equal(t, "TOO_MANY", errs[0].Code)
	})
}
