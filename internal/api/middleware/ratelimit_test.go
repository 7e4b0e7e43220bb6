package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cyclick/cyclick/internal/api/middleware"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRateLimitByIP_Exceeded(t *testing.T) {
	cfg := middleware.RateLimitConfig{RequestLimit: 2, WindowLength: time.Minute}
	h := middleware.RateLimitByIP(cfg)(http.HandlerFunc(okHandler))

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/wallet/connect", http.NoBody)
		req.RemoteAddr = "203.0.113.7:5000"
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}

	assert.Equal(t, []int{200, 200, 429}, codes)
	assert.Equal(t, "60", last.Header().Get("Retry-After"))
	assert.Equal(t, "application/problem+json", last.Header().Get("Content-Type"))
	assert.Contains(t, last.Body.String(), "Rate limit exceeded")
}

func TestRateLimitByWallet_SeparateBuckets(t *testing.T) {
	cfg := middleware.RateLimitConfig{RequestLimit: 1, WindowLength: time.Minute}
	h := middleware.RateLimitByWallet(cfg)(http.HandlerFunc(okHandler))

	send := func(wallet string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/ride/positions", http.NoBody)
		req.RemoteAddr = "198.51.100.1:4000"
		req = req.WithContext(middleware.WithWallet(req.Context(), wallet))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	other := "0x0000000000000000000000000000000000000001"
	assert.Equal(t, http.StatusOK, send(wallet))
	assert.Equal(t, http.StatusTooManyRequests, send(wallet))
	assert.Equal(t, http.StatusOK, send(other))
}
