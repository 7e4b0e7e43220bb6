package middleware_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclick/cyclick/internal/api/middleware"
	"github.com/cyclick/cyclick/internal/api/models"
	"github.com/cyclick/cyclick/internal/auth"
)

const wallet = "0x52908400098527886e0f7030069857d2e4169ee7"

func testTokens() *auth.TokenService {
	return auth.NewTokenService(auth.TokenConfig{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "https://api.cyclick.app",
		Audience:   "cyclick-api",
	})
}

func serveAuth(t *testing.T, authHeader string) (*httptest.ResponseRecorder, string, bool) {
	t.Helper()
	var gotWallet string
	called := false
	h := middleware.Auth(testTokens())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		gotWallet = middleware.GetWallet(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/ride/start", http.NoBody)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, gotWallet, called
}

func TestAuth_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
		detail string
	}{
		{"missing header", "", "missing authorization header"},
		{"basic scheme", "Basic dXNlcjpwYXNz", "invalid authorization header format"},
		{"empty token", "Bearer ", "missing bearer token"},
		{"garbage token", "Bearer abc.def.ghi", "invalid wallet token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _, called := serveAuth(t, tt.header)

			assert.False(t, called)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

			var p models.Problem
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
			assert.Equal(t, tt.detail, p.Detail)
			assert.Equal(t, "/v1/ride/start", p.Instance)
		})
	}
}

func TestAuth_ExpiredToken(t *testing.T) {
	past := time.Now().Add(-24 * time.Hour)
	issuer := auth.NewTokenService(auth.TokenConfig{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "https://api.cyclick.app",
		Audience:   "cyclick-api",
		Expiry:     time.Hour,
		Now:        func() time.Time { return past },
	})
	token, _, err := issuer.Issue(wallet)
	require.NoError(t, err)

	rec, _, called := serveAuth(t, "Bearer "+token)
	assert.False(t, called)
	assert.Contains(t, rec.Body.String(), "wallet token has expired")
}

func TestAuth_ValidToken(t *testing.T) {
	token, _, err := testTokens().Issue(wallet)
	require.NoError(t, err)

	for _, prefix := range []string{"Bearer ", "bearer ", "BEARER "} {
		rec, got, called := serveAuth(t, prefix+token)
		assert.True(t, called)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, wallet, got)
	}
}

func TestAuth_WalletVisibleToOuterMiddleware(t *testing.T) {
	token, _, err := testTokens().Issue(wallet)
	require.NoError(t, err)

	var outer string
	inner := middleware.Auth(testTokens())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner.ServeHTTP(w, r)
		outer = middleware.GetWallet(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, wallet, outer)
}

func TestGetWallet_Anonymous(t *testing.T) {
	assert.Empty(t, middleware.GetWallet(context.Background()))
	assert.Equal(t, wallet, middleware.GetWallet(middleware.WithWallet(context.Background(), wallet)))
}
