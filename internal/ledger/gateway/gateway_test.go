package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclick/cyclick/internal/ledger"
	"github.com/cyclick/cyclick/internal/ledger/gateway"
	"github.com/cyclick/cyclick/internal/provider/resilience"
)

const rideID = "0x00000000000000000000000000000000000000000000000000000000abc123"

// relayer is a fake transaction relayer.
type relayer struct {
	mu          sync.Mutex
	submissions map[string]map[string]any
	pollsLeft   atomic.Int32
	revert      string
	reject      string
	auth        string
}

func newRelayer() *relayer {
	return &relayer{submissions: make(map[string]map[string]any)}
}

func (r *relayer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	r.auth = req.Header.Get("Authorization")
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch {
	case req.Method == http.MethodPost && strings.HasPrefix(req.URL.Path, "/v1/rides/"):
		if r.reject != "" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": r.reject})
			return
		}
		target := strings.TrimPrefix(req.URL.Path, "/v1/rides/")
		id, op, _ := strings.Cut(target, ":")
		var body map[string]any
		_ = json.NewDecoder(req.Body).Decode(&body)
		r.mu.Lock()
		r.submissions[id+":"+op] = body
		r.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"txHash": "0xtx-" + op})

	case req.Method == http.MethodGet && strings.HasPrefix(req.URL.Path, "/v1/transactions/"):
		hash := strings.TrimPrefix(req.URL.Path, "/v1/transactions/")
		status := map[string]any{"hash": hash, "status": gateway.StatusPending}
		if r.pollsLeft.Add(-1) < 0 {
			status["status"] = gateway.StatusConfirmed
			status["confirmedAt"] = "2026-10-19T08:00:00Z"
			if r.revert != "" {
				status["status"] = gateway.StatusReverted
				status["reason"] = r.revert
			}
		}
		_ = json.NewEncoder(w).Encode(status)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newGateway(t *testing.T, url string) *gateway.Gateway {
	t.Helper()
	client := resilience.NewClient(resilience.ClientConfig{
		Name:            "test-gateway",
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	})
	g, err := gateway.New(gateway.Config{
		BaseURL:         url + "/",
		APIKey:          "secret",
		PollInterval:    time.Millisecond,
		MaxPollInterval: 5 * time.Millisecond,
		ConfirmTimeout:  time.Second,
		Client:          client,
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)
	return g
}

func TestGateway_SubmitPollsUntilConfirmed(t *testing.T) {
	fake := newRelayer()
	fake.pollsLeft.Store(2)
	server := httptest.NewServer(fake)
	defer server.Close()

	g := newGateway(t, server.URL)

	receipt, err := g.SubmitRide(context.Background(), ledger.Submission{
		RideID:            rideID,
		Wallet:            "0xwallet",
		DistanceMeters:    1500,
		DurationSeconds:   420,
		CarbonOffsetGrams: 300,
	})
	require.NoError(t, err)
	assert.Equal(t, "0xtx-submit", receipt.TxHash)
	assert.Equal(t, rideID, receipt.RideID)
	assert.Equal(t, ledger.OpSubmit, receipt.Op)
	assert.Equal(t, 2026, receipt.ConfirmedAt.Year())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	body := fake.submissions[rideID+":submit"]
	require.NotNil(t, body)
	assert.InDelta(t, 1500, body["distanceMeters"], 0)
	assert.InDelta(t, 300, body["carbonOffsetGrams"], 0)
	assert.Equal(t, "0xwallet", body["wallet"])
	assert.Equal(t, "Bearer secret", fake.auth)
}

func TestGateway_Verify(t *testing.T) {
	fake := newRelayer()
	server := httptest.NewServer(fake)
	defer server.Close()

	receipt, err := newGateway(t, server.URL).VerifyRide(context.Background(), rideID)
	require.NoError(t, err)
	assert.Equal(t, "0xtx-verify", receipt.TxHash)
	assert.Equal(t, ledger.OpVerify, receipt.Op)
}

func TestGateway_RejectionCarriesReason(t *testing.T) {
	fake := newRelayer()
	fake.reject = "ride already submitted"
	server := httptest.NewServer(fake)
	defer server.Close()

	_, err := newGateway(t, server.URL).SubmitRide(context.Background(), ledger.Submission{RideID: rideID})
	require.Error(t, err)
	assert.Equal(t, "ride already submitted", err.Error())
}

func TestGateway_Reverted(t *testing.T) {
	fake := newRelayer()
	fake.revert = "ride not submitted"
	server := httptest.NewServer(fake)
	defer server.Close()

	_, err := newGateway(t, server.URL).VerifyRide(context.Background(), rideID)
	assert.ErrorIs(t, err, gateway.ErrReverted)
	assert.Contains(t, err.Error(), "ride not submitted")
}

func TestGateway_ConfirmationTimeout(t *testing.T) {
	fake := newRelayer()
	fake.pollsLeft.Store(1 << 20)
	server := httptest.NewServer(fake)
	defer server.Close()

	client := resilience.NewClient(resilience.DefaultClientConfig("timeout"))
	g, err := gateway.New(gateway.Config{
		BaseURL:         server.URL,
		PollInterval:    time.Millisecond,
		MaxPollInterval: 2 * time.Millisecond,
		ConfirmTimeout:  30 * time.Millisecond,
		Client:          client,
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)

	_, err = g.VerifyRide(context.Background(), rideID)
	assert.ErrorIs(t, err, gateway.ErrConfirmationLimit)
}

func TestGateway_WithLedgerClient(t *testing.T) {
	fake := newRelayer()
	server := httptest.NewServer(fake)
	defer server.Close()

	client, err := ledger.NewClient(ledger.ClientConfig{
		Ledger: newGateway(t, server.URL),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	p, err := client.Submit(context.Background(), ledger.Submission{RideID: rideID, DistanceMeters: 1000})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = p.Wait(ctx)
	require.NoError(t, err)

	rec, err := client.Record(rideID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PhaseSubmitted, rec.Phase)
	assert.Equal(t, "0xtx-submit", rec.SubmitTx)
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := gateway.New(gateway.Config{})
	assert.Error(t, err)
}
