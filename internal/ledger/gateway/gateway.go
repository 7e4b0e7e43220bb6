// Package gateway implements ledger.Ledger against a transaction relayer's
// HTTP API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/cyclick/cyclick/internal/ledger"
	"github.com/cyclick/cyclick/internal/provider/resilience"
)

// Transaction statuses reported by the relayer.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusReverted  = "reverted"
)

// Gateway errors.
var (
	ErrReverted          = errors.New("transaction reverted")
	ErrConfirmationLimit = errors.New("transaction not confirmed in time")
)

// Config configures a Gateway.
type Config struct {
	BaseURL string
	APIKey  string

	// PollInterval is the initial delay between receipt polls.
	PollInterval time.Duration
	// MaxPollInterval caps the poll backoff.
	MaxPollInterval time.Duration
	// ConfirmTimeout bounds how long a transaction may stay pending.
	ConfirmTimeout time.Duration

	Client *resilience.Client
	Logger zerolog.Logger
}

// ConfigFromEnv reads LEDGER_GATEWAY_URL and LEDGER_GATEWAY_API_KEY.
func ConfigFromEnv() Config {
	return Config{
		BaseURL: os.Getenv("LEDGER_GATEWAY_URL"),
		APIKey:  os.Getenv("LEDGER_GATEWAY_API_KEY"),
	}
}

// Gateway submits and verifies rides through the relayer, then polls until
// each transaction is mined.
type Gateway struct {
	base            *url.URL
	apiKey          string
	pollInterval    time.Duration
	maxPollInterval time.Duration
	confirmTimeout  time.Duration
	client          *resilience.Client
	logger          zerolog.Logger
}

// New creates a Gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("gateway: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("gateway: parse base URL: %w", err)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaxPollInterval == 0 {
		cfg.MaxPollInterval = 5 * time.Second
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.Client == nil {
		cfg.Client = resilience.NewClient(resilience.DefaultClientConfig("ledger-gateway"))
	}

	return &Gateway{
		base:            base,
		apiKey:          cfg.APIKey,
		pollInterval:    cfg.PollInterval,
		maxPollInterval: cfg.MaxPollInterval,
		confirmTimeout:  cfg.ConfirmTimeout,
		client:          cfg.Client,
		logger:          cfg.Logger.With().Str("component", "ledger-gateway").Logger(),
	}, nil
}

type submitRequest struct {
	Wallet            string `json:"wallet"`
	DistanceMeters    int64  `json:"distanceMeters"`
	DurationSeconds   int64  `json:"durationSeconds"`
	CarbonOffsetGrams int64  `json:"carbonOffsetGrams"`
}

type txResponse struct {
	TxHash string `json:"txHash"`
}

type txStatus struct {
	Hash        string    `json:"hash"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// SubmitRide implements ledger.Ledger.
func (g *Gateway) SubmitRide(ctx context.Context, s ledger.Submission) (ledger.Receipt, error) {
	body, err := json.Marshal(submitRequest{
		Wallet:            s.Wallet,
		DistanceMeters:    s.DistanceMeters,
		DurationSeconds:   s.DurationSeconds,
		CarbonOffsetGrams: s.CarbonOffsetGrams,
	})
	if err != nil {
		return ledger.Receipt{}, err
	}
	return g.send(ctx, ledger.OpSubmit, s.RideID, body)
}

// VerifyRide implements ledger.Ledger.
func (g *Gateway) VerifyRide(ctx context.Context, rideID string) (ledger.Receipt, error) {
	return g.send(ctx, ledger.OpVerify, rideID, []byte(`{}`))
}

func (g *Gateway) send(ctx context.Context, op ledger.Operation, rideID string, body []byte) (ledger.Receipt, error) {
	endpoint := g.endpoint("v1", "rides", rideID+":"+string(op))

	var tx txResponse
	if err := g.do(ctx, http.MethodPost, endpoint, body, &tx); err != nil {
		return ledger.Receipt{}, err
	}
	if tx.TxHash == "" {
		return ledger.Receipt{}, errors.New("relayer returned no transaction hash")
	}

	g.logger.Debug().
		Str("ride_id", rideID).
		Str("operation", string(op)).
		Str("tx_hash", tx.TxHash).
		Msg("transaction broadcast")

	status, err := g.awaitConfirmation(ctx, tx.TxHash)
	if err != nil {
		return ledger.Receipt{}, err
	}

	return ledger.Receipt{
		RideID:      rideID,
		Op:          op,
		TxHash:      tx.TxHash,
		ConfirmedAt: status.ConfirmedAt,
	}, nil
}

func (g *Gateway) awaitConfirmation(ctx context.Context, hash string) (txStatus, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.pollInterval
	bo.MaxInterval = g.maxPollInterval
	bo.MaxElapsedTime = g.confirmTimeout

	endpoint := g.endpoint("v1", "transactions", hash)

	var status txStatus
	poll := func() error {
		var s txStatus
		if err := g.do(ctx, http.MethodGet, endpoint, nil, &s); err != nil {
			return backoff.Permanent(err)
		}
		switch s.Status {
		case StatusConfirmed:
			status = s
			return nil
		case StatusReverted:
			if s.Reason != "" {
				return backoff.Permanent(fmt.Errorf("%w: %s", ErrReverted, s.Reason))
			}
			return backoff.Permanent(ErrReverted)
		default:
			return ErrConfirmationLimit
		}
	}

	if err := backoff.Retry(poll, backoff.WithContext(bo, ctx)); err != nil {
		return txStatus{}, err
	}
	return status, nil
}

func (g *Gateway) endpoint(segments ...string) string {
	u := *g.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(segments, "/")
	return u.String()
}

func (g *Gateway) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	build := func(ctx context.Context) (*http.Request, error) {
		var reader io.Reader = http.NoBody
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if g.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.apiKey)
		}
		return req, nil
	}

	resp, err := g.client.Do(ctx, build)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
			return errors.New(e.Error)
		}
		return fmt.Errorf("relayer returned %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode relayer response: %w", err)
	}
	return nil
}

// Ensure Gateway implements ledger.Ledger interface.
var _ ledger.Ledger = (*Gateway)(nil)
