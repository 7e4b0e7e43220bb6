package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/cyclick/cyclick/internal/ledger"

// ClientConfig configures a Client.
type ClientConfig struct {
	Ledger Ledger
	Logger zerolog.Logger

	// Timeout bounds a single ledger call. Zero means no bound.
	Timeout time.Duration

	Now func() time.Time
}

// Client owns the submission records and serializes ledger calls per ride.
type Client struct {
	ledger  Ledger
	logger  zerolog.Logger
	timeout time.Duration
	now     func() time.Time

	tracer   trace.Tracer
	total    metric.Int64Counter
	duration metric.Float64Histogram

	mu      sync.Mutex
	records map[string]*Record
	wg      sync.WaitGroup
}

// NewClient creates a ledger client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("ledger: collaborator is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	meter := otel.Meter(instrumentationName)
	total, err := meter.Int64Counter(
		"ledger.operation.total",
		metric.WithDescription("Ledger operations by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"ledger.operation.duration",
		metric.WithDescription("Time from dispatch to confirmation of ledger operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Client{
		ledger:   cfg.Ledger,
		logger:   cfg.Logger.With().Str("component", "ledger").Logger(),
		timeout:  cfg.Timeout,
		now:      cfg.Now,
		tracer:   otel.Tracer(instrumentationName),
		total:    total,
		duration: duration,
		records:  make(map[string]*Record),
	}, nil
}

// Submit records the ride on the ledger. The returned handle settles when the
// transaction is confirmed or rejected.
func (c *Client) Submit(ctx context.Context, s Submission) (*Pending, error) {
	if s.RideID == "" {
		return nil, fmt.Errorf("%w: ride id is required", ErrInvalidSubmission)
	}

	prepare := func(rec *Record) error {
		switch {
		case rec.Phase.InFlight():
			return ErrOperationInFlight
		case rec.Phase == PhaseSubmitted, rec.Phase == PhaseVerified,
			rec.Phase == PhaseFailed && rec.FailedOperation == OpVerify:
			return ErrAlreadySubmitted
		case rec.Archived:
			return ErrAlreadySubmitted
		}
		rec.Wallet = s.Wallet
		rec.DistanceMeters = s.DistanceMeters
		rec.DurationSeconds = s.DurationSeconds
		rec.CarbonOffsetGrams = s.CarbonOffsetGrams
		return nil
	}

	return c.dispatch(ctx, OpSubmit, s.RideID, true, prepare, func(ctx context.Context) (Receipt, error) {
		return c.ledger.SubmitRide(ctx, s)
	})
}

// Verify confirms a submitted ride. It fails with ErrSequencingViolation,
// without contacting the ledger, unless the ride is submitted or its last
// verification failed.
func (c *Client) Verify(ctx context.Context, rideID string) (*Pending, error) {
	prepare := func(rec *Record) error {
		switch {
		case rec.Phase.InFlight():
			return ErrOperationInFlight
		case rec.Archived:
			return ErrSequencingViolation
		case rec.Phase == PhaseSubmitted,
			rec.Phase == PhaseFailed && rec.FailedOperation == OpVerify:
			return nil
		}
		return ErrSequencingViolation
	}

	return c.dispatch(ctx, OpVerify, rideID, false, prepare, func(ctx context.Context) (Receipt, error) {
		return c.ledger.VerifyRide(ctx, rideID)
	})
}

func (c *Client) dispatch(
	ctx context.Context,
	op Operation,
	rideID string,
	create bool,
	prepare func(*Record) error,
	call func(context.Context) (Receipt, error),
) (*Pending, error) {
	c.mu.Lock()
	rec, ok := c.records[rideID]
	if !ok {
		if !create {
			c.mu.Unlock()
			return nil, ErrSequencingViolation
		}
		rec = &Record{RideID: rideID, Phase: PhaseUnsubmitted}
	}
	if err := prepare(rec); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	if op == OpSubmit {
		rec.Phase = PhaseSubmitting
	} else {
		rec.Phase = PhaseVerifying
	}
	rec.FailedOperation = ""
	rec.FailureReason = ""
	rec.UpdatedAt = c.now()
	c.records[rideID] = rec
	c.mu.Unlock()

	pending := newPending(rideID, op)

	// The call outlives the caller's request.
	runCtx := context.WithoutCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		receipt, err := c.run(runCtx, op, rideID, call)
		pending.complete(receipt, err)
	}()

	c.logger.Info().
		Str("ride_id", rideID).
		Str("operation", string(op)).
		Msg("ledger operation dispatched")

	return pending, nil
}

func (c *Client) run(ctx context.Context, op Operation, rideID string, call func(context.Context) (Receipt, error)) (Receipt, error) {
	ctx, span := c.tracer.Start(ctx, "ledger."+string(op),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("ledger.ride_id", rideID),
			attribute.String("ledger.operation", string(op)),
		),
	)
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	receipt, err := call(ctx)
	elapsed := time.Since(start)

	if err == nil && receipt.TxHash == "" {
		err = errors.New("ledger returned no transaction hash")
	}

	c.mu.Lock()
	rec := c.records[rideID]
	rec.UpdatedAt = c.now()
	if err != nil {
		rec.Phase = PhaseFailed
		rec.FailedOperation = op
		rec.FailureReason = err.Error()
	} else if op == OpSubmit {
		rec.Phase = PhaseSubmitted
		rec.SubmitTx = receipt.TxHash
	} else {
		rec.Phase = PhaseVerified
		rec.VerifyTx = receipt.TxHash
	}
	c.mu.Unlock()

	outcome := "confirmed"
	if err != nil {
		outcome = "failed"
	}
	attrs := metric.WithAttributes(
		attribute.String("ledger.operation", string(op)),
		attribute.String("ledger.outcome", outcome),
	)
	c.total.Add(context.Background(), 1, attrs)
	c.duration.Record(context.Background(), elapsed.Seconds(), attrs)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn().
			Err(err).
			Str("ride_id", rideID).
			Str("operation", string(op)).
			Dur("elapsed", elapsed).
			Msg("ledger operation failed")
		return Receipt{}, &OperationError{Op: op, RideID: rideID, Reason: err.Error(), Err: err}
	}

	span.SetAttributes(attribute.String("ledger.tx_hash", receipt.TxHash))
	c.logger.Info().
		Str("ride_id", rideID).
		Str("operation", string(op)).
		Str("tx_hash", receipt.TxHash).
		Dur("elapsed", elapsed).
		Msg("ledger operation confirmed")

	receipt.RideID = rideID
	receipt.Op = op
	if receipt.ConfirmedAt.IsZero() {
		receipt.ConfirmedAt = c.now()
	}
	return receipt, nil
}

// Record returns a copy of the record for rideID, archived or not.
func (c *Client) Record(rideID string) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[rideID]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return *rec, nil
}

// Records returns copies of all records, most recently updated first.
func (c *Client) Records() []Record {
	c.mu.Lock()
	out := make([]Record, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, *rec)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].RideID < out[j].RideID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Archive closes the record of a verified or abandoned ride. Archived
// records accept no further operations.
func (c *Client) Archive(rideID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[rideID]
	if !ok {
		return ErrRecordNotFound
	}
	if rec.Phase != PhaseVerified && rec.Phase != PhaseFailed {
		return ErrNotArchivable
	}
	rec.Archived = true
	rec.UpdatedAt = c.now()
	return nil
}

// Wait blocks until every dispatched operation has settled.
func (c *Client) Wait() {
	c.wg.Wait()
}
