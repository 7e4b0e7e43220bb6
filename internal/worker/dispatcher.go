package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyclick/cyclick/internal/kvstore"
	"github.com/cyclick/cyclick/internal/notify"
)

// ErrMalformedEvent is returned for messages that can never be delivered.
var ErrMalformedEvent = errors.New("malformed notification event")

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Sinks  []Sink
	Logger zerolog.Logger

	// Delivered remembers delivered event ids so redelivered messages are
	// not sent twice. Optional.
	Delivered kvstore.Store

	// DedupeTTL is how long a delivered id is honoured. Default: 24h.
	DedupeTTL time.Duration

	Now func() time.Time
}

// Dispatcher delivers notification events to every sink. An event is
// delivered to each sink at most once per successful dispatch; a failed
// sink makes the whole dispatch fail so the message is redelivered.
type Dispatcher struct {
	sinks     []Sink
	delivered kvstore.Store
	ttl       time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		sinks:     cfg.Sinks,
		delivered: cfg.Delivered,
		ttl:       cfg.DedupeTTL,
		logger:    cfg.Logger.With().Str("component", "dispatcher").Logger(),
		now:       cfg.Now,
	}
}

// DispatchResult summarizes one dispatch.
type DispatchResult struct {
	EventID   string
	Duplicate bool
	Delivered []string
	Failed    map[string]error
}

// Decode parses a Pub/Sub payload into an event.
func Decode(data []byte) (notify.Event, error) {
	var e notify.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return notify.Event{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if e.ID == "" || e.Kind == "" {
		return notify.Event{}, fmt.Errorf("%w: missing id or kind", ErrMalformedEvent)
	}
	return e, nil
}

// Dispatch delivers e to every sink. It returns an error when any sink
// failed; sinks that succeeded are remembered and skipped on retry.
func (d *Dispatcher) Dispatch(ctx context.Context, e notify.Event) (*DispatchResult, error) {
	result := &DispatchResult{EventID: e.ID, Failed: map[string]error{}}

	pending := make([]Sink, 0, len(d.sinks))
	for _, s := range d.sinks {
		if d.seen(ctx, e.ID, s.Name()) {
			continue
		}
		pending = append(pending, s)
	}
	if len(pending) == 0 && len(d.sinks) > 0 {
		result.Duplicate = true
		return result, nil
	}

	type outcome struct {
		sink string
		err  error
	}
	outcomes := make(chan outcome, len(pending))
	for _, s := range pending {
		go func(s Sink) {
			outcomes <- outcome{sink: s.Name(), err: s.Deliver(ctx, e)}
		}(s)
	}

	for range pending {
		o := <-outcomes
		if o.err != nil {
			result.Failed[o.sink] = o.err
			continue
		}
		result.Delivered = append(result.Delivered, o.sink)
		d.remember(ctx, e.ID, o.sink)
	}

	if len(result.Failed) > 0 {
		errs := make([]error, 0, len(result.Failed))
		for name, err := range result.Failed {
			errs = append(errs, fmt.Errorf("sink %s: %w", name, err))
		}
		return result, errors.Join(errs...)
	}
	return result, nil
}

func dedupeKey(eventID, sink string) string {
	return "delivered:" + sink + ":" + eventID
}

func (d *Dispatcher) seen(ctx context.Context, eventID, sink string) bool {
	if d.delivered == nil {
		return false
	}
	v, err := d.delivered.Get(ctx, dedupeKey(eventID, sink))
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			d.logger.Warn().Err(err).Str("event_id", eventID).Msg("dedupe lookup failed")
		}
		return false
	}
	at, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return false
	}
	return d.now().Sub(time.Unix(at, 0)) < d.ttl
}

func (d *Dispatcher) remember(ctx context.Context, eventID, sink string) {
	if d.delivered == nil {
		return
	}
	at := strconv.FormatInt(d.now().Unix(), 10)
	if err := d.delivered.Set(ctx, dedupeKey(eventID, sink), at); err != nil {
		d.logger.Warn().Err(err).Str("event_id", eventID).Str("sink", sink).Msg("failed to record delivery")
	}
}
