package location

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Provider is the external position stream. Open starts delivering readings
// until ctx is cancelled; both channels are closed when the stream ends.
type Provider interface {
	Open(ctx context.Context) (<-chan Reading, <-chan ProviderError, error)
}

// SourceConfig holds configuration for a Source.
type SourceConfig struct {
	Provider Provider
	Logger   zerolog.Logger

	// MaxAccuracyMeters drops readings whose reported accuracy radius is
	// larger than this value. Zero disables the filter.
	MaxAccuracyMeters float64
}

// Source adapts a Provider into Sample callbacks and guarantees at most one
// active subscription at a time.
type Source struct {
	provider    Provider
	logger      zerolog.Logger
	maxAccuracy float64

	mu     sync.Mutex
	active *Subscription
}

// NewSource creates a new location source.
func NewSource(cfg SourceConfig) *Source {
	return &Source{
		provider:    cfg.Provider,
		logger:      cfg.Logger,
		maxAccuracy: cfg.MaxAccuracyMeters,
	}
}

// Subscription is the handle of an active stream. Close releases it.
type Subscription struct {
	source *Source
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// Close stops delivery and releases the subscription. It does not wait for a
// callback that is already running; it is safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.source.release(s)
	})
	return nil
}

// Start opens the provider and delivers samples to onSample and non-fatal
// errors to onError, from a goroutine owned by the source.
func (s *Source) Start(onSample func(Sample), onError func(error)) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return nil, ErrAlreadySubscribed
	}

	ctx, cancel := context.WithCancel(context.Background())
	readings, errs, err := s.provider.Open(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opening location provider: %w", err)
	}

	sub := &Subscription{source: s, ctx: ctx, cancel: cancel}
	s.active = sub

	go s.run(sub, readings, errs, onSample, onError)

	return sub, nil
}

// Stop releases the given subscription.
func (s *Source) Stop(sub *Subscription) error {
	if sub == nil {
		return ErrNotSubscribed
	}
	return sub.Close()
}

// Active reports whether a subscription is currently held.
func (s *Source) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

func (s *Source) release(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == sub {
		s.active = nil
	}
}

func (s *Source) run(sub *Subscription, readings <-chan Reading, errs <-chan ProviderError, onSample func(Sample), onError func(error)) {
	for readings != nil || errs != nil {
		select {
		case <-sub.ctx.Done():
			return

		case r, ok := <-readings:
			if !ok {
				readings = nil
				continue
			}
			sample, err := sampleFromReading(r)
			if err != nil {
				s.report(sub, onError, err)
				continue
			}
			if s.maxAccuracy > 0 && sample.Accuracy != nil && *sample.Accuracy > s.maxAccuracy {
				s.logger.Debug().
					Float64("accuracy", *sample.Accuracy).
					Float64("max_accuracy", s.maxAccuracy).
					Msg("dropping low accuracy reading")
				continue
			}
			if sub.ctx.Err() == nil {
				onSample(sample)
			}

		case pe, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			perr := pe
			s.report(sub, onError, &perr)
		}
	}

	// The provider ended the stream on its own. The slot is freed before the
	// error is reported so the callback can start a new subscription.
	if sub.ctx.Err() == nil {
		s.release(sub)
		s.report(sub, onError, ErrStreamEnded)
		_ = sub.Close()
	}
}

func (s *Source) report(sub *Subscription, onError func(error), err error) {
	if sub.ctx.Err() != nil {
		return
	}
	level := s.logger.Warn()
	if errors.Is(err, ErrInvalidReading) {
		level = s.logger.Debug()
	}
	level.Err(err).Msg("location error")
	if onError != nil {
		onError(err)
	}
}
