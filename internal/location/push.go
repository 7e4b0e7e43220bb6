package location

import (
	"context"
	"errors"
	"sync"
)

// ErrFeedFull is returned by Push when the consumer is not keeping up.
var ErrFeedFull = errors.New("location feed buffer full")

// PushProvider is a Provider fed by the device itself, typically through the
// HTTP positions endpoint.
type PushProvider struct {
	buffer int

	mu       sync.Mutex
	readings chan Reading
	errs     chan ProviderError
	done     <-chan struct{}
}

// NewPushProvider creates a push provider with the given channel buffer.
func NewPushProvider(buffer int) *PushProvider {
	if buffer <= 0 {
		buffer = 64
	}
	return &PushProvider{buffer: buffer}
}

// Open implements Provider.
func (p *PushProvider) Open(ctx context.Context) (<-chan Reading, <-chan ProviderError, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.openLocked() {
		return nil, nil, ErrAlreadySubscribed
	}

	readings := make(chan Reading, p.buffer)
	errs := make(chan ProviderError, p.buffer)
	p.readings = readings
	p.errs = errs
	p.done = ctx.Done()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		defer p.mu.Unlock()
		p.closeLocked(readings)
	}()

	return readings, errs, nil
}

// closeLocked ends the stream owning readings if it is still current.
func (p *PushProvider) closeLocked(readings chan Reading) {
	if p.readings != readings {
		return
	}
	close(p.readings)
	close(p.errs)
	p.readings = nil
	p.errs = nil
	p.done = nil
}

// Push delivers readings to the open stream.
func (p *PushProvider) Push(readings ...Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.openLocked() {
		return ErrNotSubscribed
	}
	for _, r := range readings {
		select {
		case p.readings <- r:
		default:
			return ErrFeedFull
		}
	}
	return nil
}

// Fail delivers a provider error to the open stream.
func (p *PushProvider) Fail(code, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.openLocked() {
		return ErrNotSubscribed
	}
	select {
	case p.errs <- ProviderError{Code: code, Message: message}:
		return nil
	default:
		return ErrFeedFull
	}
}

// IsOpen reports whether a consumer is currently attached.
func (p *PushProvider) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openLocked()
}

// openLocked reports whether a live stream exists, ending one whose context
// is already done.
func (p *PushProvider) openLocked() bool {
	if p.readings == nil {
		return false
	}
	select {
	case <-p.done:
		p.closeLocked(p.readings)
		return false
	default:
		return true
	}
}
