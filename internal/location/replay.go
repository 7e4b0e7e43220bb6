package location

import (
	"context"
	"fmt"
	"time"

	"github.com/cyclick/cyclick/internal/geo"
	"github.com/cyclick/cyclick/pkg/polyline"
)

// ReplayProvider replays a fixed route, one point per interval. It stands in
// for a device during demos and end-to-end tests.
type ReplayProvider struct {
	route    []geo.Point
	interval time.Duration
	now      func() time.Time
}

// ReplayConfig holds configuration for a ReplayProvider.
type ReplayConfig struct {
	Route []geo.Point

	// Interval between readings. Default: 1 second
	Interval time.Duration

	// Now stamps readings. Default: time.Now
	Now func() time.Time
}

// NewReplayProvider creates a replay provider.
func NewReplayProvider(cfg ReplayConfig) *ReplayProvider {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ReplayProvider{
		route:    cfg.Route,
		interval: cfg.Interval,
		now:      cfg.Now,
	}
}

// NewReplayProviderFromPolyline creates a replay provider from an encoded polyline.
func NewReplayProviderFromPolyline(encoded string, interval time.Duration) (*ReplayProvider, error) {
	coords, err := polyline.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding replay route: %w", err)
	}
	route := make([]geo.Point, 0, len(coords))
	for _, c := range coords {
		route = append(route, geo.Point{Lat: c.Lat, Lng: c.Lng})
	}
	return NewReplayProvider(ReplayConfig{Route: route, Interval: interval}), nil
}

// Open implements Provider. The stream ends after the last point.
func (p *ReplayProvider) Open(ctx context.Context) (<-chan Reading, <-chan ProviderError, error) {
	readings := make(chan Reading)
	errs := make(chan ProviderError)

	go func() {
		defer close(readings)
		defer close(errs)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for i, pt := range p.route {
			if i > 0 {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}

			select {
			case <-ctx.Done():
				return
			case readings <- Reading{Lat: pt.Lat, Lng: pt.Lng, Timestamp: p.now()}:
			}
		}
	}()

	return readings, errs, nil
}
