package ride

import (
	"time"

	"github.com/cyclick/cyclick/internal/geo"
	"github.com/cyclick/cyclick/internal/location"
)

// session holds one ride's samples and metrics. It is owned by the tracker
// loop and never shared.
type session struct {
	id       string
	ledgerID string
	wallet   string

	startedAt time.Time
	stoppedAt time.Time

	// active time is accumulated across resumes.
	activeSince time.Time
	accumulated time.Duration
	running     bool

	track   []TrackPoint
	anchor  *location.Sample
	metrics Metrics
}

func newSession(id, ledgerID, wallet string, now time.Time) *session {
	return &session{
		id:          id,
		ledgerID:    ledgerID,
		wallet:      wallet,
		startedAt:   now,
		activeSince: now,
		running:     true,
	}
}

// addSample appends s and updates distance, speeds and elevation against
// the previous sample. A sample that is not later than its predecessor adds
// distance but reports zero speed.
func (s *session) addSample(sample location.Sample) {
	point := TrackPoint{Sample: sample}

	if prev := s.anchor; prev != nil {
		step := geo.Distance(prev.Point, sample.Point)
		speed := geo.SpeedKmh(prev.Point, sample.Point, prev.CapturedAt, sample.CapturedAt)

		s.metrics.DistanceMeters += step
		s.metrics.CurrentSpeedKmh = speed
		if speed > s.metrics.MaxSpeedKmh {
			s.metrics.MaxSpeedKmh = speed
		}
		point.SpeedKmh = speed

		if prev.Altitude != nil && sample.Altitude != nil {
			if gain := *sample.Altitude - *prev.Altitude; gain > 0 {
				s.metrics.ElevationGainMeters += gain
			}
		}
	}

	if sample.Altitude != nil {
		alt := *sample.Altitude
		s.metrics.ElevationMeters = &alt
	}

	point.DistanceMeters = s.metrics.DistanceMeters
	s.track = append(s.track, point)
	anchor := sample
	s.anchor = &anchor
	s.recomputeAverage()
}

func (s *session) tick(now time.Time) {
	if !s.running {
		return
	}
	s.metrics.DurationSeconds = int64((s.accumulated + now.Sub(s.activeSince)).Seconds())
	s.recomputeAverage()
}

func (s *session) stop(now time.Time) {
	s.tick(now)
	s.accumulated += now.Sub(s.activeSince)
	s.running = false
	s.stoppedAt = now
	s.metrics.CurrentSpeedKmh = 0
}

// resume restarts the clock. The first sample after resuming becomes the
// new anchor so the untracked gap adds no distance.
func (s *session) resume(now time.Time) {
	s.activeSince = now
	s.running = true
	s.stoppedAt = time.Time{}
	s.anchor = nil
}

func (s *session) recomputeAverage() {
	s.metrics.AverageSpeedKmh = geo.AverageSpeedKmh(s.metrics.DistanceMeters, s.metrics.DurationSeconds)
}

// snapshotMetrics returns a copy with the carbon offset derived from the
// current distance.
func (s *session) snapshotMetrics() Metrics {
	m := s.metrics
	if m.ElevationMeters != nil {
		alt := *m.ElevationMeters
		m.ElevationMeters = &alt
	}
	m.CarbonOffsetGrams = geo.CarbonOffsetGrams(m.DistanceMeters)
	return m
}

// trackView returns the track capped so appends by the owner never alias it.
func (s *session) trackView() []TrackPoint {
	return s.track[:len(s.track):len(s.track)]
}
