package achievement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyclick/cyclick/internal/kvstore"
)

// Storage keys.
const (
	KeyTotalRides    = "totalRides"
	KeyTotalDistance = "totalDistanceMeters"
	KeyTotalCarbon   = "totalCarbonGrams"
	KeyBadges        = "badges"

	challengeKeyPrefix = "challenge:"
)

// Stats are the lifetime totals over verified rides.
type Stats struct {
	TotalRides          int64    `json:"totalRides"`
	TotalDistanceMeters float64  `json:"totalDistanceMeters"`
	TotalCarbonGrams    int64    `json:"totalCarbonGrams"`
	Badges              []string `json:"badges"`
}

// Ride is a verified ride's frozen metrics.
type Ride struct {
	DistanceMeters    float64
	DurationSeconds   int64
	AverageSpeedKmh   float64
	CarbonOffsetGrams int64
	VerifiedAt        time.Time
}

// Result describes what a ride changed.
type Result struct {
	Stats      Stats
	Badges     []Badge
	Challenges []Challenge
}

// ChallengeStatus is a challenge's state in the current period.
type ChallengeStatus struct {
	Challenge
	Progress  float64   `json:"progress"`
	Completed bool      `json:"completed"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	KV       kvstore.Store
	Logger   zerolog.Logger
	Location *time.Location
}

// Service evaluates achievements. Updates are serialized.
type Service struct {
	kv     kvstore.Store
	logger zerolog.Logger
	loc    *time.Location
	mu     sync.Mutex
}

// NewService creates an achievement service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Service{kv: cfg.KV, logger: cfg.Logger, loc: cfg.Location}
}

// Stats reads the lifetime totals.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadStats(ctx)
}

// Challenges reports progress on every challenge for the period containing now.
func (s *Service) Challenges(ctx context.Context, now time.Time) ([]ChallengeStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ChallengeStatus, 0, len(Challenges))
	for _, c := range Challenges {
		st, err := s.loadChallenge(ctx, c, now)
		if err != nil {
			return nil, err
		}
		out = append(out, ChallengeStatus{
			Challenge: c,
			Progress:  st.progress,
			Completed: st.done,
			ExpiresAt: s.periodEnd(c.Period, now),
		})
	}
	return out, nil
}

// RecordRide adds a verified ride to the totals and returns the badges and
// challenges it unlocked. Each badge unlocks once; each challenge completes
// at most once per period.
func (s *Service) RecordRide(ctx context.Context, ride Ride) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, err := s.loadStats(ctx)
	if err != nil {
		return Result{}, err
	}

	stats.TotalRides++
	stats.TotalDistanceMeters += ride.DistanceMeters
	stats.TotalCarbonGrams += ride.CarbonOffsetGrams

	var result Result
	owned := make(map[string]bool, len(stats.Badges))
	for _, id := range stats.Badges {
		owned[id] = true
	}
	for _, b := range Badges {
		if !owned[b.ID] && b.earned(stats) {
			stats.Badges = append(stats.Badges, b.ID)
			result.Badges = append(result.Badges, b)
		}
	}

	writes := map[string]string{
		KeyTotalRides:    strconv.FormatInt(stats.TotalRides, 10),
		KeyTotalDistance: strconv.FormatFloat(stats.TotalDistanceMeters, 'f', 2, 64),
		KeyTotalCarbon:   strconv.FormatInt(stats.TotalCarbonGrams, 10),
		KeyBadges:        strings.Join(stats.Badges, ","),
	}

	for _, c := range Challenges {
		st, err := s.loadChallenge(ctx, c, ride.VerifiedAt)
		if err != nil {
			return Result{}, err
		}
		v := c.measure(ride)
		if c.accumulates {
			st.progress += v
		} else {
			st.progress = math.Max(st.progress, v)
		}
		if !st.done && st.progress >= c.Target {
			st.done = true
			result.Challenges = append(result.Challenges, c)
		}
		writes[challengeKeyPrefix+c.ID] = st.encode()
	}

	if err := s.kv.SetMulti(ctx, writes); err != nil {
		return Result{}, fmt.Errorf("persist rider stats: %w", err)
	}

	result.Stats = stats

	for _, b := range result.Badges {
		s.logger.Info().Str("badge", b.ID).Msg("badge unlocked")
	}
	for _, c := range result.Challenges {
		s.logger.Info().Str("challenge", c.ID).Msg("challenge completed")
	}

	return result, nil
}

func (s *Service) loadStats(ctx context.Context) (Stats, error) {
	var stats Stats

	values := make(map[string]string, 4)
	for _, key := range []string{KeyTotalRides, KeyTotalDistance, KeyTotalCarbon, KeyBadges} {
		v, err := kvstore.GetOrDefault(ctx, s.kv, key, "")
		if err != nil {
			return stats, fmt.Errorf("read %s: %w", key, err)
		}
		values[key] = v
	}

	stats.TotalRides = parseInt(values[KeyTotalRides])
	stats.TotalCarbonGrams = parseInt(values[KeyTotalCarbon])
	if d, err := strconv.ParseFloat(values[KeyTotalDistance], 64); err == nil && d > 0 {
		stats.TotalDistanceMeters = d
	}
	stats.Badges = []string{}
	if values[KeyBadges] != "" {
		stats.Badges = strings.Split(values[KeyBadges], ",")
	}
	return stats, nil
}

type challengeState struct {
	period   string
	progress float64
	done     bool
}

func (st challengeState) encode() string {
	done := "0"
	if st.done {
		done = "1"
	}
	return st.period + "|" + strconv.FormatFloat(st.progress, 'f', -1, 64) + "|" + done
}

// loadChallenge returns the state for the period containing at, starting
// fresh when the stored state belongs to an earlier period.
func (s *Service) loadChallenge(ctx context.Context, c Challenge, at time.Time) (challengeState, error) {
	current := challengeState{period: s.periodKey(c.Period, at)}

	raw, err := s.kv.Get(ctx, challengeKeyPrefix+c.ID)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		return current, nil
	case err != nil:
		return current, fmt.Errorf("read challenge %s: %w", c.ID, err)
	}

	parts := strings.Split(raw, "|")
	if len(parts) != 3 || parts[0] != current.period {
		return current, nil
	}
	progress, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		s.logger.Warn().
			Str("challenge", c.ID).
			Str("value", raw).
			Msg("ignoring malformed challenge progress")
		return current, nil
	}
	current.progress = progress
	current.done = parts[2] == "1"
	return current, nil
}

func (s *Service) periodKey(p Period, at time.Time) string {
	at = at.In(s.loc)
	switch p {
	case Weekly:
		year, week := at.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case Monthly:
		return at.Format("2006-01")
	default:
		return at.Format(time.DateOnly)
	}
}

func (s *Service) periodEnd(p Period, at time.Time) time.Time {
	at = at.In(s.loc)
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, s.loc)
	switch p {
	case Weekly:
		offset := (int(time.Sunday-day.Weekday()) + 7) % 7
		return day.AddDate(0, 0, offset+1)
	case Monthly:
		return time.Date(at.Year(), at.Month()+1, 1, 0, 0, 0, 0, s.loc)
	default:
		return day.AddDate(0, 0, 1)
	}
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
