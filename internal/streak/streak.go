// Package streak keeps the consecutive-day ride counter.
package streak

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyclick/cyclick/internal/kvstore"
)

// Storage keys.
const (
	KeyLastRideDate = "lastRideDate"
	KeyStreak       = "rideStreak"
)

// DateLayout is the calendar date format persisted under KeyLastRideDate.
const DateLayout = time.DateOnly

// Record is the persisted streak state.
type Record struct {
	LastRideDate *time.Time `json:"lastRideDate,omitempty"`
	CurrentDays  int        `json:"currentStreakDays"`
}

// Store counts consecutive calendar days with a verified ride.
type Store struct {
	kv     kvstore.Store
	loc    *time.Location
	logger zerolog.Logger
	mu     sync.Mutex
}

// Config configures a Store.
type Config struct {
	KV     kvstore.Store
	Logger zerolog.Logger

	// Location decides calendar day boundaries. Defaults to time.Local.
	Location *time.Location
}

// NewStore creates a streak store.
func NewStore(cfg Config) *Store {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Store{kv: cfg.KV, loc: cfg.Location, logger: cfg.Logger}
}

// Current reads the persisted record.
func (s *Store) Current(ctx context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// RecordRide counts a ride on today's calendar date and returns the streak
// length and whether it changed. A second ride on the same day leaves the
// streak unchanged.
func (s *Store) RecordRide(ctx context.Context, today time.Time) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx)
	if err != nil {
		return 0, false, err
	}

	day := s.day(today)
	streak := 1
	if rec.LastRideDate != nil {
		switch days := daysBetween(*rec.LastRideDate, day); {
		case days <= 0:
			return rec.CurrentDays, false, nil
		case days == 1:
			streak = rec.CurrentDays + 1
		}
	}

	err = s.kv.SetMulti(ctx, map[string]string{
		KeyLastRideDate: day.Format(DateLayout),
		KeyStreak:       strconv.Itoa(streak),
	})
	if err != nil {
		return 0, false, fmt.Errorf("persist streak: %w", err)
	}

	s.logger.Debug().
		Str("date", day.Format(DateLayout)).
		Int("streak", streak).
		Msg("ride streak updated")

	return streak, true, nil
}

func (s *Store) load(ctx context.Context) (Record, error) {
	var rec Record

	raw, err := s.kv.Get(ctx, KeyLastRideDate)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		return rec, nil
	case err != nil:
		return rec, fmt.Errorf("read last ride date: %w", err)
	}

	last, err := time.ParseInLocation(DateLayout, raw, s.loc)
	if err != nil {
		// An unreadable date restarts the streak.
		s.logger.Warn().Str("value", raw).Msg("ignoring malformed last ride date")
		return rec, nil
	}
	rec.LastRideDate = &last

	count, err := kvstore.GetOrDefault(ctx, s.kv, KeyStreak, "0")
	if err != nil {
		return rec, fmt.Errorf("read streak: %w", err)
	}
	rec.CurrentDays, err = strconv.Atoi(count)
	if err != nil || rec.CurrentDays < 0 {
		rec.CurrentDays = 0
	}
	return rec, nil
}

func (s *Store) day(t time.Time) time.Time {
	t = t.In(s.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
}

// daysBetween counts calendar days from a to b, both at local midnight.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
