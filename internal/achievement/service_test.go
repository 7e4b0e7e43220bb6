package achievement_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclick/cyclick/internal/achievement"
	"github.com/cyclick/cyclick/internal/kvstore"
)

func newService(t *testing.T) (*achievement.Service, *kvstore.MemoryStore) {
	t.Helper()
	kv := kvstore.NewMemoryStore()
	return achievement.NewService(achievement.ServiceConfig{
		KV:       kv,
		Logger:   zerolog.Nop(),
		Location: time.UTC,
	}), kv
}

// Monday 2026-10-19.
var monday = time.Date(2026, time.October, 19, 8, 0, 0, 0, time.UTC)

func ride(km float64, avgKmh float64, at time.Time) achievement.Ride {
	return achievement.Ride{
		DistanceMeters:    km * 1000,
		DurationSeconds:   600,
		AverageSpeedKmh:   avgKmh,
		CarbonOffsetGrams: int64(km * 200),
		VerifiedAt:        at,
	}
}

func badgeIDs(bs []achievement.Badge) []string {
	ids := make([]string, 0, len(bs))
	for _, b := range bs {
		ids = append(ids, b.ID)
	}
	return ids
}

func challengeIDs(cs []achievement.Challenge) []string {
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestRecordRide_FirstRide(t *testing.T) {
	svc, kv := newService(t)
	ctx := context.Background()

	res, err := svc.RecordRide(ctx, ride(2, 15, monday))
	require.NoError(t, err)

	assert.Equal(t, []string{"first-ride"}, badgeIDs(res.Badges))
	assert.Empty(t, res.Challenges)
	assert.Equal(t, int64(1), res.Stats.TotalRides)
	assert.InDelta(t, 2000, res.Stats.TotalDistanceMeters, 0.001)
	assert.Equal(t, int64(400), res.Stats.TotalCarbonGrams)

	v, err := kv.Get(ctx, achievement.KeyTotalRides)
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Stats, stats)
}

func TestRecordRide_BadgesUnlockOnce(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.RecordRide(ctx, ride(120, 18, monday))
	require.NoError(t, err)
	assert.Equal(t, []string{"first-ride", "distance-100"}, badgeIDs(res.Badges))

	res, err = svc.RecordRide(ctx, ride(10, 18, monday.Add(time.Hour)))
	require.NoError(t, err)
	assert.Empty(t, res.Badges)
	assert.Equal(t, []string{"first-ride", "distance-100"}, res.Stats.Badges)
}

func TestRecordRide_CarbonHeroAt100kg(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	// 499 km offsets 99.8 kg.
	res, err := svc.RecordRide(ctx, ride(499, 25, monday))
	require.NoError(t, err)
	assert.NotContains(t, badgeIDs(res.Badges), "carbon-hero")

	res, err = svc.RecordRide(ctx, ride(1, 25, monday.Add(time.Hour)))
	require.NoError(t, err)
	assert.Contains(t, badgeIDs(res.Badges), "carbon-hero")
	assert.Contains(t, badgeIDs(res.Badges), "distance-500")
}

func TestRecordRide_TenRides(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	var last achievement.Result
	for i := 0; i < 10; i++ {
		var err error
		last, err = svc.RecordRide(ctx, ride(1, 10, monday.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"rides-10"}, badgeIDs(last.Badges))
}

func TestRecordRide_DailyChallengesOncePerDay(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.RecordRide(ctx, ride(3, 12, monday))
	require.NoError(t, err)
	assert.Empty(t, res.Challenges)

	// Daily Ride judges a single ride, not the day's sum.
	res, err = svc.RecordRide(ctx, ride(1, 12, monday.Add(time.Hour)))
	require.NoError(t, err)
	assert.Empty(t, res.Challenges)

	res, err = svc.RecordRide(ctx, ride(6, 22, monday.Add(2*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, []string{"daily-ride", "speed-demon", "monthly-carbon"}, challengeIDs(res.Challenges))

	res, err = svc.RecordRide(ctx, ride(6, 22, monday.Add(3*time.Hour)))
	require.NoError(t, err)
	assert.Empty(t, res.Challenges)

	res, err = svc.RecordRide(ctx, ride(6, 22, monday.AddDate(0, 0, 1)))
	require.NoError(t, err)
	assert.Equal(t, []string{"daily-ride", "speed-demon"}, challengeIDs(res.Challenges))
}

func TestRecordRide_WeeklyWarrior(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	var completed []string
	for i := 0; i < 7; i++ {
		res, err := svc.RecordRide(ctx, ride(1, 10, monday.AddDate(0, 0, i)))
		require.NoError(t, err)
		completed = append(completed, challengeIDs(res.Challenges)...)
	}
	assert.Contains(t, completed, "weekly-warrior")

	// Next week starts over.
	statuses, err := svc.Challenges(ctx, monday.AddDate(0, 0, 7))
	require.NoError(t, err)
	for _, st := range statuses {
		if st.ID == "weekly-warrior" {
			assert.Zero(t, st.Progress)
			assert.False(t, st.Completed)
			assert.Equal(t, monday.AddDate(0, 0, 14).Truncate(24*time.Hour), st.ExpiresAt)
		}
	}
}

func TestChallenges_ReportsProgress(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.RecordRide(ctx, ride(3, 12, monday))
	require.NoError(t, err)

	statuses, err := svc.Challenges(ctx, monday)
	require.NoError(t, err)
	require.Len(t, statuses, len(achievement.Challenges))

	byID := make(map[string]achievement.ChallengeStatus)
	for _, st := range statuses {
		byID[st.ID] = st
	}
	assert.InDelta(t, 3, byID["daily-ride"].Progress, 0.001)
	assert.InDelta(t, 600, byID["monthly-carbon"].Progress, 0.001)
	assert.InDelta(t, 1, byID["weekly-warrior"].Progress, 0.001)
	assert.Equal(t, time.Date(2026, time.November, 1, 0, 0, 0, 0, time.UTC), byID["monthly-carbon"].ExpiresAt)
	assert.Equal(t, time.Date(2026, time.October, 20, 0, 0, 0, 0, time.UTC), byID["daily-ride"].ExpiresAt)
}

func TestStats_Empty(t *testing.T) {
	svc, _ := newService(t)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRides)
	assert.Empty(t, stats.Badges)
}

func TestChallenges_MalformedProgressStartsFresh(t *testing.T) {
	var logs bytes.Buffer
	kv := kvstore.NewMemoryStore()
	svc := achievement.NewService(achievement.ServiceConfig{
		KV:       kv,
		Logger:   zerolog.New(&logs),
		Location: time.UTC,
	})
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "challenge:weekly-warrior", "2026-W43|three|0"))

	statuses, err := svc.Challenges(ctx, monday)
	require.NoError(t, err)
	for _, st := range statuses {
		if st.ID == "weekly-warrior" {
			assert.Zero(t, st.Progress)
			assert.False(t, st.Completed)
		}
	}
	assert.Contains(t, logs.String(), "ignoring malformed challenge progress")
	assert.Contains(t, logs.String(), `"challenge":"weekly-warrior"`)

	_, err = svc.RecordRide(ctx, ride(2, 15, monday))
	require.NoError(t, err)

	raw, err := kv.Get(ctx, "challenge:weekly-warrior")
	require.NoError(t, err)
	assert.Equal(t, "2026-W43|1|0", raw)
}
