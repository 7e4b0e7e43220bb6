package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/muktihari/fit/decoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclick/cyclick/internal/geo"
	"github.com/cyclick/cyclick/internal/location"
	"github.com/cyclick/cyclick/internal/ride"
)

func testSnapshot() ride.Snapshot {
	start := time.Date(2026, time.May, 3, 8, 0, 0, 0, time.UTC)
	stop := start.Add(10 * time.Minute)
	alt := 12.5

	return ride.Snapshot{
		RideID:    "ride_1777795200000_a1b2c3d4e",
		State:     ride.StateStopped,
		StartedAt: &start,
		StoppedAt: &stop,
		Metrics: ride.Metrics{
			DistanceMeters:      1112,
			DurationSeconds:     600,
			MaxSpeedKmh:         400.3,
			AverageSpeedKmh:     6.67,
			ElevationGainMeters: 3,
		},
		Track: []ride.TrackPoint{
			{Sample: location.Sample{Point: geo.Point{Lat: 51.50, Lng: -0.10}, Altitude: &alt, CapturedAt: start}},
			{
				Sample:         location.Sample{Point: geo.Point{Lat: 51.51, Lng: -0.10}, CapturedAt: start.Add(10 * time.Second)},
				DistanceMeters: 1112,
				SpeedKmh:       400.3,
			},
		},
	}
}

func decode(t *testing.T, b []byte) *proto.FIT {
	t.Helper()
	fit, err := decoder.New(bytes.NewReader(b)).Decode()
	require.NoError(t, err)
	return fit
}

func messages(fit *proto.FIT, num typedef.MesgNum) []proto.Message {
	var out []proto.Message
	for _, m := range fit.Messages {
		if m.Num == num {
			out = append(out, m)
		}
	}
	return out
}

func TestWriteFIT(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFIT(&buf, testSnapshot()))

	fit := decode(t, buf.Bytes())

	ids := messages(fit, typedef.MesgNumFileId)
	require.Len(t, ids, 1)
	assert.Equal(t, typedef.FileActivity, mesgdef.NewFileId(&ids[0]).Type)

	records := messages(fit, typedef.MesgNumRecord)
	require.Len(t, records, 2)

	first := mesgdef.NewRecord(&records[0])
	assert.InDelta(t, 51.50, float64(first.PositionLat)/degreesToSemicircles, 1e-6)
	assert.InDelta(t, -0.10, float64(first.PositionLong)/degreesToSemicircles, 1e-6)
	assert.Equal(t, altitude(12.5), first.EnhancedAltitude)

	second := mesgdef.NewRecord(&records[1])
	assert.Equal(t, uint32(111200), second.Distance)
	assert.Equal(t, uint32(111194), second.EnhancedSpeed)

	sessions := messages(fit, typedef.MesgNumSession)
	require.Len(t, sessions, 1)
	s := mesgdef.NewSession(&sessions[0])
	assert.Equal(t, typedef.SportCycling, s.Sport)
	assert.Equal(t, uint32(111200), s.TotalDistance)
	assert.Equal(t, uint32(600000), s.TotalTimerTime)
	assert.Equal(t, uint32(600000), s.TotalElapsedTime)
	assert.Equal(t, uint16(3), s.TotalAscent)

	assert.Len(t, messages(fit, typedef.MesgNumLap), 1)
	assert.Len(t, messages(fit, typedef.MesgNumActivity), 1)
}

func TestWriteFIT_EmptyTrack(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFIT(&buf, ride.Snapshot{State: ride.StateStopped})
	assert.ErrorIs(t, err, ErrEmptyTrack)
	assert.Zero(t, buf.Len())
}

func TestAltitude(t *testing.T) {
	assert.Equal(t, uint32(2500), altitude(0))
	assert.Equal(t, uint32(0), altitude(-600))
	assert.Equal(t, uint32(2563), altitude(12.5))
}
