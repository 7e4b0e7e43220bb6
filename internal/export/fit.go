// Package export writes finished rides in formats other cycling tools read.
package export

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/muktihari/fit/encoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"

	"github.com/cyclick/cyclick/internal/ride"
)

// degreesToSemicircles converts WGS84 degrees to the FIT position unit.
const degreesToSemicircles = 2147483648.0 / 180.0

// ErrEmptyTrack is returned when the ride has no samples to export.
var ErrEmptyTrack = errors.New("ride has no recorded positions")

// WriteFIT encodes the ride as a FIT activity file.
func WriteFIT(w io.Writer, snap ride.Snapshot) error {
	if len(snap.Track) == 0 {
		return ErrEmptyTrack
	}

	start := snap.Track[0].CapturedAt
	if snap.StartedAt != nil {
		start = *snap.StartedAt
	}
	end := snap.Track[len(snap.Track)-1].CapturedAt
	if snap.StoppedAt != nil && snap.StoppedAt.After(end) {
		end = *snap.StoppedAt
	}

	fit := proto.FIT{}

	fileID := mesgdef.FileId{
		Type:         typedef.FileActivity,
		Manufacturer: typedef.ManufacturerDevelopment,
		TimeCreated:  start,
	}
	fit.Messages = append(fit.Messages, fileID.ToMesg(nil))

	startEvent := mesgdef.Event{
		Timestamp: start,
		Event:     typedef.EventTimer,
		EventType: typedef.EventTypeStart,
	}
	fit.Messages = append(fit.Messages, startEvent.ToMesg(nil))

	for _, p := range snap.Track {
		rec := mesgdef.Record{
			Timestamp:     p.CapturedAt,
			PositionLat:   semicircles(p.Point.Lat),
			PositionLong:  semicircles(p.Point.Lng),
			Distance:      uint32(math.Round(p.DistanceMeters * 100)),
			EnhancedSpeed: uint32(math.Round(p.SpeedKmh / 3.6 * 1000)),
		}
		if p.Altitude != nil {
			rec.EnhancedAltitude = altitude(*p.Altitude)
		}
		fit.Messages = append(fit.Messages, rec.ToMesg(nil))
	}

	stopEvent := mesgdef.Event{
		Timestamp: end,
		Event:     typedef.EventTimer,
		EventType: typedef.EventTypeStopAll,
	}
	fit.Messages = append(fit.Messages, stopEvent.ToMesg(nil))

	m := snap.Metrics
	elapsed := uint32(end.Sub(start) / time.Millisecond)
	timer := uint32(m.DurationSeconds * 1000)
	distance := uint32(math.Round(m.DistanceMeters * 100))
	avgSpeed := uint32(math.Round(m.AverageSpeedKmh / 3.6 * 1000))
	maxSpeed := uint32(math.Round(m.MaxSpeedKmh / 3.6 * 1000))
	ascent := uint16(math.Min(math.Round(m.ElevationGainMeters), math.MaxUint16-1))

	lap := mesgdef.Lap{
		Timestamp:        end,
		StartTime:        start,
		TotalElapsedTime: elapsed,
		TotalTimerTime:   timer,
		TotalDistance:    distance,
		EnhancedAvgSpeed: avgSpeed,
		EnhancedMaxSpeed: maxSpeed,
		TotalAscent:      ascent,
		Event:            typedef.EventLap,
		EventType:        typedef.EventTypeStop,
	}
	fit.Messages = append(fit.Messages, lap.ToMesg(nil))

	session := mesgdef.Session{
		Timestamp:        end,
		StartTime:        start,
		TotalElapsedTime: elapsed,
		TotalTimerTime:   timer,
		TotalDistance:    distance,
		EnhancedAvgSpeed: avgSpeed,
		EnhancedMaxSpeed: maxSpeed,
		TotalAscent:      ascent,
		Sport:            typedef.SportCycling,
		SubSport:         typedef.SubSportRoad,
		Event:            typedef.EventSession,
		EventType:        typedef.EventTypeStop,
		Trigger:          typedef.SessionTriggerActivityEnd,
	}
	fit.Messages = append(fit.Messages, session.ToMesg(nil))

	activity := mesgdef.Activity{
		Timestamp:      end,
		TotalTimerTime: timer,
		NumSessions:    1,
		Type:           typedef.ActivityManual,
		Event:          typedef.EventActivity,
		EventType:      typedef.EventTypeStop,
	}
	fit.Messages = append(fit.Messages, activity.ToMesg(nil))

	if err := encoder.New(w).Encode(&fit); err != nil {
		return fmt.Errorf("encoding fit: %w", err)
	}
	return nil
}

func semicircles(deg float64) int32 {
	return int32(deg * degreesToSemicircles)
}

// altitude applies the FIT scale of 5 and offset of 500 m.
func altitude(meters float64) uint32 {
	v := (meters + 500) * 5
	if v < 0 {
		return 0
	}
	return uint32(math.Round(v))
}
