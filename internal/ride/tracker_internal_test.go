package ride

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclick/cyclick/internal/ledger"
)

// stoppedTracker returns a tracker holding a stopped ride of exactly meters,
// without starting its loop.
func stoppedTracker(t *testing.T, client *ledger.Client, meters float64) *Tracker {
	t.Helper()

	now := time.Date(2026, time.October, 19, 7, 30, 0, 0, time.UTC)
	seed := "ride_1760860800123_abcdef123"
	ledgerID, err := LedgerID(seed)
	require.NoError(t, err)

	s := newSession(seed, ledgerID, "0x9f8e7d6c5b4a39281706f5e4d3c2b1a098765432", now)
	s.metrics.DistanceMeters = meters
	s.stop(now.Add(4 * time.Minute))

	tr := &Tracker{
		cfg:     TrackerConfig{Ledger: client},
		logger:  zerolog.Nop(),
		events:  make(chan event, 4),
		done:    make(chan struct{}),
		state:   StateStopped,
		session: s,
	}
	t.Cleanup(func() {
		close(tr.done)
		tr.waitGroup.Wait()
	})
	return tr
}

func TestSubmit_ExactlyMinimumDistance(t *testing.T) {
	memory := ledger.NewMemoryLedger()
	client, err := ledger.NewClient(ledger.ClientConfig{Ledger: memory, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(client.Wait)

	tr := stoppedTracker(t, client, MinSubmitDistanceMeters)

	p, err := tr.submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSubmitting, tr.state)

	_, err = p.Wait(context.Background())
	require.NoError(t, err)

	stored, ok := memory.Submitted(tr.session.ledgerID)
	require.True(t, ok)
	assert.Equal(t, int64(1000), stored.DistanceMeters)
	assert.Equal(t, int64(200), stored.CarbonOffsetGrams)
}

func TestSubmit_JustBelowMinimumDistance(t *testing.T) {
	memory := ledger.NewMemoryLedger()
	client, err := ledger.NewClient(ledger.ClientConfig{Ledger: memory, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(client.Wait)

	tr := stoppedTracker(t, client, MinSubmitDistanceMeters-0.01)

	_, err = tr.submit(context.Background())
	require.ErrorIs(t, err, ErrInsufficientDistance)
	assert.Equal(t, StateStopped, tr.state)
	assert.Zero(t, memory.Calls(ledger.OpSubmit))
}
