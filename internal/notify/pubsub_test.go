package notify_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclick/cyclick/internal/notify"
)

func newEmulator(t *testing.T, topic string) *pubsub.Client {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	_, err := srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/cyclick-test/topics/" + topic})
	require.NoError(t, err)

	t.Setenv("PUBSUB_EMULATOR_HOST", srv.Addr)
	client, err := pubsub.NewClient(ctx, "cyclick-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPubSubForwarder_Forward(t *testing.T) {
	client := newEmulator(t, "rider-events")

	fwd := notify.NewPubSubForwarder(notify.ForwarderConfig{
		Client: client,
		Topic:  "rider-events",
		Logger: zerolog.Nop(),
	})
	defer fwd.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := fwd.Forward(ctx, notify.Event{
		ID:     "evt-1",
		Kind:   notify.KindAchievementUnlocked,
		RideID: "0xabc",
		Title:  "First Ride",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestPubSubForwarder_EncodesEvent(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	_, err := srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/cyclick-test/topics/events"})
	require.NoError(t, err)

	t.Setenv("PUBSUB_EMULATOR_HOST", srv.Addr)
	client, err := pubsub.NewClient(ctx, "cyclick-test")
	require.NoError(t, err)
	defer client.Close()

	bus := notify.NewBus(notify.BusConfig{Logger: zerolog.Nop()})
	fwd := notify.NewPubSubForwarder(notify.ForwarderConfig{Client: client, Topic: "events", Logger: zerolog.Nop()})
	fwd.Attach(bus)

	bus.Publish(notify.Event{Kind: notify.KindStreakUpdated, RideID: "0x01", Wallet: "0xab", Title: "2 day streak"})

	require.Eventually(t, func() bool { return len(srv.Messages()) == 1 }, 5*time.Second, 10*time.Millisecond)
	bus.Close()
	fwd.Stop()

	msg := srv.Messages()[0]
	assert.Equal(t, "streak-updated", msg.Attributes[notify.AttrKind])
	assert.Equal(t, "0x01", msg.Attributes[notify.AttrRideID])
	assert.Equal(t, "0xab", msg.Attributes[notify.AttrWallet])

	var e notify.Event
	require.NoError(t, json.Unmarshal(msg.Data, &e))
	assert.Equal(t, notify.KindStreakUpdated, e.Kind)
	assert.Equal(t, "2 day streak", e.Title)
	assert.Equal(t, "0xab", e.Wallet)
}
