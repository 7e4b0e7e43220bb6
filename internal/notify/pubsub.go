package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Message attribute names set on forwarded events.
const (
	AttrKind   = "kind"
	AttrRideID = "ride_id"
	AttrWallet = "wallet"
)

// ForwarderConfig configures a PubSubForwarder.
type ForwarderConfig struct {
	Client *pubsub.Client
	Topic  string
	Logger zerolog.Logger

	// Timeout bounds waiting for the publish acknowledgment. Default: 10s.
	Timeout time.Duration
}

// PubSubForwarder republishes bus events to a Pub/Sub topic.
type PubSubForwarder struct {
	publisher *pubsub.Publisher
	topic     string
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewPubSubForwarder creates a forwarder publishing to cfg.Topic.
func NewPubSubForwarder(cfg ForwarderConfig) *PubSubForwarder {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &PubSubForwarder{
		publisher: cfg.Client.Publisher(cfg.Topic),
		topic:     cfg.Topic,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger.With().Str("component", "pubsub-forwarder").Str("topic", cfg.Topic).Logger(),
	}
}

// Attach subscribes the forwarder to bus.
func (f *PubSubForwarder) Attach(bus *Bus) (unsubscribe func()) {
	return bus.Subscribe("pubsub", f.Handle)
}

// Handle publishes e and logs failures.
func (f *PubSubForwarder) Handle(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	serverID, err := f.Forward(ctx, e)
	if err != nil {
		f.logger.Error().Err(err).Str("event_id", e.ID).Msg("failed to forward event")
		return
	}
	f.logger.Debug().
		Str("event_id", e.ID).
		Str("message_id", serverID).
		Msg("event forwarded")
}

// Forward publishes e and waits for the server acknowledgment.
func (f *PubSubForwarder) Forward(ctx context.Context, e Event) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encoding event: %w", err)
	}

	attrs := map[string]string{AttrKind: string(e.Kind)}
	if e.RideID != "" {
		attrs[AttrRideID] = e.RideID
	}
	if e.Wallet != "" {
		attrs[AttrWallet] = e.Wallet
	}

	result := f.publisher.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	return result.Get(ctx)
}

// Stop flushes pending messages.
func (f *PubSubForwarder) Stop() {
	f.publisher.Stop()
}
