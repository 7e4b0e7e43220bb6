package worker

import (
	"context"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Receiver pulls notification events from a Pub/Sub subscription and hands
// them to a Dispatcher.
type Receiver struct {
	subscriber      *pubsub.Subscriber
	subscription    string
	dispatcher      *Dispatcher
	deliveryTimeout time.Duration
	logger          zerolog.Logger
}

// ReceiverConfig holds configuration for a Receiver.
type ReceiverConfig struct {
	Client       *pubsub.Client
	Subscription string
	Dispatcher   *Dispatcher
	Logger       zerolog.Logger

	MaxOutstanding  int
	DeliveryTimeout time.Duration
}

// NewReceiver creates a Receiver.
func NewReceiver(cfg ReceiverConfig) *Receiver {
	defaults := DefaultConfig()
	if cfg.MaxOutstanding <= 0 {
		cfg.MaxOutstanding = defaults.MaxOutstanding
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaults.DeliveryTimeout
	}

	subscriber := cfg.Client.Subscriber(cfg.Subscription)
	subscriber.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &Receiver{
		subscriber:      subscriber,
		subscription:    cfg.Subscription,
		dispatcher:      cfg.Dispatcher,
		deliveryTimeout: cfg.DeliveryTimeout,
		logger:          cfg.Logger,
	}
}

// Start processes messages until ctx is canceled.
func (r *Receiver) Start(ctx context.Context) error {
	r.logger.Info().
		Str("subscription", r.subscription).
		Msg("starting notification receiver")

	return r.subscriber.Receive(ctx, r.handleMessage)
}

func (r *Receiver) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := r.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	event, err := Decode(msg.Data)
	if err != nil {
		// Redelivery cannot fix a malformed payload.
		logger.Error().Err(err).Msg("dropping malformed message")
		msg.Ack()
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.deliveryTimeout)
	defer cancel()

	result, err := r.dispatcher.Dispatch(ctx, event)
	if err != nil {
		logger.Error().
			Err(err).
			Str("event_id", event.ID).
			Strs("delivered", result.Delivered).
			Msg("delivery failed")
		msg.Nack()
		return
	}

	logger.Info().
		Str("event_id", event.ID).
		Str("kind", string(event.Kind)).
		Bool("duplicate", result.Duplicate).
		Strs("delivered", result.Delivered).
		Dur("duration", time.Since(startTime)).
		Msg("notification delivered")

	msg.Ack()
}
