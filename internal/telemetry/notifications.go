package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cyclick/cyclick/internal/notify"
)

// NotificationMetrics counts rider notifications published on the bus.
type NotificationMetrics struct {
	published metric.Int64Counter
}

// NewNotificationMetrics creates the notification counter on the global
// meter.
func NewNotificationMetrics() (*NotificationMetrics, error) {
	counter, err := otel.Meter("github.com/cyclick/cyclick/internal/telemetry").Int64Counter(
		"cyclick.notifications.published",
		metric.WithDescription("Rider notifications published, by kind"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}
	return &NotificationMetrics{published: counter}, nil
}

// Attach subscribes the counter to bus.
func (m *NotificationMetrics) Attach(bus *notify.Bus) (unsubscribe func()) {
	return bus.Subscribe("metrics", m.Handle)
}

// Handle counts e.
func (m *NotificationMetrics) Handle(e notify.Event) {
	m.published.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("kind", string(e.Kind))))
}
