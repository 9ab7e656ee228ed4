// README: Push channel abstraction; publish by topic or by recipient, fire and forget.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"hailing/internal/logging"
	"hailing/internal/observability"
)

// Event names pushed by the dispatch core.
const (
	EventNewRideRequest       = "new_ride_request"
	EventRideAccepted         = "ride_accepted"
	EventDriverEnRoute        = "driver_enroute"
	EventRideCancelled        = "ride_cancelled"
	EventCustomerCancelled    = "customer_cancelled"
	EventRideCompleted        = "ride_completed"
	EventRideExpired          = "ride_expired"
	EventDriverLocationUpdate = "driver_location_update"
)

// TopicDriverLocations carries every driver location change.
const TopicDriverLocations = "driver_locations"

type Publisher interface {
	PublishTopic(ctx context.Context, topic, event string, payload any) error
	PublishUser(ctx context.Context, user, event string, payload any) error
}

// Multi publishes to every publisher and joins the failures.
type Multi []Publisher

func (m Multi) PublishTopic(ctx context.Context, topic, event string, payload any) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishTopic(ctx, topic, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) PublishUser(ctx context.Context, user, event string, payload any) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishUser(ctx, user, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher wraps a Publisher so callers never see delivery failures; they
// are logged and counted instead. A nil Publisher drops everything.
type Dispatcher struct {
	pub Publisher
	log *slog.Logger
}

func NewDispatcher(pub Publisher, log *slog.Logger) *Dispatcher {
	return &Dispatcher{pub: pub, log: logging.OrDefault(log)}
}

func (d *Dispatcher) ToUser(ctx context.Context, user, event string, payload any) {
	if d == nil || d.pub == nil || user == "" {
		return
	}
	if err := d.pub.PublishUser(ctx, user, event, payload); err != nil {
		observability.NotificationsFailed.WithLabelValues(event).Inc()
		d.log.Warn("notify_user_failed", "user", user, "event", event, "err", err)
	}
}

func (d *Dispatcher) ToTopic(ctx context.Context, topic, event string, payload any) {
	if d == nil || d.pub == nil {
		return
	}
	if err := d.pub.PublishTopic(ctx, topic, event, payload); err != nil {
		observability.NotificationsFailed.WithLabelValues(event).Inc()
		d.log.Warn("notify_topic_failed", "topic", topic, "event", event, "err", err)
	}
}
