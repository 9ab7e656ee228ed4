package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"hailing/internal/logging"
)

// TokenResolver maps a user account to its registered device token.
type TokenResolver interface {
	DeviceToken(ctx context.Context, user string) (string, error)
}

// FCMPublisher sends data messages through Firebase Cloud Messaging. Topic
// publishes go to FCM topics of the same name; user publishes resolve a
// device token first and are skipped when none is registered.
type FCMPublisher struct {
	client *messaging.Client
	tokens TokenResolver
	log    *slog.Logger
}

func NewFCMPublisher(client *messaging.Client, tokens TokenResolver, log *slog.Logger) *FCMPublisher {
	return &FCMPublisher{client: client, tokens: tokens, log: logging.OrDefault(log)}
}

func (p *FCMPublisher) PublishTopic(ctx context.Context, topic, event string, payload any) error {
	msg, err := buildMessage(event, payload)
	if err != nil {
		return err
	}
	msg.Topic = topic
	if _, err := p.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("sending FCM to topic %s: %w", topic, err)
	}
	return nil
}

func (p *FCMPublisher) PublishUser(ctx context.Context, user, event string, payload any) error {
	token, err := p.tokens.DeviceToken(ctx, user)
	if err != nil {
		return fmt.Errorf("resolving device token for %s: %w", user, err)
	}
	if token == "" {
		p.log.Debug("fcm_no_device_token", "user", user, "event", event)
		return nil
	}
	msg, err := buildMessage(event, payload)
	if err != nil {
		return err
	}
	msg.Token = token
	msg.Notification = notificationFor(event)
	messageID, err := p.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending FCM to user %s: %w", user, err)
	}
	p.log.Debug("fcm_sent", "user", user, "event", event, "message_id", messageID)
	return nil
}

func buildMessage(event string, payload any) (*messaging.Message, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return &messaging.Message{
		Data: map[string]string{
			"type":    event,
			"payload": string(b),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}, nil
}

func notificationFor(event string) *messaging.Notification {
	switch event {
	case EventNewRideRequest:
		return &messaging.Notification{Title: "New ride request", Body: "A customer nearby is looking for a tuktuk"}
	case EventRideAccepted:
		return &messaging.Notification{Title: "Ride accepted", Body: "Your driver is on the way"}
	case EventDriverEnRoute:
		return &messaging.Notification{Title: "Driver en route", Body: "Your tuktuk is heading to the pickup point"}
	case EventRideCancelled, EventCustomerCancelled:
		return &messaging.Notification{Title: "Ride cancelled", Body: "The ride has been cancelled"}
	case EventRideExpired:
		return &messaging.Notification{Title: "No driver found", Body: "Your ride request expired before a driver accepted it"}
	default:
		return nil
	}
}
