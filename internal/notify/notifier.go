// Package notify hands offline-delivery work to the external
// notification service over the message bus. Dispatch is best-effort:
// failures are counted and logged, never surfaced to senders.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mail-service/internal/observability"
	"mail-service/internal/rabbitmq"
)

const routingKey = "notifications.dispatch"

// Notification is the summary payload handed to the notification
// service. It never carries raw message content beyond a truncated
// preview.
type Notification struct {
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Notifier dispatches notifications to sets of users.
type Notifier interface {
	NotifyUsers(ctx context.Context, userIDs []int64, n Notification) error
}

type envelope struct {
	UserIDs      []int64      `json:"user_ids"`
	OccurredAt   string       `json:"occurred_at"`
	Notification Notification `json:"notification"`
}

// AMQPNotifier publishes notification envelopes to the bus.
type AMQPNotifier struct {
	publisher rabbitmq.Publisher
	log       *zap.Logger
}

// NewAMQPNotifier builds an AMQPNotifier.
func NewAMQPNotifier(publisher rabbitmq.Publisher, log *zap.Logger) *AMQPNotifier {
	return &AMQPNotifier{publisher: publisher, log: log}
}

// NotifyUsers publishes one envelope addressed to the given users.
func (n *AMQPNotifier) NotifyUsers(ctx context.Context, userIDs []int64, notification Notification) error {
	if len(userIDs) == 0 {
		return nil
	}
	err := n.publisher.Publish(ctx, routingKey, envelope{
		UserIDs:      userIDs,
		OccurredAt:   time.Now().UTC().Format(time.RFC3339Nano),
		Notification: notification,
	})
	if err != nil {
		observability.IncNotificationDropped()
		n.log.Warn("notification dispatch failed",
			zap.String("type", notification.Type),
			zap.Int("recipients", len(userIDs)),
			zap.Error(err))
	}
	return err
}

var _ Notifier = (*AMQPNotifier)(nil)
