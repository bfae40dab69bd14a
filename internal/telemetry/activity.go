package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Publisher is the slice of the bus publisher the activity logger
// needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// ActivityLogger emits activity-log events for auditing. Payloads
// describe actions, never raw message content.
type ActivityLogger struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         *zap.Logger
}

// ActivityEvent is one audited action.
type ActivityEvent struct {
	UserID       int64          `json:"user_id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   int64          `json:"resource_id"`
	Details      map[string]any `json:"details,omitempty"`
}

type activityEnvelope struct {
	SchemaVersion int           `json:"schema_version"`
	EventType     string        `json:"event_type"`
	OccurredAt    string        `json:"occurred_at"`
	Service       string        `json:"service"`
	Environment   string        `json:"environment"`
	Payload       ActivityEvent `json:"payload"`
}

// NewActivityLogger builds an ActivityLogger.
func NewActivityLogger(publisher Publisher, routingKey, service, environment string, log *zap.Logger) *ActivityLogger {
	return &ActivityLogger{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         log,
	}
}

// Log emits one activity event. Failures are logged and swallowed;
// activity logging never blocks the caller's operation.
func (l *ActivityLogger) Log(ctx context.Context, ev ActivityEvent) {
	if l == nil || l.publisher == nil {
		return
	}

	envelope := activityEnvelope{
		SchemaVersion: 1,
		EventType:     "activity_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       l.service,
		Environment:   l.environment,
		Payload:       ev,
	}

	if err := l.publisher.Publish(ctx, l.routingKey, envelope); err != nil {
		l.log.Warn("activity publish failed",
			zap.String("action", ev.Action),
			zap.Error(err))
	}
}
