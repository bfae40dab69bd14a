package service

import (
	"context"

	"go.uber.org/zap"

	"mail-service/internal/models"
	"mail-service/internal/notify"
)

// PresenceChecker is the slice of the presence store the delivery
// decision needs.
type PresenceChecker interface {
	IsOnline(ctx context.Context, userID int64) (bool, error)
}

// Deliverer decides, per recipient, between an instant realtime push
// and the deferred notification path. The split is per-recipient: one
// send can have a mix of online and offline recipients.
type Deliverer struct {
	presence PresenceChecker
	hub      Broadcaster
	notifier notify.Notifier
	log      *zap.Logger
}

// NewDeliverer builds a Deliverer.
func NewDeliverer(presence PresenceChecker, hub Broadcaster, notifier notify.Notifier, log *zap.Logger) *Deliverer {
	return &Deliverer{presence: presence, hub: hub, notifier: notifier, log: log}
}

// Deliver pushes the event to every online recipient and hands the
// offline ones to the notification service in one batch. A presence
// lookup failure routes that recipient to the offline path, so the
// message is never silently lost.
func (d *Deliverer) Deliver(ctx context.Context, recipients []int64, ev models.Event, n notify.Notification) {
	var offline []int64
	for _, userID := range recipients {
		online, err := d.presence.IsOnline(ctx, userID)
		if err != nil {
			d.log.Warn("presence lookup failed, deferring to notification",
				zap.Int64("user_id", userID), zap.Error(err))
			online = false
		}
		if online {
			d.hub.SendToUser(userID, ev)
		} else {
			offline = append(offline, userID)
		}
	}
	if len(offline) > 0 && d.notifier != nil {
		// Best effort: dispatch failures are logged by the notifier.
		_ = d.notifier.NotifyUsers(ctx, offline, n)
	}
}
