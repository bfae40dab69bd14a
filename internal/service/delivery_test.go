package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"mail-service/internal/mocks"
	"mail-service/internal/models"
	"mail-service/internal/notify"
)

func TestDeliverSplitsByPresence(t *testing.T) {
	ctx := context.Background()
	presence := new(mocks.PresenceMock)
	hub := new(mocks.BroadcasterMock)
	notifier := new(mocks.NotifierMock)

	presence.On("IsOnline", ctx, int64(1)).Return(true, nil)
	presence.On("IsOnline", ctx, int64(2)).Return(false, nil)
	presence.On("IsOnline", ctx, int64(3)).Return(true, nil)
	presence.On("IsOnline", ctx, int64(4)).Return(false, nil)

	ev := models.Event{Type: models.EventNewMessage, ChannelID: 5}
	n := notify.Notification{Type: "new_message", Title: "general"}

	hub.On("SendToUser", int64(1), ev).Return()
	hub.On("SendToUser", int64(3), ev).Return()
	notifier.On("NotifyUsers", ctx, []int64{2, 4}, n).Return(nil).Once()

	d := NewDeliverer(presence, hub, notifier, zap.NewNop())
	d.Deliver(ctx, []int64{1, 2, 3, 4}, ev, n)

	hub.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestDeliverAllOnlineSkipsNotifier(t *testing.T) {
	ctx := context.Background()
	presence := new(mocks.PresenceMock)
	hub := new(mocks.BroadcasterMock)
	notifier := new(mocks.NotifierMock)

	presence.On("IsOnline", ctx, mock.Anything).Return(true, nil)
	hub.On("SendToUser", mock.Anything, mock.Anything).Return()

	d := NewDeliverer(presence, hub, notifier, zap.NewNop())
	d.Deliver(ctx, []int64{1, 2}, models.Event{Type: models.EventNewMessage}, notify.Notification{})

	notifier.AssertNotCalled(t, "NotifyUsers", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeliverPresenceFailureDefersToNotifier(t *testing.T) {
	ctx := context.Background()
	presence := new(mocks.PresenceMock)
	hub := new(mocks.BroadcasterMock)
	notifier := new(mocks.NotifierMock)

	presence.On("IsOnline", ctx, int64(1)).Return(false, assert.AnError)
	notifier.On("NotifyUsers", ctx, []int64{1}, mock.Anything).Return(nil).Once()

	d := NewDeliverer(presence, hub, notifier, zap.NewNop())
	d.Deliver(ctx, []int64{1}, models.Event{Type: models.EventNewMessage}, notify.Notification{})

	hub.AssertNotCalled(t, "SendToUser", mock.Anything, mock.Anything)
	notifier.AssertExpectations(t)
}
