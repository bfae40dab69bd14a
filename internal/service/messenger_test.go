package service

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mail-service/internal/cache"
	"mail-service/internal/crypto"
	"mail-service/internal/mocks"
	"mail-service/internal/models"
	"mail-service/internal/repositories"
)

type messengerMocks struct {
	channels *mocks.ChannelRepositoryMock
	messages *mocks.MessageRepositoryMock
	receipts *mocks.ReceiptRepositoryMock
	hub      *mocks.BroadcasterMock
	notifier *mocks.NotifierMock
	presence *mocks.PresenceMock
	box      *crypto.Box
}

func newTestMessenger(t *testing.T) (*Messenger, *messengerMocks) {
	t.Helper()

	box, err := crypto.NewBox(make([]byte, 32))
	require.NoError(t, err)

	m := &messengerMocks{
		channels: new(mocks.ChannelRepositoryMock),
		messages: new(mocks.MessageRepositoryMock),
		receipts: new(mocks.ReceiptRepositoryMock),
		hub:      new(mocks.BroadcasterMock),
		notifier: new(mocks.NotifierMock),
		presence: new(mocks.PresenceMock),
		box:      box,
	}

	logger := zap.NewNop()
	svc := NewMessenger(Deps{
		Channels:  m.channels,
		Messages:  m.messages,
		Receipts:  m.receipts,
		Box:       box,
		Hub:       m.hub,
		Deliverer: NewDeliverer(m.presence, m.hub, m.notifier, logger),
		Notifier:  m.notifier,
		Log:       logger,
	})
	return svc, m
}

func strptr(s string) *string { return &s }

func TestCreateDirectChannelIdempotent(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	existing := models.Channel{ID: 9, TenantID: 7, Kind: models.ChannelDirect}
	m.channels.On("FindDirectChannel", ctx, int64(7), int64(1), int64(2)).Return(existing, nil)

	got, err := svc.CreateChannel(ctx, CreateChannelParams{
		TenantID:  7,
		Kind:      models.ChannelDirect,
		CreatorID: 1,
		MemberIDs: []int64{2},
	})
	require.NoError(t, err)
	assert.Equal(t, existing, got)
	m.channels.AssertNotCalled(t, "CreateChannel", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateDirectChannelMemberCount(t *testing.T) {
	svc, _ := newTestMessenger(t)
	ctx := context.Background()

	_, err := svc.CreateChannel(ctx, CreateChannelParams{
		TenantID:  7,
		Kind:      models.ChannelDirect,
		CreatorID: 1,
		MemberIDs: []int64{2, 3},
	})
	assert.ErrorIs(t, err, ErrValidation)

	// Creator listed among members collapses to one distinct user.
	_, err = svc.CreateChannel(ctx, CreateChannelParams{
		TenantID:  7,
		Kind:      models.ChannelDirect,
		CreatorID: 1,
		MemberIDs: []int64{1},
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateChannelUnknownKind(t *testing.T) {
	svc, _ := newTestMessenger(t)

	_, err := svc.CreateChannel(context.Background(), CreateChannelParams{
		TenantID:  7,
		Kind:      models.ChannelKind("broadcast"),
		CreatorID: 1,
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateDirectChannelLostRace(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	winner := models.Channel{ID: 11, TenantID: 7, Kind: models.ChannelDirect}
	m.channels.On("FindDirectChannel", ctx, int64(7), int64(1), int64(2)).
		Return(nil, repositories.ErrChannelNotFound).Once()
	m.channels.On("CreateChannel", ctx, mock.Anything, mock.Anything).
		Return(nil, assert.AnError).Once()
	m.channels.On("FindDirectChannel", ctx, int64(7), int64(1), int64(2)).
		Return(winner, nil).Once()

	got, err := svc.CreateChannel(ctx, CreateChannelParams{
		TenantID:  7,
		Kind:      models.ChannelDirect,
		CreatorID: 1,
		MemberIDs: []int64{2},
	})
	require.NoError(t, err)
	assert.Equal(t, winner, got)
}

func TestCreateGroupChannelRolesAndInvites(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	created := models.Channel{ID: 5, TenantID: 7, Kind: models.ChannelPrivate, Name: strptr("ops")}
	m.channels.On("CreateChannel", ctx, mock.Anything, mock.MatchedBy(func(members []models.Membership) bool {
		if len(members) != 3 {
			return false
		}
		roles := map[int64]string{}
		for _, mem := range members {
			roles[mem.UserID] = mem.Role
		}
		return roles[1] == models.RoleOwner && roles[2] == models.RoleMember && roles[3] == models.RoleMember
	})).Return(created, nil)
	m.notifier.On("NotifyUsers", ctx, []int64{2, 3}, mock.Anything).Return(nil)

	got, err := svc.CreateChannel(ctx, CreateChannelParams{
		TenantID:  7,
		Kind:      models.ChannelPrivate,
		CreatorID: 1,
		MemberIDs: []int64{2, 3, 2},
		Name:      strptr("ops"),
	})
	require.NoError(t, err)
	assert.Equal(t, created, got)
	m.notifier.AssertExpectations(t)
}

func TestSendMessageNotMember(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	m.channels.On("GetChannel", ctx, int64(5)).Return(models.Channel{ID: 5, Kind: models.ChannelPublic}, nil)
	m.channels.On("IsActiveMember", ctx, int64(5), int64(1)).Return(false, nil)

	_, err := svc.SendMessage(ctx, SendMessageParams{ChannelID: 5, SenderID: 1, Content: "hi"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	m.messages.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestSendMessageEmptyContent(t *testing.T) {
	svc, _ := newTestMessenger(t)

	_, err := svc.SendMessage(context.Background(), SendMessageParams{ChannelID: 5, SenderID: 1})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSendMessageEncryptedAtRest(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	m.channels.On("GetChannel", ctx, int64(5)).
		Return(models.Channel{ID: 5, TenantID: 7, Kind: models.ChannelPrivate, Name: strptr("ops")}, nil)
	m.channels.On("IsActiveMember", ctx, int64(5), int64(1)).Return(true, nil)

	var persisted models.Message
	m.messages.On("CreateMessage", ctx, mock.Anything).Run(func(args mock.Arguments) {
		persisted = args.Get(1).(models.Message)
	}).Return(models.Message{ID: 100, ChannelID: 5, SenderID: 1, Content: "ciphertext", IsEncrypted: true, State: models.MessageActive, CreatedAt: now}, nil)

	m.channels.On("TouchActivity", ctx, int64(5), int64(100), now).Return(nil)
	m.receipts.On("UpsertReceipts", ctx, int64(5), []int64{int64(100)}, int64(1), now).Return(nil)
	m.channels.On("ActiveMemberIDs", ctx, int64(5)).Return([]int64{1, 2, 3}, nil)
	m.presence.On("IsOnline", ctx, int64(2)).Return(true, nil)
	m.presence.On("IsOnline", ctx, int64(3)).Return(false, nil)
	m.hub.On("SendToUser", int64(2), mock.Anything).Return()
	m.notifier.On("NotifyUsers", ctx, []int64{3}, mock.Anything).Return(nil)

	const plaintext = "the launch is friday"
	out, err := svc.SendMessage(ctx, SendMessageParams{ChannelID: 5, SenderID: 1, Content: plaintext})
	require.NoError(t, err)

	assert.True(t, persisted.IsEncrypted)
	assert.NotEqual(t, plaintext, persisted.Content, "plaintext must never reach the store for private channels")
	assert.Nil(t, persisted.Shadow)

	opened, err := m.box.Open(persisted.Content)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)

	assert.Equal(t, plaintext, out.Content, "response carries the decrypted content")
	m.hub.AssertExpectations(t)
	m.notifier.AssertExpectations(t)
	m.receipts.AssertExpectations(t)
}

func TestSendMessagePublicKeepsShadow(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	m.channels.On("GetChannel", ctx, int64(5)).
		Return(models.Channel{ID: 5, Kind: models.ChannelPublic, Name: strptr("general")}, nil)
	m.channels.On("IsActiveMember", ctx, int64(5), int64(1)).Return(true, nil)

	var persisted models.Message
	m.messages.On("CreateMessage", ctx, mock.Anything).Run(func(args mock.Arguments) {
		persisted = args.Get(1).(models.Message)
	}).Return(models.Message{ID: 101, ChannelID: 5, SenderID: 1, Content: "hello", State: models.MessageActive, CreatedAt: now}, nil)

	m.channels.On("TouchActivity", ctx, int64(5), int64(101), now).Return(nil)
	m.receipts.On("UpsertReceipts", ctx, int64(5), []int64{int64(101)}, int64(1), now).Return(nil)
	m.channels.On("ActiveMemberIDs", ctx, int64(5)).Return([]int64{1}, nil)

	_, err := svc.SendMessage(ctx, SendMessageParams{ChannelID: 5, SenderID: 1, Content: "hello"})
	require.NoError(t, err)

	assert.False(t, persisted.IsEncrypted)
	assert.Equal(t, "hello", persisted.Content)
	require.NotNil(t, persisted.Shadow)
	assert.Equal(t, "hello", *persisted.Shadow)
}

func TestSendMessageMentionNotifications(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	m.channels.On("GetChannel", ctx, int64(5)).
		Return(models.Channel{ID: 5, Kind: models.ChannelPublic, Name: strptr("general")}, nil)
	m.channels.On("IsActiveMember", ctx, int64(5), int64(1)).Return(true, nil)
	m.messages.On("CreateMessage", ctx, mock.Anything).
		Return(models.Message{ID: 102, ChannelID: 5, SenderID: 1, Content: "ping @2", State: models.MessageActive, CreatedAt: now}, nil)
	m.channels.On("TouchActivity", ctx, int64(5), int64(102), now).Return(nil)
	m.receipts.On("UpsertReceipts", ctx, int64(5), []int64{int64(102)}, int64(1), now).Return(nil)
	m.channels.On("ActiveMemberIDs", ctx, int64(5)).Return([]int64{1, 2}, nil)
	m.presence.On("IsOnline", ctx, int64(2)).Return(true, nil)
	m.hub.On("SendToUser", int64(2), mock.Anything).Return()

	// Mentioning a non-member (99) must not notify them.
	m.notifier.On("NotifyUsers", ctx, []int64{2}, mock.Anything).Return(nil).Once()

	_, err := svc.SendMessage(ctx, SendMessageParams{
		ChannelID: 5, SenderID: 1, Content: "ping @2", Mentions: []int64{2, 99},
	})
	require.NoError(t, err)
	m.notifier.AssertExpectations(t)
}

func TestEditMessageWithinWindow(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return created.Add(EditWindow - time.Second) }

	m.messages.On("GetMessage", ctx, int64(100)).
		Return(models.Message{ID: 100, ChannelID: 5, SenderID: 1, Content: "old", State: models.MessageActive, CreatedAt: created}, nil)
	m.channels.On("IsActiveMember", ctx, int64(5), int64(1)).Return(true, nil)
	m.messages.On("EditMessage", ctx, int64(100), "new", mock.Anything, "old", mock.Anything).Return(nil)
	m.hub.On("SendToChannelExcept", int64(5), int64(1), mock.Anything).Return()

	out, err := svc.EditMessage(ctx, 5, 100, 1, "new")
	require.NoError(t, err)
	assert.Equal(t, "new", out.Content)
	assert.Equal(t, models.MessageEdited, out.State)
	require.NotNil(t, out.EditedAt)
	m.hub.AssertExpectations(t)
}

func TestEditMessageWindowExpired(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return created.Add(EditWindow + time.Second) }

	m.messages.On("GetMessage", ctx, int64(100)).
		Return(models.Message{ID: 100, ChannelID: 5, SenderID: 1, Content: "old", State: models.MessageActive, CreatedAt: created}, nil)
	m.channels.On("IsActiveMember", ctx, int64(5), int64(1)).Return(true, nil)

	_, err := svc.EditMessage(ctx, 5, 100, 1, "new")
	assert.ErrorIs(t, err, ErrValidation)
	m.messages.AssertNotCalled(t, "EditMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEditMessageNotSender(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	m.messages.On("GetMessage", ctx, int64(100)).
		Return(models.Message{ID: 100, ChannelID: 5, SenderID: 1, State: models.MessageActive, CreatedAt: time.Now()}, nil)
	m.channels.On("IsActiveMember", ctx, int64(5), int64(2)).Return(true, nil)

	_, err := svc.EditMessage(ctx, 5, 100, 2, "new")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestEditMessageExMemberDenied(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	m.messages.On("GetMessage", ctx, int64(100)).
		Return(models.Message{ID: 100, ChannelID: 5, SenderID: 1, State: models.MessageActive, CreatedAt: time.Now()}, nil)
	m.channels.On("IsActiveMember", ctx, int64(5), int64(1)).Return(false, nil)

	_, err := svc.EditMessage(ctx, 5, 100, 1, "new")
	assert.ErrorIs(t, err, ErrUnauthorized)
	m.messages.AssertNotCalled(t, "EditMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	m.hub.AssertNotCalled(t, "SendToChannelExcept", mock.Anything, mock.Anything, mock.Anything)
}

func TestEditMessageWrongChannel(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	m.messages.On("GetMessage", ctx, int64(100)).
		Return(models.Message{ID: 100, ChannelID: 6, SenderID: 1, State: models.MessageActive, CreatedAt: time.Now()}, nil)

	_, err := svc.EditMessage(ctx, 5, 100, 1, "new")
	assert.ErrorIs(t, err, ErrNotFound)
	m.channels.AssertNotCalled(t, "IsActiveMember", mock.Anything, mock.Anything, mock.Anything)
}

func TestEditDeletedMessage(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	m.messages.On("GetMessage", ctx, int64(100)).
		Return(models.Message{ID: 100, ChannelID: 5, SenderID: 1, State: models.MessageDeleted, CreatedAt: time.Now()}, nil)
	m.channels.On("IsActiveMember", ctx, int64(5), int64(1)).Return(true, nil)

	_, err := svc.EditMessage(ctx, 5, 100, 1, "new")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteMessageBySender(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	m.messages.On("GetMessage", ctx, int64(100)).
		Return(models.Message{ID: 100, ChannelID: 5, SenderID: 1, State: models.MessageActive}, nil)
	m.channels.On("IsActiveMember", ctx, int64(5), int64(1)).Return(true, nil)
	m.messages.On("SoftDeleteMessage", ctx, int64(100), int64(1), mock.Anything).Return(nil)
	m.hub.On("SendToChannel", int64(5), mock.MatchedBy(func(ev models.Event) bool {
		return ev.Type == models.EventMessageDeleted && ev.MessageID == 100
	})).Return()

	require.NoError(t, svc.DeleteMessage(ctx, 5, 100, 1))
	m.hub.AssertExpectations(t)
}

func TestDeleteMessageByAdmin(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	m.messages.On("GetMessage", ctx, int64(100)).
		Return(models.Message{ID: 100, ChannelID: 5, SenderID: 1, State: models.MessageActive}, nil)
	m.channels.On("IsActiveMember", ctx, int64(5), int64(2)).Return(true, nil)
	m.channels.On("GetMembership", ctx, int64(5), int64(2)).
		Return(models.Membership{ChannelID: 5, UserID: 2, Role: models.RoleAdmin, IsActive: true}, nil)
	m.messages.On("SoftDeleteMessage", ctx, int64(100), int64(2), mock.Anything).Return(nil)
	m.hub.On("SendToChannel", int64(5), mock.Anything).Return()

	require.NoError(t, svc.DeleteMessage(ctx, 5, 100, 2))
}

func TestDeleteMessagePlainMemberDenied(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	m.messages.On("GetMessage", ctx, int64(100)).
		Return(models.Message{ID: 100, ChannelID: 5, SenderID: 1, State: models.MessageActive}, nil)
	m.channels.On("IsActiveMember", ctx, int64(5), int64(3)).Return(true, nil)
	m.channels.On("GetMembership", ctx, int64(5), int64(3)).
		Return(models.Membership{ChannelID: 5, UserID: 3, Role: models.RoleMember, IsActive: true}, nil)

	err := svc.DeleteMessage(ctx, 5, 100, 3)
	assert.ErrorIs(t, err, ErrUnauthorized)
	m.messages.AssertNotCalled(t, "SoftDeleteMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteAlreadyDeletedNoop(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	m.messages.On("GetMessage", ctx, int64(100)).
		Return(models.Message{ID: 100, ChannelID: 5, SenderID: 1, State: models.MessageDeleted}, nil)
	m.channels.On("IsActiveMember", ctx, int64(5), int64(1)).Return(true, nil)

	require.NoError(t, svc.DeleteMessage(ctx, 5, 100, 1))
	m.messages.AssertNotCalled(t, "SoftDeleteMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteMessageExSenderDenied(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	m.messages.On("GetMessage", ctx, int64(100)).
		Return(models.Message{ID: 100, ChannelID: 5, SenderID: 1, State: models.MessageActive}, nil)
	m.channels.On("IsActiveMember", ctx, int64(5), int64(1)).Return(false, nil)

	err := svc.DeleteMessage(ctx, 5, 100, 1)
	assert.ErrorIs(t, err, ErrUnauthorized)
	m.messages.AssertNotCalled(t, "SoftDeleteMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestListMessagesDecrypts(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	sealed, err := m.box.Seal("secret plans")
	require.NoError(t, err)

	m.channels.On("IsActiveMember", ctx, int64(5), int64(1)).Return(true, nil)
	m.messages.On("ListChannelMessages", ctx, int64(5), int64(0), 50).Return([]models.Message{
		{ID: 3, ChannelID: 5, Content: sealed, IsEncrypted: true, State: models.MessageActive},
		{ID: 2, ChannelID: 5, Content: models.RedactionPlaceholder, State: models.MessageDeleted},
		{ID: 1, ChannelID: 5, Content: "plain", Shadow: strptr("plain"), State: models.MessageActive},
	}, nil)

	msgs, err := svc.ListMessages(ctx, 5, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "secret plans", msgs[0].Content)
	assert.Equal(t, models.RedactionPlaceholder, msgs[1].Content, "redacted rows are never decrypted")
	assert.Equal(t, "plain", msgs[2].Content)
	assert.Nil(t, msgs[2].Shadow, "shadow copies never leave the store")
}

func TestListMessagesCorruptCiphertext(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	m.channels.On("IsActiveMember", ctx, int64(5), int64(1)).Return(true, nil)
	m.messages.On("ListChannelMessages", ctx, int64(5), int64(0), 50).Return([]models.Message{
		{ID: 3, ChannelID: 5, Content: "not-a-ciphertext", IsEncrypted: true, State: models.MessageActive},
	}, nil)

	_, err := svc.ListMessages(ctx, 5, 1, 0, 0)
	assert.ErrorIs(t, err, ErrCrypto)
}

func TestAddReactionDuplicateNoFanout(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	m.messages.On("GetMessage", ctx, int64(100)).
		Return(models.Message{ID: 100, ChannelID: 5, SenderID: 1, State: models.MessageActive}, nil)
	m.channels.On("IsActiveMember", ctx, int64(5), int64(2)).Return(true, nil)
	m.receipts.On("AddReaction", ctx, int64(100), int64(2), "👍").Return(false, nil)

	require.NoError(t, svc.AddReaction(ctx, 5, 100, 2, "👍"))
	m.hub.AssertNotCalled(t, "SendToChannel", mock.Anything, mock.Anything)
}

func TestAddReactionFansOut(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	m.messages.On("GetMessage", ctx, int64(100)).
		Return(models.Message{ID: 100, ChannelID: 5, SenderID: 1, State: models.MessageActive}, nil)
	m.channels.On("IsActiveMember", ctx, int64(5), int64(2)).Return(true, nil)
	m.receipts.On("AddReaction", ctx, int64(100), int64(2), "🎉").Return(true, nil)
	m.hub.On("SendToChannel", int64(5), mock.MatchedBy(func(ev models.Event) bool {
		return ev.Type == models.EventReactionAdded && ev.Emoji == "🎉" && ev.UserID == 2
	})).Return()

	require.NoError(t, svc.AddReaction(ctx, 5, 100, 2, "🎉"))
	m.hub.AssertExpectations(t)
}

func TestRemoveAbsentReactionNoFanout(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	m.messages.On("GetMessage", ctx, int64(100)).
		Return(models.Message{ID: 100, ChannelID: 5, SenderID: 1, State: models.MessageActive}, nil)
	m.channels.On("IsActiveMember", ctx, int64(5), int64(2)).Return(true, nil)
	m.receipts.On("RemoveReaction", ctx, int64(100), int64(2), "👍").Return(false, nil)

	require.NoError(t, svc.RemoveReaction(ctx, 5, 100, 2, "👍"))
	m.hub.AssertNotCalled(t, "SendToChannel", mock.Anything, mock.Anything)
}

func TestMarkAsRead(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	m.channels.On("IsActiveMember", ctx, int64(5), int64(2)).Return(true, nil)
	m.receipts.On("UpsertReceipts", ctx, int64(5), []int64{10, 11}, int64(2), mock.Anything).Return(nil)
	m.hub.On("SendToChannel", int64(5), mock.MatchedBy(func(ev models.Event) bool {
		return ev.Type == models.EventMessagesRead && ev.UserID == 2 && len(ev.MessageIDs) == 2
	})).Return()

	require.NoError(t, svc.MarkAsRead(ctx, 5, []int64{10, 11}, 2))
	m.receipts.AssertExpectations(t)
	m.hub.AssertExpectations(t)
}

func TestMarkAsReadEmpty(t *testing.T) {
	svc, _ := newTestMessenger(t)

	err := svc.MarkAsRead(context.Background(), 5, nil, 2)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestJoinChannelInviteOnly(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	m.channels.On("GetChannel", ctx, int64(5)).Return(models.Channel{ID: 5, Kind: models.ChannelPrivate}, nil)

	err := svc.JoinChannel(ctx, 5, 2)
	assert.ErrorIs(t, err, ErrUnauthorized)
	m.channels.AssertNotCalled(t, "AddMember", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestJoinPublicChannel(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	m.channels.On("GetChannel", ctx, int64(5)).Return(models.Channel{ID: 5, Kind: models.ChannelPublic}, nil)
	m.channels.On("AddMember", ctx, int64(5), int64(2), models.RoleMember).Return(nil)

	require.NoError(t, svc.JoinChannel(ctx, 5, 2))
	m.channels.AssertExpectations(t)
}

func TestLeaveChannelNotMember(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	m.channels.On("DeactivateMember", ctx, int64(5), int64(2)).Return(repositories.ErrMembershipNotFound)

	err := svc.LeaveChannel(ctx, 5, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendMessageRateLimited(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { rdb.Close() })
	svc.cache = cache.New(rdb, zap.NewNop())

	m.channels.On("GetChannel", ctx, int64(5)).
		Return(models.Channel{ID: 5, Kind: models.ChannelPublic}, nil)
	m.channels.On("IsActiveMember", ctx, int64(5), int64(1)).Return(true, nil)

	require.NoError(t, srv.Set("mail:msgrate:1", strconv.Itoa(sendBurst)))

	_, err := svc.SendMessage(ctx, SendMessageParams{ChannelID: 5, SenderID: 1, Content: "flood"})
	assert.ErrorIs(t, err, ErrRateLimited)
	m.messages.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestCheckMembershipMemoized(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { rdb.Close() })
	svc.cache = cache.New(rdb, zap.NewNop())

	m.channels.On("IsActiveMember", ctx, int64(5), int64(1)).Return(true, nil).Once()

	for i := 0; i < 3; i++ {
		active, err := svc.CheckMembership(ctx, 5, 1)
		require.NoError(t, err)
		assert.True(t, active)
	}
	m.channels.AssertExpectations(t)

	// Membership changes invalidate the memoized entry.
	m.channels.On("DeactivateMember", ctx, int64(5), int64(1)).Return(nil)
	m.channels.On("IsActiveMember", ctx, int64(5), int64(1)).Return(false, nil).Once()
	require.NoError(t, svc.LeaveChannel(ctx, 5, 1))

	active, err := svc.CheckMembership(ctx, 5, 1)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestEditHistoryDecrypted(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	sealed, err := m.box.Seal("first draft")
	require.NoError(t, err)

	m.messages.On("GetMessage", ctx, int64(100)).
		Return(models.Message{ID: 100, ChannelID: 5, SenderID: 1, IsEncrypted: true, State: models.MessageEdited}, nil)
	m.channels.On("IsActiveMember", ctx, int64(5), int64(2)).Return(true, nil)
	m.messages.On("EditHistory", ctx, int64(100)).
		Return([]models.MessageEdit{{ID: 1, MessageID: 100, PriorContent: sealed}}, nil)

	edits, err := svc.EditHistory(ctx, 5, 100, 2)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, "first draft", edits[0].PriorContent)
}

func TestEditHistoryNonMember(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	m.messages.On("GetMessage", ctx, int64(100)).
		Return(models.Message{ID: 100, ChannelID: 5, SenderID: 1, State: models.MessageEdited}, nil)
	m.channels.On("IsActiveMember", ctx, int64(5), int64(3)).Return(false, nil)

	_, err := svc.EditHistory(ctx, 5, 100, 3)
	assert.ErrorIs(t, err, ErrUnauthorized)
	m.messages.AssertNotCalled(t, "EditHistory", mock.Anything, mock.Anything)
}

func TestLastReadAtFallsBackToReceipts(t *testing.T) {
	svc, m := newTestMessenger(t)
	ctx := context.Background()

	readAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	m.receipts.On("LastReadAt", ctx, int64(5), int64(2)).Return(readAt, true, nil)

	got, found, err := svc.LastReadAt(ctx, 5, 2)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, got.Equal(readAt))
}
