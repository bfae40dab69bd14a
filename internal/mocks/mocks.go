package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"mail-service/internal/models"
	"mail-service/internal/notify"
	"mail-service/internal/repositories"
)

type ChannelRepositoryMock struct {
	mock.Mock
}

func (m *ChannelRepositoryMock) CreateChannel(ctx context.Context, channel models.Channel, members []models.Membership) (models.Channel, error) {
	args := m.Called(ctx, channel, members)
	var out models.Channel
	if val := args.Get(0); val != nil {
		out = val.(models.Channel)
	}
	return out, args.Error(1)
}

func (m *ChannelRepositoryMock) FindDirectChannel(ctx context.Context, tenantID, userA, userB int64) (models.Channel, error) {
	args := m.Called(ctx, tenantID, userA, userB)
	var out models.Channel
	if val := args.Get(0); val != nil {
		out = val.(models.Channel)
	}
	return out, args.Error(1)
}

func (m *ChannelRepositoryMock) GetChannel(ctx context.Context, channelID int64) (models.Channel, error) {
	args := m.Called(ctx, channelID)
	var out models.Channel
	if val := args.Get(0); val != nil {
		out = val.(models.Channel)
	}
	return out, args.Error(1)
}

func (m *ChannelRepositoryMock) ListUserChannels(ctx context.Context, userID, tenantID int64) ([]models.ChannelSummary, error) {
	args := m.Called(ctx, userID, tenantID)
	var out []models.ChannelSummary
	if val := args.Get(0); val != nil {
		out = val.([]models.ChannelSummary)
	}
	return out, args.Error(1)
}

func (m *ChannelRepositoryMock) IsActiveMember(ctx context.Context, channelID, userID int64) (bool, error) {
	args := m.Called(ctx, channelID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ChannelRepositoryMock) GetMembership(ctx context.Context, channelID, userID int64) (models.Membership, error) {
	args := m.Called(ctx, channelID, userID)
	var out models.Membership
	if val := args.Get(0); val != nil {
		out = val.(models.Membership)
	}
	return out, args.Error(1)
}

func (m *ChannelRepositoryMock) ActiveMemberIDs(ctx context.Context, channelID int64) ([]int64, error) {
	args := m.Called(ctx, channelID)
	var out []int64
	if val := args.Get(0); val != nil {
		out = val.([]int64)
	}
	return out, args.Error(1)
}

func (m *ChannelRepositoryMock) AddMember(ctx context.Context, channelID, userID int64, role string) error {
	args := m.Called(ctx, channelID, userID, role)
	return args.Error(0)
}

func (m *ChannelRepositoryMock) DeactivateMember(ctx context.Context, channelID, userID int64) error {
	args := m.Called(ctx, channelID, userID)
	return args.Error(0)
}

func (m *ChannelRepositoryMock) ContactIDs(ctx context.Context, userID int64) ([]int64, error) {
	args := m.Called(ctx, userID)
	var out []int64
	if val := args.Get(0); val != nil {
		out = val.([]int64)
	}
	return out, args.Error(1)
}

func (m *ChannelRepositoryMock) TouchActivity(ctx context.Context, channelID, messageID int64, at time.Time) error {
	args := m.Called(ctx, channelID, messageID, at)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) ListChannelMessages(ctx context.Context, channelID, beforeID int64, limit int) ([]models.Message, error) {
	args := m.Called(ctx, channelID, beforeID, limit)
	var out []models.Message
	if val := args.Get(0); val != nil {
		out = val.([]models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) EditMessage(ctx context.Context, messageID int64, newContent string, shadow *string, priorContent string, editedAt time.Time) error {
	args := m.Called(ctx, messageID, newContent, shadow, priorContent, editedAt)
	return args.Error(0)
}

func (m *MessageRepositoryMock) SoftDeleteMessage(ctx context.Context, messageID, deletedBy int64, at time.Time) error {
	args := m.Called(ctx, messageID, deletedBy, at)
	return args.Error(0)
}

func (m *MessageRepositoryMock) EditHistory(ctx context.Context, messageID int64) ([]models.MessageEdit, error) {
	args := m.Called(ctx, messageID)
	var out []models.MessageEdit
	if val := args.Get(0); val != nil {
		out = val.([]models.MessageEdit)
	}
	return out, args.Error(1)
}

type ReceiptRepositoryMock struct {
	mock.Mock
}

func (m *ReceiptRepositoryMock) AddReaction(ctx context.Context, messageID, userID int64, emoji string) (bool, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Bool(0), args.Error(1)
}

func (m *ReceiptRepositoryMock) RemoveReaction(ctx context.Context, messageID, userID int64, emoji string) (bool, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Bool(0), args.Error(1)
}

func (m *ReceiptRepositoryMock) ListReactions(ctx context.Context, messageID int64) ([]models.Reaction, error) {
	args := m.Called(ctx, messageID)
	var out []models.Reaction
	if val := args.Get(0); val != nil {
		out = val.([]models.Reaction)
	}
	return out, args.Error(1)
}

func (m *ReceiptRepositoryMock) UpsertReceipts(ctx context.Context, channelID int64, messageIDs []int64, userID int64, readAt time.Time) error {
	args := m.Called(ctx, channelID, messageIDs, userID, readAt)
	return args.Error(0)
}

func (m *ReceiptRepositoryMock) LastReadAt(ctx context.Context, channelID, userID int64) (time.Time, bool, error) {
	args := m.Called(ctx, channelID, userID)
	var ts time.Time
	if val := args.Get(0); val != nil {
		ts = val.(time.Time)
	}
	return ts, args.Bool(1), args.Error(2)
}

type BroadcasterMock struct {
	mock.Mock
}

func (m *BroadcasterMock) SendToUser(userID int64, ev models.Event) {
	m.Called(userID, ev)
}

func (m *BroadcasterMock) SendToChannel(channelID int64, ev models.Event) {
	m.Called(channelID, ev)
}

func (m *BroadcasterMock) SendToChannelExcept(channelID, exceptUserID int64, ev models.Event) {
	m.Called(channelID, exceptUserID, ev)
}

func (m *BroadcasterMock) SendToTenant(tenantID int64, ev models.Event) {
	m.Called(tenantID, ev)
}

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) NotifyUsers(ctx context.Context, userIDs []int64, n notify.Notification) error {
	args := m.Called(ctx, userIDs, n)
	return args.Error(0)
}

type PresenceMock struct {
	mock.Mock
}

func (m *PresenceMock) IsOnline(ctx context.Context, userID int64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

var _ repositories.ChannelRepository = (*ChannelRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.ReceiptRepository = (*ReceiptRepositoryMock)(nil)
var _ notify.Notifier = (*NotifierMock)(nil)
