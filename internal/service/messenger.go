package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"mail-service/internal/cache"
	"mail-service/internal/crypto"
	"mail-service/internal/models"
	"mail-service/internal/notify"
	"mail-service/internal/repositories"
	"mail-service/internal/telemetry"
)

// EditWindow is how long after creation the sender may edit a message.
const EditWindow = 15 * time.Minute

const (
	previewRunes   = 120
	membershipTTL  = 5 * time.Minute
	channelTTL     = 30 * time.Second
	readPointerTTL = 7 * 24 * time.Hour

	defaultPageSize = 50
	maxPageSize     = 200

	// sendBurst caps messages per sender per minute. The counter lives
	// in the cache; without a cache the guard is skipped.
	sendBurst    = 60
	sendBurstTTL = time.Minute
)

// Broadcaster is the fan-out surface of the realtime gateway. Calls
// are fire-and-forget: a target without live connections is a no-op.
type Broadcaster interface {
	SendToUser(userID int64, ev models.Event)
	SendToChannel(channelID int64, ev models.Event)
	SendToChannelExcept(channelID, exceptUserID int64, ev models.Event)
	SendToTenant(tenantID int64, ev models.Event)
}

// Cache is the slice of the cache layer the messenger uses. It is
// optional: a nil cache degrades every path to direct computation.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Remember(ctx context.Context, key string, ttl time.Duration, dest any, factory cache.Factory, tags ...string) error
	SetIfGreater(ctx context.Context, key string, value int64, ttl time.Duration) (int64, error)
	Increment(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error)
	InvalidateByTags(ctx context.Context, tags ...string) (int64, error)
}

// Deps wires a Messenger.
type Deps struct {
	Channels  repositories.ChannelRepository
	Messages  repositories.MessageRepository
	Receipts  repositories.ReceiptRepository
	Box       *crypto.Box
	Cache     Cache
	Hub       Broadcaster
	Deliverer *Deliverer
	Notifier  notify.Notifier
	Activity  *telemetry.ActivityLogger
	Log       *zap.Logger
}

// Messenger implements the channel messaging business logic:
// channels, messages, reactions, and read receipts, with membership
// and encryption policy enforced on every mutation.
type Messenger struct {
	channels  repositories.ChannelRepository
	messages  repositories.MessageRepository
	receipts  repositories.ReceiptRepository
	box       *crypto.Box
	cache     Cache
	hub       Broadcaster
	deliverer *Deliverer
	notifier  notify.Notifier
	activity  *telemetry.ActivityLogger
	log       *zap.Logger
	now       func() time.Time
}

// NewMessenger builds a Messenger.
func NewMessenger(deps Deps) *Messenger {
	return &Messenger{
		channels:  deps.Channels,
		messages:  deps.Messages,
		receipts:  deps.Receipts,
		box:       deps.Box,
		cache:     deps.Cache,
		hub:       deps.Hub,
		deliverer: deps.Deliverer,
		notifier:  deps.Notifier,
		activity:  deps.Activity,
		log:       deps.Log,
		now:       time.Now,
	}
}

// CreateChannelParams describes a channel to create.
type CreateChannelParams struct {
	TenantID  int64
	Kind      models.ChannelKind
	CreatorID int64
	MemberIDs []int64
	Name      *string
}

// CreateChannel creates a channel with its memberships. For direct
// channels creation is idempotent per unordered member pair: an
// existing channel for the pair is returned as-is.
func (s *Messenger) CreateChannel(ctx context.Context, p CreateChannelParams) (models.Channel, error) {
	if !p.Kind.Valid() {
		return models.Channel{}, fmt.Errorf("%w: unknown channel kind %q", ErrValidation, p.Kind)
	}

	memberIDs := dedupe(append([]int64{p.CreatorID}, p.MemberIDs...))

	channel := models.Channel{
		TenantID:  p.TenantID,
		Kind:      p.Kind,
		Name:      p.Name,
		CreatorID: p.CreatorID,
	}

	if p.Kind == models.ChannelDirect {
		if len(memberIDs) != 2 {
			return models.Channel{}, fmt.Errorf("%w: direct channel requires exactly 2 distinct members, got %d", ErrValidation, len(memberIDs))
		}
		channel.Name = nil
		key := models.DirectKey(p.TenantID, memberIDs[0], memberIDs[1])
		channel.DirectKey = &key

		existing, err := s.channels.FindDirectChannel(ctx, p.TenantID, memberIDs[0], memberIDs[1])
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repositories.ErrChannelNotFound) {
			return models.Channel{}, fmt.Errorf("find direct channel: %w", err)
		}
	}

	memberships := make([]models.Membership, 0, len(memberIDs))
	for _, userID := range memberIDs {
		role := models.RoleMember
		if userID == p.CreatorID {
			role = models.RoleOwner
		}
		memberships = append(memberships, models.Membership{UserID: userID, Role: role})
	}

	created, err := s.channels.CreateChannel(ctx, channel, memberships)
	if err != nil {
		if p.Kind == models.ChannelDirect {
			// A concurrent creator may have won the unique direct_key
			// race; the existing channel is the right answer.
			existing, ferr := s.channels.FindDirectChannel(ctx, p.TenantID, memberIDs[0], memberIDs[1])
			if ferr == nil {
				return existing, nil
			}
		}
		return models.Channel{}, fmt.Errorf("create channel: %w", err)
	}

	if p.Kind != models.ChannelDirect && s.notifier != nil {
		invited := without(memberIDs, p.CreatorID)
		_ = s.notifier.NotifyUsers(ctx, invited, notify.Notification{
			Type:    "channel_invite",
			Title:   "You were added to a channel",
			Message: displayName(created),
			Data:    map[string]any{"channel_id": created.ID},
		})
	}

	s.activity.Log(ctx, telemetry.ActivityEvent{
		UserID:       p.CreatorID,
		Action:       "channel.create",
		ResourceType: "channel",
		ResourceID:   created.ID,
		Details:      map[string]any{"kind": string(created.Kind), "members": len(memberIDs)},
	})

	return created, nil
}

// ListUserChannels returns the caller's active channels annotated with
// unread counts.
func (s *Messenger) ListUserChannels(ctx context.Context, userID, tenantID int64) ([]models.ChannelSummary, error) {
	summaries, err := s.channels.ListUserChannels(ctx, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return summaries, nil
}

// CheckMembership reports whether the user holds an active membership.
// The lookup is memoized under the channel's membership tag.
func (s *Messenger) CheckMembership(ctx context.Context, channelID, userID int64) (bool, error) {
	if s.cache == nil {
		return s.channels.IsActiveMember(ctx, channelID, userID)
	}
	var active bool
	err := s.cache.Remember(ctx, membershipKey(channelID, userID), membershipTTL, &active,
		func(ctx context.Context) (any, error) {
			return s.channels.IsActiveMember(ctx, channelID, userID)
		}, memberTag(channelID))
	return active, err
}

// JoinChannel adds the user to a public channel.
func (s *Messenger) JoinChannel(ctx context.Context, channelID, userID int64) error {
	channel, err := s.getChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if channel.Kind != models.ChannelPublic {
		return fmt.Errorf("%w: channel is invite-only", ErrUnauthorized)
	}
	if err := s.channels.AddMember(ctx, channelID, userID, models.RoleMember); err != nil {
		return fmt.Errorf("join channel: %w", err)
	}
	s.invalidateMembers(ctx, channelID)

	s.activity.Log(ctx, telemetry.ActivityEvent{
		UserID:       userID,
		Action:       "channel.join",
		ResourceType: "channel",
		ResourceID:   channelID,
	})
	return nil
}

// LeaveChannel soft-deactivates the user's membership.
func (s *Messenger) LeaveChannel(ctx context.Context, channelID, userID int64) error {
	if err := s.channels.DeactivateMember(ctx, channelID, userID); err != nil {
		if errors.Is(err, repositories.ErrMembershipNotFound) {
			return fmt.Errorf("%w: membership", ErrNotFound)
		}
		return fmt.Errorf("leave channel: %w", err)
	}
	s.invalidateMembers(ctx, channelID)

	s.activity.Log(ctx, telemetry.ActivityEvent{
		UserID:       userID,
		Action:       "channel.leave",
		ResourceType: "channel",
		ResourceID:   channelID,
	})
	return nil
}

// SendMessageParams describes a message to send.
type SendMessageParams struct {
	ChannelID   int64
	SenderID    int64
	Content     string
	Attachments []string
	ReplyTo     *int64
	Mentions    []int64
}

// SendMessage persists a message and fans it out. Content is
// encrypted at rest for private and direct channels; encryption
// failures abort before anything is persisted. The response carries
// the content decrypted for the caller.
func (s *Messenger) SendMessage(ctx context.Context, p SendMessageParams) (models.Message, error) {
	if p.Content == "" {
		return models.Message{}, fmt.Errorf("%w: empty content", ErrValidation)
	}

	channel, err := s.getChannel(ctx, p.ChannelID)
	if err != nil {
		return models.Message{}, err
	}
	if err := s.requireMembership(ctx, p.ChannelID, p.SenderID); err != nil {
		return models.Message{}, err
	}
	if err := s.checkSendRate(ctx, p.SenderID); err != nil {
		return models.Message{}, err
	}

	stored := p.Content
	var shadow *string
	encrypted := channel.Kind.Encrypted()
	if encrypted {
		sealed, err := s.box.Seal(p.Content)
		if err != nil {
			return models.Message{}, fmt.Errorf("%w: seal content: %v", ErrCrypto, err)
		}
		stored = sealed
	} else {
		plain := p.Content
		shadow = &plain
	}

	created, err := s.messages.CreateMessage(ctx, models.Message{
		ChannelID:   p.ChannelID,
		SenderID:    p.SenderID,
		Content:     stored,
		Shadow:      shadow,
		IsEncrypted: encrypted,
		ReplyTo:     p.ReplyTo,
		Mentions:    pq.Int64Array(dedupe(p.Mentions)),
		Attachments: pq.StringArray(p.Attachments),
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("persist message: %w", err)
	}

	if err := s.channels.TouchActivity(ctx, p.ChannelID, created.ID, created.CreatedAt); err != nil {
		s.log.Warn("advance channel activity failed", zap.Int64("channel_id", p.ChannelID), zap.Error(err))
	}

	// The sender is always caught up on their own message.
	if err := s.receipts.UpsertReceipts(ctx, p.ChannelID, []int64{created.ID}, p.SenderID, created.CreatedAt); err != nil {
		s.log.Warn("sender receipt failed", zap.Int64("message_id", created.ID), zap.Error(err))
	}
	s.advanceReadPointer(ctx, p.ChannelID, p.SenderID, created.CreatedAt)

	out := created
	out.Content = p.Content
	out.Shadow = nil

	members, err := s.channels.ActiveMemberIDs(ctx, p.ChannelID)
	if err != nil {
		s.log.Warn("resolve members for fan-out failed", zap.Int64("channel_id", p.ChannelID), zap.Error(err))
		members = nil
	}
	recipients := without(members, p.SenderID)

	ev := models.Event{Type: models.EventNewMessage, ChannelID: p.ChannelID, Message: &out}
	s.deliverer.Deliver(ctx, recipients, ev, notify.Notification{
		Type:    "new_message",
		Title:   displayName(channel),
		Message: truncate(p.Content, previewRunes),
		Data:    map[string]any{"channel_id": p.ChannelID, "message_id": created.ID, "sender_id": p.SenderID},
	})

	if mentioned := intersect(dedupe(p.Mentions), recipients); len(mentioned) > 0 && s.notifier != nil {
		_ = s.notifier.NotifyUsers(ctx, mentioned, notify.Notification{
			Type:    "mention",
			Title:   "You were mentioned",
			Message: truncate(p.Content, previewRunes),
			Data:    map[string]any{"channel_id": p.ChannelID, "message_id": created.ID, "sender_id": p.SenderID},
		})
	}

	s.activity.Log(ctx, telemetry.ActivityEvent{
		UserID:       p.SenderID,
		Action:       "message.send",
		ResourceType: "message",
		ResourceID:   created.ID,
		Details: map[string]any{
			"channel_id":      p.ChannelID,
			"content_length":  len(p.Content),
			"has_attachments": len(p.Attachments) > 0,
		},
	})

	return out, nil
}

// EditMessage replaces a message's content. Only the original sender
// may edit, only while still an active member, and only within
// EditWindow of creation.
func (s *Messenger) EditMessage(ctx context.Context, channelID, messageID, editorID int64, newContent string) (models.Message, error) {
	if newContent == "" {
		return models.Message{}, fmt.Errorf("%w: empty content", ErrValidation)
	}

	msg, err := s.getChannelMessage(ctx, channelID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if err := s.requireMembership(ctx, msg.ChannelID, editorID); err != nil {
		return models.Message{}, err
	}
	if msg.Deleted() {
		return models.Message{}, fmt.Errorf("%w: message is deleted", ErrNotFound)
	}
	if msg.SenderID != editorID {
		return models.Message{}, fmt.Errorf("%w: only the sender may edit", ErrUnauthorized)
	}
	if s.now().Sub(msg.CreatedAt) > EditWindow {
		return models.Message{}, fmt.Errorf("%w: edit window of %s exceeded", ErrValidation, EditWindow)
	}

	stored := newContent
	var shadow *string
	if msg.IsEncrypted {
		sealed, err := s.box.Seal(newContent)
		if err != nil {
			return models.Message{}, fmt.Errorf("%w: seal content: %v", ErrCrypto, err)
		}
		stored = sealed
	} else {
		plain := newContent
		shadow = &plain
	}

	editedAt := s.now()
	if err := s.messages.EditMessage(ctx, messageID, stored, shadow, msg.Content, editedAt); err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return models.Message{}, fmt.Errorf("%w: message", ErrNotFound)
		}
		return models.Message{}, fmt.Errorf("edit message: %w", err)
	}

	out := msg
	out.Content = newContent
	out.Shadow = nil
	out.State = models.MessageEdited
	out.EditedAt = &editedAt

	s.hub.SendToChannelExcept(msg.ChannelID, editorID, models.Event{
		Type:      models.EventMessageEdited,
		ChannelID: msg.ChannelID,
		Message:   &out,
	})

	s.activity.Log(ctx, telemetry.ActivityEvent{
		UserID:       editorID,
		Action:       "message.edit",
		ResourceType: "message",
		ResourceID:   messageID,
		Details:      map[string]any{"channel_id": msg.ChannelID, "content_length": len(newContent)},
	})

	return out, nil
}

// DeleteMessage soft-deletes a message: the row is retained with
// redacted content so reply chains keep resolving. Permitted for the
// sender and for channel admins/owners, both required to still be
// active members. Deleting an already-deleted message is a no-op.
func (s *Messenger) DeleteMessage(ctx context.Context, channelID, messageID, requesterID int64) error {
	msg, err := s.getChannelMessage(ctx, channelID, messageID)
	if err != nil {
		return err
	}
	if err := s.requireMembership(ctx, msg.ChannelID, requesterID); err != nil {
		return err
	}
	if msg.Deleted() {
		return nil
	}

	if msg.SenderID != requesterID {
		membership, err := s.channels.GetMembership(ctx, msg.ChannelID, requesterID)
		if err != nil {
			if errors.Is(err, repositories.ErrMembershipNotFound) {
				return fmt.Errorf("%w: not a channel member", ErrUnauthorized)
			}
			return fmt.Errorf("check membership: %w", err)
		}
		if !membership.IsActive || !membership.CanModerate() {
			return fmt.Errorf("%w: requires admin or owner role", ErrUnauthorized)
		}
	}

	if err := s.messages.SoftDeleteMessage(ctx, messageID, requesterID, s.now()); err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return nil
		}
		return fmt.Errorf("delete message: %w", err)
	}

	s.hub.SendToChannel(msg.ChannelID, models.Event{
		Type:      models.EventMessageDeleted,
		ChannelID: msg.ChannelID,
		MessageID: messageID,
	})

	s.activity.Log(ctx, telemetry.ActivityEvent{
		UserID:       requesterID,
		Action:       "message.delete",
		ResourceType: "message",
		ResourceID:   messageID,
		Details:      map[string]any{"channel_id": msg.ChannelID},
	})

	return nil
}

// ListMessages returns a page of channel history, newest first,
// decrypted for the caller. Redacted rows keep their placeholder.
func (s *Messenger) ListMessages(ctx context.Context, channelID, userID, beforeID int64, limit int) ([]models.Message, error) {
	if err := s.requireMembership(ctx, channelID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	msgs, err := s.messages.ListChannelMessages(ctx, channelID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	for i := range msgs {
		msgs[i].Shadow = nil
		if msgs[i].Deleted() || !msgs[i].IsEncrypted {
			continue
		}
		plain, err := s.box.Open(msgs[i].Content)
		if err != nil {
			return nil, fmt.Errorf("%w: open message %d: %v", ErrCrypto, msgs[i].ID, err)
		}
		msgs[i].Content = plain
	}
	return msgs, nil
}

// AddReaction upserts a reaction. Re-adding an identical triple is a
// successful no-op and fans out nothing.
func (s *Messenger) AddReaction(ctx context.Context, channelID, messageID, userID int64, emoji string) error {
	if emoji == "" {
		return fmt.Errorf("%w: empty emoji", ErrValidation)
	}
	msg, err := s.getChannelMessage(ctx, channelID, messageID)
	if err != nil {
		return err
	}
	if err := s.requireMembership(ctx, msg.ChannelID, userID); err != nil {
		return err
	}

	inserted, err := s.receipts.AddReaction(ctx, messageID, userID, emoji)
	if err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	if inserted {
		s.hub.SendToChannel(msg.ChannelID, models.Event{
			Type:      models.EventReactionAdded,
			ChannelID: msg.ChannelID,
			MessageID: messageID,
			UserID:    userID,
			Emoji:     emoji,
		})
	}
	return nil
}

// ListReactions returns the reactions on a message for a member.
func (s *Messenger) ListReactions(ctx context.Context, channelID, messageID, userID int64) ([]models.Reaction, error) {
	msg, err := s.getChannelMessage(ctx, channelID, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMembership(ctx, msg.ChannelID, userID); err != nil {
		return nil, err
	}
	reactions, err := s.receipts.ListReactions(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	return reactions, nil
}

// RemoveReaction deletes a reaction triple if present.
func (s *Messenger) RemoveReaction(ctx context.Context, channelID, messageID, userID int64, emoji string) error {
	msg, err := s.getChannelMessage(ctx, channelID, messageID)
	if err != nil {
		return err
	}
	if err := s.requireMembership(ctx, msg.ChannelID, userID); err != nil {
		return err
	}

	removed, err := s.receipts.RemoveReaction(ctx, messageID, userID, emoji)
	if err != nil {
		return fmt.Errorf("remove reaction: %w", err)
	}
	if removed {
		s.hub.SendToChannel(msg.ChannelID, models.Event{
			Type:      models.EventReactionRemoved,
			ChannelID: msg.ChannelID,
			MessageID: messageID,
			UserID:    userID,
			Emoji:     emoji,
		})
	}
	return nil
}

// MarkAsRead upserts read receipts for the given messages and fans
// out a messages_read event so senders can show delivery state. The
// receipt store enforces monotonicity; the cached watermark pointer
// only ever moves forward.
func (s *Messenger) MarkAsRead(ctx context.Context, channelID int64, messageIDs []int64, userID int64) error {
	if len(messageIDs) == 0 {
		return fmt.Errorf("%w: no message ids", ErrValidation)
	}
	if err := s.requireMembership(ctx, channelID, userID); err != nil {
		return err
	}

	readAt := s.now()
	if err := s.receipts.UpsertReceipts(ctx, channelID, messageIDs, userID, readAt); err != nil {
		return fmt.Errorf("upsert receipts: %w", err)
	}
	s.advanceReadPointer(ctx, channelID, userID, readAt)

	s.hub.SendToChannel(channelID, models.Event{
		Type:       models.EventMessagesRead,
		ChannelID:  channelID,
		MessageIDs: messageIDs,
		UserID:     userID,
	})
	return nil
}

// LastReadAt returns the user's read watermark for a channel,
// preferring the cached pointer over the receipt table.
func (s *Messenger) LastReadAt(ctx context.Context, channelID, userID int64) (time.Time, bool, error) {
	if s.cache != nil {
		var nanos int64
		found, err := s.cache.Get(ctx, readPointerKey(channelID, userID), &nanos)
		if err != nil {
			s.log.Warn("read pointer lookup failed", zap.Error(err))
		} else if found {
			return time.Unix(0, nanos).UTC(), true, nil
		}
	}
	readAt, found, err := s.receipts.LastReadAt(ctx, channelID, userID)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read watermark: %w", err)
	}
	return readAt, found, nil
}

// EditHistory returns a message's prior contents, oldest first,
// restricted to channel members. History rows store whatever form the
// message had at edit time, so encrypted prior contents are opened
// before they leave the service.
func (s *Messenger) EditHistory(ctx context.Context, channelID, messageID, userID int64) ([]models.MessageEdit, error) {
	msg, err := s.getChannelMessage(ctx, channelID, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMembership(ctx, msg.ChannelID, userID); err != nil {
		return nil, err
	}

	edits, err := s.messages.EditHistory(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("edit history: %w", err)
	}
	if msg.IsEncrypted {
		for i := range edits {
			plain, err := s.box.Open(edits[i].PriorContent)
			if err != nil {
				return nil, fmt.Errorf("%w: open edit %d: %v", ErrCrypto, edits[i].ID, err)
			}
			edits[i].PriorContent = plain
		}
	}
	return edits, nil
}

// ContactIDs returns the users sharing at least one active channel
// with the given user.
func (s *Messenger) ContactIDs(ctx context.Context, userID int64) ([]int64, error) {
	return s.channels.ContactIDs(ctx, userID)
}

func (s *Messenger) requireMembership(ctx context.Context, channelID, userID int64) error {
	active, err := s.CheckMembership(ctx, channelID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !active {
		return fmt.Errorf("%w: not an active channel member", ErrUnauthorized)
	}
	return nil
}

func (s *Messenger) getChannel(ctx context.Context, channelID int64) (models.Channel, error) {
	lookup := func(ctx context.Context) (any, error) {
		channel, err := s.channels.GetChannel(ctx, channelID)
		if errors.Is(err, repositories.ErrChannelNotFound) {
			return nil, fmt.Errorf("%w: channel", ErrNotFound)
		}
		return channel, err
	}

	if s.cache == nil {
		v, err := lookup(ctx)
		if err != nil {
			return models.Channel{}, err
		}
		return v.(models.Channel), nil
	}

	var channel models.Channel
	err := s.cache.Remember(ctx, channelKey(channelID), channelTTL, &channel, lookup, channelTag(channelID))
	return channel, err
}

func (s *Messenger) getMessage(ctx context.Context, messageID int64) (models.Message, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, fmt.Errorf("%w: message", ErrNotFound)
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("load message: %w", err)
	}
	return msg, nil
}

// getChannelMessage loads a message and verifies it lives in the
// channel named by the request path. A mismatch reads as not-found so
// the response does not leak the message's real channel.
func (s *Messenger) getChannelMessage(ctx context.Context, channelID, messageID int64) (models.Message, error) {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.ChannelID != channelID {
		return models.Message{}, fmt.Errorf("%w: message", ErrNotFound)
	}
	return msg, nil
}

// advanceReadPointer writes the fast-path watermark after the
// authoritative receipt write. Cache failures only cost the fast path.
func (s *Messenger) advanceReadPointer(ctx context.Context, channelID, userID int64, readAt time.Time) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.SetIfGreater(ctx, readPointerKey(channelID, userID), readAt.UnixNano(), readPointerTTL); err != nil {
		s.log.Warn("advance read pointer failed",
			zap.Int64("channel_id", channelID), zap.Int64("user_id", userID), zap.Error(err))
	}
}

// checkSendRate enforces the per-sender flood guard. Cache failures
// let the send through; the guard is advisory, not authoritative.
func (s *Messenger) checkSendRate(ctx context.Context, senderID int64) error {
	if s.cache == nil {
		return nil
	}
	n, err := s.cache.Increment(ctx, sendRateKey(senderID), 1, sendBurstTTL)
	if err != nil {
		s.log.Warn("send rate counter failed", zap.Int64("user_id", senderID), zap.Error(err))
		return nil
	}
	if n > sendBurst {
		return fmt.Errorf("%w: more than %d messages per minute", ErrRateLimited, sendBurst)
	}
	return nil
}

func (s *Messenger) invalidateMembers(ctx context.Context, channelID int64) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.InvalidateByTags(ctx, memberTag(channelID)); err != nil {
		s.log.Warn("membership cache invalidation failed", zap.Int64("channel_id", channelID), zap.Error(err))
	}
}

func membershipKey(channelID, userID int64) string {
	return fmt.Sprintf("mail:member:%d:%d", channelID, userID)
}

func memberTag(channelID int64) string {
	return fmt.Sprintf("channel-members:%d", channelID)
}

func channelKey(channelID int64) string {
	return fmt.Sprintf("mail:channel:%d", channelID)
}

func channelTag(channelID int64) string {
	return fmt.Sprintf("channel:%d", channelID)
}

func readPointerKey(channelID, userID int64) string {
	return fmt.Sprintf("mail:lastread:%d:%d", channelID, userID)
}

func sendRateKey(userID int64) string {
	return fmt.Sprintf("mail:msgrate:%d", userID)
}

func displayName(channel models.Channel) string {
	if channel.Name != nil && *channel.Name != "" {
		return *channel.Name
	}
	return "Direct message"
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func without(ids []int64, exclude int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

func intersect(a, b []int64) []int64 {
	set := make(map[int64]struct{}, len(b))
	for _, id := range b {
		set[id] = struct{}{}
	}
	var out []int64
	for _, id := range a {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
