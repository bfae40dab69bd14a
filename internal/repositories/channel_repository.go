package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"mail-service/internal/models"
)

var ErrChannelNotFound = errors.New("channel not found")
var ErrMembershipNotFound = errors.New("membership not found")

// ChannelRepository abstracts channel and membership persistence.
type ChannelRepository interface {
	CreateChannel(ctx context.Context, channel models.Channel, members []models.Membership) (models.Channel, error)
	FindDirectChannel(ctx context.Context, tenantID, userA, userB int64) (models.Channel, error)
	GetChannel(ctx context.Context, channelID int64) (models.Channel, error)
	ListUserChannels(ctx context.Context, userID, tenantID int64) ([]models.ChannelSummary, error)
	IsActiveMember(ctx context.Context, channelID, userID int64) (bool, error)
	GetMembership(ctx context.Context, channelID, userID int64) (models.Membership, error)
	ActiveMemberIDs(ctx context.Context, channelID int64) ([]int64, error)
	AddMember(ctx context.Context, channelID, userID int64, role string) error
	DeactivateMember(ctx context.Context, channelID, userID int64) error
	ContactIDs(ctx context.Context, userID int64) ([]int64, error)
	TouchActivity(ctx context.Context, channelID, messageID int64, at time.Time) error
}

// ChannelRepo is a sqlx implementation of ChannelRepository.
type ChannelRepo struct {
	db *sqlx.DB
}

// NewChannelRepo constructs a ChannelRepo.
func NewChannelRepo(db *sqlx.DB) *ChannelRepo {
	return &ChannelRepo{db: db}
}

const channelColumns = `id, tenant_id, kind, name, creator_id, settings, direct_key, last_message_id, last_activity, created_at`

// CreateChannel inserts the channel row and its memberships in one
// transaction.
func (r *ChannelRepo) CreateChannel(ctx context.Context, channel models.Channel, members []models.Membership) (models.Channel, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Channel{}, err
	}
	defer tx.Rollback()

	var created models.Channel
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO channels (tenant_id, kind, name, creator_id, settings, direct_key)
         VALUES ($1, $2, $3, $4, COALESCE($5, '{}'), $6)
         RETURNING `+channelColumns,
		channel.TenantID, channel.Kind, channel.Name, channel.CreatorID, channel.Settings, channel.DirectKey,
	).StructScan(&created)
	if err != nil {
		return models.Channel{}, err
	}

	for _, m := range members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO channel_members (channel_id, user_id, role) VALUES ($1, $2, $3)
             ON CONFLICT (channel_id, user_id) DO UPDATE SET is_active = TRUE, role = EXCLUDED.role`,
			created.ID, m.UserID, m.Role,
		); err != nil {
			return models.Channel{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Channel{}, err
	}
	return created, nil
}

// FindDirectChannel looks up the unique direct channel for an
// unordered user pair within a tenant.
func (r *ChannelRepo) FindDirectChannel(ctx context.Context, tenantID, userA, userB int64) (models.Channel, error) {
	var channel models.Channel
	err := r.db.GetContext(ctx, &channel,
		`SELECT `+channelColumns+` FROM channels WHERE direct_key=$1`,
		models.DirectKey(tenantID, userA, userB),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Channel{}, ErrChannelNotFound
	}
	return channel, err
}

// GetChannel fetches a channel by id.
func (r *ChannelRepo) GetChannel(ctx context.Context, channelID int64) (models.Channel, error) {
	var channel models.Channel
	err := r.db.GetContext(ctx, &channel,
		`SELECT `+channelColumns+` FROM channels WHERE id=$1`, channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Channel{}, ErrChannelNotFound
	}
	return channel, err
}

// ListUserChannels returns channels where the user holds an active
// membership, each annotated with the caller's unread count: messages
// created after the caller's latest read receipt, excluding their own.
func (r *ChannelRepo) ListUserChannels(ctx context.Context, userID, tenantID int64) ([]models.ChannelSummary, error) {
	query := `SELECT c.id, c.tenant_id, c.kind, c.name, c.creator_id, c.settings, c.direct_key,
            c.last_message_id, c.last_activity, c.created_at,
            (SELECT COUNT(*) FROM messages m
                WHERE m.channel_id = c.id
                AND m.sender_id <> $1
                AND m.created_at > COALESCE(
                    (SELECT MAX(r.read_at) FROM read_receipts r WHERE r.channel_id = c.id AND r.user_id = $1),
                    'epoch'::timestamptz)
            ) AS unread_count
        FROM channels c
        JOIN channel_members cm ON cm.channel_id = c.id
        WHERE cm.user_id = $1 AND cm.is_active
        AND ($2 = 0 OR c.tenant_id = $2)
        ORDER BY c.last_activity DESC`

	var result []models.ChannelSummary
	err := r.db.SelectContext(ctx, &result, query, userID, tenantID)
	return result, err
}

// IsActiveMember checks whether a user holds an active membership.
func (r *ChannelRepo) IsActiveMember(ctx context.Context, channelID, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM channel_members WHERE channel_id=$1 AND user_id=$2 AND is_active)`,
		channelID, userID)
	return exists, err
}

// GetMembership fetches the membership row for (channel, user).
func (r *ChannelRepo) GetMembership(ctx context.Context, channelID, userID int64) (models.Membership, error) {
	var m models.Membership
	err := r.db.GetContext(ctx, &m,
		`SELECT channel_id, user_id, role, is_active, joined_at FROM channel_members WHERE channel_id=$1 AND user_id=$2`,
		channelID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Membership{}, ErrMembershipNotFound
	}
	return m, err
}

// ActiveMemberIDs returns the user ids of all active members.
func (r *ChannelRepo) ActiveMemberIDs(ctx context.Context, channelID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids,
		`SELECT user_id FROM channel_members WHERE channel_id=$1 AND is_active ORDER BY user_id`, channelID)
	return ids, err
}

// AddMember adds or reactivates a membership.
func (r *ChannelRepo) AddMember(ctx context.Context, channelID, userID int64, role string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO channel_members (channel_id, user_id, role) VALUES ($1, $2, $3)
         ON CONFLICT (channel_id, user_id) DO UPDATE SET is_active = TRUE`,
		channelID, userID, role)
	return err
}

// DeactivateMember soft-leaves a channel: the row survives, is_active
// drops.
func (r *ChannelRepo) DeactivateMember(ctx context.Context, channelID, userID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE channel_members SET is_active = FALSE WHERE channel_id=$1 AND user_id=$2`,
		channelID, userID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

// ContactIDs returns the distinct users sharing at least one active
// channel with the given user. Presence transitions broadcast to this
// set.
func (r *ChannelRepo) ContactIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids,
		`SELECT DISTINCT other.user_id
         FROM channel_members own
         JOIN channel_members other ON other.channel_id = own.channel_id AND other.is_active
         WHERE own.user_id = $1 AND own.is_active AND other.user_id <> $1
         ORDER BY other.user_id`, userID)
	return ids, err
}

// TouchActivity advances the channel's last-message pointer.
func (r *ChannelRepo) TouchActivity(ctx context.Context, channelID, messageID int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE channels SET last_message_id=$2, last_activity=$3 WHERE id=$1`,
		channelID, messageID, at)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrChannelNotFound
	}
	return nil
}

var _ ChannelRepository = (*ChannelRepo)(nil)
