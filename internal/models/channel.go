package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// ChannelKind distinguishes the three conversation shapes.
type ChannelKind string

const (
	ChannelPublic  ChannelKind = "public"
	ChannelPrivate ChannelKind = "private"
	ChannelDirect  ChannelKind = "direct"
)

// Valid reports whether the kind is one of the known values.
func (k ChannelKind) Valid() bool {
	return k == ChannelPublic || k == ChannelPrivate || k == ChannelDirect
}

// Encrypted reports whether content in channels of this kind is
// encrypted at rest.
func (k ChannelKind) Encrypted() bool {
	return k == ChannelPrivate || k == ChannelDirect
}

// Channel is a conversation context within a tenant. Direct channels
// have no name and exactly two members.
type Channel struct {
	ID            int64          `db:"id" json:"id"`
	TenantID      int64          `db:"tenant_id" json:"tenant_id"`
	Kind          ChannelKind    `db:"kind" json:"kind"`
	Name          *string        `db:"name" json:"name,omitempty"`
	CreatorID     int64          `db:"creator_id" json:"creator_id"`
	Settings      types.JSONText `db:"settings" json:"settings"`
	DirectKey     *string        `db:"direct_key" json:"-"`
	LastMessageID *int64         `db:"last_message_id" json:"last_message_id,omitempty"`
	LastActivity  time.Time      `db:"last_activity" json:"last_activity"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// ChannelSummary annotates a channel with the caller's unread count.
type ChannelSummary struct {
	Channel
	UnreadCount int `db:"unread_count" json:"unread_count"`
}

// DirectKey builds the normalized unique key for a direct channel
// between two users of a tenant. The pair is unordered: both member
// orders produce the same key.
func DirectKey(tenantID, a, b int64) string {
	pair := []int64{a, b}
	sort.Slice(pair, func(i, j int) bool { return pair[i] < pair[j] })
	return fmt.Sprintf("%d:%d:%d", tenantID, pair[0], pair[1])
}

// Membership roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Membership is the (channel, user) join row. A user interacts with a
// channel only through an active membership.
type Membership struct {
	ChannelID int64     `db:"channel_id" json:"channel_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Role      string    `db:"role" json:"role"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	JoinedAt  time.Time `db:"joined_at" json:"joined_at"`
}

// CanModerate reports whether the membership role allows deleting
// other members' messages.
func (m Membership) CanModerate() bool {
	return m.Role == RoleOwner || m.Role == RoleAdmin
}
